package urlutil

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/tasooshi/pukpuk/internal/models"
)

// FromEndpoint renders an endpoint as protocol://host:port/.
// IPv6 hosts are bracketed.
func FromEndpoint(ep models.Endpoint) string {
	return fmt.Sprintf("%s://%s/", ep.Protocol, net.JoinHostPort(ep.Host, strconv.Itoa(int(ep.Port))))
}

// ParseTarget turns a URL into a fully explicit target.
// The rules are:
// 1. The URL must be absolute with an http or https scheme.
// 2. Scheme and host are lowercased.
// 3. A missing port is replaced by the scheme's default port.
// Path, query and fragment are ignored.
func ParseTarget(rawURL string) (models.Target, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return models.Target{}, fmt.Errorf("failed to parse url: %w", err)
	}

	proto, err := models.ParseProtocol(u.Scheme)
	if err != nil || !u.IsAbs() || proto == models.ProtoUnknown {
		return models.Target{}, fmt.Errorf("url must be an absolute http or https url: %q", rawURL)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return models.Target{}, fmt.Errorf("url has no host: %q", rawURL)
	}

	port := proto.DefaultPort()
	if p := u.Port(); p != "" {
		v, err := strconv.ParseUint(p, 10, 16)
		if err != nil || v == 0 {
			return models.Target{}, fmt.Errorf("invalid port in url %q", rawURL)
		}
		port = uint16(v)
	}

	return models.Target{Host: host, Port: port, Protocol: proto}, nil
}

// BaseFilename derives an artifact file name (without extension) from a URL:
// <scheme>-<host>[-<port>], plus -<md5 of path> when the path is not the root.
func BaseFilename(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse url: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("url has no host: %q", rawURL)
	}

	// Colons would break file names on some platforms.
	name := strings.ToLower(u.Scheme) + "-" + strings.ReplaceAll(strings.ToLower(u.Hostname()), ":", "_")
	if p := u.Port(); p != "" {
		name += "-" + p
	}
	if u.Path != "" && u.Path != "/" {
		sum := md5.Sum([]byte(u.Path))
		name += "-" + hex.EncodeToString(sum[:])
	}
	return name, nil
}
