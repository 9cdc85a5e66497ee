package targets

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"go4.org/netipx"

	"github.com/tasooshi/pukpuk/internal/models"
	"github.com/tasooshi/pukpuk/internal/urlutil"
)

var (
	// ErrInvalidNetwork is returned for a network argument that is neither a CIDR nor an IP range.
	ErrInvalidNetwork = errors.New("invalid network")
	// ErrInvalidRow is returned for a malformed line in a targets or URLs file.
	ErrInvalidRow = errors.New("invalid row")
)

// FromNetwork expands a CIDR ("10.0.0.0/24") or an inclusive IP range
// ("10.0.1.1-10.0.2.1") into partial targets, one per address.
func FromNetwork(network string) ([]models.Target, error) {
	network = strings.TrimSpace(network)

	var r netipx.IPRange
	if prefix, err := netip.ParsePrefix(network); err == nil {
		r = netipx.RangeOfPrefix(prefix.Masked())
	} else if strings.Contains(network, "-") {
		parsed, err := netipx.ParseIPRange(network)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidNetwork, network, err)
		}
		r = parsed
	} else {
		return nil, fmt.Errorf("%w %q", ErrInvalidNetwork, network)
	}
	if !r.IsValid() {
		return nil, fmt.Errorf("%w %q", ErrInvalidNetwork, network)
	}

	var out []models.Target
	for ip := r.From(); ip.IsValid() && ip.Compare(r.To()) <= 0; ip = ip.Next() {
		out = append(out, models.Target{Host: ip.String()})
	}
	return out, nil
}

// FromHosts reads one host per line. Blank lines and # comments are skipped.
func FromHosts(r io.Reader) ([]models.Target, error) {
	var out []models.Target
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, models.Target{Host: line})
	}
	return out, scanner.Err()
}

// FromURLs reads one URL per line; every URL becomes a fully explicit target.
func FromURLs(r io.Reader) ([]models.Target, error) {
	var out []models.Target
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		t, err := urlutil.ParseTarget(line)
		if err != nil {
			return nil, fmt.Errorf("%w at line %d: %v", ErrInvalidRow, lineNo, err)
		}
		out = append(out, t)
	}
	return out, scanner.Err()
}

// FromCSV reads rows of the form host,port[,protocol].
func FromCSV(r io.Reader) ([]models.Target, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var out []models.Target
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRow, err)
		}
		line, _ := reader.FieldPos(0)
		if len(row) < 2 || strings.TrimSpace(row[0]) == "" {
			return nil, fmt.Errorf("%w at line %d: expected host,port[,protocol]", ErrInvalidRow, line)
		}
		port, err := strconv.ParseUint(strings.TrimSpace(row[1]), 10, 16)
		if err != nil || port == 0 {
			return nil, fmt.Errorf("%w at line %d: invalid port %q", ErrInvalidRow, line, row[1])
		}
		var proto models.Protocol
		if len(row) > 2 {
			if proto, err = models.ParseProtocol(row[2]); err != nil {
				return nil, fmt.Errorf("%w at line %d: %v", ErrInvalidRow, line, err)
			}
		}
		out = append(out, models.Target{Host: strings.TrimSpace(row[0]), Port: uint16(port), Protocol: proto})
	}
	return out, nil
}

// FromFile opens path and hands it to parse.
func FromFile(path string, parse func(io.Reader) ([]models.Target, error)) ([]models.Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	out, err := parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}
