// Package certs extracts candidate host names from peer certificates.
package certs

import (
	"crypto/x509"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// SANText renders the certificate's Subject Alternative Names the way
// OpenSSL prints the extension: "DNS:a, email:b, IP Address:c, URI:d".
func SANText(cert *x509.Certificate) string {
	var entries []string
	for _, n := range cert.DNSNames {
		entries = append(entries, "DNS:"+n)
	}
	for _, e := range cert.EmailAddresses {
		entries = append(entries, "email:"+e)
	}
	for _, ip := range cert.IPAddresses {
		entries = append(entries, "IP Address:"+ip.String())
	}
	for _, u := range cert.URIs {
		entries = append(entries, "URI:"+u.String())
	}
	return strings.Join(entries, ", ")
}

// ExtractAliases parses a DER certificate and returns the host names
// found in its SAN extension.
func ExtractAliases(der []byte) ([]string, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return ParseSANText(SANText(cert)), nil
}

// ParseSANText splits comma separated <type>:<value> entries and keeps the
// lower-cased values that look like host names. Wildcards, e-mail entries,
// integers, IP literals and URIs are dropped.
func ParseSANText(text string) []string {
	var out []string
	for _, entry := range strings.Split(text, ",") {
		_, value, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" || strings.ContainsAny(value, "*@/") {
			continue
		}
		if _, err := strconv.Atoi(value); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(value); err == nil {
			continue
		}
		out = append(out, strings.ToLower(value))
	}
	return out
}
