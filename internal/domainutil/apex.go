package domainutil

import (
	"fmt"
	"net"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/publicsuffix"
)

// Normalize normalizes a host name
// Rules:
//   - lower case
//   - trim whitespace
//   - strip trailing dot
//   - strip port (example.com:443)
//   - reject IPv4/IPv6 literals
//   - reject empty strings and illegal characters
func Normalize(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", fmt.Errorf("domain must not be empty")
	}

	host = strings.ToLower(host)
	host = strings.TrimSuffix(host, ".")

	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	// may be empty again once the port is gone
	if host == "" {
		return "", fmt.Errorf("domain must not be empty after normalization")
	}

	if IsIP(host) {
		return "", fmt.Errorf("IP address is not allowed as domain: %s", host)
	}

	// only a-z 0-9 . - and the wildcard label are allowed
	for i := 0; i < len(host); {
		r, size := utf8.DecodeRuneInString(host[i:])
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '*' || r == '_') {
			return "", fmt.Errorf("domain contains invalid character: %c in %s", r, host)
		}
		i += size
	}

	if strings.HasPrefix(host, ".") || strings.HasPrefix(host, "-") {
		return "", fmt.Errorf("domain must not start with '.' or '-': %s", host)
	}

	// a wildcard is only valid as the complete left-most label
	if idx := strings.Index(host, "*"); idx >= 0 {
		if idx != 0 || !strings.HasPrefix(host, "*.") || strings.Count(host, "*") > 1 {
			return "", fmt.Errorf("wildcard must be the left-most label: %s", host)
		}
	}

	if !strings.Contains(host, ".") {
		return "", fmt.Errorf("domain must contain at least one dot: %s", host)
	}

	return host, nil
}

// IsIP reports whether host is an IPv4 or IPv6 literal, with or without brackets
func IsIP(host string) bool {
	host = strings.TrimSpace(host)
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	return net.ParseIP(host) != nil
}

// EffectiveApex uses the public suffix list to calculate eTLD+1
// Examples:
//   - www.example.com -> example.com
//   - a.b.example.co.uk -> example.co.uk
//   - *.example.com -> example.com
//
// Nothing else in the project should split labels to find an apex.
func EffectiveApex(domain string) (string, error) {
	normalized, err := Normalize(domain)
	if err != nil {
		return "", fmt.Errorf("normalize failed for %s: %w", domain, err)
	}

	normalized = strings.TrimPrefix(normalized, "*.")

	apex, err := publicsuffix.EffectiveTLDPlusOne(normalized)
	if err != nil {
		return "", fmt.Errorf("PSL lookup failed for %s: %w", domain, err)
	}

	return apex, nil
}
