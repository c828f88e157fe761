package models

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

var ErrInvalidTarget = errors.New("invalid target")

var (
	labelPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)
	ipv4Pattern  = regexp.MustCompile(`^\d{1,3}(\.\d{1,3}){3}$`)
)

// ScanTarget is a host that passed validation. The zero value is not a valid target.
type ScanTarget struct {
	host string
	ip   bool
}

func NewScanTarget(raw string) (ScanTarget, error) {
	s := strings.TrimSuffix(strings.TrimSpace(raw), ".")
	if s == "" {
		return ScanTarget{}, fmt.Errorf("%w: empty", ErrInvalidTarget)
	}

	if ipv4Pattern.MatchString(s) {
		if !IsValidIPv4(s) {
			return ScanTarget{}, fmt.Errorf("%w: %q is not a valid IPv4 address", ErrInvalidTarget, raw)
		}
		return ScanTarget{host: s, ip: true}, nil
	}

	ascii, err := idna.Lookup.ToASCII(s)
	if err != nil {
		return ScanTarget{}, fmt.Errorf("%w: %q: %v", ErrInvalidTarget, raw, err)
	}
	ascii = strings.ToLower(ascii)
	if !IsValidHostname(ascii) {
		return ScanTarget{}, fmt.Errorf("%w: %q is not a valid hostname", ErrInvalidTarget, raw)
	}
	return ScanTarget{host: ascii}, nil
}

func MustScanTarget(raw string) ScanTarget {
	t, err := NewScanTarget(raw)
	if err != nil {
		panic(err)
	}
	return t
}

func (t ScanTarget) String() string { return t.host }
func (t ScanTarget) IsIP() bool     { return t.ip }
func (t ScanTarget) IsZero() bool   { return t.host == "" }

func IsValidIPv4(s string) bool {
	if !ipv4Pattern.MatchString(s) {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 255 {
			return false
		}
		if len(part) > 1 && part[0] == '0' {
			return false
		}
	}
	return net.ParseIP(s).To4() != nil
}

// IsValidHostname requires at least two labels and a non-numeric TLD so that
// malformed dotted quads never pass as names.
func IsValidHostname(s string) bool {
	if s == "" || len(s) > 253 {
		return false
	}
	labels := strings.Split(s, ".")
	if len(labels) < 2 {
		return false
	}
	for _, l := range labels {
		if !labelPattern.MatchString(l) {
			return false
		}
	}
	tld := labels[len(labels)-1]
	if _, err := strconv.Atoi(tld); err == nil {
		return false
	}
	return true
}
