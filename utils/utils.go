// Package utils provides shared helpers across the copy bot.
package utils

import (
	"regexp"
	"sort"
	"strings"
)

var ethAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// NormalizeAddress normalizes an Ethereum address to lowercase with trimmed spaces.
func NormalizeAddress(addr string) string {
	return strings.TrimSpace(strings.ToLower(addr))
}

// IsAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsAddress(s string) bool {
	return ethAddressRegex.MatchString(strings.TrimSpace(s))
}

// ShortAddress returns a truncated address for display (0x1234...5678).
func ShortAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// AddressSet is a lookup of normalized wallet addresses.
type AddressSet map[string]struct{}

// NewAddressSet normalizes and deduplicates addrs, skipping blanks.
func NewAddressSet(addrs []string) AddressSet {
	set := make(AddressSet, len(addrs))
	for _, a := range addrs {
		n := NormalizeAddress(a)
		if n == "" {
			continue
		}
		set[n] = struct{}{}
	}
	return set
}

// Has reports whether addr (any casing) is in the set.
func (s AddressSet) Has(addr string) bool {
	_, ok := s[NormalizeAddress(addr)]
	return ok
}

// List returns the addresses in the set, sorted.
func (s AddressSet) List() []string {
	out := make([]string, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// SplitList splits a comma separated list, trimming blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Mask hides all but the last four characters of a secret.
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
