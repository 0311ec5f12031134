// Package validation contains request field validators.
package validation

import "strings"

// IsValidEmail reports whether the string looks like an email address. Full
// RFC validation is left to the mail gateway; this only rejects obvious junk.
func IsValidEmail(s string) bool {
	at := strings.Index(s, "@")
	if at <= 0 || at == len(s)-1 {
		return false
	}
	domain := s[at+1:]
	if strings.Contains(domain, "@") {
		return false
	}
	dot := strings.LastIndex(domain, ".")
	if dot <= 0 || dot == len(domain)-1 {
		return false
	}
	return !strings.ContainsAny(s, " \t\n")
}

// IsValidWalletAddress reports whether the string is plausible as a crypto
// wallet address: base58/bech32/hex style characters only, sane length.
func IsValidWalletAddress(s string) bool {
	if len(s) < 20 || len(s) > 128 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r == ':': // CAIP-style prefixes
		default:
			return false
		}
	}
	return true
}
