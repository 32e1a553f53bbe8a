package provider

import (
	"fmt"
	"strings"
)

// maxNationalDigits is the longest number still treated as lacking a
// country code.
const maxNationalDigits = 11

// FormatPhone normalizes raw into an international digits-only number,
// prefixing countryCode when the input looks national.
func FormatPhone(raw, countryCode string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	digits := strings.TrimLeft(b.String(), "0")
	if digits == "" {
		return "", fmt.Errorf("invalid phone number %q", raw)
	}

	cc := strings.TrimLeft(strings.TrimSpace(countryCode), "+")
	if cc == "" || len(digits) > maxNationalDigits {
		return digits, nil
	}
	return cc + digits, nil
}
