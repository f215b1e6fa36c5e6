package auth

import "strings"

// DefaultCountryCode is prefixed to national numbers.
const DefaultCountryCode = "91"

// NormalizePhone reduces raw to digits and applies the country prefix to
// national numbers: ten digits get the prefix, a single leading zero is
// replaced by it. Any other digit string is assumed to already carry a
// country code. Normalizing a ten-digit input twice gives the same result.
func NormalizePhone(raw, countryCode string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}

	switch {
	case len(digits) == 10 && !strings.HasPrefix(digits, "0"):
		return countryCode + digits
	case strings.HasPrefix(digits, "0"):
		national := digits[1:]
		if national == "" {
			return ""
		}
		return countryCode + national
	default:
		return digits
	}
}
