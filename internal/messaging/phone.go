package messaging

import "strings"

// NormalizeE164 ensures the value begins with + and only contains digits afterward.
func NormalizeE164(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	digits := digitsOnly(value)
	if digits == "" {
		return ""
	}
	return "+" + digits
}

func digitsOnly(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func maskPhone(value string) string {
	d := digitsOnly(value)
	if len(d) <= 4 {
		return "****"
	}
	return "****" + d[len(d)-4:]
}
