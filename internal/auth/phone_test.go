package auth

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"9876543210", "919876543210"},
		{"98765 43210", "919876543210"},
		{"+91 98765-43210", "919876543210"},
		{"919876543210", "919876543210"},
		{"09876543210", "919876543210"},
		{"whatsapp:+14155550100", "14155550100"},
		{"", ""},
		{"abc", ""},
		{"0", ""},
		{"000", "9100"},
		{"0012345678", "91012345678"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePhone(tt.raw, DefaultCountryCode))
		})
	}
}

func TestNormalizePhoneIdempotentForTenDigits(t *testing.T) {
	inputs := []string{"0012345678", "0098765432", "0000000001", "0123456789"}
	for i := 0; i < 1000; i++ {
		inputs = append(inputs, fmt.Sprintf("%010d", i*9876541+1234567))
	}
	for _, raw := range inputs {
		once := NormalizePhone(raw, DefaultCountryCode)
		twice := NormalizePhone(once, DefaultCountryCode)
		assert.Equal(t, once, twice, "input %s", raw)
	}
}

func TestNormalizePhoneCustomCountryCode(t *testing.T) {
	assert.Equal(t, "15551234567", NormalizePhone("5551234567", "1"))
	assert.Equal(t, "15551234567", NormalizePhone("05551234567", "1"))
}
