package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/care-whatsapp-bot/internal/emr"
)

func TestEncounterType(t *testing.T) {
	cases := map[string]string{
		"inpatient":  "Hospital Stay",
		"outpatient": "Clinic Visit",
		"emergency":  "Emergency Visit",
		"virtual":    "Telemedicine",
		"home":       "Home Visit",
		"":           "Clinic Visit",
		"ambulatory": "Medical Visit",
	}
	for class, want := range cases {
		assert.Equal(t, want, EncounterType(class), class)
	}
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "Unavailable", MaskPhone(""))
	assert.Equal(t, "****", MaskPhone("12"))
	assert.Equal(t, "****1234", MaskPhone("1234"))
	assert.Equal(t, "****3210", MaskPhone("+919876543210"))
}

func TestAge(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2000, 2, 29, 0, 0, 0, 0, time.UTC)
	after := time.Date(2000, 3, 2, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "24 years", Age(emr.Patient{DateOfBirth: &before}, now))
	assert.Equal(t, "23 years", Age(emr.Patient{DateOfBirth: &after}, now))
	assert.Equal(t, "~34 years", Age(emr.Patient{YearOfBirth: 1990}, now))
	assert.Equal(t, "", Age(emr.Patient{}, now))
}

func TestFormatDate(t *testing.T) {
	assert.Equal(t, "Unknown", formatDate(time.Time{}))
	assert.Equal(t, "2024-06-15", formatDate(fixedNow))
}
