package bot

import (
	"fmt"
	"time"

	"github.com/wolfman30/care-whatsapp-bot/internal/emr"
)

const dateLayout = "2006-01-02"

var encounterTypeDisplay = map[string]string{
	"inpatient":  "Hospital Stay",
	"outpatient": "Clinic Visit",
	"emergency":  "Emergency Visit",
	"virtual":    "Telemedicine",
	"home":       "Home Visit",
}

// EncounterType maps an encounter class to the label shown in chat.
func EncounterType(class string) string {
	if class == "" {
		class = "outpatient"
	}
	if label, ok := encounterTypeDisplay[class]; ok {
		return label
	}
	return "Medical Visit"
}

// MaskPhone shows only the last four digits.
func MaskPhone(phone string) string {
	if phone == "" {
		return "Unavailable"
	}
	if len(phone) >= 4 {
		return "****" + phone[len(phone)-4:]
	}
	return "****"
}

// Age renders the patient's age in years. An exact birth date gives
// "N years", a birth year alone gives "~N years", neither gives "".
func Age(p emr.Patient, now time.Time) string {
	if p.DateOfBirth != nil {
		dob := *p.DateOfBirth
		years := now.Year() - dob.Year()
		if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
			years--
		}
		return fmt.Sprintf("%d years", years)
	}
	if p.YearOfBirth > 0 {
		return fmt.Sprintf("~%d years", now.Year()-p.YearOfBirth)
	}
	return ""
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "Unknown"
	}
	return t.Format(dateLayout)
}

// Clinical detail is never shown in chat; these stand in for it.
const (
	placeholderComplaint    = "Medical consultation"
	placeholderDiagnosis    = "As per medical assessment"
	placeholderDosage       = "As prescribed"
	placeholderFrequency    = "As directed"
	placeholderInstructions = "Follow doctor's instructions"
	placeholderMedication   = "Prescribed medication"
	placeholderDoctor       = "Healthcare Provider"
)
