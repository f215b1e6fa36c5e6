// Package emr defines the read-only view the bot has of the medical record
// system: identity directories and per-patient clinical data.
package emr

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by lookups by id when the record does not exist.
var ErrNotFound = errors.New("emr: not found")

// Patient is the subset of a patient record the bot may show.
type Patient struct {
	ID             string     // External patient identifier
	Name           string     // Full name
	Phone          string     // Phone as stored in the EMR (any format)
	Gender         string     // Free-form gender label
	BloodGroup     string     // e.g. "O+"; empty when unknown
	DateOfBirth    *time.Time // Exact birth date when recorded
	YearOfBirth    int        // Fallback when only the year is known
	OrganizationID string     // Owning organization
	CreatedAt      time.Time
}

// Staff is a hospital staff account.
type Staff struct {
	ID        string
	FirstName string
	LastName  string
	Username  string
	Phone     string
	Role      string // e.g. "Doctor", "Nurse"
	IsActive  bool
}

// FullName joins first and last name.
func (s Staff) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// Encounter is a clinical visit.
type Encounter struct {
	ID            string
	PatientID     string
	Class         string // inpatient, outpatient, emergency, virtual, home
	Status        string
	FacilityName  string
	ProcedureName string // Set when the encounter carried a procedure or observation
	CreatedAt     time.Time
}

// HasProcedure reports whether the encounter recorded a procedure.
func (e Encounter) HasProcedure() bool {
	return e.ProcedureName != ""
}

// Medication is a medication request.
type Medication struct {
	ID        string
	PatientID string
	Name      string
	Status    string // active, on-hold, completed, stopped
	CreatedAt time.Time
}

// Consultation is an admission or outpatient consultation.
type Consultation struct {
	ID           string
	PatientID    string
	FacilityName string
	DoctorName   string
	Kind         string
	CreatedAt    time.Time
	DischargedAt *time.Time
}

// Facility is a care location that can take bookings.
type Facility struct {
	ID      string
	Name    string
	Address string
	Kind    string
	Doctors []string // Display names of practitioners attached to the facility
}

// PatientDirectory resolves patients. FindPatientByPhone returns nil, nil
// when no patient matches.
type PatientDirectory interface {
	FindPatientByPhone(ctx context.Context, phone string) (*Patient, error)
	GetPatient(ctx context.Context, id string) (*Patient, error)
}

// StaffDirectory resolves staff accounts. FindStaffByPhone returns nil, nil
// when no staff account matches.
type StaffDirectory interface {
	FindStaffByPhone(ctx context.Context, phone string) (*Staff, error)
	GetStaff(ctx context.Context, id string) (*Staff, error)
}

// PatientSearcher matches free text against patient name, phone and id.
type PatientSearcher interface {
	SearchPatients(ctx context.Context, query string, limit int) ([]Patient, error)
}

// RecordsService exposes the clinical data shown to patients and staff.
// All methods are read-only and return newest-first unless noted.
type RecordsService interface {
	// Encounters returns encounters created at or after since.
	Encounters(ctx context.Context, patientID string, since time.Time, limit int) ([]Encounter, error)
	// ProcedureEncounters is Encounters restricted to those with a procedure.
	ProcedureEncounters(ctx context.Context, patientID string, since time.Time, limit int) ([]Encounter, error)
	// ActiveMedications returns active and on-hold medications.
	ActiveMedications(ctx context.Context, patientID string) ([]Medication, error)
	// OpenConsultations returns undischarged consultations created at or
	// after since, oldest first.
	OpenConsultations(ctx context.Context, patientID string, since time.Time) ([]Consultation, error)
	// BookableFacilities returns active facilities with up to doctorsPer doctors each.
	BookableFacilities(ctx context.Context, limit, doctorsPer int) ([]Facility, error)
}

// Provider is everything the bot needs from the EMR.
type Provider interface {
	PatientDirectory
	StaffDirectory
	PatientSearcher
	RecordsService
}

// PhoneSuffix returns the trailing ten digits of phone, the form used to
// match numbers regardless of country prefix.
func PhoneSuffix(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > 10 {
		return digits[len(digits)-10:]
	}
	return digits
}
