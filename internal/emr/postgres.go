package emr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore reads EMR data from the relational database.
type PostgresStore struct {
	db querier
}

// NewPostgresStore initializes a store backed by pgxpool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("emr: pgx pool required")
	}
	return &PostgresStore{db: pool}
}

func newPostgresStoreWithQuerier(db querier) *PostgresStore {
	return &PostgresStore{db: db}
}

const patientColumns = `id, name, phone, gender, blood_group, date_of_birth, year_of_birth, organization_id, created_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var (
		p           Patient
		bloodGroup  *string
		yearOfBirth *int
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Phone, &p.Gender, &bloodGroup, &p.DateOfBirth, &yearOfBirth, &p.OrganizationID, &p.CreatedAt); err != nil {
		return nil, err
	}
	if bloodGroup != nil {
		p.BloodGroup = *bloodGroup
	}
	if yearOfBirth != nil {
		p.YearOfBirth = *yearOfBirth
	}
	return &p, nil
}

// FindPatientByPhone matches on the last ten digits of the stored phone.
func (s *PostgresStore) FindPatientByPhone(ctx context.Context, phone string) (*Patient, error) {
	suffix := PhoneSuffix(phone)
	if suffix == "" {
		return nil, nil
	}
	query := `SELECT ` + patientColumns + ` FROM patients WHERE phone_suffix = $1 ORDER BY id LIMIT 1`
	p, err := scanPatient(s.db.QueryRow(ctx, query, suffix))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("emr: find patient by phone: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetPatient(ctx context.Context, id string) (*Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE id = $1`
	p, err := scanPatient(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("emr: get patient: %w", err)
	}
	return p, nil
}

const staffColumns = `id, first_name, last_name, username, phone, role, is_active`

func scanStaff(row pgx.Row) (*Staff, error) {
	var st Staff
	if err := row.Scan(&st.ID, &st.FirstName, &st.LastName, &st.Username, &st.Phone, &st.Role, &st.IsActive); err != nil {
		return nil, err
	}
	return &st, nil
}

// FindStaffByPhone matches on the last ten digits of the stored phone.
func (s *PostgresStore) FindStaffByPhone(ctx context.Context, phone string) (*Staff, error) {
	suffix := PhoneSuffix(phone)
	if suffix == "" {
		return nil, nil
	}
	query := `SELECT ` + staffColumns + ` FROM staff WHERE phone_suffix = $1 ORDER BY id LIMIT 1`
	st, err := scanStaff(s.db.QueryRow(ctx, query, suffix))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("emr: find staff by phone: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) GetStaff(ctx context.Context, id string) (*Staff, error) {
	query := `SELECT ` + staffColumns + ` FROM staff WHERE id = $1`
	st, err := scanStaff(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("emr: get staff: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) SearchPatients(ctx context.Context, query string, limit int) ([]Patient, error) {
	sql := `
		SELECT ` + patientColumns + `
		FROM patients
		WHERE name ILIKE '%' || $1 || '%' ESCAPE '\'
		   OR phone LIKE '%' || $1 || '%' ESCAPE '\'
		   OR id ILIKE '%' || $1 || '%' ESCAPE '\'
		ORDER BY name
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, sql, escapeLike(query), limit)
	if err != nil {
		return nil, fmt.Errorf("emr: search patients: %w", err)
	}
	defer rows.Close()

	var out []Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("emr: scan patient: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("emr: search patients: %w", err)
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes q match literally inside a LIKE pattern.
func escapeLike(q string) string { return likeEscaper.Replace(q) }

func (s *PostgresStore) Encounters(ctx context.Context, patientID string, since time.Time, limit int) ([]Encounter, error) {
	query := `
		SELECT id, patient_id, encounter_class, status, facility_name, procedure_name, created_at
		FROM encounters
		WHERE patient_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3
	`
	return s.queryEncounters(ctx, query, patientID, since, limit)
}

func (s *PostgresStore) ProcedureEncounters(ctx context.Context, patientID string, since time.Time, limit int) ([]Encounter, error) {
	query := `
		SELECT id, patient_id, encounter_class, status, facility_name, procedure_name, created_at
		FROM encounters
		WHERE patient_id = $1 AND created_at >= $2 AND procedure_name IS NOT NULL
		ORDER BY created_at DESC
		LIMIT $3
	`
	return s.queryEncounters(ctx, query, patientID, since, limit)
}

func (s *PostgresStore) queryEncounters(ctx context.Context, query string, args ...any) ([]Encounter, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("emr: list encounters: %w", err)
	}
	defer rows.Close()

	var out []Encounter
	for rows.Next() {
		var (
			e         Encounter
			procedure *string
		)
		if err := rows.Scan(&e.ID, &e.PatientID, &e.Class, &e.Status, &e.FacilityName, &procedure, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("emr: scan encounter: %w", err)
		}
		if procedure != nil {
			e.ProcedureName = *procedure
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("emr: list encounters: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ActiveMedications(ctx context.Context, patientID string) ([]Medication, error) {
	query := `
		SELECT id, patient_id, name, status, created_at
		FROM medication_requests
		WHERE patient_id = $1 AND status IN ('active', 'on-hold')
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("emr: list medications: %w", err)
	}
	defer rows.Close()

	var out []Medication
	for rows.Next() {
		var m Medication
		if err := rows.Scan(&m.ID, &m.PatientID, &m.Name, &m.Status, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("emr: scan medication: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("emr: list medications: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) OpenConsultations(ctx context.Context, patientID string, since time.Time) ([]Consultation, error) {
	query := `
		SELECT id, patient_id, facility_name, doctor_name, kind, created_at, discharged_at
		FROM consultations
		WHERE patient_id = $1 AND discharged_at IS NULL AND created_at >= $2
		ORDER BY created_at ASC
	`
	rows, err := s.db.Query(ctx, query, patientID, since)
	if err != nil {
		return nil, fmt.Errorf("emr: list consultations: %w", err)
	}
	defer rows.Close()

	var out []Consultation
	for rows.Next() {
		var c Consultation
		if err := rows.Scan(&c.ID, &c.PatientID, &c.FacilityName, &c.DoctorName, &c.Kind, &c.CreatedAt, &c.DischargedAt); err != nil {
			return nil, fmt.Errorf("emr: scan consultation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("emr: list consultations: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) BookableFacilities(ctx context.Context, limit, doctorsPer int) ([]Facility, error) {
	query := `
		SELECT id, name, address, facility_type
		FROM facilities
		WHERE is_active AND facility_type IN ('HOSPITAL', 'PRIMARY_HEALTH_CENTRE', 'COMMUNITY_HEALTH_CENTRE')
		ORDER BY name
		LIMIT $1
	`
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("emr: list facilities: %w", err)
	}
	var out []Facility
	for rows.Next() {
		var f Facility
		if err := rows.Scan(&f.ID, &f.Name, &f.Address, &f.Kind); err != nil {
			rows.Close()
			return nil, fmt.Errorf("emr: scan facility: %w", err)
		}
		out = append(out, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("emr: list facilities: %w", err)
	}

	for i := range out {
		doctors, err := s.facilityDoctors(ctx, out[i].ID, doctorsPer)
		if err != nil {
			return nil, err
		}
		out[i].Doctors = doctors
	}
	return out, nil
}

func (s *PostgresStore) facilityDoctors(ctx context.Context, facilityID string, limit int) ([]string, error) {
	query := `
		SELECT doctor_name
		FROM facility_doctors
		WHERE facility_id = $1
		ORDER BY created_at
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, facilityID, limit)
	if err != nil {
		return nil, fmt.Errorf("emr: list facility doctors: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("emr: scan facility doctor: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
