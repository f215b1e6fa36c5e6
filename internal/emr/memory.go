package emr

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is a Provider backed by maps. It serves local development
// and tests.
type InMemoryStore struct {
	mu            sync.RWMutex
	patients      map[string]Patient
	staff         map[string]Staff
	encounters    []Encounter
	medications   []Medication
	consultations []Consultation
	facilities    []Facility
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		patients: make(map[string]Patient),
		staff:    make(map[string]Staff),
	}
}

func (s *InMemoryStore) AddPatient(p Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = p
}

func (s *InMemoryStore) AddStaff(st Staff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staff[st.ID] = st
}

// RemoveStaff deletes a staff record, as when an account is deactivated upstream.
func (s *InMemoryStore) RemoveStaff(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.staff, id)
}

func (s *InMemoryStore) AddEncounter(e Encounter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encounters = append(s.encounters, e)
}

func (s *InMemoryStore) AddMedication(m Medication) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.medications = append(s.medications, m)
}

func (s *InMemoryStore) AddConsultation(c Consultation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consultations = append(s.consultations, c)
}

func (s *InMemoryStore) AddFacility(f Facility) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facilities = append(s.facilities, f)
}

// FindPatientByPhone matches on the last ten digits.
func (s *InMemoryStore) FindPatientByPhone(_ context.Context, phone string) (*Patient, error) {
	suffix := PhoneSuffix(phone)
	if suffix == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.sortedPatients() {
		if PhoneSuffix(p.Phone) == suffix {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) GetPatient(_ context.Context, id string) (*Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// FindStaffByPhone matches on the last ten digits.
func (s *InMemoryStore) FindStaffByPhone(_ context.Context, phone string) (*Staff, error) {
	suffix := PhoneSuffix(phone)
	if suffix == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.staff {
		if PhoneSuffix(st.Phone) == suffix {
			st := st
			return &st, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) GetStaff(_ context.Context, id string) (*Staff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.staff[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

// SearchPatients does a case-insensitive substring match on name, phone and id.
func (s *InMemoryStore) SearchPatients(_ context.Context, query string, limit int) ([]Patient, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Patient
	for _, p := range s.sortedPatients() {
		if limit > 0 && len(out) >= limit {
			break
		}
		if strings.Contains(strings.ToLower(p.Name), q) ||
			strings.Contains(p.Phone, q) ||
			strings.Contains(strings.ToLower(p.ID), q) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Encounters(_ context.Context, patientID string, since time.Time, limit int) ([]Encounter, error) {
	return s.encountersWhere(patientID, since, limit, func(Encounter) bool { return true }), nil
}

func (s *InMemoryStore) ProcedureEncounters(_ context.Context, patientID string, since time.Time, limit int) ([]Encounter, error) {
	return s.encountersWhere(patientID, since, limit, Encounter.HasProcedure), nil
}

func (s *InMemoryStore) encountersWhere(patientID string, since time.Time, limit int, keep func(Encounter) bool) []Encounter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Encounter
	for _, e := range s.encounters {
		if e.PatientID == patientID && !e.CreatedAt.Before(since) && keep(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *InMemoryStore) ActiveMedications(_ context.Context, patientID string) ([]Medication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Medication
	for _, m := range s.medications {
		if m.PatientID == patientID && (m.Status == "active" || m.Status == "on-hold") {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) OpenConsultations(_ context.Context, patientID string, since time.Time) ([]Consultation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Consultation
	for _, c := range s.consultations {
		if c.PatientID == patientID && c.DischargedAt == nil && !c.CreatedAt.Before(since) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) BookableFacilities(_ context.Context, limit, doctorsPer int) ([]Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Facility
	for _, f := range s.facilities {
		if limit > 0 && len(out) >= limit {
			break
		}
		if doctorsPer >= 0 && len(f.Doctors) > doctorsPer {
			f.Doctors = append([]string(nil), f.Doctors[:doctorsPer]...)
		}
		out = append(out, f)
	}
	return out, nil
}

// sortedPatients gives lookups a stable order. Callers hold the read lock.
func (s *InMemoryStore) sortedPatients() []Patient {
	out := make([]Patient, 0, len(s.patients))
	for _, p := range s.patients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
