// Package compliance keeps the audit trail of authentication and patient
// data access performed through the bot.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEventType represents the type of audited event.
type AuditEventType string

const (
	// EventOTPRequested is logged when a passcode is issued.
	EventOTPRequested AuditEventType = "auth.otp_requested"
	// EventOTPDeliveryFailed is logged when the passcode SMS could not be sent.
	EventOTPDeliveryFailed AuditEventType = "auth.otp_delivery_failed"
	// EventLoginUnregistered is logged when an unknown number asks to log in.
	EventLoginUnregistered AuditEventType = "auth.login_unregistered"
	// EventLoginSucceeded is logged when a passcode is verified.
	EventLoginSucceeded AuditEventType = "auth.login_succeeded"
	// EventLoginFailed is logged for a wrong, expired or missing passcode.
	EventLoginFailed AuditEventType = "auth.login_failed"
	// EventRateLimited is logged when a locked out number asks for a passcode.
	EventRateLimited AuditEventType = "auth.rate_limited"
	// EventLogout is logged when a session is ended by the user.
	EventLogout AuditEventType = "auth.logout"
	// EventPatientSearched is logged for every staff patient search.
	EventPatientSearched AuditEventType = "phi.patient_searched"
	// EventPatientViewed is logged when staff open a patient summary.
	EventPatientViewed AuditEventType = "phi.patient_viewed"
	// EventAccessDenied is logged when the access gate refuses staff.
	EventAccessDenied AuditEventType = "phi.access_denied"
)

// AuditEvent represents an immutable audit record.
type AuditEvent struct {
	ID        string          `json:"id"`
	EventType AuditEventType  `json:"event_type"`
	Phone     string          `json:"phone"`
	UserKind  string          `json:"user_kind,omitempty"`
	SubjectID string          `json:"subject_id,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AuditService writes audit events to the database.
type AuditService struct {
	db *sql.DB
}

// NewAuditService creates a new audit service.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// LogEvent records an audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO bot_audit_events (
			id, event_type, phone, user_kind, subject_id, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.Phone,
		event.UserKind,
		nullString(event.SubjectID),
		nullJSON(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}

	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
