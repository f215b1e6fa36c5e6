package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/wolfman30/care-whatsapp-bot/internal/command"
	"github.com/wolfman30/care-whatsapp-bot/internal/compliance"
	"github.com/wolfman30/care-whatsapp-bot/internal/emr"
	"github.com/wolfman30/care-whatsapp-bot/pkg/logging"
)

const (
	searchMinLength     = 2
	searchLimit         = 10
	recentEncounterRows = 3
)

const (
	textStaffUnknown = "❓ I didn't understand that command. " +
		"Commands: `search patient <name>`, `patient info <id>`, `schedule appointment`, `menu`, `help`"
	textStaffError = "Sorry, something went wrong while processing your request. " +
		"Try again or contact IT support."
	textSearchUsage    = "❓ Please provide a search term (minimum 2 characters).\nExample: `search patient John Doe`"
	textPatientIDUsage = "❓ Please provide a patient ID.\nExample: `patient info P123456`"
	textAccessDenied   = "🔒 You don't have permission to access this patient's information."
	textSchedule       = "📅 *Schedule Appointment*\n\n" +
		"Use the main CARE system:\n\n" +
		"🖥️ Web Portal or 📱 Mobile App\n\n" +
		"🔒 Full authentication required for security."
)

// Auditor records access to patient data and authentication events.
type Auditor interface {
	LogEvent(ctx context.Context, event compliance.AuditEvent) error
}

type nopAuditor struct{}

func (nopAuditor) LogEvent(context.Context, compliance.AuditEvent) error { return nil }

// StaffHandler serves patient lookups for hospital staff.
type StaffHandler struct {
	staff    emr.StaffDirectory
	patients emr.PatientDirectory
	search   emr.PatientSearcher
	records  emr.RecordsService
	audit    Auditor
	logger   *logging.Logger
	now      func() time.Time
}

// NewStaffHandler wires the handler. provider supplies every EMR lookup.
func NewStaffHandler(provider emr.Provider, audit Auditor, logger *logging.Logger, now func() time.Time) *StaffHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if audit == nil {
		audit = nopAuditor{}
	}
	if now == nil {
		now = time.Now
	}
	return &StaffHandler{
		staff:    provider,
		patients: provider,
		search:   provider,
		records:  provider,
		audit:    audit,
		logger:   logger,
		now:      now,
	}
}

func (h *StaffHandler) Handle(ctx context.Context, req Request) []OutboundResponse {
	to := req.Message.SenderID
	if req.User == nil || req.User.StaffID == "" {
		return reply(to, "❌ Staff information not found.")
	}

	var (
		text string
		err  error
	)
	switch req.Command {
	case command.PatientSearch:
		text, err = h.searchPatients(ctx, req.User.StaffID, req.User.PhoneNumber, strings.TrimSpace(req.Args.Query))
	case command.PatientInfo:
		text, err = h.patientInfo(ctx, req.User.StaffID, req.User.PhoneNumber, strings.TrimSpace(req.Args.Query))
	case command.ScheduleAppointment:
		text = textSchedule
	default:
		text = textStaffUnknown
	}
	if err != nil {
		var uf errUserFacing
		if errors.As(err, &uf) {
			return reply(to, "❌ "+uf.msg)
		}
		h.logger.Error("staff command failed", "command", req.Command.String(), "staff_id", req.User.StaffID, "error", err)
		return reply(to, textStaffError)
	}
	return reply(to, text)
}

func (h *StaffHandler) loadStaff(ctx context.Context, staffID string) (*emr.Staff, error) {
	st, err := h.staff.GetStaff(ctx, staffID)
	if errors.Is(err, emr.ErrNotFound) {
		return nil, errUserFacing{msg: "Staff user not found."}
	}
	if err != nil {
		return nil, fmt.Errorf("bot: load staff: %w", err)
	}
	return st, nil
}

func (h *StaffHandler) searchPatients(ctx context.Context, staffID, phone, query string) (string, error) {
	if utf8.RuneCountInString(query) < searchMinLength {
		return textSearchUsage, nil
	}
	if _, err := h.loadStaff(ctx, staffID); err != nil {
		return "", err
	}

	patients, err := h.search.SearchPatients(ctx, query, searchLimit)
	if err != nil {
		return "", fmt.Errorf("bot: search patients: %w", err)
	}
	h.record(ctx, compliance.AuditEvent{
		EventType: compliance.EventPatientSearched,
		Phone:     phone,
		UserKind:  "staff",
		SubjectID: staffID,
		Details:   mustJSON(map[string]int{"results": len(patients)}),
	})

	if len(patients) == 0 {
		return fmt.Sprintf("🔍 No patients found matching '%s'.\nTry searching with a different term.", query), nil
	}

	now := h.now()
	var b strings.Builder
	fmt.Fprintf(&b, "🔍 *Search Results for '%s'*\n\n", query)
	for i, p := range patients {
		fmt.Fprintf(&b, "*%d. %s*\n", i+1, p.Name)
		fmt.Fprintf(&b, "ID: %s\n", p.ID)
		if age := Age(p, now); age != "" {
			fmt.Fprintf(&b, "Age: %s\n", age)
		}
		if p.Gender != "" {
			fmt.Fprintf(&b, "Gender: %s\n", p.Gender)
		}
		fmt.Fprintf(&b, "Phone: %s\n\n", MaskPhone(p.Phone))
	}
	b.WriteString("\n💡 Use `patient info <ID>` for details.")
	return b.String(), nil
}

func (h *StaffHandler) patientInfo(ctx context.Context, staffID, phone, patientID string) (string, error) {
	if patientID == "" {
		return textPatientIDUsage, nil
	}
	st, err := h.loadStaff(ctx, staffID)
	if err != nil {
		return "", err
	}

	p, err := h.patients.GetPatient(ctx, patientID)
	if errors.Is(err, emr.ErrNotFound) {
		return "", errUserFacing{msg: fmt.Sprintf("Patient with ID '%s' not found.", patientID)}
	}
	if err != nil {
		return "", fmt.Errorf("bot: get patient: %w", err)
	}

	if !st.IsActive {
		h.record(ctx, compliance.AuditEvent{
			EventType: compliance.EventAccessDenied,
			Phone:     phone,
			UserKind:  "staff",
			SubjectID: p.ID,
			Details:   mustJSON(map[string]string{"staff_id": st.ID}),
		})
		return textAccessDenied, nil
	}

	encounters, err := h.records.Encounters(ctx, p.ID, time.Time{}, recentEncounterRows)
	if err != nil {
		return "", fmt.Errorf("bot: recent encounters: %w", err)
	}
	h.record(ctx, compliance.AuditEvent{
		EventType: compliance.EventPatientViewed,
		Phone:     phone,
		UserKind:  "staff",
		SubjectID: p.ID,
		Details:   mustJSON(map[string]string{"staff_id": st.ID}),
	})

	var b strings.Builder
	b.WriteString("👤 *Patient Information*\n\n")
	fmt.Fprintf(&b, "*Name:* %s\n", p.Name)
	fmt.Fprintf(&b, "*ID:* %s\n", p.ID)
	if age := Age(*p, h.now()); age != "" {
		fmt.Fprintf(&b, "*Age:* %s\n", age)
	}
	if p.Gender != "" {
		fmt.Fprintf(&b, "*Gender:* %s\n", p.Gender)
	}
	if p.BloodGroup != "" {
		fmt.Fprintf(&b, "*Blood Group:* %s\n", p.BloodGroup)
	}
	fmt.Fprintf(&b, "*Phone:* %s\n", MaskPhone(p.Phone))

	if len(encounters) > 0 {
		b.WriteString("\n📋 *Recent Encounters:*\n")
		for _, e := range encounters {
			fmt.Fprintf(&b, "• %s - %s\n", formatDate(e.CreatedAt), EncounterType(e.Class))
		}
	}
	b.WriteString("\n⚠️ Summary only. Use CARE system for complete records.")
	return b.String(), nil
}

func (h *StaffHandler) record(ctx context.Context, event compliance.AuditEvent) {
	if err := h.audit.LogEvent(ctx, event); err != nil {
		h.logger.Error("audit write failed", "event_type", event.EventType, "error", err)
	}
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
