package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/care-whatsapp-bot/internal/command"
	"github.com/wolfman30/care-whatsapp-bot/internal/emr"
	"github.com/wolfman30/care-whatsapp-bot/pkg/logging"
)

const (
	recordsWindow      = 180 * 24 * time.Hour
	recordsLimit       = 5
	appointmentsWindow = 30 * 24 * time.Hour
	proceduresWindow   = 90 * 24 * time.Hour
	proceduresLimit    = 5
	slotFacilities     = 5
	slotDoctors        = 3
)

const (
	textPatientUnknown = "❓ I didn't understand that command. " +
		"Commands: `records`, `medications`, `appointments`, `procedures`, `available slots`, `book appointment`, `menu`, `help`"
	textPatientError = "Sorry, something went wrong while retrieving your information. " +
		"Try again or contact your provider."
)

// errUserFacing carries a message that is safe to show as-is.
type errUserFacing struct{ msg string }

func (e errUserFacing) Error() string { return e.msg }

// PatientHandler serves a patient's own records.
type PatientHandler struct {
	patients emr.PatientDirectory
	records  emr.RecordsService
	logger   *logging.Logger
	now      func() time.Time
}

// NewPatientHandler wires the handler. A nil clock uses time.Now.
func NewPatientHandler(patients emr.PatientDirectory, records emr.RecordsService, logger *logging.Logger, now func() time.Time) *PatientHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &PatientHandler{patients: patients, records: records, logger: logger, now: now}
}

func (h *PatientHandler) Handle(ctx context.Context, req Request) []OutboundResponse {
	to := req.Message.SenderID
	if req.User == nil || req.User.PatientID == "" {
		return reply(to, "❌ Patient information not found.")
	}
	patientID := req.User.PatientID

	var run func(context.Context, string) (string, error)
	switch req.Command {
	case command.GetRecords:
		run = h.listRecords
	case command.GetMedications:
		run = h.medications
	case command.GetAppointments:
		run = h.appointments
	case command.GetProcedures:
		run = h.procedures
	case command.CheckSlots:
		run = h.slots
	case command.BookAppointment:
		run = h.book
	default:
		return reply(to, textPatientUnknown)
	}

	if _, err := h.patients.GetPatient(ctx, patientID); err != nil {
		return h.fail(to, req.Command, err)
	}
	text, err := run(ctx, patientID)
	if err != nil {
		return h.fail(to, req.Command, err)
	}
	return reply(to, text)
}

func (h *PatientHandler) fail(to string, cmd command.Command, err error) []OutboundResponse {
	var uf errUserFacing
	switch {
	case errors.Is(err, emr.ErrNotFound):
		return reply(to, "❌ Patient not found.")
	case errors.As(err, &uf):
		return reply(to, "❌ "+uf.msg)
	}
	h.logger.Error("patient command failed", "command", cmd.String(), "error", err)
	return reply(to, textPatientError)
}

func (h *PatientHandler) listRecords(ctx context.Context, patientID string) (string, error) {
	encounters, err := h.records.Encounters(ctx, patientID, h.now().Add(-recordsWindow), recordsLimit)
	if err != nil {
		return "", fmt.Errorf("bot: records: %w", err)
	}
	if len(encounters) == 0 {
		return "📋 *Medical Records*\n\nNo recent medical records found.", nil
	}

	var b strings.Builder
	b.WriteString("📋 *Recent Medical Records*\n\n")
	for i, e := range encounters {
		fmt.Fprintf(&b, "*%d. %s*\n", i+1, formatDate(e.CreatedAt))
		fmt.Fprintf(&b, "Type: %s\n", EncounterType(e.Class))
		fmt.Fprintf(&b, "Chief Complaint: %s\n", placeholderComplaint)
		fmt.Fprintf(&b, "Diagnosis: %s\n\n", placeholderDiagnosis)
	}
	b.WriteString("\n⚠️ Summary only. Visit provider for complete records.")
	return b.String(), nil
}

func (h *PatientHandler) medications(ctx context.Context, patientID string) (string, error) {
	meds, err := h.records.ActiveMedications(ctx, patientID)
	if err != nil {
		return "", fmt.Errorf("bot: medications: %w", err)
	}
	if len(meds) == 0 {
		return "💊 *Current Medications*\n\nNo active medications found.", nil
	}

	var b strings.Builder
	b.WriteString("💊 *Current Medications*\n\n")
	for i, m := range meds {
		name := m.Name
		if name == "" {
			name = placeholderMedication
		}
		fmt.Fprintf(&b, "*%d. %s*\n", i+1, name)
		fmt.Fprintf(&b, "Dosage: %s\n", placeholderDosage)
		fmt.Fprintf(&b, "Frequency: %s\n", placeholderFrequency)
		fmt.Fprintf(&b, "Instructions: %s\n", placeholderInstructions)
		fmt.Fprintf(&b, "Status: %s\n\n", m.Status)
	}
	b.WriteString("\n⚠️ Follow doctor's instructions. Don't change meds without consulting.")
	return b.String(), nil
}

func (h *PatientHandler) appointments(ctx context.Context, patientID string) (string, error) {
	consults, err := h.records.OpenConsultations(ctx, patientID, h.now().Add(-appointmentsWindow))
	if err != nil {
		return "", fmt.Errorf("bot: appointments: %w", err)
	}
	if len(consults) == 0 {
		return "📅 *Upcoming Appointments*\n\nNo upcoming appointments found.", nil
	}

	var b strings.Builder
	b.WriteString("📅 *Upcoming Appointments*\n\n")
	for i, c := range consults {
		facility := c.FacilityName
		if facility == "" {
			facility = "Unknown"
		}
		doctor := placeholderDoctor
		if c.DoctorName != "" {
			doctor = "Dr. " + c.DoctorName
		}
		fmt.Fprintf(&b, "*%d. %s*\n", i+1, formatDate(c.CreatedAt))
		fmt.Fprintf(&b, "Facility: %s\n", facility)
		fmt.Fprintf(&b, "Doctor: %s\n", doctor)
		if c.Kind != "" {
			fmt.Fprintf(&b, "Type: %s\n", c.Kind)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n📞 *Reminder:* Please arrive 15 minutes early for your appointment.")
	return b.String(), nil
}

func (h *PatientHandler) procedures(ctx context.Context, patientID string) (string, error) {
	encounters, err := h.records.ProcedureEncounters(ctx, patientID, h.now().Add(-proceduresWindow), proceduresLimit)
	if err != nil {
		return "", fmt.Errorf("bot: procedures: %w", err)
	}
	if len(encounters) == 0 {
		return "🏥 *Recent Procedures*\n\nNo recent procedures found.", nil
	}

	var b strings.Builder
	b.WriteString("🏥 *Recent Procedures*\n\n")
	for i, e := range encounters {
		fmt.Fprintf(&b, "*%d. %s*\n", i+1, formatDate(e.CreatedAt))
		fmt.Fprintf(&b, "Procedure: %s\n", e.ProcedureName)
		if e.FacilityName != "" {
			fmt.Fprintf(&b, "Facility: %s\n", e.FacilityName)
		}
		b.WriteString("Status: Completed\n\n")
	}
	b.WriteString("\n📋 Contact provider for detailed reports.")
	return b.String(), nil
}

func (h *PatientHandler) slots(ctx context.Context, _ string) (string, error) {
	facilities, err := h.records.BookableFacilities(ctx, slotFacilities, slotDoctors)
	if err != nil {
		return "", fmt.Errorf("bot: slots: %w", err)
	}
	if len(facilities) == 0 {
		return "🏥 *Available Appointment Slots*\n\nNo facilities found with available slots.", nil
	}

	now := h.now()
	tomorrow := now.AddDate(0, 0, 1).Format(dateLayout)
	dayAfter := now.AddDate(0, 0, 2).Format(dateLayout)

	var b strings.Builder
	b.WriteString("🏥 *Available Appointment Slots*\n\n")
	for i, f := range facilities {
		fmt.Fprintf(&b, "*%d. %s*\n", i+1, f.Name)
		fmt.Fprintf(&b, "Location: %s\n", f.Address)
		if len(f.Doctors) > 0 {
			b.WriteString("Available Doctors:\n")
			for _, d := range f.Doctors {
				fmt.Fprintf(&b, "  • Dr. %s\n", d)
			}
		}
		fmt.Fprintf(&b, "Next Available: %s or %s\n\n", tomorrow, dayAfter)
	}
	b.WriteString("📞 *To book an appointment:*\n")
	b.WriteString("Type 'book appointment' and follow the instructions.\n\n")
	b.WriteString("⚠️ Availability may vary. Confirm with facility.")
	return b.String(), nil
}

func (h *PatientHandler) book(context.Context, string) (string, error) {
	return "📅 *Book Appointment*\n\n" +
		"To book an appointment, please provide:\n\n" +
		"1️⃣ Preferred facility\n" +
		"2️⃣ Preferred doctor (optional)\n" +
		"3️⃣ Preferred date and time\n" +
		"4️⃣ Reason for visit\n\n" +
		"📞 *Alternative booking methods:*\n" +
		"• Call the facility directly\n" +
		"• Visit the facility in person\n" +
		"• Use the CARE web portal\n\n" +
		"⚠️ Feature being enhanced. Contact facility for immediate booking.", nil
}
