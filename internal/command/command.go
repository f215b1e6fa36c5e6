// Package command maps free text from a chat message onto the closed set of
// bot commands.
package command

import (
	"regexp"
	"strings"
)

// Command is a bot command kind.
type Command int

const (
	Unknown Command = iota
	Login
	Logout
	VerifyOtp
	GetRecords
	GetMedications
	GetAppointments
	GetProcedures
	CheckSlots
	BookAppointment
	PatientSearch
	PatientInfo
	ScheduleAppointment
	Help
	Menu
)

var names = map[Command]string{
	Unknown:             "unknown",
	Login:               "login",
	Logout:              "logout",
	VerifyOtp:           "verify_otp",
	GetRecords:          "get_records",
	GetMedications:      "get_medications",
	GetAppointments:     "get_appointments",
	GetProcedures:       "get_procedures",
	CheckSlots:          "check_slots",
	BookAppointment:     "book_appointment",
	PatientSearch:       "patient_search",
	PatientInfo:         "patient_info",
	ScheduleAppointment: "schedule_appointment",
	Help:                "help",
	Menu:                "menu",
}

// String returns the snake_case name used in logs and metric labels.
func (c Command) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return "unknown"
}

// IsAuthFlow reports whether c is reachable regardless of session state.
func (c Command) IsAuthFlow() bool {
	return c == Login || c == VerifyOtp || c == Logout
}

// IsCommon reports whether c is answered by the common handler.
func (c Command) IsCommon() bool {
	return c == Help || c == Menu
}

// Args carries values extracted during classification.
type Args struct {
	// Query is the captured free text, e.g. the name in "search patient john".
	Query string
	// OriginalText is the untouched input. Always set.
	OriginalText string
}

// Rule binds a command to the patterns that select it. Patterns are matched
// against the trimmed, lower-cased input.
type Rule struct {
	Command  Command
	Patterns []*regexp.Regexp
}

func rule(cmd Command, patterns ...string) Rule {
	r := Rule{Command: cmd}
	for _, p := range patterns {
		r.Patterns = append(r.Patterns, regexp.MustCompile(p))
	}
	return r
}

// rules is ordered by priority: the first matching pattern wins.
var rules = []Rule{
	rule(VerifyOtp, `^\d{6}$`),

	rule(Login, `^/login$`),
	rule(Logout, `^/logout$`),
	rule(Help, `^/help$`),
	rule(Menu, `^/menu$`, `^/start$`),
	rule(GetRecords, `^/records$`),
	rule(GetMedications, `^/medications$`),
	rule(GetAppointments, `^/appointments$`),
	rule(GetProcedures, `^/procedures$`),
	rule(CheckSlots, `^/slots$`),
	rule(BookAppointment, `^/book$`),
	rule(ScheduleAppointment, `^/schedule$`),
	rule(PatientSearch, `^/search\s+(.+)$`),
	rule(PatientInfo, `^/patient\s+(.+)$`),

	rule(Login, `^login$`, `^log in$`, `^sign ?in$`),
	rule(Logout, `^logout$`, `^log out$`, `^sign ?out$`),
	rule(Help, `^help$`, `^\?$`),
	rule(Menu, `^menu$`, `^start$`, `^hi$`, `^hello$`),
	rule(GetRecords, `^records$`, `^my records$`, `^medical records$`),
	rule(GetMedications, `^medications$`, `^meds$`, `^my medications$`),
	rule(GetAppointments, `^appointments$`, `^my appointments$`),
	rule(GetProcedures, `^procedures$`, `^my procedures$`),
	rule(CheckSlots, `^available slots$`, `^slots$`, `^check slots$`),
	rule(BookAppointment, `^book appointment$`, `^book$`),
	rule(ScheduleAppointment, `^schedule appointment$`),

	rule(PatientSearch, `^search patient\s+(.+)$`, `^search patient$`),
	rule(PatientInfo, `^patient info\s+(.+)$`, `^patient info$`),
}

// Rules returns the classification table in priority order.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Classify maps text onto a command. Text that matches no rule yields Unknown
// with Args.OriginalText set to the input verbatim.
func Classify(text string) (Command, Args) {
	args := Args{OriginalText: text}
	trimmed := strings.TrimSpace(text)
	normalized := strings.ToLower(trimmed)

	for _, r := range rules {
		for _, p := range r.Patterns {
			loc := p.FindStringSubmatchIndex(normalized)
			if loc == nil {
				continue
			}
			if len(loc) >= 4 && loc[2] >= 0 {
				args.Query = strings.TrimSpace(captureOriginal(trimmed, normalized, loc[2], loc[3]))
			}
			return r.Command, args
		}
	}
	return Unknown, args
}

// captureOriginal returns the captured span with its original casing when
// lower-casing preserved byte offsets, and the lower-cased span otherwise.
func captureOriginal(original, normalized string, start, end int) string {
	if len(original) == len(normalized) {
		return original[start:end]
	}
	return normalized[start:end]
}
