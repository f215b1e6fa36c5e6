package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		input string
		want  Command
		query string
	}{
		{"123456", VerifyOtp, ""},
		{"  654321 ", VerifyOtp, ""},
		{"login", Login, ""},
		{"Sign In", Login, ""},
		{"/login", Login, ""},
		{"logout", Logout, ""},
		{"/logout", Logout, ""},
		{"help", Help, ""},
		{"?", Help, ""},
		{"MENU", Menu, ""},
		{"hi", Menu, ""},
		{"records", GetRecords, ""},
		{"my records", GetRecords, ""},
		{"meds", GetMedications, ""},
		{"medications", GetMedications, ""},
		{"appointments", GetAppointments, ""},
		{"procedures", GetProcedures, ""},
		{"available slots", CheckSlots, ""},
		{"book appointment", BookAppointment, ""},
		{"schedule appointment", ScheduleAppointment, ""},
		{"search patient John Doe", PatientSearch, "John Doe"},
		{"/search ravi", PatientSearch, "ravi"},
		{"search patient", PatientSearch, ""},
		{"patient info P123456", PatientInfo, "P123456"},
		{"/patient abc-1", PatientInfo, "abc-1"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, args := Classify(tt.input)
			assert.Equal(t, tt.want, got, "command for %q", tt.input)
			assert.Equal(t, tt.query, args.Query)
			assert.Equal(t, tt.input, args.OriginalText)
		})
	}
}

func TestClassifyUnknownPreservesText(t *testing.T) {
	inputs := []string{
		"what is my blood group",
		"12345",
		"1234567",
		"12345a",
		"records please",
		"  Hello There  ",
		"",
	}
	for _, in := range inputs {
		got, args := Classify(in)
		assert.Equal(t, Unknown, got, "input %q", in)
		assert.Equal(t, in, args.OriginalText)
		assert.Empty(t, args.Query)
	}
}

func TestSixDigitsAlwaysVerify(t *testing.T) {
	for _, in := range []string{"000000", "999999", "100200"} {
		got, _ := Classify(in)
		assert.Equal(t, VerifyOtp, got)
	}
}

func TestRulesAreOrderedAndCompiled(t *testing.T) {
	table := Rules()
	require.NotEmpty(t, table)
	assert.Equal(t, VerifyOtp, table[0].Command, "numeric codes take priority")

	for i, r := range table {
		require.NotEmpty(t, r.Patterns, "rule %d has no patterns", i)
		for _, p := range r.Patterns {
			assert.True(t, len(p.String()) > 2 && p.String()[0] == '^', "rule %d pattern %q must be anchored", i, p)
		}
	}

	// Mutating the returned copy must not affect classification.
	table[0] = Rule{Command: Help}
	got, _ := Classify("123456")
	assert.Equal(t, VerifyOtp, got)
}

func TestRuleByRule(t *testing.T) {
	samples := map[Command]string{
		Login:               "login",
		Logout:              "logout",
		VerifyOtp:           "111111",
		GetRecords:          "records",
		GetMedications:      "medications",
		GetAppointments:     "appointments",
		GetProcedures:       "procedures",
		CheckSlots:          "slots",
		BookAppointment:     "book",
		PatientSearch:       "search patient ab",
		PatientInfo:         "patient info 1",
		ScheduleAppointment: "schedule appointment",
		Help:                "help",
		Menu:                "menu",
	}
	for _, r := range Rules() {
		sample, ok := samples[r.Command]
		require.True(t, ok, "no sample for %s", r.Command)
		got, _ := Classify(sample)
		assert.Equal(t, r.Command, got, "sample %q", sample)
	}
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "verify_otp", VerifyOtp.String())
	assert.Equal(t, "unknown", Command(99).String())
	assert.True(t, Login.IsAuthFlow())
	assert.False(t, Help.IsAuthFlow())
	assert.True(t, Menu.IsCommon())
}
