package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/care-whatsapp-bot/pkg/logging"
)

func noWait() time.Duration { return 0 }

func TestTwilioSenderSends(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "+919876543210", r.PostForm.Get("To"))
		assert.Equal(t, "+15550001111", r.PostForm.Get("From"))
		assert.Equal(t, "Your code is 424242", r.PostForm.Get("Body"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	}))
	defer server.Close()

	s := NewTwilioSender("AC123", "secret", "+15550001111", logging.Nop())
	s.baseURL = server.URL
	s.wait = noWait

	require.NoError(t, s.SendSMS(context.Background(), "919876543210", "Your code is 424242"))
}

func TestTwilioSenderRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	s := NewTwilioSender("AC123", "secret", "+15550001111", logging.Nop())
	s.baseURL = server.URL
	s.wait = noWait

	require.NoError(t, s.SendSMS(context.Background(), "+919876543210", "hi"))
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestTwilioSenderDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
	}))
	defer server.Close()

	s := NewTwilioSender("AC123", "secret", "+15550001111", logging.Nop())
	s.baseURL = server.URL
	s.wait = noWait

	err := s.SendSMS(context.Background(), "+91", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 21211")
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestTwilioSenderValidates(t *testing.T) {
	ctx := context.Background()
	assert.Error(t, NewTwilioSender("", "", "+1", nil).SendSMS(ctx, "+1", "x"))
	assert.Error(t, NewTwilioSender("AC", "tok", "", nil).SendSMS(ctx, "+1", "x"))
	assert.Error(t, NewTwilioSender("AC", "tok", "+1", nil).SendSMS(ctx, "", "x"))
	assert.Error(t, NewTwilioSender("AC", "tok", "+1", nil).SendSMS(ctx, "+1", "  "))
}

func TestTelnyxSenderSends(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/messages", r.URL.Path)
		assert.Equal(t, "Bearer KEY", r.Header.Get("Authorization"))
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "+919876543210", payload["to"])
		assert.Equal(t, "+15550002222", payload["from"])
		assert.Equal(t, "profile", payload["messaging_profile_id"])
		_, _ = w.Write([]byte(`{"data":{"id":"msg-1"}}`))
	}))
	defer server.Close()

	s := NewTelnyxSender("KEY", "profile", "+15550002222", logging.Nop())
	s.baseURL = server.URL
	s.wait = noWait

	require.NoError(t, s.SendSMS(context.Background(), "919876543210", "code"))
}

func TestTelnyxSenderReportsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":[{"code":"40300","title":"Blocked due to STOP message"}]}`))
	}))
	defer server.Close()

	s := NewTelnyxSender("KEY", "", "+15550002222", logging.Nop())
	s.baseURL = server.URL
	s.wait = noWait

	err := s.SendSMS(context.Background(), "919876543210", "code")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "40300")
}

type stubSender struct {
	calls int
	err   error
}

func (s *stubSender) SendSMS(context.Context, string, string) error {
	s.calls++
	return s.err
}

func TestFailoverSender(t *testing.T) {
	ctx := context.Background()

	primary := &stubSender{}
	secondary := &stubSender{}
	f := NewFailoverSender(primary, "telnyx", secondary, "twilio", logging.Nop())
	require.NoError(t, f.SendSMS(ctx, "+1", "x"))
	assert.Equal(t, 1, primary.calls)
	assert.Zero(t, secondary.calls)

	primary.err = errors.New("telnyx down")
	require.NoError(t, f.SendSMS(ctx, "+1", "x"))
	assert.Equal(t, 1, secondary.calls)

	secondary.err = errors.New("twilio down")
	err := f.SendSMS(ctx, "+1", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, primary.err)
	assert.ErrorIs(t, err, secondary.err)

	var nilFailover *FailoverSender
	assert.Error(t, nilFailover.SendSMS(ctx, "+1", "x"))
}

func TestBuildSender(t *testing.T) {
	full := ProviderSelectionConfig{
		TelnyxAPIKey:     "key",
		TelnyxFromNumber: "+15550002222",
		TwilioAccountSID: "AC",
		TwilioAuthToken:  "tok",
		TwilioFromNumber: "+15550001111",
	}

	tests := []struct {
		name       string
		cfg        func() ProviderSelectionConfig
		wantName   string
		wantReason bool
	}{
		{"auto with both", func() ProviderSelectionConfig { return full }, "telnyx+twilio", false},
		{"forced twilio", func() ProviderSelectionConfig { c := full; c.Preference = "twilio"; return c }, "twilio", false},
		{"forced telnyx", func() ProviderSelectionConfig { c := full; c.Preference = "TELNYX"; return c }, "telnyx", false},
		{"log", func() ProviderSelectionConfig { return ProviderSelectionConfig{Preference: "log"} }, "log", false},
		{"auto telnyx only", func() ProviderSelectionConfig {
			return ProviderSelectionConfig{TelnyxAPIKey: "key", TelnyxProfileID: "p"}
		}, "telnyx", false},
		{"forced twilio missing", func() ProviderSelectionConfig {
			return ProviderSelectionConfig{Preference: "twilio", TwilioAccountSID: "AC"}
		}, "", true},
		{"nothing configured", func() ProviderSelectionConfig { return ProviderSelectionConfig{} }, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, name, reason := BuildSender(tt.cfg(), logging.Nop())
			assert.Equal(t, tt.wantName, name)
			if tt.wantReason {
				assert.Nil(t, sender)
				assert.NotEmpty(t, reason)
			} else {
				assert.NotNil(t, sender)
				assert.Empty(t, reason)
			}
		})
	}
}

type countingMetrics struct{ ok, failed int }

func (m *countingMetrics) ObserveSMS(_ string, ok bool) {
	if ok {
		m.ok++
	} else {
		m.failed++
	}
}

func TestInstrumentedAndLogSender(t *testing.T) {
	m := &countingMetrics{}
	s := NewInstrumentedSender(NewLogSender(logging.Nop()), "log", m)
	require.NoError(t, s.SendSMS(context.Background(), "+919876543210", "code"))
	require.Error(t, s.SendSMS(context.Background(), "", "code"))
	assert.Equal(t, 1, m.ok)
	assert.Equal(t, 1, m.failed)
}

func TestNormalizeE164(t *testing.T) {
	assert.Equal(t, "+919876543210", NormalizeE164(" +91 98765-43210 "))
	assert.Equal(t, "", NormalizeE164("abc"))
	assert.Equal(t, "", NormalizeE164(""))
	assert.Equal(t, "****3210", maskPhone("+919876543210"))
}
