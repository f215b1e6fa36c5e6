package whatsapp

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/care-whatsapp-bot/internal/bot"
	"github.com/wolfman30/care-whatsapp-bot/internal/events"
	"github.com/wolfman30/care-whatsapp-bot/pkg/logging"
)

const testSecret = "app_secret"

type echoRouter struct {
	mu   sync.Mutex
	seen []bot.InboundMessage
}

func (r *echoRouter) Route(_ context.Context, msg bot.InboundMessage) []bot.OutboundResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, msg)
	return []bot.OutboundResponse{
		{RecipientID: msg.SenderID, Kind: bot.KindText, Content: "first"},
		{RecipientID: msg.SenderID, Kind: bot.KindText, Content: "second"},
	}
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []bot.OutboundResponse
	failOn string
}

func (s *fakeSender) SendMessage(_ context.Context, out bot.OutboundResponse) (*SendResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if out.Content == s.failOn {
		return nil, errors.New("graph api unavailable")
	}
	s.sent = append(s.sent, out)
	return &SendResponse{}, nil
}

type statusMetrics struct {
	mu       sync.Mutex
	statuses []string
	failed   int
}

func (m *statusMetrics) ObserveWebhook(status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
}

func (m *statusMetrics) ObserveOutbound(_ string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !ok {
		m.failed++
	}
}

type adapterFixture struct {
	adapter *Adapter
	router  *echoRouter
	sender  *fakeSender
	metrics *statusMetrics
}

func newAdapterFixture(t *testing.T, secret string) *adapterFixture {
	t.Helper()
	f := &adapterFixture{router: &echoRouter{}, sender: &fakeSender{}, metrics: &statusMetrics{}}
	cfg := Config{VerifyToken: "verify_me", AppSecret: secret}
	f.adapter = newAdapter(f.sender, cfg, f.router, events.NewMemoryProcessedStore(time.Hour, nil), f.metrics, logging.Nop())
	return f
}

func postWebhook(a *Adapter, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	w := httptest.NewRecorder()
	a.HandleWebhook(w, req)
	return w
}

func TestHandleVerification(t *testing.T) {
	f := newAdapterFixture(t, testSecret)

	t.Run("valid challenge", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet,
			"/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=verify_me&hub.challenge=CHALLENGE_123", nil)
		w := httptest.NewRecorder()
		f.adapter.HandleVerification(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "CHALLENGE_123", w.Body.String())
	})

	t.Run("wrong token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet,
			"/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=CHALLENGE_123", nil)
		w := httptest.NewRecorder()
		f.adapter.HandleVerification(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestHandleWebhookRoutesAndSends(t *testing.T) {
	f := newAdapterFixture(t, testSecret)
	body := envelope(`{"from":"919876543210","id":"wamid.A","timestamp":"1718445600","type":"text","text":{"body":"help"}}`)

	w := postWebhook(f.adapter, body, sign(testSecret, body))
	assert.Equal(t, http.StatusOK, w.Code)

	require.Len(t, f.router.seen, 1)
	assert.Equal(t, "help", f.router.seen[0].Content)
	require.Len(t, f.sender.sent, 2)
	assert.Equal(t, "first", f.sender.sent[0].Content)
	assert.Equal(t, "second", f.sender.sent[1].Content)
	assert.Equal(t, []string{"accepted"}, f.metrics.statuses)
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	f := newAdapterFixture(t, testSecret)
	body := envelope(`{"from":"919876543210","id":"wamid.A","type":"text","text":{"body":"help"}}`)

	w := postWebhook(f.adapter, body, sign("other", body))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, f.router.seen)

	w = postWebhook(f.adapter, body, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, []string{"invalid_signature", "invalid_signature"}, f.metrics.statuses)
}

func TestHandleWebhookWithoutSecret(t *testing.T) {
	f := newAdapterFixture(t, "")
	body := envelope(`{"from":"919876543210","id":"wamid.A","type":"text","text":{"body":"help"}}`)

	w := postWebhook(f.adapter, body, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, f.router.seen, 1)
}

func TestHandleWebhookDropsRedelivery(t *testing.T) {
	f := newAdapterFixture(t, testSecret)
	body := envelope(`{"from":"919876543210","id":"wamid.A","type":"text","text":{"body":"login"}}`)

	postWebhook(f.adapter, body, sign(testSecret, body))
	w := postWebhook(f.adapter, body, sign(testSecret, body))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, f.router.seen, 1)
	assert.Len(t, f.sender.sent, 2)
	assert.Equal(t, []string{"accepted", "duplicate"}, f.metrics.statuses)
}

func TestHandleWebhookAlwaysOKAfterSignature(t *testing.T) {
	f := newAdapterFixture(t, testSecret)

	garbage := []byte(`{"entry":`)
	w := postWebhook(f.adapter, garbage, sign(testSecret, garbage))
	assert.Equal(t, http.StatusOK, w.Code)

	status := []byte(`{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{"statuses":[{"id":"x","status":"read"}]}}]}]}`)
	w = postWebhook(f.adapter, status, sign(testSecret, status))
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Empty(t, f.router.seen)
	assert.Equal(t, []string{"bad_payload", "ignored"}, f.metrics.statuses)
}

func TestHandleWebhookContinuesAfterSendFailure(t *testing.T) {
	f := newAdapterFixture(t, testSecret)
	f.sender.failOn = "first"
	body := envelope(`{"from":"919876543210","id":"wamid.B","type":"text","text":{"body":"menu"}}`)

	w := postWebhook(f.adapter, body, sign(testSecret, body))
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "second", f.sender.sent[0].Content)
	assert.Equal(t, 1, f.metrics.failed)
	assert.Equal(t, []string{"send_failed"}, f.metrics.statuses)
}
