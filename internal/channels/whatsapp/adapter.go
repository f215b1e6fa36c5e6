package whatsapp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/care-whatsapp-bot/internal/bot"
	"github.com/wolfman30/care-whatsapp-bot/internal/events"
	"github.com/wolfman30/care-whatsapp-bot/pkg/logging"
)

const maxWebhookBody = 1 << 20

// Router produces the replies for an inbound message.
type Router interface {
	Route(ctx context.Context, msg bot.InboundMessage) []bot.OutboundResponse
}

// Metrics observes webhook and send outcomes.
type Metrics interface {
	ObserveWebhook(status string, d time.Duration)
	ObserveOutbound(kind string, ok bool)
}

type nopMetrics struct{}

func (nopMetrics) ObserveWebhook(string, time.Duration) {}
func (nopMetrics) ObserveOutbound(string, bool)         {}

type messageSender interface {
	SendMessage(ctx context.Context, out bot.OutboundResponse) (*SendResponse, error)
}

// Config holds the Cloud API credentials for one business number.
type Config struct {
	AccessToken   string
	PhoneNumberID string
	VerifyToken   string
	AppSecret     string
	// GraphAPIBase is the versioned base URL, e.g. https://graph.facebook.com/v18.0.
	GraphAPIBase string
}

// Adapter is the WhatsApp channel: it verifies and parses inbound
// webhooks, hands messages to the router and sends the replies.
type Adapter struct {
	client      messageSender
	verifyToken string
	appSecret   string
	router      Router
	dedupe      events.Deduper
	metrics     Metrics
	logger      *logging.Logger
}

// NewAdapter wires the channel. dedupe and metrics may be nil.
func NewAdapter(cfg Config, router Router, dedupe events.Deduper, metrics Metrics, logger *logging.Logger) *Adapter {
	client := NewClient(cfg.AccessToken, cfg.PhoneNumberID)
	client.SetGraphAPIBase(cfg.GraphAPIBase)
	return newAdapter(client, cfg, router, dedupe, metrics, logger)
}

func newAdapter(client messageSender, cfg Config, router Router, dedupe events.Deduper, metrics Metrics, logger *logging.Logger) *Adapter {
	if logger == nil {
		logger = logging.Default()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if cfg.AppSecret == "" {
		logger.Warn("whatsapp: app secret not configured, webhook signatures are not checked")
	}
	return &Adapter{
		client:      client,
		verifyToken: cfg.VerifyToken,
		appSecret:   cfg.AppSecret,
		router:      router,
		dedupe:      dedupe,
		metrics:     metrics,
		logger:      logger,
	}
}

// Send delivers one response and reports whether the API accepted it.
// Failures are logged here; callers carry on with the next response.
func (a *Adapter) Send(ctx context.Context, out bot.OutboundResponse) bool {
	resp, err := a.client.SendMessage(ctx, out)
	kind := string(out.Kind)
	if kind == "" {
		kind = string(bot.KindText)
	}
	a.metrics.ObserveOutbound(kind, err == nil)
	if err != nil {
		a.logger.Error("whatsapp: failed to send message",
			"recipient", logging.MaskPhone(out.RecipientID),
			"kind", kind,
			"error", err,
		)
		return false
	}
	a.logger.Debug("whatsapp: message sent", "recipient", logging.MaskPhone(out.RecipientID), "message_id", resp.MessageID())
	return true
}

// HandleVerification handles GET /webhooks/whatsapp (Meta challenge).
func (a *Adapter) HandleVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, ok := VerifyWebhook(a.verifyToken, q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"))
	if !ok {
		a.logger.Warn("whatsapp: webhook verification rejected", "mode", q.Get("hub.mode"))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, challenge)
}

// HandleWebhook handles POST /webhooks/whatsapp. Once the signature checks
// out it always answers 200 so Meta does not redeliver.
func (a *Adapter) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if !ValidateSignature(a.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		a.metrics.ObserveWebhook("invalid_signature", time.Since(start))
		a.logger.Warn("whatsapp: invalid webhook signature", "remote_addr", r.RemoteAddr)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ctx, span := tracer.Start(r.Context(), "whatsapp.webhook")
	status := a.process(ctx, body)
	span.SetAttributes(attribute.String("webhook.status", status))
	span.End()
	a.metrics.ObserveWebhook(status, time.Since(start))
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (a *Adapter) process(ctx context.Context, body []byte) string {
	msg, err := ParseIncoming(body)
	if err != nil {
		a.logger.Error("whatsapp: failed to parse webhook", "error", err)
		return "bad_payload"
	}
	if msg == nil {
		return "ignored"
	}

	if a.dedupe != nil && msg.MessageID != "" {
		first, err := a.dedupe.MarkProcessed(ctx, Platform, msg.MessageID)
		if err != nil {
			a.logger.Error("whatsapp: dedupe check failed", "message_id", msg.MessageID, "error", err)
		} else if !first {
			a.logger.Info("whatsapp: duplicate delivery skipped", "message_id", msg.MessageID)
			return "duplicate"
		}
	}

	a.logger.Info("whatsapp: inbound message",
		"sender", logging.MaskPhone(msg.SenderID),
		"kind", msg.Kind,
		"message_id", msg.MessageID,
	)

	sent := 0
	responses := a.router.Route(ctx, *msg)
	for _, out := range responses {
		if a.Send(ctx, out) {
			sent++
		}
	}
	if sent < len(responses) {
		return "send_failed"
	}
	return "accepted"
}
