// Package messaging delivers one-time passcodes by SMS through Telnyx or
// Twilio, with failover between the two.
package messaging

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/wolfman30/care-whatsapp-bot/pkg/logging"
)

// Sender delivers a single SMS.
type Sender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Metrics observes SMS sends per provider.
type Metrics interface {
	ObserveSMS(provider string, ok bool)
}

const sendAttempts = 3

// retryDelay spaces attempts 200-500ms apart.
func retryDelay() time.Duration {
	return time.Duration(200+rand.Intn(300)) * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// LogSender writes messages to the log instead of sending them. It is meant
// for local development where no SMS provider is configured.
type LogSender struct {
	logger *logging.Logger
}

func NewLogSender(logger *logging.Logger) *LogSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) SendSMS(_ context.Context, to, body string) error {
	if to == "" {
		return errors.New("messaging: to required")
	}
	s.logger.Warn("sms not sent, log provider active", "to", maskPhone(to), "body", body)
	return nil
}

// InstrumentedSender records the outcome of every send.
type InstrumentedSender struct {
	next     Sender
	provider string
	metrics  Metrics
}

func NewInstrumentedSender(next Sender, provider string, metrics Metrics) *InstrumentedSender {
	return &InstrumentedSender{next: next, provider: provider, metrics: metrics}
}

func (s *InstrumentedSender) SendSMS(ctx context.Context, to, body string) error {
	err := s.next.SendSMS(ctx, to, body)
	if s.metrics != nil {
		s.metrics.ObserveSMS(s.provider, err == nil)
	}
	return err
}
