package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/care-whatsapp-bot/pkg/logging"
)

var telnyxSendTracer = otel.Tracer("care.internal.messaging.telnyx_send")

const defaultTelnyxBase = "https://api.telnyx.com"

// TelnyxSender posts SMS messages using Telnyx's V2 API.
type TelnyxSender struct {
	apiKey             string
	messagingProfileID string
	from               string
	baseURL            string
	httpClient         *http.Client
	logger             *logging.Logger
	wait               func() time.Duration
}

// NewTelnyxSender builds a sender for Telnyx V2 API.
func NewTelnyxSender(apiKey, messagingProfileID, from string, logger *logging.Logger) *TelnyxSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &TelnyxSender{
		apiKey:             apiKey,
		messagingProfileID: messagingProfileID,
		from:               from,
		baseURL:            defaultTelnyxBase,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
		wait:   retryDelay,
	}
}

var _ Sender = (*TelnyxSender)(nil)

// SendSMS dispatches a single SMS via Telnyx V2 API, retrying transient failures.
func (s *TelnyxSender) SendSMS(ctx context.Context, to, body string) error {
	if s.apiKey == "" {
		return errors.New("messaging: telnyx api key missing")
	}
	to = NormalizeE164(to)
	if to == "" {
		return errors.New("messaging: to required")
	}
	if s.from == "" && s.messagingProfileID == "" {
		return errors.New("messaging: from number or messaging profile required")
	}
	if strings.TrimSpace(body) == "" {
		return errors.New("messaging: body required")
	}

	ctx, span := telnyxSendTracer.Start(ctx, "messaging.telnyx.send")
	defer span.End()
	span.SetAttributes(attribute.String("care.to", maskPhone(to)))

	payload := map[string]interface{}{
		"to":   to,
		"text": body,
	}
	if s.from != "" {
		payload["from"] = s.from
	}
	if s.messagingProfileID != "" {
		payload["messaging_profile_id"] = s.messagingProfileID
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("messaging: failed to marshal telnyx payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v2/messages", bytes.NewReader(bodyBytes))
		if err != nil {
			lastErr = err
			break
		}
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				var parsed struct {
					Data struct {
						ID string `json:"id"`
					} `json:"data"`
				}
				_ = json.Unmarshal(respBody, &parsed)
				s.logger.Info("telnyx sms sent", "to", maskPhone(to), "message_id", parsed.Data.ID)
				return nil
			}
			lastErr = formatTelnyxError(resp.StatusCode, respBody)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				break
			}
		}

		if attempt < sendAttempts {
			if err := sleepCtx(ctx, s.wait()); err != nil {
				lastErr = err
				break
			}
		}
	}

	span.RecordError(lastErr)
	s.logger.Error("failed to send telnyx sms", "error", lastErr, "to", maskPhone(to))
	return lastErr
}

func formatTelnyxError(status int, body []byte) error {
	var parsed struct {
		Errors []struct {
			Code   string `json:"code"`
			Title  string `json:"title"`
			Detail string `json:"detail"`
		} `json:"errors"`
	}
	if len(body) > 0 && json.Unmarshal(body, &parsed) == nil && len(parsed.Errors) > 0 {
		e := parsed.Errors[0]
		return fmt.Errorf("telnyx send failed: status %d code %s: %s", status, e.Code, e.Title)
	}
	return fmt.Errorf("telnyx send failed: status %d", status)
}
