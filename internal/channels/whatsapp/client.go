package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/care-whatsapp-bot/internal/bot"
)

const (
	defaultGraphAPIBase = "https://graph.facebook.com/v18.0"
	defaultHTTPTimeout  = 30 * time.Second

	maxButtons     = 3
	maxButtonTitle = 20
)

var tracer = otel.Tracer("care.internal.channels.whatsapp")

// Client sends messages through the WhatsApp Cloud API.
type Client struct {
	accessToken   string
	phoneNumberID string
	graphAPIBase  string
	httpClient    *http.Client
}

// NewClient creates a Cloud API client for one business phone number.
func NewClient(accessToken, phoneNumberID string) *Client {
	return &Client{
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		graphAPIBase:  defaultGraphAPIBase,
		httpClient:    &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// SetGraphAPIBase overrides the versioned Graph API base URL.
func (c *Client) SetGraphAPIBase(base string) {
	if base != "" {
		c.graphAPIBase = base
	}
}

// BuildSendRequest maps a bot response to the Cloud API payload. Buttons
// turn any response into an interactive reply-button message.
func BuildSendRequest(out bot.OutboundResponse) (SendRequest, error) {
	if out.RecipientID == "" {
		return SendRequest{}, errors.New("whatsapp: recipient required")
	}
	req := SendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               out.RecipientID,
	}

	if len(out.Buttons) > 0 {
		buttons := out.Buttons
		if len(buttons) > maxButtons {
			buttons = buttons[:maxButtons]
		}
		action := SendAction{Buttons: make([]SendButton, 0, len(buttons))}
		for _, b := range buttons {
			action.Buttons = append(action.Buttons, SendButton{
				Type:  "reply",
				Reply: Reply{ID: b.ID, Title: truncate(b.Title, maxButtonTitle)},
			})
		}
		req.Type = "interactive"
		req.Interactive = &SendInteractive{Type: "button", Body: SendBody{Text: out.Content}, Action: action}
		return req, nil
	}

	switch out.Kind {
	case bot.KindImage:
		link := out.Metadata["url"]
		if link == "" {
			return SendRequest{}, errors.New("whatsapp: image url required")
		}
		req.Type = "image"
		req.Image = &SendMedia{Link: link, Caption: out.Content}
	case bot.KindDocument:
		link := out.Metadata["url"]
		if link == "" {
			return SendRequest{}, errors.New("whatsapp: document url required")
		}
		filename := out.Metadata["filename"]
		if filename == "" {
			filename = "document"
		}
		req.Type = "document"
		req.Document = &SendMedia{Link: link, Caption: out.Content, Filename: filename}
	case bot.KindText, "":
		req.Type = "text"
		req.Text = &SendText{Body: out.Content}
	default:
		return SendRequest{}, fmt.Errorf("whatsapp: unsupported outbound kind %q", out.Kind)
	}
	return req, nil
}

// SendMessage posts one response to the recipient.
func (c *Client) SendMessage(ctx context.Context, out bot.OutboundResponse) (*SendResponse, error) {
	req, err := BuildSendRequest(out)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "whatsapp.send")
	defer span.End()
	span.SetAttributes(attribute.String("whatsapp.type", req.Type))

	resp, err := c.send(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return resp, err
	}
	span.SetAttributes(attribute.String("whatsapp.message_id", resp.MessageID()))
	return resp, nil
}

func (c *Client) send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	if c.accessToken == "" || c.phoneNumberID == "" {
		return nil, errors.New("whatsapp: access token and phone number id required")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: marshal send request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.graphAPIBase, c.phoneNumberID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: send message: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: read response: %w", err)
	}

	var sendResp SendResponse
	if err := json.Unmarshal(respBody, &sendResp); err != nil {
		return nil, fmt.Errorf("whatsapp: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	if sendResp.Error != nil {
		return &sendResp, fmt.Errorf("whatsapp: API error %d: %s", sendResp.Error.Code, sendResp.Error.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &sendResp, fmt.Errorf("whatsapp: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return &sendResp, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
