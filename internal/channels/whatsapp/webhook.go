package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/care-whatsapp-bot/internal/bot"
)

// Platform names this channel in inbound messages and dedupe keys.
const Platform = "whatsapp"

// VerifyWebhook answers Meta's subscription handshake. It returns the
// challenge to echo and true when mode and token match.
func VerifyWebhook(verifyToken, mode, token, challenge string) (string, bool) {
	if mode != "subscribe" || verifyToken == "" {
		return "", false
	}
	if !hmac.Equal([]byte(token), []byte(verifyToken)) {
		return "", false
	}
	return challenge, true
}

// ValidateSignature checks the X-Hub-Signature-256 header. The "sha256="
// prefix is optional. With no app secret configured every body passes.
func ValidateSignature(appSecret string, body []byte, header string) bool {
	if appSecret == "" {
		return true
	}
	sigHex := strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	if sigHex == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.ToLower(sigHex)))
}

// ParseIncoming extracts the first user message from a webhook body. It
// returns nil without error for deliveries that carry no message, such as
// status receipts.
func ParseIncoming(body []byte) (*bot.InboundMessage, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("whatsapp: decode webhook: %w", err)
	}
	if len(payload.Entry) == 0 || len(payload.Entry[0].Changes) == 0 {
		return nil, nil
	}
	value := payload.Entry[0].Changes[0].Value
	if len(value.Messages) == 0 {
		return nil, nil
	}
	m := value.Messages[0]
	if m.From == "" {
		return nil, fmt.Errorf("whatsapp: message %q has no sender", m.ID)
	}

	msg := &bot.InboundMessage{
		MessageID: m.ID,
		SenderID:  m.From,
		Platform:  Platform,
		Timestamp: parseTimestamp(m.Timestamp),
		Metadata: map[string]string{
			"message_id":      m.ID,
			"timestamp":       m.Timestamp,
			"phone_number_id": value.Metadata.PhoneNumberID,
		},
	}
	for _, c := range value.Contacts {
		if c.WaID == m.From && c.Profile.Name != "" {
			msg.Metadata["profile_name"] = c.Profile.Name
		}
	}

	switch {
	case m.Text != nil:
		msg.Kind = bot.KindText
		msg.Content = m.Text.Body
	case m.Image != nil:
		msg.Kind = bot.KindImage
		msg.Content = m.Image.Caption
		setMedia(msg, m.Image)
	case m.Document != nil:
		msg.Kind = bot.KindDocument
		msg.Content = m.Document.Caption
		setMedia(msg, m.Document)
		msg.Metadata["filename"] = m.Document.Filename
	case m.Audio != nil:
		msg.Kind = bot.KindAudio
		setMedia(msg, m.Audio)
	case m.Video != nil:
		msg.Kind = bot.KindVideo
		msg.Content = m.Video.Caption
		setMedia(msg, m.Video)
	case m.Location != nil:
		lat := strconv.FormatFloat(m.Location.Latitude, 'f', -1, 64)
		lng := strconv.FormatFloat(m.Location.Longitude, 'f', -1, 64)
		msg.Kind = bot.KindLocation
		msg.Content = fmt.Sprintf("Latitude: %s, Longitude: %s", lat, lng)
		msg.Metadata["latitude"] = lat
		msg.Metadata["longitude"] = lng
	case m.Interactive != nil:
		msg.Kind = bot.KindInteractive
		reply := m.Interactive.ButtonReply
		if reply == nil {
			reply = m.Interactive.ListReply
		}
		if reply != nil {
			msg.Content = reply.Title
			msg.Metadata["reply_id"] = reply.ID
		}
	case m.Button != nil:
		msg.Kind = bot.KindInteractive
		msg.Content = m.Button.Text
		msg.Metadata["reply_id"] = m.Button.Payload
	default:
		msg.Kind = bot.MessageKind(m.Type)
	}
	return msg, nil
}

func setMedia(msg *bot.InboundMessage, media *Media) {
	msg.Metadata["media_id"] = media.ID
	if media.MimeType != "" {
		msg.Metadata["mime_type"] = media.MimeType
	}
}

func parseTimestamp(raw string) time.Time {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}
