// Package bot routes classified chat commands to the role handlers and
// produces the replies sent back to the sender.
package bot

import "time"

// MessageKind is the content type of a chat message.
type MessageKind string

const (
	KindText        MessageKind = "text"
	KindImage       MessageKind = "image"
	KindDocument    MessageKind = "document"
	KindAudio       MessageKind = "audio"
	KindVideo       MessageKind = "video"
	KindLocation    MessageKind = "location"
	KindInteractive MessageKind = "interactive"
)

// InboundMessage is one message received from a provider webhook.
type InboundMessage struct {
	MessageID string
	SenderID  string
	Kind      MessageKind
	Content   string
	Platform  string
	Timestamp time.Time
	Metadata  map[string]string
}

// Button is a quick-reply option on an interactive message.
type Button struct {
	ID    string
	Title string
}

// OutboundResponse is one message to send. Metadata carries media details
// such as "url", "caption" and "filename".
type OutboundResponse struct {
	RecipientID string
	Kind        MessageKind
	Content     string
	Buttons     []Button
	Metadata    map[string]string
}

func textTo(recipient, content string) OutboundResponse {
	return OutboundResponse{RecipientID: recipient, Kind: KindText, Content: content}
}

func reply(recipient string, contents ...string) []OutboundResponse {
	out := make([]OutboundResponse, 0, len(contents))
	for _, c := range contents {
		out = append(out, textTo(recipient, c))
	}
	return out
}
