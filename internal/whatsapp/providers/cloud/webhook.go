package cloud

import (
	"crypto/subtle"
	"strings"

	"github.com/gongonut/propiedadraiz-backend/internal/whatsapp"
)

// WebhookPayload is the subset of the Cloud API notification we read.
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

type WebhookChange struct {
	Field string       `json:"field"`
	Value WebhookValue `json:"value"`
}

type WebhookValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         WebhookMetadata  `json:"metadata"`
	Contacts         []WebhookContact `json:"contacts"`
	Messages         []WebhookMessage `json:"messages"`
}

type WebhookMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type WebhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type WebhookMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Interactive *struct {
		Type        string       `json:"type"`
		ButtonReply *ReplyOption `json:"button_reply,omitempty"`
		ListReply   *ReplyOption `json:"list_reply,omitempty"`
	} `json:"interactive,omitempty"`
}

type ReplyOption struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ParseInbound extracts the first message of the first change. The session id
// is the receiving phone number id. It reports false for status callbacks and
// payloads without a usable message.
func ParseInbound(payload WebhookPayload) (whatsapp.InboundMessage, bool) {
	if len(payload.Entry) == 0 || len(payload.Entry[0].Changes) == 0 {
		return whatsapp.InboundMessage{}, false
	}
	value := payload.Entry[0].Changes[0].Value
	if len(value.Messages) == 0 {
		return whatsapp.InboundMessage{}, false
	}
	m := value.Messages[0]

	var text string
	switch {
	case m.Text != nil:
		text = m.Text.Body
	case m.Interactive != nil && m.Interactive.ButtonReply != nil:
		text = m.Interactive.ButtonReply.Title
	case m.Interactive != nil && m.Interactive.ListReply != nil:
		text = m.Interactive.ListReply.Title
	}
	if strings.TrimSpace(m.From) == "" {
		return whatsapp.InboundMessage{}, false
	}

	msg := whatsapp.InboundMessage{
		From:      m.From,
		Text:      text,
		SessionID: value.Metadata.PhoneNumberID,
		Raw:       m,
	}
	for _, c := range value.Contacts {
		if c.WaID == m.From {
			msg.PushName = c.Profile.Name
			break
		}
	}
	return msg, true
}

// VerifySubscription answers the webhook handshake. It returns the challenge
// when mode is "subscribe" and token matches expected.
func VerifySubscription(mode, token, challenge, expected string) (string, bool) {
	if mode != "subscribe" || expected == "" {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		return "", false
	}
	return challenge, true
}
