// Package whatsapp runs one messaging session per bot. It owns the session
// registry, drives pairing and reconnection, forwards inbound messages to a
// handler and exposes the outbound send surface.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ProviderType selects a transport implementation.
type ProviderType string

const (
	ProviderSocket  ProviderType = "socket"
	ProviderBrowser ProviderType = "browser"
	ProviderCloud   ProviderType = "cloud"
)

func (t ProviderType) String() string { return string(t) }

// ParseProviderType normalizes a configured provider name.
func ParseProviderType(raw string) (ProviderType, error) {
	switch t := ProviderType(strings.ToLower(strings.TrimSpace(raw))); t {
	case ProviderSocket, ProviderBrowser, ProviderCloud:
		return t, nil
	case "":
		return ProviderSocket, nil
	default:
		return "", fmt.Errorf("unknown whatsapp provider %q", raw)
	}
}

var (
	// ErrConnectionFailure marks a close caused by corrupted or rejected
	// credentials. Recovery wipes the session's auth directory.
	ErrConnectionFailure = errors.New("Connection Failure")

	ErrSessionAlreadyActive = errors.New("session already active")
	ErrPairingTimeout       = errors.New("pairing timed out")
	ErrSessionNotFound      = errors.New("session not found")
	ErrTransport            = errors.New("transport error")
	ErrNotSupported         = errors.New("operation not supported by provider")
	ErrInitialization       = errors.New("provider initialization failed")
	ErrSessionClosed        = errors.New("session closed during pairing")
	ErrSessionStopped       = errors.New("session stopped during pairing")
)

// Provider is one transport bound to a single session for its whole life.
//
// Initialize must not block on the network: it starts the connection and
// reports progress through Events. Disconnect is idempotent and releases
// everything the provider holds.
type Provider interface {
	Events() *EventBus
	Initialize(ctx context.Context, sessionID string) error
	Disconnect(ctx context.Context) error
	SendText(ctx context.Context, to, text string) error
	SendButtons(ctx context.Context, to, text, footer string, buttons []Button) error
}

// ImageSender is implemented by providers that can deliver images.
type ImageSender interface {
	SendImage(ctx context.Context, to, url, caption string) error
}

// PhonePairer links a device with a phone-number code instead of a QR scan.
type PhonePairer interface {
	PairPhone(ctx context.Context, phone string) (string, error)
}

type Button struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type ConnectionStatus string

const (
	StatusOpen  ConnectionStatus = "open"
	StatusClose ConnectionStatus = "close"
)

// Account identifies the logged-in number. Providers fill whichever field
// their transport reports.
type Account struct {
	JID  string `json:"jid,omitempty"`
	User string `json:"user,omitempty"`
	Name string `json:"name,omitempty"`
}

// Phone returns the bare number: the JID user part, else User.
func (a Account) Phone() string {
	if a.JID != "" {
		jid := a.JID
		if i := strings.IndexByte(jid, '@'); i >= 0 {
			jid = jid[:i]
		}
		// Multi-device JIDs carry a ":device" suffix.
		if i := strings.IndexByte(jid, ':'); i >= 0 {
			jid = jid[:i]
		}
		return jid
	}
	return a.User
}

type StatusEvent struct {
	Status          ConnectionStatus
	Account         Account
	Reason          error
	ShouldReconnect bool
}

// InboundMessage is a received chat message independent of transport.
type InboundMessage struct {
	From      string `json:"from"`
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
	FromMe    bool   `json:"from_me"`
	PushName  string `json:"push_name,omitempty"`
	Raw       any    `json:"-"`
}

// ButtonsAsText renders buttons as a numbered list for transports that
// cannot show native buttons.
func ButtonsAsText(text, footer string, buttons []Button) string {
	var b strings.Builder
	b.WriteString(text)
	if len(buttons) > 0 {
		b.WriteString("\n")
		for i, btn := range buttons {
			fmt.Fprintf(&b, "\n%d. %s", i+1, btn.Text)
		}
	}
	if footer != "" {
		b.WriteString("\n\n_")
		b.WriteString(footer)
		b.WriteString("_")
	}
	return b.String()
}
