// Package cloud implements the stateless WhatsApp Cloud API provider. It
// holds no connection: Initialize only checks credentials, and inbound
// traffic arrives through the webhook.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gongonut/propiedadraiz-backend/internal/config"
	"github.com/gongonut/propiedadraiz-backend/internal/whatsapp"
)

const (
	// Cloud API limits for reply buttons.
	maxButtons     = 3
	maxButtonTitle = 20
)

var errDisconnected = errors.New("provider disconnected")

type Provider struct {
	cfg    config.CloudConfig
	client *http.Client
	logger *slog.Logger
	bus    *whatsapp.EventBus

	mu        sync.Mutex
	sessionID string
	ready     bool
	closed    bool
}

// New returns an unstarted provider. A nil client uses a 30s timeout client.
func New(log *slog.Logger, cfg config.CloudConfig, client *http.Client) *Provider {
	if log == nil {
		log = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = config.DefaultCloudAPIBaseURL
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	log = log.With(slog.String("provider", "cloud"))
	return &Provider{
		cfg:    cfg,
		client: client,
		logger: log,
		bus:    whatsapp.NewEventBus(log),
	}
}

// Factory builds one provider per session, all sharing the same credentials.
func Factory(log *slog.Logger, cfg config.CloudConfig, client *http.Client) whatsapp.ProviderFactory {
	return func(string) (whatsapp.Provider, error) {
		return New(log, cfg, client), nil
	}
}

func (p *Provider) Events() *whatsapp.EventBus { return p.bus }

// Initialize validates the configured credentials and reports ready at once,
// with the phone number id as the account.
func (p *Provider) Initialize(_ context.Context, sessionID string) error {
	if strings.TrimSpace(p.cfg.AccessToken) == "" || strings.TrimSpace(p.cfg.PhoneNumberID) == "" {
		return fmt.Errorf("cloud api credentials are not configured")
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("provider already disconnected")
	}
	p.sessionID = sessionID
	p.ready = true
	p.mu.Unlock()

	p.bus.PublishStatus(whatsapp.StatusEvent{
		Status:  whatsapp.StatusOpen,
		Account: whatsapp.Account{User: p.cfg.PhoneNumberID},
	})
	return nil
}

func (p *Provider) Disconnect(context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.ready = false
	p.mu.Unlock()

	p.bus.PublishStatus(whatsapp.StatusEvent{
		Status:          whatsapp.StatusClose,
		Reason:          errDisconnected,
		ShouldReconnect: false,
	})
	p.bus.Close()
	return nil
}

// PairPhone is not available: Cloud API numbers are linked in Meta's console.
func (p *Provider) PairPhone(context.Context, string) (string, error) {
	return "", whatsapp.ErrNotSupported
}

func (p *Provider) SendText(ctx context.Context, to, text string) error {
	return p.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                normalizeRecipient(to),
		"type":              "text",
		"text":              map[string]any{"body": text},
	})
}

func (p *Provider) SendButtons(ctx context.Context, to, text, footer string, buttons []whatsapp.Button) error {
	if len(buttons) == 0 {
		return p.SendText(ctx, to, text)
	}
	if len(buttons) > maxButtons {
		p.logger.Warn("buttons truncated", slog.Int("given", len(buttons)), slog.Int("max", maxButtons))
		buttons = buttons[:maxButtons]
	}
	replies := make([]map[string]any, 0, len(buttons))
	for _, b := range buttons {
		replies = append(replies, map[string]any{
			"type":  "reply",
			"reply": map[string]any{"id": b.ID, "title": truncate(b.Text, maxButtonTitle)},
		})
	}
	interactive := map[string]any{
		"type":   "button",
		"body":   map[string]any{"text": text},
		"action": map[string]any{"buttons": replies},
	}
	if footer != "" {
		interactive["footer"] = map[string]any{"text": footer}
	}
	return p.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                normalizeRecipient(to),
		"type":              "interactive",
		"interactive":       interactive,
	})
}

func (p *Provider) SendImage(ctx context.Context, to, url, caption string) error {
	image := map[string]any{"link": url}
	if caption != "" {
		image["caption"] = caption
	}
	return p.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                normalizeRecipient(to),
		"type":              "image",
		"image":             image,
	})
}

func (p *Provider) post(ctx context.Context, payload map[string]any) error {
	p.mu.Lock()
	ready := p.ready
	p.mu.Unlock()
	if !ready {
		return fmt.Errorf("%w: cloud provider is not ready", whatsapp.ErrTransport)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	endpoint := p.cfg.APIBaseURL + "/" + p.cfg.PhoneNumberID + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", whatsapp.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: cloud api status %d: %s", whatsapp.ErrTransport, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// normalizeRecipient turns a chat address into the bare number the API expects.
func normalizeRecipient(to string) string {
	to = strings.TrimSpace(to)
	if i := strings.IndexByte(to, '@'); i >= 0 {
		to = to[:i]
	}
	return strings.TrimPrefix(to, "+")
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
