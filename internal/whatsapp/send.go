package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SendText sends text through the session's provider. It fails with
// ErrSessionNotFound when no session is live, else with the provider's error
// wrapped in ErrTransport.
func (m *Manager) SendText(ctx context.Context, sessionID, to, text string) error {
	s, err := m.sendSession(ctx, sessionID)
	if err != nil {
		return err
	}
	return transportError(s.provider.SendText(ctx, to, text))
}

func (m *Manager) SendButtons(ctx context.Context, sessionID, to, text, footer string, buttons []Button) error {
	s, err := m.sendSession(ctx, sessionID)
	if err != nil {
		return err
	}
	return transportError(s.provider.SendButtons(ctx, to, text, footer, buttons))
}

// SendImage fails with ErrNotSupported when the provider cannot send images.
func (m *Manager) SendImage(ctx context.Context, sessionID, to, url, caption string) error {
	s, err := m.sendSession(ctx, sessionID)
	if err != nil {
		return err
	}
	sender, ok := s.provider.(ImageSender)
	if !ok {
		return ErrNotSupported
	}
	return transportError(sender.SendImage(ctx, to, url, caption))
}

// sendSession resolves the session and waits for its send budget.
func (m *Manager) sendSession(ctx context.Context, sessionID string) (*session, error) {
	s, ok := m.sessions.get(strings.TrimSpace(sessionID))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func transportError(err error) error {
	if err == nil || errors.Is(err, ErrTransport) || errors.Is(err, ErrNotSupported) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
