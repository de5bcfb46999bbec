package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

func (m *Manager) onMessage(s *session, msg InboundMessage) {
	if msg.SessionID == "" {
		msg.SessionID = s.id
	}
	if s.inbox == nil || !s.inbox.push(msg) {
		m.logger.Debug("inbound dropped, session closing", slog.String("session_id", s.id))
	}
}

// dispatchInbound runs on the session's inbox goroutine, so messages of one
// session reach the handler in arrival order.
func (m *Manager) dispatchInbound(s *session, msg InboundMessage) {
	handler := m.inboundHandler()
	if handler == nil {
		m.logger.Debug("inbound ignored, no handler", slog.String("session_id", s.id))
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("inbound handler panic", slog.String("session_id", s.id), slog.Any("panic", r))
		}
	}()
	if err := handler.HandleIncomingMessage(m.baseCtx, msg); err != nil {
		m.logger.Error("inbound handler failed",
			slog.String("session_id", s.id),
			slog.String("from", msg.From),
			slog.Any("error", err),
		)
	}
}

// Deliver injects a message received out of band (a webhook) into the session
// identified by sessionID, or by the account id the provider reported.
func (m *Manager) Deliver(_ context.Context, sessionID string, msg InboundMessage) error {
	sessionID = strings.TrimSpace(sessionID)
	s, ok := m.sessions.get(sessionID)
	if !ok {
		s, ok = m.sessions.findByAccount(sessionID)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	msg.SessionID = s.id
	s.provider.Events().PublishMessage(msg)
	return nil
}
