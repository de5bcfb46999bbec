package whatsapp

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type recoveryAction int

const (
	recoverNone recoveryAction = iota
	recoverPurge
	recoverReconnect
)

func (a recoveryAction) String() string {
	switch a {
	case recoverPurge:
		return "purge"
	case recoverReconnect:
		return "reconnect"
	default:
		return "none"
	}
}

// classifyClose maps a close event to its remediation. A connection failure
// wins over shouldReconnect: retrying with broken credentials would loop.
func classifyClose(evt StatusEvent) recoveryAction {
	switch {
	case errors.Is(evt.Reason, ErrConnectionFailure):
		return recoverPurge
	case evt.ShouldReconnect:
		return recoverReconnect
	default:
		return recoverNone
	}
}

// applyRecovery applies the recovery policy in the background. Failures are logged
// only; nobody waits on them.
func (m *Manager) applyRecovery(s *session, evt StatusEvent) {
	action := classifyClose(evt)
	log := m.logger.With(slog.String("session_id", s.id), slog.String("recovery", action.String()))

	// Registered before the goroutine starts so a Stop right after the close
	// still finds it.
	ctx, done := m.trackRecovery(m.baseCtx, s.id)
	m.goBackground(func(context.Context) {
		defer done()

		// Release the old provider before touching its auth files.
		if err := s.provider.Disconnect(context.WithoutCancel(ctx)); err != nil {
			log.Warn("provider disconnect failed", slog.Any("error", err))
		}

		switch action {
		case recoverPurge:
			if m.auth != nil {
				if err := m.auth.Remove(s.id); err != nil {
					log.Error("purge auth dir failed", slog.Any("error", err))
				} else {
					log.Info("auth dir purged")
				}
			}
			m.restart(ctx, s, log)
		case recoverReconnect:
			timer := time.NewTimer(m.opts.ReconnectDelay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return
			}
			m.restart(ctx, s, log)
		default:
			log.Info("session left inactive")
		}
	})
}

func (m *Manager) restart(ctx context.Context, s *session, log *slog.Logger) {
	if ctx.Err() != nil {
		return
	}
	bot := s.bot
	if m.store != nil && bot.ID != "" {
		fresh, err := m.store.FindOne(ctx, bot.ID)
		if err != nil {
			log.Warn("restart skipped, bot lookup failed", slog.Any("error", err))
			return
		}
		bot = fresh
	}
	if ctx.Err() != nil {
		return
	}
	log.Info("session restart")
	if _, err := m.Start(ctx, bot, WithoutTimeout()); err != nil && ctx.Err() == nil {
		log.Error("session restart failed", slog.Any("error", err))
	}
}

type recovery struct {
	cancel context.CancelFunc
}

// trackRecovery makes the recovery for sessionID cancellable by Stop. A newer
// recovery for the same id replaces and cancels the older one.
func (m *Manager) trackRecovery(parent context.Context, sessionID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	r := &recovery{cancel: cancel}

	m.recoveryMu.Lock()
	if prev, ok := m.recoveries[sessionID]; ok {
		prev.cancel()
	}
	m.recoveries[sessionID] = r
	m.recoveryMu.Unlock()

	return ctx, func() {
		m.recoveryMu.Lock()
		if m.recoveries[sessionID] == r {
			delete(m.recoveries, sessionID)
		}
		m.recoveryMu.Unlock()
		cancel()
	}
}

func (m *Manager) cancelRecovery(sessionID string) bool {
	m.recoveryMu.Lock()
	defer m.recoveryMu.Unlock()
	r, ok := m.recoveries[sessionID]
	if !ok {
		return false
	}
	r.cancel()
	delete(m.recoveries, sessionID)
	return true
}

func (m *Manager) pendingRecoveries() int {
	m.recoveryMu.Lock()
	defer m.recoveryMu.Unlock()
	return len(m.recoveries)
}
