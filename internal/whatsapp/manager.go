package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gongonut/propiedadraiz-backend/internal/bots"
)

// BotStore persists bot status. Once a session exists the Manager is the only
// writer of status, qr and phone number.
type BotStore interface {
	FindAllActive(ctx context.Context) ([]bots.Bot, error)
	FindOne(ctx context.Context, id string) (bots.Bot, error)
	Update(ctx context.Context, id string, p bots.Patch) (bots.Bot, error)
}

// StatusBroadcaster pushes session updates to observers. Delivery is best effort.
type StatusBroadcaster interface {
	SendQRCode(sessionID, qr string)
	SendStatus(sessionID, status string)
}

// InboundHandler consumes inbound messages, one at a time per session.
type InboundHandler interface {
	HandleIncomingMessage(ctx context.Context, msg InboundMessage) error
}

// InboundHandlerFunc adapts a function to InboundHandler.
type InboundHandlerFunc func(ctx context.Context, msg InboundMessage) error

func (f InboundHandlerFunc) HandleIncomingMessage(ctx context.Context, msg InboundMessage) error {
	return f(ctx, msg)
}

// Options tunes timing and throttling. Zero values take the defaults.
type Options struct {
	PairingTimeout time.Duration
	ReconnectDelay time.Duration
	PersistTimeout time.Duration
	SendRate       rate.Limit
	SendBurst      int
}

const (
	defaultPairingTimeout = 30 * time.Second
	defaultReconnectDelay = 5 * time.Second
	defaultPersistTimeout = 10 * time.Second
)

func (o Options) withDefaults() Options {
	if o.PairingTimeout <= 0 {
		o.PairingTimeout = defaultPairingTimeout
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = defaultReconnectDelay
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = defaultPersistTimeout
	}
	if o.SendRate <= 0 {
		o.SendRate = rate.Inf
	}
	if o.SendBurst <= 0 {
		o.SendBurst = 1
	}
	return o
}

type startConfig struct {
	bounded bool
}

// StartOption customizes a single Start call.
type StartOption func(*startConfig)

// WithoutTimeout makes Start return as soon as the provider is initialized
// instead of waiting for a QR code or an open connection.
func WithoutTimeout() StartOption {
	return func(c *startConfig) { c.bounded = false }
}

// Manager owns the live sessions and drives their lifecycle.
type Manager struct {
	logger      *slog.Logger
	factory     ProviderFactory
	store       BotStore
	broadcaster StatusBroadcaster
	auth        *AuthStore
	sessions    *Sessions
	opts        Options

	handlerMu sync.RWMutex
	handler   InboundHandler

	recoveryMu sync.Mutex
	recoveries map[string]*recovery

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a Manager. factory builds one provider per session start.
func NewManager(log *slog.Logger, factory ProviderFactory, store BotStore, broadcaster StatusBroadcaster, auth *AuthStore, opts Options) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if broadcaster == nil {
		broadcaster = nopBroadcaster{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		logger:      log.With(slog.String("component", "whatsapp")),
		factory:     factory,
		store:       store,
		broadcaster: broadcaster,
		auth:        auth,
		sessions:    NewSessions(),
		opts:        opts.withDefaults(),
		recoveries:  map[string]*recovery{},
		baseCtx:     ctx,
		cancel:      cancel,
	}
}

// SetInboundHandler sets the consumer of inbound messages.
func (m *Manager) SetInboundHandler(h InboundHandler) {
	m.handlerMu.Lock()
	m.handler = h
	m.handlerMu.Unlock()
}

func (m *Manager) inboundHandler() InboundHandler {
	m.handlerMu.RLock()
	defer m.handlerMu.RUnlock()
	return m.handler
}

// Sessions exposes the live session registry.
func (m *Manager) Sessions() *Sessions {
	return m.sessions
}

// LiveSessionIDs returns the ids of every registered session.
func (m *Manager) LiveSessionIDs() []string {
	return m.sessions.IDs()
}

// Start opens a session for bot. A session that already exists makes Start a
// logged no-op returning ("", nil). A ctx cancelled before the session is
// registered aborts the start.
//
// By default Start waits until the provider emits a QR code (returned) or an
// open connection (""), bounded by the pairing timeout. With WithoutTimeout it
// returns once Initialize has been called.
func (m *Manager) Start(ctx context.Context, bot bots.Bot, opts ...StartOption) (string, error) {
	cfg := startConfig{bounded: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	id := strings.TrimSpace(bot.SessionID)
	if id == "" {
		return "", fmt.Errorf("%w: bot %s has no session id", ErrInitialization, bot.ID)
	}
	log := m.logger.With(slog.String("session_id", id))
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if _, exists := m.sessions.get(id); exists {
		log.Warn("start ignored", slog.Any("error", ErrSessionAlreadyActive))
		return "", nil
	}
	provider, err := m.factory(id)
	if err != nil {
		m.markError(bot, id)
		return "", fmt.Errorf("%w: %w", ErrInitialization, err)
	}

	s := newSession(bot, provider, rate.NewLimiter(m.opts.SendRate, m.opts.SendBurst))
	if err := m.sessions.insert(s); err != nil {
		// Lost a race with a concurrent Start for the same id.
		log.Warn("start ignored", slog.Any("error", err))
		_ = provider.Disconnect(context.WithoutCancel(ctx))
		return "", nil
	}
	// A Stop that cancelled ctx before the insert found nothing to remove.
	if err := ctx.Err(); err != nil {
		m.sessions.removeIf(s)
		_ = provider.Disconnect(context.WithoutCancel(ctx))
		return "", err
	}
	s.inbox = newMailbox(func(msg InboundMessage) { m.dispatchInbound(s, msg) })

	bus := provider.Events()
	s.track(bus.OnMessage(func(msg InboundMessage) { m.onMessage(s, msg) }))
	s.track(bus.OnQR(func(qr string) { m.onQR(s, qr) }))
	s.track(bus.OnStatus(func(evt StatusEvent) { m.onStatus(s, evt) }))

	// onQR, onOpen and onClose settle the waiter before they persist, so a
	// slow store write cannot let the pairing timer win.
	var waiter *pairingWaiter
	if cfg.bounded {
		waiter = newPairingWaiter()
		s.setWaiter(waiter)
	}
	s.setState(StatePairing)

	log.Info("session start", slog.String("bot_id", bot.ID), slog.Bool("bounded", cfg.bounded))
	// The provider outlives the request that started it.
	if err := provider.Initialize(context.WithoutCancel(ctx), id); err != nil {
		m.failInitialization(s, err)
		return "", fmt.Errorf("%w: %w", ErrInitialization, err)
	}
	if waiter == nil {
		return "", nil
	}
	waiter.startTimer(m.opts.PairingTimeout, func() { m.onPairingTimeout(s) })
	return waiter.wait(ctx)
}

// Stop releases the session for sessionID and cancels a pending recovery for
// it. A missing session is a logged no-op.
// Disconnect failures are logged; the slot is always released.
func (m *Manager) Stop(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if m.cancelRecovery(sessionID) {
		m.logger.Info("pending recovery cancelled", slog.String("session_id", sessionID))
	}
	s, ok := m.sessions.remove(sessionID)
	if !ok {
		m.logger.Warn("stop ignored, no live session", slog.String("session_id", sessionID))
		return nil
	}
	m.teardown(ctx, s, ErrSessionStopped)
	m.logger.Info("session stopped", slog.String("session_id", s.id))
	return nil
}

// AutoStart starts every bot the store reports as active, in the background.
func (m *Manager) AutoStart(ctx context.Context) error {
	items, err := m.store.FindAllActive(ctx)
	if err != nil {
		return fmt.Errorf("list active bots: %w", err)
	}
	m.logger.Info("auto start", slog.Int("bots", len(items)))
	for _, bot := range items {
		m.goBackground(func(ctx context.Context) {
			if _, err := m.Start(ctx, bot, WithoutTimeout()); err != nil {
				m.logger.Error("auto start failed", slog.String("session_id", bot.SessionID), slog.Any("error", err))
			}
		})
	}
	return nil
}

// Shutdown cancels pending recoveries and stops every live session.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	for _, id := range m.sessions.IDs() {
		_ = m.Stop(ctx, id)
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PairPhone requests a phone-number linking code for a session still pairing.
func (m *Manager) PairPhone(ctx context.Context, sessionID, phone string) (string, error) {
	s, ok := m.sessions.get(strings.TrimSpace(sessionID))
	if !ok {
		return "", ErrSessionNotFound
	}
	pairer, ok := s.provider.(PhonePairer)
	if !ok {
		return "", ErrNotSupported
	}
	return pairer.PairPhone(ctx, phone)
}

// teardown runs after s left the registry.
func (m *Manager) teardown(ctx context.Context, s *session, cause error) {
	s.setState(StateClosing)
	s.detach()
	if s.inbox != nil {
		s.inbox.close()
	}
	if err := s.provider.Disconnect(ctx); err != nil {
		m.logger.Warn("provider disconnect failed", slog.String("session_id", s.id), slog.Any("error", err))
	}
	s.setState(StateInactive)
	s.settleWaiter("", cause)
}

func (m *Manager) failInitialization(s *session, cause error) {
	m.logger.Error("provider initialize failed", slog.String("session_id", s.id), slog.Any("error", cause))
	s.settleWaiter("", fmt.Errorf("%w: %w", ErrInitialization, cause))
	if m.sessions.removeIf(s) {
		s.detach()
		if s.inbox != nil {
			s.inbox.close()
		}
		if err := s.provider.Disconnect(m.baseCtx); err != nil {
			m.logger.Warn("provider disconnect failed", slog.String("session_id", s.id), slog.Any("error", err))
		}
	}
	s.setState(StateError)
	m.markError(s.bot, s.id)
}

func (m *Manager) markError(bot bots.Bot, sessionID string) {
	m.persist(bot.ID, sessionID, bots.Patch{Status: bots.StringPtr(bots.StatusError)})
	m.broadcaster.SendStatus(sessionID, bots.StatusError)
}

func (m *Manager) onPairingTimeout(s *session) {
	s.mu.Lock()
	w := s.waiter
	s.mu.Unlock()
	if w == nil {
		return
	}
	w.settleThen("", ErrPairingTimeout, func() {
		m.logger.Warn("pairing timed out", slog.String("session_id", s.id), slog.Duration("timeout", m.opts.PairingTimeout))
		if m.sessions.removeIf(s) {
			m.teardown(m.baseCtx, s, ErrPairingTimeout)
		}
		s.setState(StateError)
		m.markError(s.bot, s.id)
	})
}

func (m *Manager) onQR(s *session, qr string) {
	if !m.sessions.isCurrent(s) {
		return
	}
	if s.getState() != StatePairing {
		return
	}
	s.settleSuccess(qr, func() {
		s.mu.Lock()
		s.qr = qr
		s.mu.Unlock()

		m.persist(s.bot.ID, s.id, bots.Patch{
			QR:     bots.StringPtr(qr),
			Status: bots.StringPtr(bots.StatusPairing),
		})
		m.broadcaster.SendQRCode(s.id, qr)
		m.broadcaster.SendStatus(s.id, bots.StatusPairing)
	})
}

func (m *Manager) onStatus(s *session, evt StatusEvent) {
	switch evt.Status {
	case StatusOpen:
		m.onOpen(s, evt)
	case StatusClose:
		m.onClose(s, evt)
	}
}

func (m *Manager) onOpen(s *session, evt StatusEvent) {
	if !m.sessions.isCurrent(s) {
		return
	}
	s.settleSuccess("", func() {
		s.mu.Lock()
		s.state = StateActive
		s.account = evt.Account
		s.qr = ""
		s.mu.Unlock()

		patch := bots.Patch{
			Status: bots.StringPtr(bots.StatusActive),
			QR:     bots.StringPtr(""),
		}
		if phone := evt.Account.Phone(); phone != "" {
			patch.PhoneNumber = bots.StringPtr(phone)
		}
		m.persist(s.bot.ID, s.id, patch)
		m.broadcaster.SendStatus(s.id, bots.StatusActive)
		m.logger.Info("session open", slog.String("session_id", s.id), slog.String("phone", evt.Account.Phone()))
	})
}

func (m *Manager) onClose(s *session, evt StatusEvent) {
	// A stopped or superseded session has already left the registry.
	if !m.sessions.removeIf(s) {
		return
	}
	s.setState(StateClosing)
	s.settleWaiter("", closeError(evt))
	s.detach()
	if s.inbox != nil {
		s.inbox.close()
	}
	m.persist(s.bot.ID, s.id, bots.Patch{Status: bots.StringPtr(bots.StatusInactive)})
	m.broadcaster.SendStatus(s.id, bots.StatusInactive)
	s.setState(StateInactive)

	m.logger.Info("session closed",
		slog.String("session_id", s.id),
		slog.Bool("should_reconnect", evt.ShouldReconnect),
		slog.Any("reason", evt.Reason),
	)
	m.applyRecovery(s, evt)
}

func (m *Manager) persist(botID, sessionID string, p bots.Patch) {
	if m.store == nil || botID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.PersistTimeout)
	defer cancel()
	if _, err := m.store.Update(ctx, botID, p); err != nil {
		m.logger.Error("persist bot status failed", slog.String("session_id", sessionID), slog.Any("error", err))
	}
}

// goBackground runs fn on a tracked goroutine bound to the manager lifetime.
func (m *Manager) goBackground(fn func(ctx context.Context)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("background task panic", slog.Any("panic", r))
			}
		}()
		fn(m.baseCtx)
	}()
}

func closeError(evt StatusEvent) error {
	if evt.Reason != nil {
		return fmt.Errorf("%w: %w", ErrSessionClosed, evt.Reason)
	}
	return ErrSessionClosed
}

type nopBroadcaster struct{}

func (nopBroadcaster) SendQRCode(string, string) {}
func (nopBroadcaster) SendStatus(string, string) {}
