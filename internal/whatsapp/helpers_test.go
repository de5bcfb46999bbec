package whatsapp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gongonut/propiedadraiz-backend/internal/bots"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

// fakeProvider records calls; its behavior is driven by func fields.
type fakeProvider struct {
	bus       *EventBus
	sessionID string

	initFunc func(p *fakeProvider) error
	sendFunc func(to, text string) error

	mu          sync.Mutex
	initCalls   int
	disconnects int
	sent        []string
}

func newFakeProvider(sessionID string) *fakeProvider {
	return &fakeProvider{bus: NewEventBus(newTestLogger()), sessionID: sessionID}
}

func (p *fakeProvider) Events() *EventBus { return p.bus }

func (p *fakeProvider) Initialize(_ context.Context, _ string) error {
	p.mu.Lock()
	p.initCalls++
	fn := p.initFunc
	p.mu.Unlock()
	if fn != nil {
		return fn(p)
	}
	return nil
}

func (p *fakeProvider) Disconnect(context.Context) error {
	p.mu.Lock()
	p.disconnects++
	p.mu.Unlock()
	p.bus.Close()
	return nil
}

func (p *fakeProvider) SendText(_ context.Context, to, text string) error {
	if p.sendFunc != nil {
		if err := p.sendFunc(to, text); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.sent = append(p.sent, "text:"+text)
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) SendButtons(_ context.Context, _, text, _ string, _ []Button) error {
	p.mu.Lock()
	p.sent = append(p.sent, "buttons:"+text)
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) counts() (initCalls, disconnects int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initCalls, p.disconnects
}

func (p *fakeProvider) sentMessages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

// imageProvider adds image support on top of fakeProvider.
type imageProvider struct {
	*fakeProvider
}

func (p imageProvider) SendImage(_ context.Context, _, url, _ string) error {
	p.mu.Lock()
	p.sent = append(p.sent, "image:"+url)
	p.mu.Unlock()
	return nil
}

// fakeFactory builds fakeProviders and keeps every instance it built.
type fakeFactory struct {
	configure func(n int, p *fakeProvider)
	images    bool

	mu        sync.Mutex
	providers []*fakeProvider
}

func (f *fakeFactory) build(sessionID string) (Provider, error) {
	p := newFakeProvider(sessionID)
	f.mu.Lock()
	n := len(f.providers)
	f.providers = append(f.providers, p)
	f.mu.Unlock()
	if f.configure != nil {
		f.configure(n, p)
	}
	if f.images {
		return imageProvider{p}, nil
	}
	return p, nil
}

func (f *fakeFactory) built() []*fakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeProvider(nil), f.providers...)
}

func (f *fakeFactory) totalInitCalls() int {
	total := 0
	for _, p := range f.built() {
		n, _ := p.counts()
		total += n
	}
	return total
}

type fakeBotStore struct {
	findAllActiveFunc func(ctx context.Context) ([]bots.Bot, error)
	findOneFunc       func(ctx context.Context, id string) (bots.Bot, error)
	updateFunc        func(ctx context.Context, id string, p bots.Patch) error

	mu      sync.Mutex
	patches []bots.Patch
}

func (s *fakeBotStore) FindAllActive(ctx context.Context) ([]bots.Bot, error) {
	if s.findAllActiveFunc != nil {
		return s.findAllActiveFunc(ctx)
	}
	return nil, nil
}

func (s *fakeBotStore) FindOne(ctx context.Context, id string) (bots.Bot, error) {
	if s.findOneFunc != nil {
		return s.findOneFunc(ctx, id)
	}
	return bots.Bot{ID: id, SessionID: testSessionID}, nil
}

func (s *fakeBotStore) Update(ctx context.Context, id string, p bots.Patch) (bots.Bot, error) {
	if s.updateFunc != nil {
		if err := s.updateFunc(ctx, id, p); err != nil {
			return bots.Bot{}, err
		}
	}
	s.mu.Lock()
	s.patches = append(s.patches, p)
	s.mu.Unlock()
	return bots.Bot{ID: id}, nil
}

func (s *fakeBotStore) statuses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, p := range s.patches {
		if p.Status != nil {
			out = append(out, *p.Status)
		}
	}
	return out
}

func (s *fakeBotStore) lastPatch() bots.Patch {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.patches) == 0 {
		return bots.Patch{}
	}
	return s.patches[len(s.patches)-1]
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	qrs      []string
	statuses []string
}

func (b *fakeBroadcaster) SendQRCode(_, qr string) {
	b.mu.Lock()
	b.qrs = append(b.qrs, qr)
	b.mu.Unlock()
}

func (b *fakeBroadcaster) SendStatus(_, status string) {
	b.mu.Lock()
	b.statuses = append(b.statuses, status)
	b.mu.Unlock()
}

func (b *fakeBroadcaster) snapshot() (qrs, statuses []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.qrs...), append([]string(nil), b.statuses...)
}

const (
	testSessionID = "session-1"
	testBotID     = "bot-1"
)

var errBoom = errors.New("boom")

func testBot() bots.Bot {
	return bots.Bot{ID: testBotID, SessionID: testSessionID, Name: "ventas"}
}

type managerFixture struct {
	manager     *Manager
	factory     *fakeFactory
	store       *fakeBotStore
	broadcaster *fakeBroadcaster
	auth        *AuthStore
}

func newManagerFixture(t *testing.T, factory *fakeFactory, opts Options) *managerFixture {
	t.Helper()
	if factory == nil {
		factory = &fakeFactory{}
	}
	if opts.PairingTimeout == 0 {
		opts.PairingTimeout = 2 * time.Second
	}
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = 20 * time.Millisecond
	}
	f := &managerFixture{
		factory:     factory,
		store:       &fakeBotStore{},
		broadcaster: &fakeBroadcaster{},
		auth:        NewAuthStore(t.TempDir()),
	}
	f.manager = NewManager(newTestLogger(), factory.build, f.store, f.broadcaster, f.auth, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.manager.Shutdown(ctx)
	})
	return f
}

func openEvent(jid string) StatusEvent {
	return StatusEvent{Status: StatusOpen, Account: Account{JID: jid}}
}

// emitOpen makes Initialize report a ready connection.
func emitOpen(jid string) func(p *fakeProvider) error {
	return func(p *fakeProvider) error {
		p.bus.PublishStatus(openEvent(jid))
		return nil
	}
}
