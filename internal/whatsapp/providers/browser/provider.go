// Package browser drives WhatsApp Web in a Chromium instance through the
// DevTools protocol. The browser profile lives in the session's auth
// directory so a paired login survives restarts.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/gongonut/propiedadraiz-backend/internal/config"
	"github.com/gongonut/propiedadraiz-backend/internal/whatsapp"
)

const (
	profileDirName = "chrome-profile"
	probeInterval  = 2 * time.Second
	navTimeout     = 60 * time.Second
	sendTimeout    = 30 * time.Second
	sendSettle     = 2 * time.Second
)

type Provider struct {
	cfg    config.BrowserConfig
	auth   *whatsapp.AuthStore
	logger *slog.Logger
	bus    *whatsapp.EventBus

	// sendMu serializes page navigation; each send reloads the tab.
	sendMu sync.Mutex

	mu        sync.Mutex
	sessionID string
	launcher  *launcher.Launcher
	browser   *rod.Browser
	page      *rod.Page
	cancel    context.CancelFunc
	ready     bool
	closeSent bool
	stopped   bool
}

func New(log *slog.Logger, cfg config.BrowserConfig, auth *whatsapp.AuthStore) *Provider {
	if log == nil {
		log = slog.Default()
	}
	if cfg.WebURL == "" {
		cfg.WebURL = config.DefaultWhatsAppWebURL
	}
	log = log.With(slog.String("provider", "browser"))
	return &Provider{
		cfg:    cfg,
		auth:   auth,
		logger: log,
		bus:    whatsapp.NewEventBus(log),
	}
}

func Factory(log *slog.Logger, cfg config.BrowserConfig, auth *whatsapp.AuthStore) whatsapp.ProviderFactory {
	return func(sessionID string) (whatsapp.Provider, error) {
		return New(log.With(slog.String("session_id", sessionID)), cfg, auth), nil
	}
}

func (p *Provider) Events() *whatsapp.EventBus { return p.bus }

// Initialize launches (or attaches to) Chromium, opens WhatsApp Web and
// starts polling the page for QR codes and login.
func (p *Provider) Initialize(ctx context.Context, sessionID string) error {
	if p.isDisconnected() {
		return whatsapp.ErrSessionClosed
	}
	dir, err := p.auth.Ensure(sessionID)
	if err != nil {
		return err
	}

	var lnch *launcher.Launcher
	controlURL := p.cfg.RemoteURL
	if controlURL == "" {
		lnch = launcher.New().
			Headless(p.cfg.Headless).
			UserDataDir(filepath.Join(dir, profileDirName)).
			Set("disable-blink-features", "AutomationControlled")
		if p.cfg.BinPath != "" {
			lnch = lnch.Bin(p.cfg.BinPath)
		}
		controlURL, err = lnch.Launch()
		if err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		killLauncher(lnch)
		return fmt.Errorf("connect browser: %w", err)
	}
	page, err := b.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		_ = b.Close()
		killLauncher(lnch)
		return fmt.Errorf("open tab: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		cancel()
		_ = b.Close()
		killLauncher(lnch)
		return whatsapp.ErrSessionClosed
	}
	p.sessionID = sessionID
	p.launcher = lnch
	p.browser = b
	p.page = page
	p.cancel = cancel
	p.mu.Unlock()

	binding := proto.RuntimeAddBinding{Name: inboundBinding}
	if err := binding.Call(page); err != nil {
		p.logger.Warn("add inbound binding failed", slog.Any("error", err))
	}
	wait := page.Context(watchCtx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != inboundBinding {
			return
		}
		if msg, ok := parseInbound(e.Payload); ok {
			p.bus.PublishMessage(msg)
		}
	})
	go wait()

	navCtx, navCancel := context.WithTimeout(ctx, navTimeout)
	defer navCancel()
	if err := page.Context(navCtx).Navigate(p.cfg.WebURL); err != nil {
		_ = p.release()
		return fmt.Errorf("open %s: %w", p.cfg.WebURL, err)
	}

	go p.watch(watchCtx, page)
	return nil
}

func (p *Provider) watch(ctx context.Context, page *rod.Page) {
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	var t tracker
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Sends navigate the tab; probing mid-navigation only sees a spinner.
		if !p.sendMu.TryLock() {
			continue
		}
		res, err := page.Context(ctx).Timeout(probeInterval).Eval(probeScript)
		p.sendMu.Unlock()
		if ctx.Err() != nil {
			return
		}

		var step transition
		if err != nil {
			p.logger.Debug("page probe failed", slog.Any("error", err))
			step = t.fail()
		} else if pr, perr := parseProbe(res.Value.Str()); perr != nil {
			step = t.fail()
		} else {
			step = t.observe(pr)
			if pr.State == pageReady {
				if _, err := page.Context(ctx).Eval(observerScript); err != nil {
					p.logger.Debug("install observer failed", slog.Any("error", err))
				}
			}
		}
		if p.apply(step) {
			return
		}
	}
}

// apply publishes a transition and reports whether watching should stop.
func (p *Provider) apply(step transition) bool {
	switch {
	case step.qr != "":
		p.bus.PublishQR(step.qr)
	case step.open != nil:
		p.mu.Lock()
		p.ready = true
		p.mu.Unlock()
		p.bus.PublishStatus(whatsapp.StatusEvent{Status: whatsapp.StatusOpen, Account: *step.open})
	case step.close != nil:
		p.publishClose(step.close, step.reconnect)
		return true
	}
	return false
}

func (p *Provider) publishClose(reason error, reconnect bool) {
	p.mu.Lock()
	if p.closeSent || p.stopped {
		p.mu.Unlock()
		return
	}
	p.closeSent = true
	p.ready = false
	p.mu.Unlock()

	p.bus.PublishStatus(whatsapp.StatusEvent{
		Status:          whatsapp.StatusClose,
		Reason:          reason,
		ShouldReconnect: reconnect,
	})
}

func (p *Provider) isDisconnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Disconnect closes the browser. The profile directory is kept.
func (p *Provider) Disconnect(context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	err := p.release()
	p.bus.Close()
	return err
}

func (p *Provider) release() error {
	p.mu.Lock()
	cancel, b, lnch := p.cancel, p.browser, p.launcher
	p.cancel, p.browser, p.page, p.launcher = nil, nil, nil, nil
	p.ready = false
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if b != nil {
		if cerr := b.Close(); cerr != nil {
			err = fmt.Errorf("close browser: %w", cerr)
		}
	}
	killLauncher(lnch)
	return err
}

// killLauncher stops a locally launched Chromium. Launcher.Cleanup would
// also delete the profile, which holds the login.
func killLauncher(l *launcher.Launcher) {
	if l != nil {
		l.Kill()
	}
}

func (p *Provider) readyPage() (*rod.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.page == nil || !p.ready {
		return nil, fmt.Errorf("%w: whatsapp web is not ready", whatsapp.ErrTransport)
	}
	return p.page, nil
}

// SendText opens the chat through the send deep link and presses send.
func (p *Provider) SendText(ctx context.Context, to, text string) error {
	page, err := p.readyPage()
	if err != nil {
		return err
	}
	target, err := sendURL(p.cfg.WebURL, to, text)
	if err != nil {
		return err
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	pg := page.Context(sendCtx)
	if err := pg.Navigate(target); err != nil {
		return fmt.Errorf("open chat: %w", err)
	}
	button, err := pg.Element(`span[data-icon="send"]`)
	if err != nil {
		return fmt.Errorf("find send button: %w", err)
	}
	if err := button.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click send: %w", err)
	}

	// Leaving the chat right away can drop the outgoing message.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(sendSettle):
	}
	return nil
}

func (p *Provider) SendButtons(ctx context.Context, to, text, footer string, buttons []whatsapp.Button) error {
	return p.SendText(ctx, to, whatsapp.ButtonsAsText(text, footer, buttons))
}

// SendImage sends the image link as text. WhatsApp Web renders a preview
// for it; attaching a file would need a native file chooser.
func (p *Provider) SendImage(ctx context.Context, to, url, caption string) error {
	return p.SendText(ctx, to, imageText(url, caption))
}
