// Package socket implements the multi-device websocket provider on top of
// whatsmeow. Each session keeps its device keys in a SQLite file inside its
// auth directory.
package socket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/gongonut/propiedadraiz-backend/internal/whatsapp"
)

const (
	deviceDBName  = "device.db"
	maxImageBytes = 16 << 20
)

var (
	errQRExhausted    = errors.New("qr codes exhausted without a scan")
	errLoggedOut      = errors.New("logged out")
	errStreamReplaced = errors.New("stream replaced by another client")
	errDisconnected   = errors.New("socket disconnected")
	errTempBanned     = errors.New("account temporarily banned")
)

type Provider struct {
	auth       *whatsapp.AuthStore
	logger     *slog.Logger
	bus        *whatsapp.EventBus
	httpClient *http.Client

	mu        sync.Mutex
	sessionID string
	container *sqlstore.Container
	client    *whatsmeow.Client
	handlerID uint32
	cancelQR  context.CancelFunc
	closeSent bool
	stopped   bool
}

func New(log *slog.Logger, auth *whatsapp.AuthStore, httpClient *http.Client) *Provider {
	if log == nil {
		log = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	log = log.With(slog.String("provider", "socket"))
	return &Provider{
		auth:       auth,
		logger:     log,
		bus:        whatsapp.NewEventBus(log),
		httpClient: httpClient,
	}
}

func Factory(log *slog.Logger, auth *whatsapp.AuthStore, httpClient *http.Client) whatsapp.ProviderFactory {
	return func(sessionID string) (whatsapp.Provider, error) {
		return New(log.With(slog.String("session_id", sessionID)), auth, httpClient), nil
	}
}

func (p *Provider) Events() *whatsapp.EventBus { return p.bus }

// Initialize opens the device store and dials the socket. Unpaired devices
// start streaming QR codes through the event bus.
func (p *Provider) Initialize(ctx context.Context, sessionID string) error {
	if p.isDisconnected() {
		return whatsapp.ErrSessionClosed
	}
	dir, err := p.auth.Ensure(sessionID)
	if err != nil {
		return err
	}
	dsn := "file:" + filepath.Join(dir, deviceDBName) + "?_foreign_keys=on"
	container, err := sqlstore.New(ctx, "sqlite3", dsn, newLogAdapter(p.logger, "store"))
	if err != nil {
		return fmt.Errorf("open device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return fmt.Errorf("load device: %w", err)
	}
	if device == nil {
		device = container.NewDevice()
	}

	client := whatsmeow.NewClient(device, newLogAdapter(p.logger, "client"))
	// Reconnection is decided by the session manager.
	client.EnableAutoReconnect = false

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		_ = container.Close()
		return whatsapp.ErrSessionClosed
	}
	p.sessionID = sessionID
	p.container = container
	p.client = client
	p.handlerID = client.AddEventHandler(p.handleEvent)
	p.mu.Unlock()

	if client.Store.ID == nil {
		qrCtx, cancel := context.WithCancel(context.Background())
		qrCh, err := client.GetQRChannel(qrCtx)
		if err != nil && !errors.Is(err, whatsmeow.ErrQRStoreContainsID) {
			cancel()
			p.release()
			return fmt.Errorf("open qr channel: %w", err)
		}
		p.mu.Lock()
		p.cancelQR = cancel
		p.mu.Unlock()
		if qrCh != nil {
			go p.consumeQR(qrCh)
		}
	}

	if err := client.Connect(); err != nil {
		p.release()
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (p *Provider) consumeQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			p.bus.PublishQR(item.Code)
		case "success":
			p.logger.Info("qr scanned")
		case "timeout":
			p.publishClose(errQRExhausted, false)
		default:
			reason := item.Error
			if reason == nil {
				reason = fmt.Errorf("qr channel: %s", item.Event)
			}
			p.publishClose(reason, false)
		}
	}
}

func (p *Provider) handleEvent(raw any) {
	switch evt := raw.(type) {
	case *events.Connected:
		p.bus.PublishStatus(whatsapp.StatusEvent{
			Status:  whatsapp.StatusOpen,
			Account: p.account(),
		})
	case *events.PairSuccess:
		p.logger.Info("device paired", slog.String("jid", evt.ID.String()))
	case *events.LoggedOut:
		// Rejected at connect time means the stored keys are no good.
		if evt.OnConnect {
			p.publishClose(fmt.Errorf("%w: %s", whatsapp.ErrConnectionFailure, evt.Reason), false)
			return
		}
		p.publishClose(errLoggedOut, false)
	case *events.ConnectFailure:
		if evt.Reason.IsLoggedOut() {
			p.publishClose(fmt.Errorf("%w: %s", whatsapp.ErrConnectionFailure, evt.Reason), false)
			return
		}
		p.publishClose(fmt.Errorf("connect failure: %s", evt.Reason), true)
	case *events.TemporaryBan:
		p.publishClose(fmt.Errorf("%w: %s", errTempBanned, evt.String()), false)
	case *events.StreamReplaced:
		p.publishClose(errStreamReplaced, false)
	case *events.Disconnected:
		p.publishClose(errDisconnected, true)
	case *events.Message:
		if msg, ok := inboundFromEvent(evt); ok {
			p.bus.PublishMessage(msg)
		}
	}
}

// publishClose reports the first close only; later socket events for the
// same connection are noise.
func (p *Provider) publishClose(reason error, reconnect bool) {
	p.mu.Lock()
	if p.closeSent || p.stopped {
		p.mu.Unlock()
		return
	}
	p.closeSent = true
	p.mu.Unlock()

	p.bus.PublishStatus(whatsapp.StatusEvent{
		Status:          whatsapp.StatusClose,
		Reason:          reason,
		ShouldReconnect: reconnect,
	})
}

func (p *Provider) account() whatsapp.Account {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil || client.Store == nil || client.Store.ID == nil {
		return whatsapp.Account{}
	}
	return whatsapp.Account{
		JID:  client.Store.ID.String(),
		User: client.Store.ID.User,
		Name: client.Store.PushName,
	}
}

func (p *Provider) isDisconnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Disconnect closes the socket and the device store. The device stays
// paired on disk.
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
	client, container, cancel := p.client, p.container, p.cancelQR
	handlerID := p.handlerID
	p.client, p.container, p.cancelQR = nil, nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client != nil {
		client.RemoveEventHandler(handlerID)
		client.Disconnect()
	}
	if container != nil {
		if err := container.Close(); err != nil {
			return fmt.Errorf("close device store: %w", err)
		}
	}
	return nil
}

func (p *Provider) connected() (*whatsmeow.Client, error) {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return nil, fmt.Errorf("%w: socket is not connected", whatsapp.ErrTransport)
	}
	return client, nil
}

func (p *Provider) SendText(ctx context.Context, to, text string) error {
	client, err := p.connected()
	if err != nil {
		return err
	}
	jid, err := parseRecipient(to)
	if err != nil {
		return err
	}
	_, err = client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	return err
}

// SendButtons renders the options as a numbered list. Native buttons are not
// delivered to multi-device clients.
func (p *Provider) SendButtons(ctx context.Context, to, text, footer string, buttons []whatsapp.Button) error {
	return p.SendText(ctx, to, whatsapp.ButtonsAsText(text, footer, buttons))
}

func (p *Provider) SendImage(ctx context.Context, to, url, caption string) error {
	client, err := p.connected()
	if err != nil {
		return err
	}
	jid, err := parseRecipient(to)
	if err != nil {
		return err
	}
	data, mimeType, err := p.download(ctx, url)
	if err != nil {
		return err
	}
	uploaded, err := client.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return fmt.Errorf("upload image: %w", err)
	}
	msg := &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
		Mimetype:      proto.String(mimeType),
		URL:           proto.String(uploaded.URL),
		DirectPath:    proto.String(uploaded.DirectPath),
		MediaKey:      uploaded.MediaKey,
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    proto.Uint64(uploaded.FileLength),
	}}
	if caption != "" {
		msg.ImageMessage.Caption = proto.String(caption)
	}
	_, err = client.SendMessage(ctx, jid, msg)
	return err
}

func (p *Provider) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build image request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	mimeType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

// PairPhone requests an 8-character linking code for phone. The QR flow
// keeps running in parallel.
func (p *Provider) PairPhone(ctx context.Context, phone string) (string, error) {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return "", fmt.Errorf("%w: socket is not initialized", whatsapp.ErrTransport)
	}
	code, err := client.PairPhone(ctx, digitsOnly(phone), true, whatsmeow.PairClientChrome, "Chrome (Linux)")
	if err != nil {
		return "", fmt.Errorf("pair phone: %w", err)
	}
	return code, nil
}

func inboundFromEvent(evt *events.Message) (whatsapp.InboundMessage, bool) {
	if evt.Message == nil || evt.Info.Chat == types.StatusBroadcastJID {
		return whatsapp.InboundMessage{}, false
	}
	return whatsapp.InboundMessage{
		From:     evt.Info.Chat.ToNonAD().String(),
		Text:     messageText(evt.Message),
		FromMe:   evt.Info.IsFromMe,
		PushName: evt.Info.PushName,
		Raw:      evt,
	}, true
}

func messageText(m *waE2E.Message) string {
	switch {
	case m.GetConversation() != "":
		return m.GetConversation()
	case m.GetExtendedTextMessage().GetText() != "":
		return m.GetExtendedTextMessage().GetText()
	case m.GetButtonsResponseMessage().GetSelectedDisplayText() != "":
		return m.GetButtonsResponseMessage().GetSelectedDisplayText()
	case m.GetImageMessage().GetCaption() != "":
		return m.GetImageMessage().GetCaption()
	}
	return ""
}

// parseRecipient accepts bare numbers and full chat addresses, including the
// legacy "@c.us" suffix.
func parseRecipient(to string) (types.JID, error) {
	to = strings.TrimSpace(to)
	if user, ok := strings.CutSuffix(to, "@c.us"); ok {
		to = user
	}
	if strings.Contains(to, "@") {
		jid, err := types.ParseJID(to)
		if err != nil {
			return types.JID{}, fmt.Errorf("invalid recipient %q: %w", to, err)
		}
		return jid, nil
	}
	user := digitsOnly(to)
	if user == "" {
		return types.JID{}, fmt.Errorf("invalid recipient %q", to)
	}
	return types.NewJID(user, types.DefaultUserServer), nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
