package cloud

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gongonut/propiedadraiz-backend/internal/config"
	"github.com/gongonut/propiedadraiz-backend/internal/whatsapp"
)

type capturedRequest struct {
	path   string
	auth   string
	header http.Header
	body   map[string]any
}

type apiRecorder struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
}

func (r *apiRecorder) handler(w http.ResponseWriter, req *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(req.Body).Decode(&body)
	r.mu.Lock()
	r.requests = append(r.requests, capturedRequest{
		path:   req.URL.Path,
		auth:   req.Header.Get("Authorization"),
		header: req.Header.Clone(),
		body:   body,
	})
	status := r.status
	r.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `{"error":{"message":"bad"}}`)
}

func (r *apiRecorder) last(t *testing.T) capturedRequest {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.requests)
	return r.requests[len(r.requests)-1]
}

func newTestProvider(t *testing.T, rec *apiRecorder) *Provider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	t.Cleanup(srv.Close)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(log, config.CloudConfig{
		AccessToken:   "secret",
		PhoneNumberID: "1234",
		APIBaseURL:    srv.URL + "/",
	}, srv.Client())
}

func waitStatus(t *testing.T, ch <-chan whatsapp.StatusEvent) whatsapp.StatusEvent {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("no status event")
		return whatsapp.StatusEvent{}
	}
}

func TestInitializeReportsOpen(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, &apiRecorder{})
	statuses := make(chan whatsapp.StatusEvent, 4)
	p.Events().OnStatus(func(evt whatsapp.StatusEvent) { statuses <- evt })

	require.NoError(t, p.Initialize(context.Background(), "s1"))
	evt := waitStatus(t, statuses)
	assert.Equal(t, whatsapp.StatusOpen, evt.Status)
	assert.Equal(t, "1234", evt.Account.Phone())

	require.NoError(t, p.Disconnect(context.Background()))
	evt = waitStatus(t, statuses)
	assert.Equal(t, whatsapp.StatusClose, evt.Status)
	assert.False(t, evt.ShouldReconnect)

	// Second disconnect is a no-op.
	require.NoError(t, p.Disconnect(context.Background()))
}

func TestInitializeRequiresCredentials(t *testing.T) {
	t.Parallel()

	p := New(nil, config.CloudConfig{PhoneNumberID: "1234"}, nil)
	require.Error(t, p.Initialize(context.Background(), "s1"))
}

func TestSendTextPostsMessage(t *testing.T) {
	t.Parallel()

	rec := &apiRecorder{}
	p := newTestProvider(t, rec)
	require.NoError(t, p.Initialize(context.Background(), "s1"))

	require.NoError(t, p.SendText(context.Background(), "573001112233@s.whatsapp.net", "hola"))
	got := rec.last(t)
	assert.Equal(t, "/1234/messages", got.path)
	assert.Equal(t, "Bearer secret", got.auth)
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.Equal(t, "573001112233", got.body["to"])
	assert.Equal(t, "text", got.body["type"])
	assert.Equal(t, map[string]any{"body": "hola"}, got.body["text"])
}

func TestSendButtonsBuildsInteractive(t *testing.T) {
	t.Parallel()

	rec := &apiRecorder{}
	p := newTestProvider(t, rec)
	require.NoError(t, p.Initialize(context.Background(), "s1"))

	buttons := []whatsapp.Button{
		{ID: "a", Text: "Agendar una visita ahora mismo"},
		{ID: "b", Text: "Más fotos"},
		{ID: "c", Text: "Asesor"},
		{ID: "d", Text: "Extra"},
	}
	require.NoError(t, p.SendButtons(context.Background(), "+573001112233", "¿Qué deseas?", "PropiedadRaiz", buttons))

	got := rec.last(t)
	assert.Equal(t, "573001112233", got.body["to"])
	interactive := got.body["interactive"].(map[string]any)
	assert.Equal(t, "button", interactive["type"])
	assert.Equal(t, map[string]any{"text": "PropiedadRaiz"}, interactive["footer"])
	replies := interactive["action"].(map[string]any)["buttons"].([]any)
	require.Len(t, replies, maxButtons)
	first := replies[0].(map[string]any)["reply"].(map[string]any)
	assert.Equal(t, "a", first["id"])
	assert.Len(t, []rune(first["title"].(string)), maxButtonTitle)
}

func TestSendImageUsesLink(t *testing.T) {
	t.Parallel()

	rec := &apiRecorder{}
	p := newTestProvider(t, rec)
	require.NoError(t, p.Initialize(context.Background(), "s1"))

	require.NoError(t, p.SendImage(context.Background(), "573001112233", "https://cdn.example.com/a.jpg", "Foto Principal"))
	got := rec.last(t)
	assert.Equal(t, "image", got.body["type"])
	assert.Equal(t, map[string]any{"link": "https://cdn.example.com/a.jpg", "caption": "Foto Principal"}, got.body["image"])
}

func TestSendFailuresAreTransportErrors(t *testing.T) {
	t.Parallel()

	rec := &apiRecorder{status: http.StatusBadRequest}
	p := newTestProvider(t, rec)

	// Not initialized yet.
	require.ErrorIs(t, p.SendText(context.Background(), "1", "x"), whatsapp.ErrTransport)

	require.NoError(t, p.Initialize(context.Background(), "s1"))
	err := p.SendText(context.Background(), "1", "x")
	require.ErrorIs(t, err, whatsapp.ErrTransport)
	assert.Contains(t, err.Error(), "400")
}

func TestPairPhoneNotSupported(t *testing.T) {
	t.Parallel()

	_, err := New(nil, config.CloudConfig{}, nil).PairPhone(context.Background(), "573001112233")
	require.ErrorIs(t, err, whatsapp.ErrNotSupported)
}
