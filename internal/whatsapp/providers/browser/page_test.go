package browser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gongonut/propiedadraiz-backend/internal/config"
	"github.com/gongonut/propiedadraiz-backend/internal/whatsapp"
)

func TestTrackerLifecycle(t *testing.T) {
	t.Parallel()

	var tr tracker
	assert.Equal(t, transition{}, tr.observe(probe{State: pageLoading}))

	step := tr.observe(probe{State: pageQR, QR: "2@abc"})
	assert.Equal(t, "2@abc", step.qr)

	// Same code is not re-emitted.
	assert.Equal(t, transition{}, tr.observe(probe{State: pageQR, QR: "2@abc"}))
	assert.Equal(t, "2@def", tr.observe(probe{State: pageQR, QR: "2@def"}).qr)

	step = tr.observe(probe{State: pageReady, Me: "573001112233:7@c.us"})
	require.NotNil(t, step.open)
	assert.Equal(t, "573001112233", step.open.Phone())
	assert.Equal(t, transition{}, tr.observe(probe{State: pageReady}))

	step = tr.observe(probe{State: pageQR, QR: "2@ghi"})
	assert.ErrorIs(t, step.close, errLoggedOut)
	assert.False(t, step.reconnect)
}

func TestTrackerFailuresTriggerReconnect(t *testing.T) {
	t.Parallel()

	var tr tracker
	for i := 1; i < maxProbeFailures; i++ {
		assert.Equal(t, transition{}, tr.fail())
	}
	step := tr.fail()
	assert.ErrorIs(t, step.close, errPageGone)
	assert.True(t, step.reconnect)

	// A good probe resets the counter.
	tr = tracker{}
	tr.fail()
	tr.observe(probe{State: pageLoading})
	assert.Equal(t, 0, tr.failures)
}

func TestParseProbe(t *testing.T) {
	t.Parallel()

	p, err := parseProbe(`{"state":"qr","qr":"2@abc"}`)
	require.NoError(t, err)
	assert.Equal(t, probe{State: pageQR, QR: "2@abc"}, p)

	_, err = parseProbe("undefined")
	require.Error(t, err)
}

func TestParseInbound(t *testing.T) {
	t.Parallel()

	msg, ok := parseInbound(`{"id":"false_573001112233@c.us_3EB0C0FFEE","text":"me interesa el inmueble AB12-3"}`)
	require.True(t, ok)
	assert.Equal(t, "573001112233@c.us", msg.From)
	assert.Equal(t, "me interesa el inmueble AB12-3", msg.Text)
	assert.False(t, msg.FromMe)

	msg, ok = parseInbound(`{"id":"true_573001112233@c.us_3EB0","text":"hola"}`)
	require.True(t, ok)
	assert.True(t, msg.FromMe)

	_, ok = parseInbound(`{"id":"","text":"x"}`)
	assert.False(t, ok)
	_, ok = parseInbound(`not json`)
	assert.False(t, ok)
}

func TestSendURL(t *testing.T) {
	t.Parallel()

	got, err := sendURL("https://web.whatsapp.com/", "573001112233@s.whatsapp.net", "Hola & bienvenido")
	require.NoError(t, err)
	assert.Equal(t, "https://web.whatsapp.com/send?phone=573001112233&text=Hola+%26+bienvenido", got)

	_, err = sendURL("https://web.whatsapp.com", "@c.us", "x")
	require.Error(t, err)
}

func TestImageText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Foto Principal\nhttps://cdn.example.com/1.jpg", imageText("https://cdn.example.com/1.jpg", "Foto Principal"))
	assert.Equal(t, "https://cdn.example.com/1.jpg", imageText("https://cdn.example.com/1.jpg", " "))
}

func TestNormalizeWid(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "573001112233:7@s.whatsapp.net", normalizeWid("573001112233:7@c.us"))
	assert.Equal(t, "", normalizeWid("  "))
}

func TestSendBeforeReadyIsTransportError(t *testing.T) {
	t.Parallel()

	p := New(nil, config.BrowserConfig{}, whatsapp.NewAuthStore(t.TempDir()))
	require.ErrorIs(t, p.SendText(context.Background(), "573001112233", "hola"), whatsapp.ErrTransport)
	require.ErrorIs(t, p.SendButtons(context.Background(), "573001112233", "hola", "", nil), whatsapp.ErrTransport)
	require.ErrorIs(t, p.SendImage(context.Background(), "573001112233", "https://cdn.example.com/1.jpg", ""), whatsapp.ErrTransport)

	require.NoError(t, p.Disconnect(context.Background()))
	require.NoError(t, p.Disconnect(context.Background()))
	require.ErrorIs(t, p.Initialize(context.Background(), "s1"), whatsapp.ErrSessionClosed)
}
