package conversation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gongonut/propiedadraiz-backend/internal/leads"
	"github.com/gongonut/propiedadraiz-backend/internal/properties"
	"github.com/gongonut/propiedadraiz-backend/internal/whatsapp"
)

type fakeLeads struct {
	mu        sync.Mutex
	requests  []leads.CreateLeadRequest
	contacted []string
	err       error
}

func (f *fakeLeads) MarkContacted(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacted = append(f.contacted, id)
	return nil
}

func (f *fakeLeads) Record(_ context.Context, req leads.CreateLeadRequest) (leads.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return leads.Lead{}, f.err
	}
	return leads.Lead{ID: "lead-1", WhatsApp: req.WhatsApp, PropertyCode: req.PropertyCode}, nil
}

type fakeFinder struct {
	property properties.Property
	err      error
	codes    []string
}

func (f *fakeFinder) FindByCode(_ context.Context, code string) (properties.Property, error) {
	f.codes = append(f.codes, code)
	return f.property, f.err
}

type sent struct {
	kind      string
	sessionID string
	to        string
	body      string
	caption   string
}

type fakeSender struct {
	sent      []sent
	textErr   error
	imageErr  error
	failFirst bool
}

func (f *fakeSender) SendText(_ context.Context, sessionID, to, text string) error {
	f.sent = append(f.sent, sent{kind: "text", sessionID: sessionID, to: to, body: text})
	if f.failFirst && len(f.sent) == 1 {
		return whatsapp.ErrTransport
	}
	return f.textErr
}

func (f *fakeSender) SendImage(_ context.Context, sessionID, to, url, caption string) error {
	f.sent = append(f.sent, sent{kind: "image", sessionID: sessionID, to: to, body: url, caption: caption})
	return f.imageErr
}

func newPipeline(l *fakeLeads, f *fakeFinder, s *fakeSender) *Pipeline {
	return NewPipeline(slog.New(slog.NewTextHandler(io.Discard, nil)), l, f, s)
}

func sampleProperty() properties.Property {
	return properties.Property{
		Code:            "AB12-3",
		NombreEdificio:  "Torre Central",
		Direccion:       "Calle 10 # 5-20",
		Ciudad:          "Medellín",
		Departamento:    "Antioquia",
		TipoTransaccion: properties.TransactionBoth,
		Area:            85.5,
		Habitaciones:    3,
		Banos:           2,
		Garajes:         1,
		Precio:          450000000,
		Descripcion:     "Vista a la ciudad",
		Fotos:           []string{"https://cdn.example.com/1.jpg", "https://cdn.example.com/2.jpg"},
	}
}

func inbound(text string) whatsapp.InboundMessage {
	return whatsapp.InboundMessage{
		From:      "573001112233@s.whatsapp.net",
		Text:      text,
		SessionID: "session-1",
		PushName:  "Ana",
	}
}

func TestInterestRepliesInOrder(t *testing.T) {
	t.Parallel()

	l := &fakeLeads{}
	f := &fakeFinder{property: sampleProperty()}
	s := &fakeSender{}
	require.NoError(t, newPipeline(l, f, s).HandleIncomingMessage(context.Background(), inbound("Hola, me interesa el inmueble AB12-3")))

	require.Len(t, l.requests, 1)
	assert.Equal(t, "AB12-3", l.requests[0].PropertyCode)
	assert.Equal(t, "573001112233", l.requests[0].WhatsApp)
	assert.Equal(t, "Ana", l.requests[0].Name)
	assert.Equal(t, []string{"AB12-3"}, f.codes)
	assert.Equal(t, []string{"lead-1"}, l.contacted)

	require.Len(t, s.sent, 3)
	assert.Equal(t, "text", s.sent[0].kind)
	assert.Contains(t, s.sent[0].body, "Torre Central")
	assert.Contains(t, s.sent[0].body, "450.000.000")
	assert.Contains(t, s.sent[0].body, "Venta / Alquiler")
	assert.Contains(t, s.sent[0].body, "Garajes: 1")
	assert.Equal(t, "image", s.sent[1].kind)
	assert.Equal(t, "https://cdn.example.com/1.jpg", s.sent[1].body)
	assert.Equal(t, "Foto Principal", s.sent[1].caption)
	assert.Equal(t, "text", s.sent[2].kind)
	assert.Equal(t, optionsMenu, s.sent[2].body)
	for _, m := range s.sent {
		assert.Equal(t, "session-1", m.sessionID)
		assert.Equal(t, "573001112233@s.whatsapp.net", m.to)
	}
}

func TestLookupFailureSendsFallbackOnly(t *testing.T) {
	t.Parallel()

	l := &fakeLeads{err: properties.ErrPropertyNotFound}
	s := &fakeSender{}
	p := newPipeline(l, &fakeFinder{err: properties.ErrPropertyNotFound}, s)
	require.NoError(t, p.HandleIncomingMessage(context.Background(), inbound("me interesa el inmueble zz9")))

	require.Len(t, l.requests, 1)
	require.Len(t, s.sent, 1)
	assert.Equal(t, fallbackReply("zz9"), s.sent[0].body)
	assert.Empty(t, l.contacted)
}

func TestFailedSummaryLeavesLeadUncontacted(t *testing.T) {
	t.Parallel()

	l := &fakeLeads{}
	s := &fakeSender{failFirst: true}
	require.NoError(t, newPipeline(l, &fakeFinder{property: sampleProperty()}, s).
		HandleIncomingMessage(context.Background(), inbound("me interesa el inmueble AB12-3")))
	require.Len(t, l.requests, 1)
	assert.Empty(t, l.contacted)
}

func TestSendFailuresDoNotAbortReply(t *testing.T) {
	t.Parallel()

	s := &fakeSender{failFirst: true, imageErr: errors.New("upload failed")}
	p := newPipeline(&fakeLeads{err: errors.New("db down")}, &fakeFinder{property: sampleProperty()}, s)
	require.NoError(t, p.HandleIncomingMessage(context.Background(), inbound("me interesa el inmueble AB12-3")))
	assert.Len(t, s.sent, 3)
}

func TestNoPhotoSkipsImage(t *testing.T) {
	t.Parallel()

	prop := sampleProperty()
	prop.Fotos = nil
	s := &fakeSender{}
	require.NoError(t, newPipeline(&fakeLeads{}, &fakeFinder{property: prop}, s).
		HandleIncomingMessage(context.Background(), inbound("me interesa el inmueble AB12-3")))
	require.Len(t, s.sent, 2)
	assert.Equal(t, "text", s.sent[1].kind)
}

func TestIgnoredMessages(t *testing.T) {
	t.Parallel()

	cases := map[string]whatsapp.InboundMessage{
		"empty":     inbound("   "),
		"no intent": inbound("hola, ¿cómo estás?"),
		"self echo": func() whatsapp.InboundMessage {
			m := inbound("me interesa el inmueble AB12-3")
			m.FromMe = true
			return m
		}(),
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			l := &fakeLeads{}
			s := &fakeSender{}
			require.NoError(t, newPipeline(l, &fakeFinder{}, s).HandleIncomingMessage(context.Background(), msg))
			assert.Empty(t, l.requests)
			assert.Empty(t, s.sent)
		})
	}
}

func TestPropertyCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		code string
		ok   bool
	}{
		{"Hola, me interesa el inmueble AB12-3", "AB12-3", true},
		{"ME INTERESA EL INMUEBLE   x77 por favor", "x77", true},
		{"me interesa el apartamento AB1", "", false},
	}
	for _, tc := range cases {
		code, ok := PropertyCode(tc.text)
		assert.Equal(t, tc.ok, ok, tc.text)
		assert.Equal(t, tc.code, code, tc.text)
	}
}

func TestSenderNumber(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "573001112233", senderNumber("573001112233@c.us"))
	assert.Equal(t, "573001112233", senderNumber("573001112233@s.whatsapp.net"))
	assert.Equal(t, "573001112233", senderNumber("573001112233"))
}

func TestDescribePropertyOmitsMissingGarages(t *testing.T) {
	t.Parallel()

	prop := sampleProperty()
	prop.Garajes = 0
	prop.NombreEdificio = ""
	prop.TipoTransaccion = properties.TransactionRent
	text := describeProperty(prop)
	assert.NotContains(t, text, "Garajes")
	assert.Contains(t, text, "Calle 10 # 5-20")
	assert.Contains(t, text, "(Alquiler)")
	assert.Contains(t, text, "Área: 85.5 m²")
}
