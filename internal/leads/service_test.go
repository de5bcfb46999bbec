package leads

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gongonut/propiedadraiz-backend/internal/bots"
	"github.com/gongonut/propiedadraiz-backend/internal/config"
	"github.com/gongonut/propiedadraiz-backend/internal/properties"
)

type fakeRow struct {
	scanFunc func(dest ...any) error
}

func (r *fakeRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

type fakeDBTX struct {
	inserts   int
	lastArg   []any
	contacted []string
}

func (d *fakeDBTX) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	d.contacted = append(d.contacted, args[0].(string))
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (d *fakeDBTX) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (d *fakeDBTX) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	d.inserts++
	d.lastArg = args
	return &fakeRow{scanFunc: func(dest ...any) error {
		*dest[0].(*string) = args[0].(string)
		*dest[1].(*string) = args[1].(string)
		*dest[2].(*string) = args[2].(string)
		*dest[3].(*string) = args[3].(string)
		*dest[4].(*string) = args[4].(string)
		*dest[5].(*bool) = args[5].(bool)
		*dest[6].(*time.Time) = time.Now()
		return nil
	}}
}

type fakeFinder struct {
	property properties.Property
	err      error
}

func (f fakeFinder) FindByCode(context.Context, string) (properties.Property, error) {
	return f.property, f.err
}

type fakeNotifier struct {
	calls int
	err   error
}

func (n *fakeNotifier) NotifyLead(context.Context, Lead, properties.Property) error {
	n.calls++
	return n.err
}

type fakeBots struct {
	bot bots.Bot
	err error
}

func (f fakeBots) FindFirstActive(context.Context) (bots.Bot, error) {
	return f.bot, f.err
}

type fakeSender struct {
	textErr error
	sent    []string
}

func (f *fakeSender) SendText(_ context.Context, sessionID, to, text string) error {
	f.sent = append(f.sent, "text:"+sessionID+":"+to)
	return f.textErr
}

func (f *fakeSender) SendImage(_ context.Context, sessionID, to, url, caption string) error {
	f.sent = append(f.sent, "image:"+sessionID+":"+url+":"+caption)
	return nil
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestCreateDefaultsNameAndNotifies(t *testing.T) {
	t.Parallel()

	db := &fakeDBTX{}
	notifier := &fakeNotifier{err: errors.New("smtp down")}
	svc := NewService(newTestLogger(), NewStore(db), fakeFinder{property: properties.Property{Code: "AB12-3"}}, nil, nil, notifier)

	lead, err := svc.Create(context.Background(), CreateLeadRequest{WhatsApp: "573001112233", PropertyCode: "AB12-3"})
	if err != nil {
		t.Fatalf("notification failure must not fail create: %v", err)
	}
	if lead.Name != DefaultName {
		t.Fatalf("expected default name, got %q", lead.Name)
	}
	if lead.Contacted || len(db.contacted) != 0 {
		t.Fatal("a lead nobody wrote to stays uncontacted")
	}
	if notifier.calls != 1 {
		t.Fatalf("expected one notification, got %d", notifier.calls)
	}
}

func followUpProperty() properties.Property {
	return properties.Property{
		Code:             "AB12-3",
		NombreEdificio:   "Torre Norte",
		Ciudad:           "Medellín",
		Direccion:        "Calle 10 # 5-20",
		Precio:           450000000,
		TelefonoContacto: "+57 300 999 8877",
		Fotos:            []string{"https://cdn.example.com/1.jpg", "https://cdn.example.com/2.jpg"},
	}
}

func TestCreateFollowsUpOnWhatsApp(t *testing.T) {
	t.Parallel()

	db := &fakeDBTX{}
	sender := &fakeSender{}
	svc := NewService(newTestLogger(), NewStore(db), fakeFinder{property: followUpProperty()},
		fakeBots{bot: bots.Bot{ID: "bot-1", SessionID: "session-1"}}, sender, nil)

	lead, err := svc.Create(context.Background(), CreateLeadRequest{Name: "Ana", WhatsApp: "573001112233", PropertyCode: "AB12-3"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	want := []string{
		"text:session-1:573001112233",
		"image:session-1:https://cdn.example.com/1.jpg:Torre Norte",
	}
	if strings.Join(sender.sent, "|") != strings.Join(want, "|") {
		t.Fatalf("sent = %v, want %v", sender.sent, want)
	}
	if !lead.Contacted {
		t.Fatal("expected lead marked contacted")
	}
	if len(db.contacted) != 1 || db.contacted[0] != lead.ID {
		t.Fatalf("expected contacted update for %s, got %v", lead.ID, db.contacted)
	}
}

func TestCreateWithoutActiveBotSkipsFollowUp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		bots   fakeBots
		sender *fakeSender
		sends  int
	}{
		{name: "no active bot", bots: fakeBots{err: bots.ErrBotNotFound}, sender: &fakeSender{}},
		{name: "send fails", bots: fakeBots{bot: bots.Bot{SessionID: "session-1"}}, sender: &fakeSender{textErr: errors.New("transport error")}, sends: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &fakeDBTX{}
			svc := NewService(newTestLogger(), NewStore(db), fakeFinder{property: followUpProperty()}, tt.bots, tt.sender, nil)

			lead, err := svc.Create(context.Background(), CreateLeadRequest{WhatsApp: "573001112233", PropertyCode: "AB12-3"})
			if err != nil {
				t.Fatalf("follow-up problems must not fail create: %v", err)
			}
			if lead.Contacted || len(db.contacted) != 0 {
				t.Fatal("expected lead left uncontacted")
			}
			if len(tt.sender.sent) != tt.sends {
				t.Fatalf("expected %d sends, got %v", tt.sends, tt.sender.sent)
			}
		})
	}
}

func TestRecordSkipsFollowUp(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	svc := NewService(newTestLogger(), NewStore(&fakeDBTX{}), fakeFinder{property: followUpProperty()},
		fakeBots{bot: bots.Bot{SessionID: "session-1"}}, sender, nil)

	if _, err := svc.Record(context.Background(), CreateLeadRequest{WhatsApp: "573001112233", PropertyCode: "AB12-3"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected no follow-up, got %v", sender.sent)
	}
}

func TestFollowUpText(t *testing.T) {
	t.Parallel()

	text := followUpText(Lead{Name: "Ana"}, followUpProperty())
	for _, want := range []string{"*Ana*", "*Torre Norte*", "450.000.000", "https://wa.me/573009998877"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in:\n%s", want, text)
		}
	}
	if got := agentLink(""); got != "" {
		t.Fatalf("expected no link without phone, got %q", got)
	}
}

func TestCreateRequiresExistingProperty(t *testing.T) {
	t.Parallel()

	db := &fakeDBTX{}
	svc := NewService(newTestLogger(), NewStore(db), fakeFinder{err: properties.ErrPropertyNotFound}, nil, nil, nil)

	_, err := svc.Create(context.Background(), CreateLeadRequest{WhatsApp: "573001112233", PropertyCode: "ZZ-9"})
	if !errors.Is(err, properties.ErrPropertyNotFound) {
		t.Fatalf("expected ErrPropertyNotFound, got %v", err)
	}
	if db.inserts != 0 {
		t.Fatalf("expected no insert, got %d", db.inserts)
	}
}

func TestCreateValidates(t *testing.T) {
	t.Parallel()

	svc := NewService(newTestLogger(), NewStore(&fakeDBTX{}), fakeFinder{}, nil, nil, nil)
	tests := []CreateLeadRequest{
		{PropertyCode: "AB12-3"},
		{WhatsApp: "573001112233"},
		{WhatsApp: "573001112233", PropertyCode: "AB12-3", Email: "not-an-email"},
	}
	for _, req := range tests {
		if _, err := svc.Create(context.Background(), req); !errors.Is(err, ErrInvalidLead) {
			t.Fatalf("expected ErrInvalidLead for %+v, got %v", req, err)
		}
	}
}

func TestNewNotifierDisabled(t *testing.T) {
	t.Parallel()

	if NewNotifier(configDisabled()) != nil {
		t.Fatal("expected nil notifier when mail is disabled")
	}
}

func TestBuildLeadMessage(t *testing.T) {
	t.Parallel()

	m, err := buildLeadMessage("bot@example.com", "agente@example.com",
		Lead{Name: "Ana", WhatsApp: "573001112233"},
		properties.Property{Code: "AB12-3", NombreEdificio: "Torre Norte"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		t.Fatalf("write message: %v", err)
	}
	if !strings.Contains(buf.String(), "AB12-3") {
		t.Fatalf("expected property code in message:\n%s", buf.String())
	}
}

func configDisabled() config.MailConfig {
	return config.MailConfig{Enabled: false, Host: "smtp.example.com"}
}
