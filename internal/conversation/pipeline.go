// Package conversation reacts to inbound chat messages. It recognizes
// interest in a listing, records a lead and answers with the listing.
package conversation

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/gongonut/propiedadraiz-backend/internal/leads"
	"github.com/gongonut/propiedadraiz-backend/internal/properties"
	"github.com/gongonut/propiedadraiz-backend/internal/whatsapp"
)

var interestPattern = regexp.MustCompile(`(?i)me interesa el inmueble\s+([A-Z0-9-]+)`)

// LeadRecorder stores leads found in chats. The pipeline answers the lead
// itself, so it marks the lead contacted once the summary went out.
type LeadRecorder interface {
	Record(ctx context.Context, req leads.CreateLeadRequest) (leads.Lead, error)
	MarkContacted(ctx context.Context, id string) error
}

type PropertyFinder interface {
	FindByCode(ctx context.Context, code string) (properties.Property, error)
}

// Sender is the outbound surface replies go through.
type Sender interface {
	SendText(ctx context.Context, sessionID, to, text string) error
	SendImage(ctx context.Context, sessionID, to, url, caption string) error
}

type Pipeline struct {
	logger     *slog.Logger
	leads      LeadRecorder
	properties PropertyFinder
	sender     Sender
}

func NewPipeline(log *slog.Logger, leadRecorder LeadRecorder, finder PropertyFinder, sender Sender) *Pipeline {
	return &Pipeline{
		logger:     log.With(slog.String("service", "conversation")),
		leads:      leadRecorder,
		properties: finder,
		sender:     sender,
	}
}

// PropertyCode returns the listing code named in text, if any.
func PropertyCode(text string) (string, bool) {
	m := interestPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// HandleIncomingMessage never fails the caller: every step logs its own
// error and the reply continues with the next part.
func (p *Pipeline) HandleIncomingMessage(ctx context.Context, msg whatsapp.InboundMessage) error {
	if msg.FromMe || strings.TrimSpace(msg.Text) == "" {
		return nil
	}
	code, ok := PropertyCode(msg.Text)
	if !ok {
		return nil
	}
	log := p.logger.With(
		slog.String("session_id", msg.SessionID),
		slog.String("from", msg.From),
		slog.String("property_code", code),
	)
	log.Info("interest detected")

	lead, err := p.leads.Record(ctx, leads.CreateLeadRequest{
		Name:         msg.PushName,
		WhatsApp:     senderNumber(msg.From),
		PropertyCode: code,
	})
	if err != nil {
		log.Error("record lead failed", slog.Any("error", err))
	} else {
		log.Info("lead recorded", slog.String("lead_id", lead.ID))
	}

	property, err := p.properties.FindByCode(ctx, code)
	if err != nil {
		log.Warn("property lookup failed", slog.Any("error", err))
		p.sendText(ctx, log, msg, fallbackReply(code))
		return nil
	}

	if p.sendText(ctx, log, msg, describeProperty(property)) && lead.ID != "" {
		if err := p.leads.MarkContacted(ctx, lead.ID); err != nil {
			log.Warn("mark lead contacted failed", slog.Any("error", err))
		}
	}
	if len(property.Fotos) > 0 {
		if err := p.sender.SendImage(ctx, msg.SessionID, msg.From, property.Fotos[0], imageCaption); err != nil {
			log.Error("send property image failed", slog.Any("error", err))
		}
	}
	p.sendText(ctx, log, msg, optionsMenu)
	return nil
}

func (p *Pipeline) sendText(ctx context.Context, log *slog.Logger, msg whatsapp.InboundMessage, text string) bool {
	if err := p.sender.SendText(ctx, msg.SessionID, msg.From, text); err != nil {
		log.Error("send reply failed", slog.Any("error", err))
		return false
	}
	return true
}

// senderNumber strips chat address suffixes from a sender.
func senderNumber(from string) string {
	from = strings.TrimSuffix(from, "@c.us")
	return strings.TrimSuffix(from, "@s.whatsapp.net")
}
