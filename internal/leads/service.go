package leads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/gongonut/propiedadraiz-backend/internal/bots"
	"github.com/gongonut/propiedadraiz-backend/internal/properties"
)

var (
	ErrInvalidLead  = errors.New("invalid lead")
	ErrLeadNotFound = errors.New("lead not found")
)

// PropertyFinder resolves the listing a lead refers to.
type PropertyFinder interface {
	FindByCode(ctx context.Context, code string) (properties.Property, error)
}

// BotFinder picks the bot that writes to new leads.
type BotFinder interface {
	FindFirstActive(ctx context.Context) (bots.Bot, error)
}

// Sender is the WhatsApp surface follow-ups go through.
type Sender interface {
	SendText(ctx context.Context, sessionID, to, text string) error
	SendImage(ctx context.Context, sessionID, to, url, caption string) error
}

// Notifier tells the listing's contact about a new lead.
type Notifier interface {
	NotifyLead(ctx context.Context, lead Lead, property properties.Property) error
}

type Service struct {
	store      *Store
	properties PropertyFinder
	bots       BotFinder
	sender     Sender
	notifier   Notifier
	logger     *slog.Logger
	validate   *validator.Validate
}

// NewService wires the lead service. botFinder and sender may be nil, which
// disables the WhatsApp follow-up; notifier may be nil as well.
func NewService(log *slog.Logger, store *Store, finder PropertyFinder, botFinder BotFinder, sender Sender, notifier Notifier) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:      store,
		properties: finder,
		bots:       botFinder,
		sender:     sender,
		notifier:   notifier,
		logger:     log.With(slog.String("service", "leads")),
		validate:   validator.New(),
	}
}

// Create stores a lead for an existing property, then writes to the lead on
// WhatsApp from the oldest active bot and marks it contacted. Follow-up and
// notification failures are logged and never fail the call.
func (s *Service) Create(ctx context.Context, req CreateLeadRequest) (Lead, error) {
	lead, property, err := s.insert(ctx, req)
	if err != nil {
		return Lead{}, err
	}
	if s.followUp(ctx, lead, property) {
		if err := s.store.MarkContacted(ctx, lead.ID); err != nil {
			s.logger.Warn("mark lead contacted failed", slog.String("lead_id", lead.ID), slog.Any("error", err))
		} else {
			lead.Contacted = true
		}
	}
	s.notify(ctx, lead, property)
	return lead, nil
}

// Record stores a lead without the WhatsApp follow-up. Chat flows use it
// since they already answer the lead in the open conversation.
func (s *Service) Record(ctx context.Context, req CreateLeadRequest) (Lead, error) {
	lead, property, err := s.insert(ctx, req)
	if err != nil {
		return Lead{}, err
	}
	s.notify(ctx, lead, property)
	return lead, nil
}

func (s *Service) MarkContacted(ctx context.Context, id string) error {
	return s.store.MarkContacted(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Lead, error) {
	return s.store.List(ctx)
}

func (s *Service) insert(ctx context.Context, req CreateLeadRequest) (Lead, properties.Property, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.WhatsApp = strings.TrimSpace(req.WhatsApp)
	req.PropertyCode = strings.TrimSpace(req.PropertyCode)
	if err := s.validate.Struct(req); err != nil {
		return Lead{}, properties.Property{}, fmt.Errorf("%w: %s", ErrInvalidLead, err.Error())
	}
	property, err := s.properties.FindByCode(ctx, req.PropertyCode)
	if err != nil {
		return Lead{}, properties.Property{}, err
	}
	if req.Name == "" {
		req.Name = DefaultName
	}
	lead, err := s.store.Insert(ctx, Lead{
		ID:           uuid.NewString(),
		Name:         req.Name,
		WhatsApp:     req.WhatsApp,
		Email:        req.Email,
		PropertyCode: property.Code,
	})
	if err != nil {
		return Lead{}, properties.Property{}, fmt.Errorf("create lead: %w", err)
	}
	s.logger.Info("lead created", slog.String("lead_id", lead.ID), slog.String("property_code", lead.PropertyCode))
	return lead, property, nil
}

// followUp reports whether the property summary reached the lead. The photo
// is optional and its failure does not count.
func (s *Service) followUp(ctx context.Context, lead Lead, property properties.Property) bool {
	if s.bots == nil || s.sender == nil {
		return false
	}
	log := s.logger.With(slog.String("lead_id", lead.ID))
	bot, err := s.bots.FindFirstActive(ctx)
	if err != nil {
		if errors.Is(err, bots.ErrBotNotFound) {
			log.Warn("no active bot, lead follow-up skipped")
		} else {
			log.Error("find active bot failed", slog.Any("error", err))
		}
		return false
	}
	log = log.With(slog.String("session_id", bot.SessionID))

	if err := s.sender.SendText(ctx, bot.SessionID, lead.WhatsApp, followUpText(lead, property)); err != nil {
		log.Error("lead follow-up failed", slog.Any("error", err))
		return false
	}
	if len(property.Fotos) > 0 {
		if err := s.sender.SendImage(ctx, bot.SessionID, lead.WhatsApp, property.Fotos[0], photoCaption(property)); err != nil {
			log.Warn("lead follow-up photo failed", slog.Any("error", err))
		}
	}
	log.Info("lead contacted")
	return true
}

func (s *Service) notify(ctx context.Context, lead Lead, property properties.Property) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyLead(ctx, lead, property); err != nil {
		s.logger.Warn("lead notification failed", slog.String("lead_id", lead.ID), slog.Any("error", err))
	}
}
