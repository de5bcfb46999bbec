package bots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	ErrBotNotFound = errors.New("bot not found")
	ErrInvalidBot  = errors.New("invalid bot")
)

// Service provides bot CRUD. It is also the record store the session manager
// persists status transitions through.
type Service struct {
	store    *Store
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService creates a new bot service.
func NewService(log *slog.Logger, store *Store) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    store,
		logger:   log.With(slog.String("service", "bots")),
		validate: validator.New(),
	}
}

// Create stores a new inactive bot with a fresh session id.
func (s *Service) Create(ctx context.Context, req CreateBotRequest) (Bot, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.EmpresaID = strings.TrimSpace(req.EmpresaID)
	if err := s.validate.Struct(req); err != nil {
		return Bot{}, fmt.Errorf("%w: %s", ErrInvalidBot, err.Error())
	}
	bot, err := s.store.Insert(ctx, Bot{
		ID:        uuid.NewString(),
		SessionID: uuid.NewString(),
		Name:      req.Name,
		EmpresaID: req.EmpresaID,
		Status:    StatusInactive,
	})
	if err != nil {
		return Bot{}, fmt.Errorf("create bot: %w", err)
	}
	s.logger.Info("bot created", slog.String("bot_id", bot.ID), slog.String("session_id", bot.SessionID))
	return bot, nil
}

func (s *Service) Get(ctx context.Context, id string) (Bot, error) {
	if _, err := uuid.Parse(strings.TrimSpace(id)); err != nil {
		return Bot{}, ErrBotNotFound
	}
	return s.store.Get(ctx, strings.TrimSpace(id))
}

// FindOne is Get under the name the session manager expects.
func (s *Service) FindOne(ctx context.Context, id string) (Bot, error) {
	return s.Get(ctx, id)
}

func (s *Service) GetBySessionID(ctx context.Context, sessionID string) (Bot, error) {
	return s.store.GetBySessionID(ctx, strings.TrimSpace(sessionID))
}

func (s *Service) List(ctx context.Context) ([]Bot, error) {
	return s.store.List(ctx)
}

// FindAllActive returns bots that should own a live session: active ones and
// ones that were mid-pairing when the process stopped.
func (s *Service) FindAllActive(ctx context.Context) ([]Bot, error) {
	return s.store.ListByStatus(ctx, StatusActive, StatusPairing)
}

// FindFirstActive returns the oldest active bot.
func (s *Service) FindFirstActive(ctx context.Context) (Bot, error) {
	items, err := s.store.ListByStatus(ctx, StatusActive)
	if err != nil {
		return Bot{}, err
	}
	if len(items) == 0 {
		return Bot{}, ErrBotNotFound
	}
	return items[0], nil
}

// UpdateDetails applies an operator edit. An empty empresa_id clears the reference.
func (s *Service) UpdateDetails(ctx context.Context, id string, req UpdateBotRequest) (Bot, error) {
	if err := s.validate.Struct(req); err != nil {
		return Bot{}, fmt.Errorf("%w: %s", ErrInvalidBot, err.Error())
	}
	var p Patch
	if req.Name != nil {
		p.Name = StringPtr(strings.TrimSpace(*req.Name))
	}
	if req.EmpresaID != nil {
		p.EmpresaID = StringPtr(strings.TrimSpace(*req.EmpresaID))
	}
	return s.Update(ctx, id, p)
}

// Update applies a partial update.
func (s *Service) Update(ctx context.Context, id string, p Patch) (Bot, error) {
	if p.Status != nil && !validStatus(*p.Status) {
		return Bot{}, fmt.Errorf("%w: unknown status %q", ErrInvalidBot, *p.Status)
	}
	bot, err := s.store.Update(ctx, id, p)
	if err != nil {
		return Bot{}, err
	}
	return bot, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("bot deleted", slog.String("bot_id", id))
	return nil
}

func validStatus(status string) bool {
	switch status {
	case StatusPairing, StatusActive, StatusInactive, StatusError:
		return true
	}
	return false
}
