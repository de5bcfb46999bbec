package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// LiveSessions reports the session ids that currently own a provider.
type LiveSessions interface {
	LiveSessionIDs() []string
}

// Sweeper removes auth directories that no live session backs.
type Sweeper struct {
	logger   *slog.Logger
	auth     *AuthStore
	live     LiveSessions
	schedule string
	location *time.Location
	cron     *cron.Cron
}

// NewSweeper builds a sweeper running on schedule (standard 5-field cron) in timezone.
func NewSweeper(log *slog.Logger, auth *AuthStore, live LiveSessions, schedule, timezone string) (*Sweeper, error) {
	if log == nil {
		log = slog.Default()
	}
	loc := time.Local
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("load sweep timezone: %w", err)
		}
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("parse sweep schedule: %w", err)
	}
	return &Sweeper{
		logger:   log.With(slog.String("component", "sweeper")),
		auth:     auth,
		live:     live,
		schedule: schedule,
		location: loc,
	}, nil
}

// Start registers the daily job and starts the scheduler.
func (s *Sweeper) Start() error {
	c := cron.New(cron.WithLocation(s.location))
	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.Error("sweep failed", slog.Any("error", err))
		}
	}); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("sweeper scheduled", slog.String("schedule", s.schedule), slog.String("timezone", s.location.String()))
	return nil
}

// Stop halts the scheduler and waits for a running sweep, bounded by ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep deletes every auth directory whose session is not live and returns
// the removed ids. A missing root is a no-op. One failed removal does not stop
// the others.
func (s *Sweeper) Sweep(ctx context.Context) ([]string, error) {
	dirs, err := s.auth.List()
	if err != nil {
		return nil, err
	}
	live := map[string]struct{}{}
	if s.live != nil {
		for _, id := range s.live.LiveSessionIDs() {
			live[id] = struct{}{}
		}
	}

	var removed []string
	for _, id := range dirs {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if _, ok := live[id]; ok {
			continue
		}
		if err := s.auth.Remove(id); err != nil {
			s.logger.Error("remove orphan auth dir failed", slog.String("session_id", id), slog.Any("error", err))
			continue
		}
		removed = append(removed, id)
	}
	s.logger.Info("sweep done", slog.Int("scanned", len(dirs)), slog.Int("removed", len(removed)))
	return removed, nil
}
