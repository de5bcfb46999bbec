package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/gongonut/propiedadraiz-backend/internal/bots"
	"github.com/gongonut/propiedadraiz-backend/internal/config"
	"github.com/gongonut/propiedadraiz-backend/internal/db"
	"github.com/gongonut/propiedadraiz-backend/internal/logger"
	"github.com/gongonut/propiedadraiz-backend/internal/whatsapp"
)

// knownSessions treats a fixed id list as the live registry.
type knownSessions []string

func (k knownSessions) LiveSessionIDs() []string { return k }

func sweepCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove session auth directories no bot owns",
		Long: "Runs one maintenance sweep while the server is stopped. Directories of " +
			"sessions recorded in the bots table are kept unless --all is given.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log, closer := logger.New(cfg.Log)
			defer closer.Close()

			ctx := cmd.Context()
			var keep knownSessions
			if !all {
				keep, err = recordedSessions(ctx, cfg)
				if err != nil {
					return err
				}
			}

			sweeper, err := whatsapp.NewSweeper(log, whatsapp.NewAuthStore(cfg.WhatsApp.SessionsDir), keep,
				cfg.WhatsApp.SweepSchedule, cfg.WhatsApp.SweepTimezone)
			if err != nil {
				return err
			}
			removed, err := sweeper.Sweep(ctx)
			if err != nil {
				return err
			}
			log.Info("sweep finished", slog.Int("removed", len(removed)), slog.Int("kept", len(keep)))
			for _, id := range removed {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "also remove directories of bots still in the database")
	return cmd
}

func recordedSessions(ctx context.Context, cfg config.Config) (knownSessions, error) {
	conn, err := db.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	defer conn.Close()

	items, err := bots.NewStore(conn).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	ids := make(knownSessions, 0, len(items))
	for _, b := range items {
		ids = append(ids, b.SessionID)
	}
	return ids, nil
}
