package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"golang.org/x/time/rate"

	"github.com/gongonut/propiedadraiz-backend/internal/auth"
	"github.com/gongonut/propiedadraiz-backend/internal/bots"
	"github.com/gongonut/propiedadraiz-backend/internal/broadcast"
	"github.com/gongonut/propiedadraiz-backend/internal/config"
	"github.com/gongonut/propiedadraiz-backend/internal/conversation"
	"github.com/gongonut/propiedadraiz-backend/internal/db"
	"github.com/gongonut/propiedadraiz-backend/internal/handlers"
	"github.com/gongonut/propiedadraiz-backend/internal/leads"
	"github.com/gongonut/propiedadraiz-backend/internal/logger"
	"github.com/gongonut/propiedadraiz-backend/internal/properties"
	"github.com/gongonut/propiedadraiz-backend/internal/server"
	"github.com/gongonut/propiedadraiz-backend/internal/whatsapp"
	"github.com/gongonut/propiedadraiz-backend/internal/whatsapp/providers/browser"
	"github.com/gongonut/propiedadraiz-backend/internal/whatsapp/providers/cloud"
	"github.com/gongonut/propiedadraiz-backend/internal/whatsapp/providers/socket"
)

const providerHTTPTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the WhatsApp sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			app := newServeApp(cfg)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func newServeApp(cfg config.Config) *fx.App {
	return fx.New(serveOptions(cfg))
}

func serveOptions(cfg config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideDBConn,
			provideBotService,
			providePropertyService,
			provideLeadService,
			provideAuthStore,
			provideHub,
			provideProviderFactory,
			provideManager,
			provideSweeper,
			providePipeline,
			provideCredentials,
			provideServerHandler(provideAuthHandler),
			provideServerHandler(provideBotsHandler),
			provideServerHandler(providePingHandler),
			provideServerHandler(provideWebhookHandler),
			provideServerHandler(providePropertiesHandler),
			provideServerHandler(provideLeadsHandler),
			provideServerHandler(provideStatusHandler),
			provideServer,
		),
		fx.Invoke(
			startHub,
			startManager,
			startSweeper,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideLogger(lc fx.Lifecycle, cfg config.Config) *slog.Logger {
	log, closer := logger.New(cfg.Log)
	slog.SetDefault(log)
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return closer.Close() }})
	return log
}

func provideDBConn(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	log.Info("database ready", slog.String("host", cfg.Postgres.Host), slog.String("database", cfg.Postgres.Database))
	lc.Append(fx.Hook{OnStop: func(context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideBotService(log *slog.Logger, conn *pgxpool.Pool) *bots.Service {
	return bots.NewService(log, bots.NewStore(conn))
}

func providePropertyService(log *slog.Logger, conn *pgxpool.Pool, botService *bots.Service) *properties.Service {
	return properties.NewService(log, properties.NewStore(conn), botService)
}

func provideLeadService(log *slog.Logger, conn *pgxpool.Pool, propertyService *properties.Service, botService *bots.Service, manager *whatsapp.Manager, cfg config.Config) *leads.Service {
	return leads.NewService(log, leads.NewStore(conn), propertyService, botService, manager, leads.NewNotifier(cfg.Mail))
}

func provideAuthStore(cfg config.Config) *whatsapp.AuthStore {
	return whatsapp.NewAuthStore(cfg.WhatsApp.SessionsDir)
}

func provideHub(log *slog.Logger, cfg config.Config) *broadcast.Hub {
	return broadcast.NewHub(log, cfg.Server.AllowedOrigins)
}

// provideProviderFactory registers every transport and returns the configured one.
func provideProviderFactory(log *slog.Logger, cfg config.Config, authStore *whatsapp.AuthStore) (whatsapp.ProviderFactory, error) {
	providerType, err := whatsapp.ParseProviderType(cfg.WhatsApp.Provider)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: providerHTTPTimeout}

	registry := whatsapp.NewRegistry()
	registry.MustRegister(whatsapp.ProviderSocket, socket.Factory(log, authStore, httpClient))
	registry.MustRegister(whatsapp.ProviderBrowser, browser.Factory(log, cfg.WhatsApp.Browser, authStore))
	registry.MustRegister(whatsapp.ProviderCloud, cloud.Factory(log, cfg.WhatsApp.Cloud, httpClient))

	log.Info("whatsapp provider selected", slog.String("provider", providerType.String()))
	return registry.Factory(providerType)
}

func provideManager(log *slog.Logger, cfg config.Config, factory whatsapp.ProviderFactory, botService *bots.Service, hub *broadcast.Hub, authStore *whatsapp.AuthStore) *whatsapp.Manager {
	return whatsapp.NewManager(log, factory, botService, hub, authStore, whatsapp.Options{
		PairingTimeout: cfg.WhatsApp.PairingTimeout.Duration,
		ReconnectDelay: cfg.WhatsApp.ReconnectDelay.Duration,
		SendRate:       rate.Limit(cfg.WhatsApp.SendRatePerSecond),
		SendBurst:      cfg.WhatsApp.SendBurst,
	})
}

func provideSweeper(log *slog.Logger, cfg config.Config, authStore *whatsapp.AuthStore, manager *whatsapp.Manager) (*whatsapp.Sweeper, error) {
	return whatsapp.NewSweeper(log, authStore, manager, cfg.WhatsApp.SweepSchedule, cfg.WhatsApp.SweepTimezone)
}

// providePipeline builds the conversation pipeline and installs it as the
// manager's inbound handler.
func providePipeline(log *slog.Logger, leadService *leads.Service, propertyService *properties.Service, manager *whatsapp.Manager) *conversation.Pipeline {
	pipeline := conversation.NewPipeline(log, leadService, propertyService, manager)
	manager.SetInboundHandler(pipeline)
	return pipeline
}

func provideCredentials(log *slog.Logger, cfg config.Config) (*auth.Credentials, error) {
	creds, err := auth.NewCredentials(cfg.Admin.Email, cfg.Admin.Password, cfg.Admin.PasswordHash)
	if err != nil {
		return nil, err
	}
	if cfg.Auth.Enabled && !creds.Configured() {
		log.Warn("no admin account configured; only CLI-issued tokens can reach the admin api")
	}
	return creds, nil
}

func provideAuthHandler(log *slog.Logger, cfg config.Config, creds *auth.Credentials) *handlers.AuthHandler {
	return handlers.NewAuthHandler(log, creds, cfg.Auth.JWTSecret, cfg.Auth.ExpiresIn())
}

func provideBotsHandler(log *slog.Logger, botService *bots.Service, manager *whatsapp.Manager) *handlers.BotsHandler {
	return handlers.NewBotsHandler(log, botService, manager)
}

func providePingHandler(log *slog.Logger, manager *whatsapp.Manager) *handlers.PingHandler {
	return handlers.NewPingHandler(log, manager.Sessions())
}

func provideWebhookHandler(log *slog.Logger, cfg config.Config, manager *whatsapp.Manager, pipeline *conversation.Pipeline) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, cfg.WhatsApp.Cloud.WebhookVerifyToken, manager, pipeline)
}

func providePropertiesHandler(log *slog.Logger, service *properties.Service) *handlers.PropertiesHandler {
	return handlers.NewPropertiesHandler(log, service)
}

func provideLeadsHandler(log *slog.Logger, service *leads.Service) *handlers.LeadsHandler {
	return handlers.NewLeadsHandler(log, service)
}

func provideStatusHandler(hub *broadcast.Hub) *handlers.StatusHandler {
	return handlers.NewStatusHandler(hub)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	authCfg := params.Config.Auth
	return server.NewServer(params.Logger, server.Options{
		Addr:           params.Config.Server.Addr,
		AuthEnabled:    authCfg.Enabled,
		JWTSecret:      authCfg.JWTSecret,
		AllowedOrigins: params.Config.Server.AllowedOrigins,
	}, params.ServerHandlers...)
}

func startHub(lc fx.Lifecycle, hub *broadcast.Hub) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { go hub.Run(ctx); return nil },
		OnStop:  func(context.Context) error { cancel(); return nil },
	})
}

func startManager(lc fx.Lifecycle, logger *slog.Logger, manager *whatsapp.Manager, _ *conversation.Pipeline) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := manager.AutoStart(ctx); err != nil {
				// The API stays up; bots can be activated by hand.
				logger.Error("auto start failed", slog.Any("error", err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error { return manager.Shutdown(ctx) },
	})
}

func startSweeper(lc fx.Lifecycle, sweeper *whatsapp.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return sweeper.Start() },
		OnStop:  func(ctx context.Context) error { return sweeper.Stop(ctx) },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("starting propiedadraiz", slog.String("version", version), slog.String("addr", cfg.Server.Addr))
			if !cfg.Auth.Enabled {
				logger.Warn("admin api authentication disabled")
			}
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
