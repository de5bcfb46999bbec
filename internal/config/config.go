package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

const (
	DefaultConfigPath      = "config.toml"
	DefaultHTTPAddr        = ":8080"
	DefaultJWTExpiresIn    = "24h"
	DefaultPGHost          = "127.0.0.1"
	DefaultPGPort          = 5432
	DefaultPGUser          = "postgres"
	DefaultPGDatabase      = "propiedadraiz"
	DefaultPGSSLMode       = "disable"
	DefaultProvider        = "socket"
	DefaultSessionsDir     = "whatsapp_sessions"
	DefaultPairingTimeout  = 30 * time.Second
	DefaultReconnectDelay  = 5 * time.Second
	DefaultSweepSchedule   = "0 3 * * *"
	DefaultSweepTimezone   = "America/Bogota"
	DefaultCloudAPIBaseURL = "https://graph.facebook.com/v18.0"
	DefaultWhatsAppWebURL  = "https://web.whatsapp.com"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Admin    AdminConfig    `toml:"admin"`
	Auth     AuthConfig     `toml:"auth"`
	Postgres PostgresConfig `toml:"postgres"`
	WhatsApp WhatsAppConfig `toml:"whatsapp"`
	Mail     MailConfig     `toml:"mail"`
}

type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// AllowedOrigins limits browser origins for CORS and websocket
	// upgrades. Empty allows any origin.
	AllowedOrigins []string `toml:"allowed_origins"`
}

// AdminConfig holds the single operator account. PasswordHash is a bcrypt
// hash and wins over Password when both are set.
type AdminConfig struct {
	Email        string `toml:"email"`
	Password     string `toml:"password" env:"ADMIN_PASSWORD"`
	PasswordHash string `toml:"password_hash" env:"ADMIN_PASSWORD_HASH"`
}

type AuthConfig struct {
	Enabled      bool   `toml:"enabled"`
	JWTSecret    string `toml:"jwt_secret" env:"JWT_SECRET"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// ExpiresIn parses JWTExpiresIn, falling back to the default on bad input.
func (c AuthConfig) ExpiresIn() time.Duration {
	d, err := time.ParseDuration(c.JWTExpiresIn)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultJWTExpiresIn)
	}
	return d
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password" env:"DATABASE_PASSWORD"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// DSN renders the connection string accepted by pgx and golang-migrate.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type WhatsAppConfig struct {
	Provider          string        `toml:"provider" env:"WHATSAPP_PROVIDER"`
	SessionsDir       string        `toml:"sessions_dir"`
	PairingTimeout    Duration      `toml:"pairing_timeout"`
	ReconnectDelay    Duration      `toml:"reconnect_delay"`
	SweepSchedule     string        `toml:"sweep_schedule"`
	SweepTimezone     string        `toml:"sweep_timezone"`
	SendRatePerSecond float64       `toml:"send_rate_per_second"`
	SendBurst         int           `toml:"send_burst"`
	Cloud             CloudConfig   `toml:"cloud"`
	Browser           BrowserConfig `toml:"browser"`
}

type CloudConfig struct {
	AccessToken        string `toml:"access_token" env:"WHATSAPP_CLOUD_API_TOKEN"`
	PhoneNumberID      string `toml:"phone_number_id" env:"WHATSAPP_CLOUD_PHONE_NUMBER_ID"`
	APIBaseURL         string `toml:"api_base_url"`
	WebhookVerifyToken string `toml:"webhook_verify_token" env:"WHATSAPP_WEBHOOK_VERIFY_TOKEN"`
}

type BrowserConfig struct {
	BinPath   string `toml:"bin_path"`
	Headless  bool   `toml:"headless"`
	RemoteURL string `toml:"remote_url"`
	WebURL    string `toml:"web_url"`
}

type MailConfig struct {
	Enabled  bool   `toml:"enabled"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password" env:"MAIL_PASSWORD"`
	From     string `toml:"from"`
}

// Duration decodes TOML strings such as "30s" into a time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 10,
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		WhatsApp: WhatsAppConfig{
			Provider:          DefaultProvider,
			SessionsDir:       DefaultSessionsDir,
			PairingTimeout:    Duration{DefaultPairingTimeout},
			ReconnectDelay:    Duration{DefaultReconnectDelay},
			SweepSchedule:     DefaultSweepSchedule,
			SweepTimezone:     DefaultSweepTimezone,
			SendRatePerSecond: 5,
			SendBurst:         5,
			Cloud: CloudConfig{
				APIBaseURL: DefaultCloudAPIBaseURL,
			},
			Browser: BrowserConfig{
				Headless: true,
				WebURL:   DefaultWhatsAppWebURL,
			},
		},
		Mail: MailConfig{
			Port: 587,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	// Secrets may come from the environment and win over the file.
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
