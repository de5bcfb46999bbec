package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultProvider, cfg.WhatsApp.Provider)
	assert.Equal(t, DefaultSessionsDir, cfg.WhatsApp.SessionsDir)
	assert.Equal(t, 30*time.Second, cfg.WhatsApp.PairingTimeout.Duration)
	assert.Equal(t, 5*time.Second, cfg.WhatsApp.ReconnectDelay.Duration)
	assert.Equal(t, "0 3 * * *", cfg.WhatsApp.SweepSchedule)
	assert.Equal(t, "America/Bogota", cfg.WhatsApp.SweepTimezone)
}

func TestLoadDecodesFileAndEnvOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	raw := `
[server]
addr = ":9090"

[whatsapp]
provider = "cloud"
pairing_timeout = "45s"

[whatsapp.cloud]
phone_number_id = "from-file"
access_token = "file-token"
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))
	t.Setenv("WHATSAPP_CLOUD_API_TOKEN", "env-token")
	t.Setenv("ADMIN_PASSWORD_HASH", "$2a$10$hash")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "cloud", cfg.WhatsApp.Provider)
	assert.Equal(t, 45*time.Second, cfg.WhatsApp.PairingTimeout.Duration)
	assert.Equal(t, "from-file", cfg.WhatsApp.Cloud.PhoneNumberID)
	assert.Equal(t, "env-token", cfg.WhatsApp.Cloud.AccessToken)
	assert.Equal(t, "$2a$10$hash", cfg.Admin.PasswordHash)
	// Untouched sections keep their defaults.
	assert.Equal(t, 5*time.Second, cfg.WhatsApp.ReconnectDelay.Duration)
}

func TestAuthExpiresInFallsBack(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 24*time.Hour, AuthConfig{JWTExpiresIn: "bogus"}.ExpiresIn())
	assert.Equal(t, time.Hour, AuthConfig{JWTExpiresIn: "1h"}.ExpiresIn())
}
