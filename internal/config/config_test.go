package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lms-server/internal/config"
)

func TestLoad_TTLsAreIntegerSeconds(t *testing.T) {
	t.Setenv("DB_POSTGRESQL_WRITE_DSN", "postgres://localhost/test")
	t.Setenv("SIGNED_URL_TTL_SECONDS", "3600")
	t.Setenv("UPLOAD_TICKET_TTL_SECONDS", "600")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.SignedURLTTL())
	assert.Equal(t, 10*time.Minute, cfg.UploadTicketTTL())
}

func TestLoad_TTLDefaults(t *testing.T) {
	t.Setenv("DB_POSTGRESQL_WRITE_DSN", "postgres://localhost/test")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.SignedURLTTL())
	assert.Equal(t, time.Hour, cfg.UploadTicketTTL())
}
