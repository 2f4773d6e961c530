package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func parse(t *testing.T, args ...string) (cfg Config, err error) {
	t.Helper()

	app := &cli.App{
		Flags: Flags(),
		Action: func(cctx *cli.Context) error {
			cfg, err = FromContext(cctx)
			return nil
		},
	}
	require.NoError(t, app.Run(append([]string{"realtime-chat"}, args...)))
	return
}

func TestDefaults(t *testing.T) {
	cfg, err := parse(t, "--database-uri", "sqlite://chat.db")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:3009", cfg.HTTPListenAddress)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 10, cfg.Limits.PageLimit)
	assert.Equal(t, 2000, cfg.Limits.MaxMessageLength)
	assert.Equal(t, 1024, cfg.QueueSize)
	assert.Equal(t, 256, cfg.SubscriberSize)
	assert.False(t, cfg.HasVerifier())
}

func TestEnvironment(t *testing.T) {
	t.Setenv("REALTIME_CHAT_DATABASE_URI", "postgres://chat@localhost/chat")
	t.Setenv("REALTIME_CHAT_PAGE_LIMIT", "25")
	t.Setenv("REALTIME_CHAT_JWT_SECRET", "s3cret")
	t.Setenv("REALTIME_CHAT_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := parse(t)
	require.NoError(t, err)

	assert.Equal(t, "postgres://chat@localhost/chat", cfg.DatabaseURI)
	assert.Equal(t, 25, cfg.Limits.PageLimit)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.HasVerifier())
}

func TestInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "no_database", args: nil},
		{name: "zero_page_limit", args: []string{"--database-uri", "sqlite://x", "--page-limit", "0"}},
		{name: "negative_length", args: []string{"--database-uri", "sqlite://x", "--max-message-length", "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.args...)
			assert.Error(t, err)
		})
	}
}
