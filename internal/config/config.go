// Package config declares the command line flags and collects them into a
// Config once parsed.
package config

import (
	"errors"
	"strings"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/eashman/realtime-chat/internal/broadcast"
	"github.com/eashman/realtime-chat/internal/chat"
)

const envPrefix = "REALTIME_CHAT_"

type Config struct {
	Debug             bool
	HTTPListenAddress string
	DatabaseURI       string
	RedisURI          string
	TokenPublicKey    string
	JWTSecret         string
	AllowedOrigins    []string
	Limits            chat.Limits
	QueueSize         int
	SubscriberSize    int
}

// LoadDotenv reads an optional .env file into the environment. Variables
// that are already set win.
func LoadDotenv(paths ...string) {
	_ = godotenv.Load(paths...)
}

func env(name string) []string {
	return []string{envPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))}
}

// Flags are shared by every command.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "debug",
			Value:   false,
			EnvVars: env("debug"),
		},
		&cli.StringFlag{
			Name:    "http-listen-address",
			Value:   "127.0.0.1:3009",
			EnvVars: env("http-listen-address"),
		},
		&cli.StringFlag{
			Name:    "database-uri",
			Usage:   "postgres://... or sqlite://path",
			EnvVars: env("database-uri"),
		},
		&cli.StringFlag{
			Name:    "redis-uri",
			Usage:   "enables cross-instance fan-out when set",
			EnvVars: env("redis-uri"),
		},
		&cli.StringFlag{
			Name:    "token-public-key",
			Usage:   "hex encoded Ed25519 public key for v4.public tokens",
			EnvVars: env("token-public-key"),
		},
		&cli.StringFlag{
			Name:    "jwt-secret",
			Usage:   "HS256 secret for JWT bearer tokens",
			EnvVars: env("jwt-secret"),
		},
		&cli.StringSliceFlag{
			Name:    "allowed-origins",
			Value:   cli.NewStringSlice("*"),
			EnvVars: env("allowed-origins"),
		},
		&cli.IntFlag{
			Name:    "page-limit",
			Value:   chat.DefaultPageLimit,
			EnvVars: env("page-limit"),
		},
		&cli.IntFlag{
			Name:    "max-message-length",
			Value:   chat.DefaultMaxMessageLength,
			EnvVars: env("max-message-length"),
		},
		&cli.IntFlag{
			Name:    "broadcast-queue-size",
			Value:   broadcast.DefaultQueueSize,
			EnvVars: env("broadcast-queue-size"),
		},
		&cli.IntFlag{
			Name:    "subscriber-buffer-size",
			Value:   broadcast.DefaultSubscriberSize,
			EnvVars: env("subscriber-buffer-size"),
		},
	}
}

func FromContext(cctx *cli.Context) (cfg Config, err error) {
	cfg = Config{
		Debug:             cctx.Bool("debug"),
		HTTPListenAddress: cctx.String("http-listen-address"),
		DatabaseURI:       cctx.String("database-uri"),
		RedisURI:          cctx.String("redis-uri"),
		TokenPublicKey:    cctx.String("token-public-key"),
		JWTSecret:         cctx.String("jwt-secret"),
		AllowedOrigins:    cctx.StringSlice("allowed-origins"),
		Limits: chat.Limits{
			PageLimit:        cctx.Int("page-limit"),
			MaxMessageLength: cctx.Int("max-message-length"),
		},
		QueueSize:      cctx.Int("broadcast-queue-size"),
		SubscriberSize: cctx.Int("subscriber-buffer-size"),
	}

	if cfg.DatabaseURI == "" {
		err = errors.New("--database-uri is required")
		return
	}
	if cfg.Limits.PageLimit <= 0 {
		err = errors.New("--page-limit must be positive")
		return
	}
	if cfg.Limits.MaxMessageLength <= 0 {
		err = errors.New("--max-message-length must be positive")
	}
	return
}

// HasVerifier reports whether any token key is configured.
func (c Config) HasVerifier() bool {
	return c.TokenPublicKey != "" || c.JWTSecret != ""
}
