package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"

	"github.com/eashman/realtime-chat/internal/broadcast"
	"github.com/eashman/realtime-chat/internal/cctx"
	"github.com/eashman/realtime-chat/internal/chat"
	"github.com/eashman/realtime-chat/internal/config"
	"github.com/eashman/realtime-chat/internal/controllers"
	"github.com/eashman/realtime-chat/internal/database"
	"github.com/eashman/realtime-chat/internal/identity"
	"github.com/eashman/realtime-chat/internal/policy"
	"github.com/eashman/realtime-chat/internal/typing"
)

func main() {
	ctx := context.Background()
	ctx, _ = signal.NotifyContext(ctx, os.Interrupt)

	config.LoadDotenv()

	app := &cli.App{
		Name:  "realtime-chat",
		Usage: "chat rooms with live updates over websockets",
		Flags: config.Flags(),
		Before: func(cctx *cli.Context) (err error) {
			err = setupLogging(cctx.Bool("debug"))
			return
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "serve the HTTP API and websocket cable",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply database migrations",
				Action: migrate,
			},
			{
				Name:  "purge-room",
				Usage: "permanently delete a room with its messages",
				Flags: []cli.Flag{
					&cli.Int64Flag{
						Name:     "id",
						Required: true,
					},
				},
				Action: purgeRoom,
			},
			{
				Name:  "issue-token",
				Usage: "sign a development bearer token",
				Flags: []cli.Flag{
					&cli.Int64Flag{
						Name:     "user-id",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "username",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "token-secret-key",
						Usage:   "hex encoded Ed25519 secret key; a fresh one is generated when empty",
						EnvVars: []string{"REALTIME_CHAT_TOKEN_SECRET_KEY"},
					},
					&cli.BoolFlag{
						Name:  "jwt",
						Usage: "sign an HS256 JWT with --jwt-secret instead",
					},
					&cli.DurationFlag{
						Name:  "ttl",
						Value: 24 * time.Hour,
					},
				},
				Action: issueToken,
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		zap.L().Fatal("unhandled error", zap.Error(err))
	}
}

func setupLogging(debugMode bool) error {
	var cfg zap.Config

	if debugMode {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level.SetLevel(zapcore.DebugLevel)
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.Development = false
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level.SetLevel(zapcore.InfoLevel)
	}

	cfg.OutputPaths = []string{
		"stdout",
	}

	logger, err := cfg.Build()
	if err != nil {
		return err
	}

	zap.ReplaceGlobals(logger)

	return nil
}

// openDatabase connects and checks the connection. The returned closer also
// flushes the query log.
func openDatabase(ctx context.Context, cfg config.Config) (db *bun.DB, closer func(), err error) {
	if db, err = database.Open(cfg.DatabaseURI); err != nil {
		return
	}

	closer = func() { _ = db.Close() }
	if cfg.Debug {
		var dbLogger io.WriteCloser = &zapio.Writer{Log: zap.L().With(zap.String("section", "bun")), Level: zapcore.DebugLevel}
		database.EnableQueryLog(db, dbLogger)

		closer = func() {
			_ = dbLogger.Close()
			_ = db.Close()
		}
	}

	if _, err = db.ExecContext(ctx, "SELECT 1"); err != nil {
		closer()
		err = fmt.Errorf("failed to test database connection: %w", err)
	}
	return
}

func serve(cctx *cli.Context) (err error) {
	ctx := cctx.Context
	defer func() { _ = zap.L().Sync() }()

	var cfg config.Config
	if cfg, err = config.FromContext(cctx); err != nil {
		return
	}

	var verifier identity.Verifier
	if verifier, err = newVerifier(cfg); err != nil {
		return
	}

	db, closeDB, err := openDatabase(ctx, cfg)
	if err != nil {
		return
	}
	defer closeDB()

	if err = database.Migrate(ctx, db); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hub := broadcast.NewRouter(cfg.QueueSize, cfg.SubscriberSize)
	if cfg.RedisURI != "" {
		var opts *redis.Options
		if opts, err = redis.ParseURL(cfg.RedisURI); err != nil {
			err = fmt.Errorf("unable to parse redis uri: %w", err)
			return
		}

		client := redis.NewClient(opts)
		defer func() { _ = client.Close() }()

		relay := broadcast.NewRedisRelay(client, hub, cfg.QueueSize)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				zap.L().Error("redis relay stopped", zap.Error(err))
			}
		}()
	}
	go hub.Run(ctx)

	rooms := chat.NewRoomService(db, policy.Default{}, hub)
	handler := controllers.NewHandler(controllers.Services{
		DB:          db,
		Rooms:       rooms,
		Messages:    chat.NewMessageService(rooms, cfg.Limits),
		Attachments: chat.NewAttachmentService(rooms),
		Typing:      &typing.Tracker{Access: rooms, Publisher: hub},
		Router:      hub,
		Auth: &controllers.Auth{
			Verifier: verifier,
			Users:    chat.NewUserService(db),
		},
		AllowedOrigins: cfg.AllowedOrigins,
		Debug:          cfg.Debug,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPListenAddress,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	serverDone := make(chan interface{})
	go func() {
		zap.L().Info("serving requests", zap.String("addr", "http://"+srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("failed to listen for http requests", zap.Error(err))
		}
		close(serverDone)
	}()

	select {
	case <-serverDone:
	case <-ctx.Done():
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()

		if err = srv.Shutdown(shutdownCtx); err != nil {
			err = fmt.Errorf("failed to shut down http server: %w", err)
		}
	}

	return
}

func newVerifier(cfg config.Config) (verifier identity.Verifier, err error) {
	if !cfg.HasVerifier() {
		err = errors.New("either --token-public-key or --jwt-secret is required")
		return
	}

	var chain identity.Chain
	if cfg.TokenPublicKey != "" {
		var v *identity.PasetoVerifier
		if v, err = identity.NewPasetoVerifier(cfg.TokenPublicKey); err != nil {
			return
		}
		chain = append(chain, v)
	}
	if cfg.JWTSecret != "" {
		chain = append(chain, &identity.JWTVerifier{Secret: []byte(cfg.JWTSecret)})
	}

	verifier = chain
	return
}

func migrate(cctx *cli.Context) (err error) {
	ctx := cctx.Context
	defer func() { _ = zap.L().Sync() }()

	var cfg config.Config
	if cfg, err = config.FromContext(cctx); err != nil {
		return
	}

	db, closeDB, err := openDatabase(ctx, cfg)
	if err != nil {
		return
	}
	defer closeDB()

	return database.Migrate(ctx, db)
}

func purgeRoom(cctx *cli.Context) (err error) {
	ctx := cctx.Context
	defer func() { _ = zap.L().Sync() }()

	var cfg config.Config
	if cfg, err = config.FromContext(cctx); err != nil {
		return
	}

	db, closeDB, err := openDatabase(ctx, cfg)
	if err != nil {
		return
	}
	defer closeDB()

	roomID := cctx.Int64("id")
	rooms := chat.NewRoomService(db, policy.Default{}, broadcast.NewRouter(0, 0))
	if err = rooms.Purge(ctx, roomID); err != nil {
		err = fmt.Errorf("failed to purge room %d: %w", roomID, err)
		return
	}

	zap.L().Info("purged room", zap.Int64("room_id", roomID))
	return
}

func issueToken(c *cli.Context) (err error) {
	actor := cctx.Actor{ID: c.Int64("user-id"), Username: c.String("username")}
	ttl := c.Duration("ttl")

	if c.Bool("jwt") {
		secret := c.String("jwt-secret")
		if secret == "" {
			return errors.New("--jwt-secret is required with --jwt")
		}

		var token string
		if token, err = identity.SignJWT([]byte(secret), actor, ttl); err != nil {
			return
		}
		fmt.Fprintln(c.App.Writer, token)
		return
	}

	var signer *identity.PasetoSigner
	if signer, err = identity.NewPasetoSigner(c.String("token-secret-key")); err != nil {
		return
	}

	if c.String("token-secret-key") == "" {
		fmt.Fprintf(c.App.ErrWriter, "secret key: %s\npublic key: %s\n", signer.SecretKeyHex(), signer.PublicKeyHex())
	}
	fmt.Fprintln(c.App.Writer, signer.Sign(actor, ttl))
	return
}
