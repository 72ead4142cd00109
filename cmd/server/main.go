// Command server runs the relay chat WebSocket server.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/relaychat/internal/cooldown"
	"github.com/Tyrowin/relaychat/internal/identity"
	"github.com/Tyrowin/relaychat/internal/server"
	"github.com/Tyrowin/relaychat/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	config := server.NewConfigFromEnv()

	var logFormat, logLevel, origins string
	flagSet := pflag.NewFlagSet("relaychat", pflag.ContinueOnError)
	flagSet.StringVar(&config.Port, "addr", config.Port, "listen address")
	flagSet.StringVar(&origins, "allowed-origins", strings.Join(config.AllowedOrigins, ","), "comma-separated WebSocket origins, or *")
	flagSet.StringVar(&config.DatabasePath, "db", config.DatabasePath, "SQLite database path")
	flagSet.StringVar(&config.RedisAddr, "redis-addr", config.RedisAddr, "Redis address for the shared chat cooldown (empty uses memory)")
	flagSet.IntVar(&config.MaxContentLength, "max-content", config.MaxContentLength, "chat message length cap in characters")
	flagSet.BoolVar(&config.CountUnauthenticated, "count-unauthenticated", config.CountUnauthenticated, "include sockets that have not logged in in viewer_count")
	flagSet.StringVar(&logFormat, "log-format", "text", "log format: text or json")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	config.AllowedOrigins = strings.Split(origins, ",")

	logger, err := newLogger(logFormat, logLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if config.JWTSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return err
		}
		config.JWTSecret = secret
		logger.Warn("JWT_SECRET is not set; using a random secret, sessions will not survive a restart")
	}

	db, err := store.Open(config.DatabasePath)
	if err != nil {
		return err
	}

	provider, err := identity.NewProvider(db, identity.Config{
		Domain:     config.IdentityDomain,
		BcryptCost: bcrypt.DefaultCost,
		Token: identity.TokenConfig{
			SecretKey: config.JWTSecret,
			TTL:       config.TokenTTL,
		},
	})
	if err != nil {
		return err
	}

	limiter, closeLimiter, err := newLimiter(config, logger)
	if err != nil {
		return err
	}

	hub := server.NewHub(*config, server.Options{
		Store:    store.New(db),
		Identity: provider,
		Limiter:  limiter,
		Logger:   logger,
	})
	server.StartHub(hub)

	httpServer := server.CreateServer(config.Port, server.SetupRoutes(hub))
	go func() {
		if err := server.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("relay chat server started",
		"addr", config.Port,
		"database", config.DatabasePath,
		"redis", config.RedisAddr != "",
		"count_unauthenticated", config.CountUnauthenticated)

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			// One operation, so the steps run in order: stop accepting
			// upgrades, drain the hub, then release storage.
			"relaychat": func(ctx context.Context) error {
				logger.Info("graceful shutdown initiated")
				var errs []error
				if err := server.ShutdownServer(httpServer, remaining(ctx)); err != nil {
					errs = append(errs, fmt.Errorf("http server: %w", err))
				}
				if err := hub.Shutdown(remaining(ctx)); err != nil {
					errs = append(errs, fmt.Errorf("hub: %w", err))
				}
				if err := closeLimiter(); err != nil {
					errs = append(errs, fmt.Errorf("redis: %w", err))
				}
				if sqlDB, err := db.DB(); err == nil {
					if err := sqlDB.Close(); err != nil {
						errs = append(errs, fmt.Errorf("database: %w", err))
					}
				}
				return errors.Join(errs...)
			},
		},
	)

	exitCode := <-wait
	logger.Info("relay chat server exited", "code", exitCode)
	os.Exit(exitCode)
	return nil
}

func newLogger(format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q: want text or json", format)
	}
}

// newLimiter returns the Redis-backed cooldown when an address is
// configured and the in-memory one otherwise.
func newLimiter(config *server.Config, logger *slog.Logger) (cooldown.Limiter, func() error, error) {
	if config.RedisAddr == "" {
		return cooldown.NewMemory(cooldown.DefaultWindow), func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{Addr: config.RedisAddr})
	limiter := cooldown.NewRedis(client, cooldown.DefaultWindow, "relaychat:cooldown:")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := limiter.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", config.RedisAddr, err)
	}

	logger.Info("using redis chat cooldown", "addr", config.RedisAddr)
	return limiter, client.Close, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate JWT secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// remaining converts a shutdown context deadline to a timeout.
func remaining(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
	}
	return time.Second
}
