// Package server provides configuration helpers that define runtime defaults,
// validation, and limits for the chat relay.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// FrameLimitConfig defines the per-connection frame flood guard.
type FrameLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string
	AllowedOrigins []string
	// MaxMessageSize caps a single inbound WebSocket frame in bytes.
	MaxMessageSize int64
	// MaxContentLength caps chat message content in characters.
	MaxContentLength int
	// CountUnauthenticated selects whether viewer_count includes sockets
	// that have not logged in.
	CountUnauthenticated bool
	SendBuffer           int
	FrameLimit           FrameLimitConfig

	DatabasePath   string
	JWTSecret      string
	TokenTTL       time.Duration
	IdentityDomain string
	RedisAddr      string
}

const (
	defaultPort             = ":8080"
	defaultMaxMessageSize   = 64 * 1024
	defaultMaxContentLength = 500
	defaultSendBuffer       = 256
	defaultFrameBurst       = 10
	defaultTokenTTL         = 7 * 24 * time.Hour
)

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize:       defaultMaxMessageSize,
		MaxContentLength:     defaultMaxContentLength,
		CountUnauthenticated: true,
		SendBuffer:           defaultSendBuffer,
		FrameLimit: FrameLimitConfig{
			Burst:          defaultFrameBurst,
			RefillInterval: time.Second,
		},
		DatabasePath:   "relaychat.db",
		TokenTTL:       defaultTokenTTL,
		IdentityDomain: "relaychat.local",
	}
}

// Sanitize replaces invalid values with defaults and normalizes the origin
// list. The returned Config is safe to hand to NewHub.
func (cfg Config) Sanitize() Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = defaultMaxContentLength
	}

	if floor := minFrameSize(cfg.MaxContentLength); cfg.MaxMessageSize < floor {
		cfg.MaxMessageSize = floor
	}

	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}

	if cfg.FrameLimit.Burst <= 0 {
		cfg.FrameLimit.Burst = defaultFrameBurst
	}

	if cfg.FrameLimit.RefillInterval <= 0 {
		cfg.FrameLimit.RefillInterval = time.Second
	}

	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// minFrameSize is the smallest frame limit that still carries an over-long
// chat message, so that it is truncated instead of closing the connection.
// Each content character is budgeted 24 bytes, enough for a JSON surrogate
// pair escape, plus room for the envelope.
func minFrameSize(maxContentLength int) int64 {
	return int64(maxContentLength)*4*6 + 1024
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if maxContent := os.Getenv("MAX_CONTENT_LENGTH"); maxContent != "" {
		cfg.MaxContentLength = parseIntValue(maxContent, cfg.MaxContentLength)
	}

	if countAll := os.Getenv("COUNT_UNAUTHENTICATED_VIEWERS"); countAll != "" {
		cfg.CountUnauthenticated = parseBool(countAll, cfg.CountUnauthenticated)
	}

	if burst := os.Getenv("FRAME_BURST"); burst != "" {
		cfg.FrameLimit.Burst = parseIntValue(burst, cfg.FrameLimit.Burst)
	}

	if interval := os.Getenv("FRAME_REFILL_INTERVAL"); interval != "" {
		cfg.FrameLimit.RefillInterval = parseRefillInterval(interval, cfg.FrameLimit.RefillInterval)
	}

	if path := os.Getenv("DATABASE_PATH"); path != "" {
		cfg.DatabasePath = path
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")

	if ttl := os.Getenv("TOKEN_TTL"); ttl != "" {
		if parsed, err := time.ParseDuration(ttl); err == nil && parsed > 0 {
			cfg.TokenTTL = parsed
		}
	}

	if domain := os.Getenv("IDENTITY_DOMAIN"); domain != "" {
		cfg.IdentityDomain = domain
	}

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func parseBool(value string, defaultValue bool) bool {
	if parsed, err := strconv.ParseBool(value); err == nil {
		return parsed
	}
	return defaultValue
}
