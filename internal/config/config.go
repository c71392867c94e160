package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Server     ServerConfig
	Realtime   RealtimeConfig
	Log        LogConfig
	SelfHosted bool
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings. An empty Addr disables the
// cross-instance relay and the server runs standalone.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
	Channel  string
}

// JWTConfig holds the secret used to verify attribution tokens. Empty means
// callers identify themselves with the X-Display-Name header only.
type JWTConfig struct {
	Secret string //nolint:gosec // G117: JWT signing secret config
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	CORSOrigins       []string
	RateLimitRPS      float64
	RateLimitBurst    int
}

// RealtimeConfig holds websocket and heartbeat settings.
type RealtimeConfig struct {
	PingInterval   time.Duration
	MaxMissedPings int
	WriteTimeout   time.Duration
	SendBuffer     int
	ReadLimit      int64
	AllowedOrigins []string
}

// LogConfig selects zerolog's level and output format ("json" or "text").
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only. In production,
// the DB password and TLS mode must be set explicitly.
func Load() (*Config, error) {
	dbPort, err := getEnvInt("BOARDSYNC_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("BOARDSYNC_DB_MAX_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("BOARDSYNC_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readHeaderTimeout, err := getEnvDuration("BOARDSYNC_SERVER_READ_HEADER_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	shutdownTimeout, err := getEnvDuration("BOARDSYNC_SERVER_SHUTDOWN_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateLimitRPS, err := getEnvFloat("BOARDSYNC_RATE_LIMIT_RPS", 50)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateLimitBurst, err := getEnvInt("BOARDSYNC_RATE_LIMIT_BURST", 100)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	pingInterval, err := getEnvDuration("BOARDSYNC_WS_PING_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxMissed, err := getEnvInt("BOARDSYNC_WS_MAX_MISSED_PINGS", 3)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("BOARDSYNC_WS_WRITE_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	sendBuffer, err := getEnvInt("BOARDSYNC_WS_SEND_BUFFER", 32)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readLimit, err := getEnvInt("BOARDSYNC_WS_READ_LIMIT", 4096)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	selfHosted, err := getEnvBool("BOARDSYNC_SELF_HOSTED", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	corsOrigins := getEnvList("BOARDSYNC_CORS_ORIGINS", []string{"http://localhost:5173"})

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("BOARDSYNC_DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("BOARDSYNC_DB_USER", "boardsync"),
			Password: getEnv("BOARDSYNC_DB_PASSWORD", ""),
			DBName:   getEnv("BOARDSYNC_DB_NAME", "boardsync_dev"),
			SSLMode:  getEnv("BOARDSYNC_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("BOARDSYNC_REDIS_ADDR", ""),
			Password: getEnv("BOARDSYNC_REDIS_PASSWORD", ""),
			DB:       redisDB,
			Channel:  getEnv("BOARDSYNC_REDIS_CHANNEL", "boardsync:events"),
		},
		JWT: JWTConfig{
			Secret: getEnv("BOARDSYNC_JWT_SECRET", ""),
		},
		Server: ServerConfig{
			Addr:              getEnv("BOARDSYNC_SERVER_ADDR", ":8080"),
			ReadHeaderTimeout: readHeaderTimeout,
			ShutdownTimeout:   shutdownTimeout,
			CORSOrigins:       corsOrigins,
			RateLimitRPS:      rateLimitRPS,
			RateLimitBurst:    rateLimitBurst,
		},
		Realtime: RealtimeConfig{
			PingInterval:   pingInterval,
			MaxMissedPings: maxMissed,
			WriteTimeout:   writeTimeout,
			SendBuffer:     sendBuffer,
			ReadLimit:      int64(readLimit),
			AllowedOrigins: getEnvList("BOARDSYNC_WS_ALLOWED_ORIGINS", originHosts(corsOrigins)),
		},
		Log: LogConfig{
			Level:  getEnv("BOARDSYNC_LOG_LEVEL", "info"),
			Format: getEnv("BOARDSYNC_LOG_FORMAT", "json"),
		},
		SelfHosted: selfHosted,
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	// The JWT secret is optional, but a short one is worse than none.
	if c.JWT.Secret != "" && len(c.JWT.Secret) < 32 {
		return errors.New("BOARDSYNC_JWT_SECRET must be at least 32 characters")
	}

	if c.Database.SSLMode == "disable" && !c.SelfHosted {
		log.Warn().Msg("BOARDSYNC_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
	}

	// Bounds checks.
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("BOARDSYNC_DB_PORT must be 1-65535, got %d", c.Database.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("BOARDSYNC_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
	}
	if c.Server.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("BOARDSYNC_SERVER_READ_HEADER_TIMEOUT must be positive, got %s", c.Server.ReadHeaderTimeout)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("BOARDSYNC_SERVER_SHUTDOWN_TIMEOUT must be positive, got %s", c.Server.ShutdownTimeout)
	}
	if c.Server.RateLimitRPS <= 0 {
		return fmt.Errorf("BOARDSYNC_RATE_LIMIT_RPS must be positive, got %g", c.Server.RateLimitRPS)
	}
	if c.Server.RateLimitBurst < 1 {
		return fmt.Errorf("BOARDSYNC_RATE_LIMIT_BURST must be >= 1, got %d", c.Server.RateLimitBurst)
	}
	if c.Realtime.PingInterval <= 0 {
		return fmt.Errorf("BOARDSYNC_WS_PING_INTERVAL must be positive, got %s", c.Realtime.PingInterval)
	}
	if c.Realtime.MaxMissedPings < 1 {
		return fmt.Errorf("BOARDSYNC_WS_MAX_MISSED_PINGS must be >= 1, got %d", c.Realtime.MaxMissedPings)
	}
	if c.Realtime.WriteTimeout <= 0 {
		return fmt.Errorf("BOARDSYNC_WS_WRITE_TIMEOUT must be positive, got %s", c.Realtime.WriteTimeout)
	}
	if c.Realtime.SendBuffer < 1 {
		return fmt.Errorf("BOARDSYNC_WS_SEND_BUFFER must be >= 1, got %d", c.Realtime.SendBuffer)
	}
	if c.Realtime.ReadLimit < 512 {
		return fmt.Errorf("BOARDSYNC_WS_READ_LIMIT must be >= 512, got %d", c.Realtime.ReadLimit)
	}
	if c.Redis.Addr != "" && c.Redis.Channel == "" {
		return errors.New("BOARDSYNC_REDIS_CHANNEL must not be empty when BOARDSYNC_REDIS_ADDR is set")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("BOARDSYNC_LOG_FORMAT must be json or text, got %q", c.Log.Format)
	}

	return nil
}

// URL returns the PostgreSQL connection string in URL form, accepted by both
// pgxpool and the migration driver.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

// originHosts strips the scheme from CORS origins so they can be used as
// websocket origin patterns, which match on host only.
func originHosts(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
