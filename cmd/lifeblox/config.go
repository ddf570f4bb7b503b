package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/lifeblox/internal/httpapi"
	"github.com/MarkoPoloResearchLab/lifeblox/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix = "LIFEBLOX"

	flagDatabaseURL    = "database-url"
	flagStore          = "store"
	flagLogLevel       = "log-level"
	flagLogFormat      = "log-format"
	flagLogFile        = "log-file"
	flagHTTPAddr       = "http-addr"
	flagGRPCAddr       = "grpc-addr"
	flagAllowedOrigins = "allowed-origins"
	flagSigningKey     = "session-signing-key"
	flagSessionIssuer  = "session-issuer"
	flagSessionCookie  = "session-cookie"
	flagRedisAddr      = "redis-addr"
	flagRedisPassword  = "redis-password"
	flagRedisDB        = "redis-db"
	flagCacheTTL       = "cache-ttl"
	flagMetrics        = "metrics"
	flagMaxAttempts    = "max-attempts"

	storeGorm = "gorm"
	storePgx  = "pgx"

	defaultDatabaseURL = "sqlite:///tmp/lifeblox.db"
	defaultGRPCAddr    = ":7000"
	defaultHTTPAddr    = ":8080"
	defaultCacheTTL    = time.Minute
	defaultMaxAttempts = 5
)

// runtimeConfig is the merged view of flags, LIFEBLOX_* environment and defaults.
type runtimeConfig struct {
	DatabaseURL   string
	Store         string
	Logging       logging.Config
	HTTP          httpapi.Config
	GRPCAddr      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration
	Metrics       bool
	MaxAttempts   int
}

func addPersistentFlags(flags *pflag.FlagSet) {
	flags.String(flagDatabaseURL, defaultDatabaseURL, "database URL (postgres://... or sqlite path)")
	flags.String(flagStore, storeGorm, "store implementation: gorm or pgx")
	flags.String(flagLogLevel, "info", "log level")
	flags.String(flagLogFormat, logging.FormatJSON, "log format: json or console")
	flags.String(flagLogFile, "", "optional rotating log file")
	flags.Int(flagMaxAttempts, defaultMaxAttempts, "optimistic write attempts per mutation")
}

func addServeFlags(flags *pflag.FlagSet) {
	flags.String(flagHTTPAddr, defaultHTTPAddr, "HTTP listen address")
	flags.String(flagGRPCAddr, defaultGRPCAddr, "gRPC listen address (empty disables)")
	flags.String(flagAllowedOrigins, "", "comma-separated CORS origins")
	flags.String(flagSigningKey, "", "HS256 session signing key")
	flags.String(flagSessionIssuer, "", "session issuer")
	flags.String(flagSessionCookie, "", "session cookie name")
	flags.String(flagRedisAddr, "", "redis address for the availability cache (empty disables)")
	flags.String(flagRedisPassword, "", "redis password")
	flags.Int(flagRedisDB, 0, "redis database")
	flags.Duration(flagCacheTTL, defaultCacheTTL, "availability cache TTL")
	flags.Bool(flagMetrics, true, "expose /metrics")
}

func loadConfig(cmd *cobra.Command) (*runtimeConfig, error) {
	settings := viper.New()
	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
	if err := settings.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}

	cfg := &runtimeConfig{
		DatabaseURL: strings.TrimSpace(settings.GetString(flagDatabaseURL)),
		Store:       strings.ToLower(strings.TrimSpace(settings.GetString(flagStore))),
		Logging: logging.Config{
			Level:    settings.GetString(flagLogLevel),
			Format:   settings.GetString(flagLogFormat),
			FilePath: settings.GetString(flagLogFile),
		},
		HTTP: httpapi.Config{
			ListenAddr:        settings.GetString(flagHTTPAddr),
			AllowedOrigins:    httpapi.ParseAllowedOrigins(settings.GetString(flagAllowedOrigins)),
			SessionSigningKey: settings.GetString(flagSigningKey),
			SessionIssuer:     settings.GetString(flagSessionIssuer),
			SessionCookieName: settings.GetString(flagSessionCookie),
		},
		GRPCAddr:      strings.TrimSpace(settings.GetString(flagGRPCAddr)),
		RedisAddr:     strings.TrimSpace(settings.GetString(flagRedisAddr)),
		RedisPassword: settings.GetString(flagRedisPassword),
		RedisDB:       settings.GetInt(flagRedisDB),
		CacheTTL:      settings.GetDuration(flagCacheTTL),
		Metrics:       settings.GetBool(flagMetrics),
		MaxAttempts:   settings.GetInt(flagMaxAttempts),
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	if cfg.Store == "" {
		cfg.Store = storeGorm
	}
	if cfg.Store != storeGorm && cfg.Store != storePgx {
		return nil, fmt.Errorf("unsupported store %q", cfg.Store)
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be positive")
	}
	return cfg, nil
}
