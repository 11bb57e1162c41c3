package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/ertriage/ertriage/internal/domain/triage"
	"github.com/ertriage/ertriage/internal/platform/db"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	DatabaseDriver string        `mapstructure:"DATABASE_DRIVER"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	DBAutoMigrate  bool          `mapstructure:"DB_AUTO_MIGRATE"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	StaticDir      string        `mapstructure:"STATIC_DIR"`

	TriagePolicy      string        `mapstructure:"TRIAGE_POLICY"`
	TriageRulesFile   string        `mapstructure:"TRIAGE_RULES_FILE"`
	StatusTransitions string        `mapstructure:"STATUS_TRANSITIONS"`
	ListCacheTTL      time.Duration `mapstructure:"LIST_CACHE_TTL"`

	EventBuffer  int    `mapstructure:"EVENT_BUFFER"`
	RedisURL     string `mapstructure:"REDIS_URL"`
	RedisStream  string `mapstructure:"REDIS_STREAM"`
	RedisMaxLen  int64  `mapstructure:"REDIS_STREAM_MAXLEN"`
	MQTTBroker   string `mapstructure:"MQTT_BROKER"`
	MQTTTopic    string `mapstructure:"MQTT_TOPIC"`
	MQTTClientID string `mapstructure:"MQTT_CLIENT_ID"`
	MQTTQoS      int    `mapstructure:"MQTT_QOS"`
	SentryDSN    string `mapstructure:"SENTRY_DSN"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_AUTO_MIGRATE",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "BODY_LIMIT", "STATIC_DIR",
	"TRIAGE_POLICY", "TRIAGE_RULES_FILE", "STATUS_TRANSITIONS", "LIST_CACHE_TTL",
	"EVENT_BUFFER", "REDIS_URL", "REDIS_STREAM", "REDIS_STREAM_MAXLEN",
	"MQTT_BROKER", "MQTT_TOPIC", "MQTT_CLIENT_ID", "MQTT_QOS", "SENTRY_DSN",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

// Load reads .env (when present) and the environment.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile reads the given dotenv file, if it exists, overlaid by the
// environment.
func LoadFile(path string) (*Config, error) {
	cfg, err := LoadOffline(path)
	if err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		if cfg.DatabaseDriver != db.DriverSQLite {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
		cfg.DatabaseURL = "ertriage.db"
	}
	return cfg, nil
}

// LoadOffline reads configuration like LoadFile without requiring a
// database, for commands that never open one.
func LoadOffline(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "4000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_DRIVER", db.DriverPostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_AUTO_MIGRATE", true)
	v.SetDefault("CORS_ORIGINS", "http://localhost:4000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("TRIAGE_POLICY", string(triage.PolicyRuleBased))
	v.SetDefault("STATUS_TRANSITIONS", string(triage.TransitionsPermissive))
	v.SetDefault("LIST_CACHE_TTL", "2s")
	v.SetDefault("EVENT_BUFFER", 256)
	v.SetDefault("REDIS_STREAM", "ertriage:events")
	v.SetDefault("REDIS_STREAM_MAXLEN", 10000)
	v.SetDefault("MQTT_TOPIC", "ertriage/events")
	v.SetDefault("MQTT_CLIENT_ID", "ertriage")
	v.SetDefault("MQTT_QOS", 1)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(strings.Join(cfg.CORSOrigins, ","))
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Policy returns the parsed triage policy. Call after Validate.
func (c *Config) Policy() triage.Policy {
	p, _ := triage.ParsePolicy(c.TriagePolicy)
	return p
}

// TransitionMode returns the parsed status transition mode. Call after
// Validate.
func (c *Config) TransitionMode() triage.TransitionMode {
	m, _ := triage.ParseTransitionMode(c.StatusTransitions)
	return m
}

// Level returns the zerolog level for LOG_LEVEL, defaulting to info.
func (c *Config) Level() zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return l
}

// Validate checks that the configuration is usable before anything is
// started.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case db.DriverPostgres, db.DriverMySQL, db.DriverSQLite:
	default:
		return fmt.Errorf("DATABASE_DRIVER must be %q, %q or %q, got %q",
			db.DriverPostgres, db.DriverMySQL, db.DriverSQLite, c.DatabaseDriver)
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be at least 1, got %d", c.DBMaxConns)
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS, got %d", c.DBMinConns)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}

	if _, err := triage.ParsePolicy(c.TriagePolicy); err != nil {
		return fmt.Errorf("TRIAGE_POLICY: %w", err)
	}
	if _, err := triage.ParseTransitionMode(c.StatusTransitions); err != nil {
		return fmt.Errorf("STATUS_TRANSITIONS: %w", err)
	}

	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative, got %s", c.RequestTimeout)
	}
	if c.ListCacheTTL < 0 {
		return fmt.Errorf("LIST_CACHE_TTL must not be negative, got %s", c.ListCacheTTL)
	}
	if c.EventBuffer < 1 {
		return fmt.Errorf("EVENT_BUFFER must be at least 1, got %d", c.EventBuffer)
	}
	if c.MQTTQoS < 0 || c.MQTTQoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.MQTTQoS)
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
