package server

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultHost      = "localhost"
	DefaultPort      = 6784
	DefaultUsersFile = "users.txt"
	DefaultLogDir    = "logs"
	DefaultLogLevel  = "info"
)

var validate = validator.New()

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `validate:"gte=1"`
	RefillInterval time.Duration `validate:"gt=0"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Host           string `validate:"required"`
	Port           int    `validate:"min=1,max=65535"`
	UsersFile      string `validate:"required"`
	LogDir         string
	LogLevel       string `validate:"oneof=debug info warn error"`
	AllowedOrigins []string
	MaxMessageSize int64 `validate:"gt=0"`
	RateLimit      RateLimitConfig

	// Connection keep-alive and write timing.
	PongWait   time.Duration `validate:"gt=0"`
	PingPeriod time.Duration `validate:"gt=0,ltfield=PongWait"`
	WriteWait  time.Duration `validate:"gt=0"`
	SendBuffer int           `validate:"gte=1"`
}

const logDirEnv = "CHAT_LOG_DIR"

// envOverrides lists the variables read by NewConfigFromEnv. Zero values mean
// "not set" and keep the default, except for CHAT_LOG_DIR where presence
// counts.
type envOverrides struct {
	Host                    string        `env:"CHAT_HOST"`
	Port                    int           `env:"CHAT_PORT"`
	UsersFile               string        `env:"CHAT_USERS_FILE"`
	LogDir                  string        `env:"CHAT_LOG_DIR"`
	LogLevel                string        `env:"CHAT_LOG_LEVEL"`
	AllowedOrigins          string        `env:"CHAT_ALLOWED_ORIGINS"`
	MaxMessageSize          int64         `env:"CHAT_MAX_MESSAGE_SIZE"`
	RateLimitBurst          int           `env:"CHAT_RATE_LIMIT_BURST"`
	RateLimitRefillInterval time.Duration `env:"CHAT_RATE_LIMIT_REFILL_INTERVAL"`
}

func defaultConfig() Config {
	return Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		UsersFile:      DefaultUsersFile,
		LogDir:         DefaultLogDir,
		LogLevel:       DefaultLogLevel,
		AllowedOrigins: []string{"*"},
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
		PongWait:   60 * time.Second,
		PingPeriod: 54 * time.Second,
		WriteWait:  10 * time.Second,
		SendBuffer: 256,
	}
}

// sanitizeConfig replaces unset or non-positive values with their defaults.
func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = def.Host
	}
	if cfg.Port <= 0 {
		cfg.Port = def.Port
	}
	if cfg.UsersFile == "" {
		cfg.UsersFile = def.UsersFile
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config from the CHAT_* environment variables,
// falling back to defaults for anything unset. Malformed values are errors.
func NewConfigFromEnv() (*Config, error) {
	cfg := defaultConfig()

	var overrides envOverrides
	es, err := env.UnmarshalFromEnviron(&overrides)
	if err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if overrides.Host != "" {
		cfg.Host = overrides.Host
	}
	if overrides.Port != 0 {
		cfg.Port = overrides.Port
	}
	if overrides.UsersFile != "" {
		cfg.UsersFile = overrides.UsersFile
	}
	// An empty CHAT_LOG_DIR is meaningful: it disables file logging.
	if _, ok := es[logDirEnv]; ok {
		cfg.LogDir = overrides.LogDir
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.AllowedOrigins != "" {
		cfg.AllowedOrigins = parseOrigins(overrides.AllowedOrigins)
	}
	if overrides.MaxMessageSize != 0 {
		cfg.MaxMessageSize = overrides.MaxMessageSize
	}
	if overrides.RateLimitBurst != 0 {
		cfg.RateLimit.Burst = overrides.RateLimitBurst
	}
	if overrides.RateLimitRefillInterval != 0 {
		cfg.RateLimit.RefillInterval = overrides.RateLimitRefillInterval
	}

	return &cfg, nil
}

// Validate reports the first invalid setting, if any.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Addr returns the host:port pair to listen on.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
