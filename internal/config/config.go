package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

// Session retention policies for linked and used sessions.
const (
	RetentionRetain  = "retain"
	RetentionPurge   = "purge"
	RetentionArchive = "archive"
)

// Collaborator bridge transports.
const (
	TransportRedis = "redis"
	TransportMQTT  = "mqtt"
)

// Credential store backends.
const (
	CredentialStoreRedis    = "redis"
	CredentialStorePostgres = "postgres"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	RedisURL    string `env:"REDIS_URL,required,notEmpty"`
	DatabaseURL string `env:"DATABASE_URL"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	StaticDir   string `env:"STATIC_DIR" envDefault:"static"`

	// OperatorToken is the bearer token for the link, used and restart routes.
	OperatorToken string `env:"OPERATOR_TOKEN"`

	CodeLength            int  `env:"CODE_LENGTH" envDefault:"8"`
	CodeTTLSeconds        int  `env:"CODE_TTL_SECONDS" envDefault:"600"`
	CodeRateLimitPerMin   int  `env:"CODE_RATE_LIMIT_PER_MIN" envDefault:"10"`
	CodeRateLimitFailOpen bool `env:"CODE_RATE_LIMIT_FAIL_OPEN" envDefault:"true"`
	QRImageSize           int  `env:"QR_IMAGE_SIZE" envDefault:"256"`

	SweepIntervalSeconds    int    `env:"SWEEP_INTERVAL_SECONDS" envDefault:"30"`
	SessionRetention        string `env:"SESSION_RETENTION" envDefault:"retain"`
	SessionRetentionSeconds int    `env:"SESSION_RETENTION_SECONDS" envDefault:"3600"`

	ReconnectBackoffSeconds int `env:"RECONNECT_BACKOFF_SECONDS" envDefault:"5"`
	InitRetryBackoffSeconds int `env:"INIT_RETRY_BACKOFF_SECONDS" envDefault:"10"`
	MaxBackoffSeconds       int `env:"MAX_BACKOFF_SECONDS" envDefault:"120"`
	MaxReconnectAttempts    int `env:"MAX_RECONNECT_ATTEMPTS" envDefault:"0"`
	CollaboratorTimeoutSecs int `env:"COLLABORATOR_TIMEOUT_SECONDS" envDefault:"15"`

	LinkTransport       string `env:"LINK_TRANSPORT" envDefault:"redis"`
	LinkEventsChannel   string `env:"LINK_EVENTS_CHANNEL" envDefault:"link:events"`
	LinkCommandsChannel string `env:"LINK_COMMANDS_CHANNEL" envDefault:"link:commands"`
	MQTTBrokerURL       string `env:"MQTT_BROKER_URL"`
	MQTTClientID        string `env:"MQTT_CLIENT_ID" envDefault:"pairing-gateway"`

	CredentialStore string `env:"CREDENTIAL_STORE" envDefault:"redis"`
	CredentialKey   string `env:"CREDENTIAL_KEY" envDefault:"link:credentials"`
}

func (c *Config) CodeTTL() time.Duration {
	return time.Duration(c.CodeTTLSeconds) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.SessionRetentionSeconds) * time.Second
}

func (c *Config) ReconnectBackoff() time.Duration {
	return time.Duration(c.ReconnectBackoffSeconds) * time.Second
}

func (c *Config) InitRetryBackoff() time.Duration {
	return time.Duration(c.InitRetryBackoffSeconds) * time.Second
}

func (c *Config) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffSeconds) * time.Second
}

func (c *Config) CollaboratorTimeout() time.Duration {
	return time.Duration(c.CollaboratorTimeoutSecs) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate() error {
	if c.CodeLength < MinCodeLength || c.CodeLength > MaxCodeLength {
		return fmt.Errorf("CODE_LENGTH must be between %d and %d", MinCodeLength, MaxCodeLength)
	}
	if c.CodeTTLSeconds <= 0 {
		return fmt.Errorf("CODE_TTL_SECONDS must be positive")
	}
	if c.SweepIntervalSeconds <= 0 || c.SweepIntervalSeconds > MaxSweepIntervalSeconds {
		return fmt.Errorf("SWEEP_INTERVAL_SECONDS must be between 1 and %d", MaxSweepIntervalSeconds)
	}
	if c.ReconnectBackoffSeconds <= 0 || c.InitRetryBackoffSeconds <= 0 {
		return fmt.Errorf("RECONNECT_BACKOFF_SECONDS and INIT_RETRY_BACKOFF_SECONDS must be positive")
	}
	if c.MaxBackoffSeconds < c.ReconnectBackoffSeconds || c.MaxBackoffSeconds < c.InitRetryBackoffSeconds {
		return fmt.Errorf("MAX_BACKOFF_SECONDS must not be below the base backoffs")
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("MAX_RECONNECT_ATTEMPTS must not be negative")
	}

	switch c.SessionRetention {
	case RetentionRetain, RetentionPurge:
	case RetentionArchive:
		if c.DatabaseURL == "" {
			return fmt.Errorf("SESSION_RETENTION=archive requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown SESSION_RETENTION %q", c.SessionRetention)
	}

	switch c.LinkTransport {
	case TransportRedis:
	case TransportMQTT:
		if c.MQTTBrokerURL == "" {
			return fmt.Errorf("LINK_TRANSPORT=mqtt requires MQTT_BROKER_URL")
		}
	default:
		return fmt.Errorf("unknown LINK_TRANSPORT %q", c.LinkTransport)
	}

	switch c.CredentialStore {
	case CredentialStoreRedis:
	case CredentialStorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("CREDENTIAL_STORE=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown CREDENTIAL_STORE %q", c.CredentialStore)
	}

	if c.OperatorToken == "" {
		log.Warn().Msg("OPERATOR_TOKEN is not set: operator routes reject every request")
	} else if len(c.OperatorToken) < MinOperatorTokenLength {
		return fmt.Errorf("OPERATOR_TOKEN must be at least %d characters", MinOperatorTokenLength)
	}

	if c.MaxReconnectAttempts == 0 {
		log.Warn().Msg("MAX_RECONNECT_ATTEMPTS is 0: collaborator reconnects are retried indefinitely")
	}
	if strings.HasPrefix(c.RedisURL, "redis://") && c.LinkTransport == TransportRedis {
		log.Debug().Msg("collaborator bridge uses plaintext redis://")
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
