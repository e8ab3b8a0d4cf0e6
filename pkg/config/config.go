package config

import (
	"fmt"
	"time"

	"callrelay-backend/pkg/env"
)

// Config holds all configuration for the signaling service
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Log       LogConfig
	Signaling SignalingConfig
	Push      PushConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Environment    string // development, staging, production
	ServiceName    string
	AllowedOrigins []string
}

// DatabaseConfig holds CockroachDB configuration. An empty Host runs the
// service on the in-memory store.
type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Database      string
	SSLMode       string
	MaxConns      int
	MinConns      int
	RunMigrations bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string
	Issuer string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string
	Format   string
	Output   string
	FilePath string
}

// SignalingConfig tunes the websocket gateway and call lifecycle
type SignalingConfig struct {
	RingTimeout     time.Duration
	MaxConnections  int
	SendBufferSize  int
	PingInterval    time.Duration
	WriteWait       time.Duration
	MaxMessageSize  int64
	EventsPerSecond float64
	EventBurst      int
	EndedCallTTL    time.Duration
	StorageTimeout  time.Duration
}

// PushConfig selects and configures the push provider used for unreachable callees
type PushConfig struct {
	Provider            string // mock, fcm, apns
	FCMProjectID        string
	FCMCredentialsPath  string
	APNsBundleID        string
	APNsKeyPath         string
	APNsKeyID           string
	APNsTeamID          string
	APNsCertificatePath string
	APNsCertPassword    string
	APNsProduction      bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           env.GetInt("PORT", 8085),
			Environment:    env.GetString("ENV", "development"),
			ServiceName:    env.GetString("SERVICE_NAME", "signaling-service"),
			AllowedOrigins: env.GetStringSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:          env.GetString("DB_HOST", ""),
			Port:          env.GetInt("DB_PORT", 26257),
			User:          env.GetString("DB_USER", "root"),
			Password:      env.GetStringFromFile("DB_PASSWORD", ""),
			Database:      env.GetString("DB_NAME", "callrelay"),
			SSLMode:       env.GetString("DB_SSL_MODE", "disable"),
			MaxConns:      env.GetInt("DB_MAX_CONNS", 25),
			MinConns:      env.GetInt("DB_MIN_CONNS", 5),
			RunMigrations: env.GetBool("DB_RUN_MIGRATIONS", true),
		},
		Redis: RedisConfig{
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		JWT: JWTConfig{
			Secret: env.GetStringFromFile("JWT_SECRET", ""),
			Issuer: env.GetString("JWT_ISSUER", "callrelay"),
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/app.log"),
		},
		Signaling: SignalingConfig{
			RingTimeout:     env.GetDuration("RING_TIMEOUT", 30*time.Second),
			MaxConnections:  env.GetInt("WS_MAX_SIGNALING_CONNECTIONS", 1000),
			SendBufferSize:  env.GetInt("WS_SEND_BUFFER", 256),
			PingInterval:    env.GetDuration("WS_PING_INTERVAL", 30*time.Second),
			WriteWait:       env.GetDuration("WS_WRITE_WAIT", 10*time.Second),
			MaxMessageSize:  int64(env.GetInt("WS_MAX_MESSAGE_SIZE", 64*1024)),
			EventsPerSecond: env.GetFloat("WS_EVENTS_PER_SECOND", 20),
			EventBurst:      env.GetInt("WS_EVENT_BURST", 40),
			EndedCallTTL:    env.GetDuration("ENDED_CALL_TTL", 10*time.Minute),
			StorageTimeout:  env.GetDuration("STORAGE_TIMEOUT", 5*time.Second),
		},
		Push: PushConfig{
			Provider:            env.GetString("PUSH_PROVIDER", "mock"),
			FCMProjectID:        env.GetString("FCM_PROJECT_ID", ""),
			FCMCredentialsPath:  env.GetString("FCM_CREDENTIALS_PATH", ""),
			APNsBundleID:        env.GetString("APNS_BUNDLE_ID", ""),
			APNsKeyPath:         env.GetString("APNS_KEY_PATH", ""),
			APNsKeyID:           env.GetString("APNS_KEY_ID", ""),
			APNsTeamID:          env.GetString("APNS_TEAM_ID", ""),
			APNsCertificatePath: env.GetString("APNS_CERT_PATH", ""),
			APNsCertPassword:    env.GetStringFromFile("APNS_CERT_PASSWORD", ""),
			APNsProduction:      env.GetBool("APNS_PRODUCTION", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Environment == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
	}
	if c.Signaling.RingTimeout <= 0 {
		return fmt.Errorf("RING_TIMEOUT must be positive")
	}
	if c.Signaling.MaxConnections <= 0 {
		return fmt.Errorf("WS_MAX_SIGNALING_CONNECTIONS must be positive")
	}
	if c.Signaling.SendBufferSize <= 0 {
		return fmt.Errorf("WS_SEND_BUFFER must be positive")
	}
	return nil
}

// UsesDatabase reports whether a CockroachDB host is configured
func (c *Config) UsesDatabase() bool {
	return c.Database.Host != ""
}
