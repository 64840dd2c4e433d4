package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// The values are read by Viper from a config file or environment variables.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	S3       S3Config       `mapstructure:"s3"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Hub      HubConfig      `mapstructure:"hub"`
	Log      LogConfig      `mapstructure:"log"`
	Retry    RetryConfig    `mapstructure:"retry"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
	// Mode is passed to gin.SetMode: debug, release or test.
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	// Driver is "mongo" or "memory". The memory driver keeps nothing across restarts.
	Driver string `mapstructure:"driver"`
	URI    string `mapstructure:"uri"`
	Name   string `mapstructure:"name"`
	// TxTimeout bounds every store transaction. An uncommitted transaction is
	// aborted and reported as transient.
	TxTimeout time.Duration `mapstructure:"tx_timeout"`
}

type S3Config struct {
	Enabled         bool          `mapstructure:"enabled"`
	Endpoint        string        `mapstructure:"endpoint"`
	Region          string        `mapstructure:"region"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	BucketName      string        `mapstructure:"bucket_name"`
	UseSSL          bool          `mapstructure:"use_ssl"`
	URLExpiry       time.Duration `mapstructure:"url_expiry"`
}

// JWTConfig configures verification of tokens minted by the identity provider.
type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Leeway time.Duration `mapstructure:"leeway"`
}

type HubConfig struct {
	QueueSize        int           `mapstructure:"queue_size"`
	SendTimeout      time.Duration `mapstructure:"send_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	LivenessWindow   time.Duration `mapstructure:"liveness_window"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	Shards           int           `mapstructure:"shards"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	EventBuffer      int64         `mapstructure:"event_buffer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RetryConfig bounds the retry of transient store failures at the service boundary.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// server.address -> SERVER_ADDRESS
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`))

	setDefaults(v)

	err = v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		err = nil
	} else if err != nil {
		return
	}

	if err = v.Unmarshal(&config); err != nil {
		return
	}
	return config, config.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "mongo")
	v.SetDefault("database.uri", "mongodb://localhost:27017")
	v.SetDefault("database.name", "coachsync")
	v.SetDefault("database.tx_timeout", "5s")
	v.SetDefault("s3.enabled", false)
	v.SetDefault("s3.use_ssl", true)
	v.SetDefault("s3.url_expiry", "15m")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.leeway", "30s")
	v.SetDefault("hub.queue_size", 64)
	v.SetDefault("hub.send_timeout", "10s")
	v.SetDefault("hub.ping_interval", "30s")
	v.SetDefault("hub.liveness_window", "90s")
	v.SetDefault("hub.sweep_interval", "15s")
	v.SetDefault("hub.shards", 32)
	v.SetDefault("hub.handshake_timeout", "10s")
	v.SetDefault("hub.event_buffer", 1024)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_interval", "50ms")
}

var (
	ErrMissingJWTSecret = errors.New("config: jwt.secret is required")
	ErrUnknownDriver    = errors.New("config: database.driver must be mongo or memory")
	ErrInvalidHub       = errors.New("config: hub.queue_size and hub.shards must be positive")
	ErrLivenessWindow   = errors.New("config: hub.liveness_window must exceed hub.ping_interval")
)

// Validate checks cross-field constraints that defaults cannot express.
func (c Config) Validate() error {
	if c.JWT.Secret == "" {
		return ErrMissingJWTSecret
	}
	switch c.Database.Driver {
	case "mongo", "memory":
	default:
		return ErrUnknownDriver
	}
	if c.Hub.QueueSize <= 0 || c.Hub.Shards <= 0 {
		return ErrInvalidHub
	}
	if c.Hub.LivenessWindow <= c.Hub.PingInterval {
		return ErrLivenessWindow
	}
	return nil
}
