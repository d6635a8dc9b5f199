package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/anicoll/homeconnect-integration/internal/pkg/cloud"
	"github.com/anicoll/homeconnect-integration/internal/pkg/decoder"
	"github.com/anicoll/homeconnect-integration/internal/pkg/homeconnect"
	"github.com/anicoll/homeconnect-integration/internal/pkg/reconcile"
	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingToken   = errors.New("homeconnect token is required")
	ErrMissingAPIHash = errors.New("server api key hash is required when the server is enabled")
)

type Config struct {
	LogLevel    string            `env:"LOG_LEVEL" yaml:"log_level"`
	HomeConnect HomeConnectConfig `envPrefix:"HOMECONNECT_" yaml:"homeconnect"`
	Sync        SyncConfig        `envPrefix:"SYNC_" yaml:"sync"`
	Mqtt        MqttConfig        `envPrefix:"MQTT_" yaml:"mqtt"`
	Database    DatabaseConfig    `envPrefix:"DATABASE_" yaml:"database"`
	Influx      InfluxConfig      `envPrefix:"INFLUX_" yaml:"influx"`
	Server      ServerConfig      `envPrefix:"SERVER_" yaml:"server"`
	Cron        CronConfig        `envPrefix:"CRON_" yaml:"cron"`
}

type HomeConnectConfig struct {
	Host              string        `env:"HOST" yaml:"host"`
	Token             string        `env:"TOKEN" yaml:"token"`
	Language          string        `env:"LANG" yaml:"language"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" yaml:"request_timeout"`
	MaxAttempts       int           `env:"MAX_ATTEMPTS" yaml:"max_attempts"`
	FetchConcurrency  int           `env:"FETCH_CONCURRENCY" yaml:"fetch_concurrency"`
	StreamIdleTimeout time.Duration `env:"STREAM_IDLE_TIMEOUT" yaml:"stream_idle_timeout"`
	MaxStreamSession  time.Duration `env:"MAX_STREAM_SESSION" yaml:"max_stream_session"`
}

type SyncConfig struct {
	ConnectTimeout     time.Duration `env:"CONNECT_TIMEOUT" yaml:"connect_timeout"`
	FetchTimeout       time.Duration `env:"FETCH_TIMEOUT" yaml:"fetch_timeout"`
	InitialBackoff     time.Duration `env:"INITIAL_BACKOFF" yaml:"initial_backoff"`
	MaxBackoff         time.Duration `env:"MAX_BACKOFF" yaml:"max_backoff"`
	Jitter             float64       `env:"JITTER" yaml:"jitter"`
	MaxRetryAfter      time.Duration `env:"MAX_RETRY_AFTER" yaml:"max_retry_after"`
	DisabledAppliances []string      `env:"DISABLED_APPLIANCES" envSeparator:"," yaml:"disabled_appliances"`
	SequencePolicy     string        `env:"SEQUENCE_POLICY" yaml:"sequence_policy"`
	QueueSize          int           `env:"QUEUE_SIZE" yaml:"queue_size"`
}

// MqttConfig is disabled when Host is empty.
type MqttConfig struct {
	Host            string `env:"HOST" yaml:"host"`
	Username        string `env:"USER" yaml:"username"`
	Password        string `env:"PASS" yaml:"password"`
	ClientID        string `env:"CLIENT_ID" yaml:"client_id"`
	DiscoveryPrefix string `env:"DISCOVERY_PREFIX" yaml:"discovery_prefix"`
}

// DatabaseConfig is disabled when URL is empty.
type DatabaseConfig struct {
	URL              string        `env:"URL" yaml:"url"`
	MigrationsFolder string        `env:"MIGRATIONS_FOLDER" yaml:"migrations_folder"`
	Retention        time.Duration `env:"RETENTION" yaml:"retention"`
}

// InfluxConfig is disabled when URL is empty.
type InfluxConfig struct {
	URL    string `env:"URL" yaml:"url"`
	Token  string `env:"TOKEN" yaml:"token"`
	Org    string `env:"ORG" yaml:"org"`
	Bucket string `env:"BUCKET" yaml:"bucket"`
}

// ServerConfig is disabled when Addr is empty.
type ServerConfig struct {
	Addr         string        `env:"ADDR" yaml:"addr"`
	APIKeyHash   string        `env:"API_KEY_HASH" yaml:"api_key_hash"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" yaml:"read_timeout"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" yaml:"write_timeout"`
}

type CronConfig struct {
	Timezone        string `env:"TZ" yaml:"timezone"`
	CleanupSchedule string `env:"CLEANUP" yaml:"cleanup"`
	// ResyncSchedule triggers a periodic full refresh, empty disables it.
	ResyncSchedule string `env:"RESYNC" yaml:"resync"`
}

func Default() *Config {
	hc := cloud.DefaultConfig()
	sync := reconcile.DefaultConfig()
	return &Config{
		LogLevel: "INFO",
		HomeConnect: HomeConnectConfig{
			Host:              hc.Host,
			Language:          hc.Language,
			RequestTimeout:    hc.RequestTimeout,
			MaxAttempts:       hc.MaxAttempts,
			FetchConcurrency:  hc.FetchConcurrency,
			StreamIdleTimeout: hc.StreamIdleTimeout,
			MaxStreamSession:  hc.MaxStreamSession,
		},
		Sync: SyncConfig{
			ConnectTimeout: sync.ConnectTimeout,
			FetchTimeout:   sync.FetchTimeout,
			InitialBackoff: sync.InitialBackoff,
			MaxBackoff:     sync.MaxBackoff,
			Jitter:         sync.Jitter,
			MaxRetryAfter:  sync.MaxRetryAfter,
			SequencePolicy: string(decoder.SequenceField),
			QueueSize:      64,
		},
		Mqtt: MqttConfig{
			ClientID:        "homeconnect-sync",
			DiscoveryPrefix: "homeassistant",
		},
		Database: DatabaseConfig{
			MigrationsFolder: "migrations",
			Retention:        8 * 24 * time.Hour,
		},
		Server: ServerConfig{
			Addr:         "0.0.0.0:8000",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Cron: CronConfig{
			Timezone:        "Australia/Adelaide",
			CleanupSchedule: "0 3 * * *",
		},
	}
}

// Load applies defaults, then the yaml file at path (if any), then the
// environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.HomeConnect.Token == "" {
		return ErrMissingToken
	}
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	if _, err := decoder.ParseSequencePolicy(c.Sync.SequencePolicy); err != nil {
		return err
	}
	if c.Sync.Jitter < 0 || c.Sync.Jitter > 1 {
		return fmt.Errorf("sync jitter %v out of range [0,1]", c.Sync.Jitter)
	}
	if c.Server.Addr != "" && c.Server.APIKeyHash == "" {
		return ErrMissingAPIHash
	}
	if c.Influx.URL != "" && c.Influx.Bucket == "" {
		return errors.New("influx bucket is required when influx is enabled")
	}
	return nil
}

func (c *Config) CloudConfig() cloud.Config {
	return cloud.Config{
		Host:              c.HomeConnect.Host,
		Language:          c.HomeConnect.Language,
		RequestTimeout:    c.HomeConnect.RequestTimeout,
		MaxAttempts:       c.HomeConnect.MaxAttempts,
		FetchConcurrency:  c.HomeConnect.FetchConcurrency,
		StreamIdleTimeout: c.HomeConnect.StreamIdleTimeout,
		MaxStreamSession:  c.HomeConnect.MaxStreamSession,
	}
}

// ClientConfig must only be called on a validated config.
func (c *Config) ClientConfig() homeconnect.Config {
	policy, _ := decoder.ParseSequencePolicy(c.Sync.SequencePolicy)
	return homeconnect.Config{
		Sync: reconcile.Config{
			ConnectTimeout:     c.Sync.ConnectTimeout,
			FetchTimeout:       c.Sync.FetchTimeout,
			InitialBackoff:     c.Sync.InitialBackoff,
			MaxBackoff:         c.Sync.MaxBackoff,
			Jitter:             c.Sync.Jitter,
			MaxRetryAfter:      c.Sync.MaxRetryAfter,
			DisabledAppliances: c.Sync.DisabledAppliances,
		},
		SequencePolicy: policy,
		QueueSize:      c.Sync.QueueSize,
	}
}

// CronSpec prefixes schedule with the configured timezone.
func (c *Config) CronSpec(schedule string) string {
	if c.Cron.Timezone == "" {
		return schedule
	}
	return "CRON_TZ=" + c.Cron.Timezone + " " + schedule
}
