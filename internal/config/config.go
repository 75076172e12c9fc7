// Package config loads Beacon configuration from YAML files and BEACON_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/1broseidon/beacon/internal/logging"
	"github.com/1broseidon/beacon/pkg/models"
)

// Storage backends
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig       `yaml:"server" mapstructure:"server"`
	Metrics       MetricsConfig      `yaml:"metrics" mapstructure:"metrics"`
	Logging       logging.Config     `yaml:"logging" mapstructure:"logging"`
	Scheduler     SchedulerConfig    `yaml:"scheduler" mapstructure:"scheduler"`
	Persistence   RetryConfig        `yaml:"persistence" mapstructure:"persistence"`
	Storage       StorageConfig      `yaml:"storage" mapstructure:"storage"`
	Notifications NotificationConfig `yaml:"notifications" mapstructure:"notifications"`
	Monitors      []models.Monitor   `yaml:"monitors" mapstructure:"monitors"`
}

// ServerConfig contains HTTP API configuration
type ServerConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         string        `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"readTimeout" mapstructure:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout" mapstructure:"writeTimeout"`
	CORSOrigins  []string      `yaml:"corsOrigins" mapstructure:"corsOrigins"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// SchedulerConfig tunes the scheduling engine
type SchedulerConfig struct {
	Workers       int           `yaml:"workers" mapstructure:"workers"`
	QueueSize     int           `yaml:"queueSize" mapstructure:"queueSize"`
	ProbeTimeout  time.Duration `yaml:"probeTimeout" mapstructure:"probeTimeout"`
	MinInterval   time.Duration `yaml:"minInterval" mapstructure:"minInterval"`
	ShutdownGrace time.Duration `yaml:"shutdownGrace" mapstructure:"shutdownGrace"`
	RecentResults int           `yaml:"recentResults" mapstructure:"recentResults"`
}

// RetryConfig bounds retries of a fallible operation
type RetryConfig struct {
	Attempts  int           `yaml:"attempts" mapstructure:"attempts"`
	BaseDelay time.Duration `yaml:"baseDelay" mapstructure:"baseDelay"`
	MaxDelay  time.Duration `yaml:"maxDelay" mapstructure:"maxDelay"`
}

// StorageConfig selects and configures the persistence backend
type StorageConfig struct {
	Backend  string         `yaml:"backend" mapstructure:"backend"`
	Badger   BadgerConfig   `yaml:"badger" mapstructure:"badger"`
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite" mapstructure:"sqlite"`
	InfluxDB InfluxDBConfig `yaml:"influxdb" mapstructure:"influxdb"`
}

// BadgerConfig configures the embedded Badger store
type BadgerConfig struct {
	Path       string        `yaml:"path" mapstructure:"path"`
	Retention  time.Duration `yaml:"retention" mapstructure:"retention"`
	GCInterval time.Duration `yaml:"gcInterval" mapstructure:"gcInterval"`
}

// PostgresConfig configures the PostgreSQL store
type PostgresConfig struct {
	DSN             string        `yaml:"dsn" mapstructure:"dsn"`
	MaxConns        int32         `yaml:"maxConns" mapstructure:"maxConns"`
	MinConns        int32         `yaml:"minConns" mapstructure:"minConns"`
	MaxConnLifetime time.Duration `yaml:"maxConnLifetime" mapstructure:"maxConnLifetime"`
	ConnectTimeout  time.Duration `yaml:"connectTimeout" mapstructure:"connectTimeout"`
}

// SQLiteConfig configures the SQLite store
type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// InfluxDBConfig configures the optional time-series mirror of results
type InfluxDBConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	URL     string `yaml:"url" mapstructure:"url"`
	Token   string `yaml:"token" mapstructure:"token"`
	Org     string `yaml:"org" mapstructure:"org"`
	Bucket  string `yaml:"bucket" mapstructure:"bucket"`
}

// NotificationConfig configures alert delivery
type NotificationConfig struct {
	NotifyOnFirstDown bool          `yaml:"notifyOnFirstDown" mapstructure:"notifyOnFirstDown"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Email             EmailConfig   `yaml:"email" mapstructure:"email"`
	Webhook           WebhookConfig `yaml:"webhook" mapstructure:"webhook"`
	Kafka             KafkaConfig   `yaml:"kafka" mapstructure:"kafka"`
}

// EmailConfig configures the SMTP channel
type EmailConfig struct {
	Enabled  bool     `yaml:"enabled" mapstructure:"enabled"`
	Host     string   `yaml:"host" mapstructure:"host"`
	Port     int      `yaml:"port" mapstructure:"port"`
	Username string   `yaml:"username" mapstructure:"username"`
	Password string   `yaml:"password" mapstructure:"password"`
	From     string   `yaml:"from" mapstructure:"from"`
	To       []string `yaml:"to" mapstructure:"to"`
	StartTLS bool     `yaml:"startTLS" mapstructure:"startTLS"`
}

// WebhookConfig configures the HTTP webhook channel
type WebhookConfig struct {
	Enabled  bool              `yaml:"enabled" mapstructure:"enabled"`
	URL      string            `yaml:"url" mapstructure:"url"`
	Field    string            `yaml:"field" mapstructure:"field"`
	Template string            `yaml:"template" mapstructure:"template"`
	Headers  map[string]string `yaml:"headers" mapstructure:"headers"`
}

// KafkaConfig configures the Kafka alert channel
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" mapstructure:"enabled"`
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "7878")
	v.SetDefault("server.readTimeout", "10s")
	v.SetDefault("server.writeTimeout", "30s")
	v.SetDefault("server.corsOrigins", []string{"*"})
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.maxSizeMB", 100)
	v.SetDefault("logging.maxBackups", 3)
	v.SetDefault("logging.maxAgeDays", 28)
	v.SetDefault("scheduler.workers", 32)
	v.SetDefault("scheduler.queueSize", 256)
	v.SetDefault("scheduler.probeTimeout", "4s")
	v.SetDefault("scheduler.minInterval", "5s")
	v.SetDefault("scheduler.shutdownGrace", "10s")
	v.SetDefault("scheduler.recentResults", 100)
	v.SetDefault("persistence.attempts", 3)
	v.SetDefault("persistence.baseDelay", "100ms")
	v.SetDefault("persistence.maxDelay", "2s")
	v.SetDefault("storage.backend", BackendBadger)
	v.SetDefault("storage.badger.path", "./data/badger")
	v.SetDefault("storage.badger.retention", "720h")
	v.SetDefault("storage.badger.gcInterval", "10m")
	v.SetDefault("storage.postgres.maxConns", 10)
	v.SetDefault("storage.postgres.minConns", 1)
	v.SetDefault("storage.postgres.maxConnLifetime", "1h")
	v.SetDefault("storage.postgres.connectTimeout", "5s")
	v.SetDefault("storage.sqlite.path", "./data/beacon.db")
	v.SetDefault("storage.influxdb.enabled", false)
	v.SetDefault("storage.influxdb.bucket", "beacon")
	v.SetDefault("notifications.notifyOnFirstDown", true)
	v.SetDefault("notifications.timeout", "15s")
	v.SetDefault("notifications.email.port", 587)
	v.SetDefault("notifications.email.startTLS", true)
	v.SetDefault("notifications.webhook.field", "content")
	v.SetDefault("notifications.webhook.template", "{{.Subject}}\n{{.Body}}")
	v.SetDefault("notifications.kafka.topic", "beacon.alerts")
}

// LoadConfig loads configuration from file. An empty path searches the
// working directory and /etc/beacon, and falls back to defaults when no file
// is found.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BEACON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("beacon")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/beacon")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	enableByDefault(v, config.Monitors)

	return &config, nil
}

// enableByDefault enables seed monitors whose entry omits the enabled key.
func enableByDefault(v *viper.Viper, monitors []models.Monitor) {
	raw, ok := v.Get("monitors").([]interface{})
	if !ok {
		return
	}
	for i, item := range raw {
		if i >= len(monitors) {
			return
		}
		fields, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		set := false
		for key := range fields {
			if strings.EqualFold(key, "enabled") {
				set = true
				break
			}
		}
		if !set {
			monitors[i].Enabled = true
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	s := c.Scheduler
	if s.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be at least 1")
	}
	if s.QueueSize < 1 {
		return fmt.Errorf("scheduler.queueSize must be at least 1")
	}
	if s.MinInterval < time.Second {
		return fmt.Errorf("scheduler.minInterval too short (min 1 second): %v", s.MinInterval)
	}
	if s.ProbeTimeout <= 0 || s.ProbeTimeout >= s.MinInterval {
		return fmt.Errorf("scheduler.probeTimeout (%v) must be positive and shorter than scheduler.minInterval (%v)", s.ProbeTimeout, s.MinInterval)
	}
	if s.ShutdownGrace < 0 {
		return fmt.Errorf("scheduler.shutdownGrace cannot be negative")
	}

	if c.Persistence.Attempts < 1 {
		return fmt.Errorf("persistence.attempts must be at least 1")
	}
	if c.Persistence.BaseDelay <= 0 {
		return fmt.Errorf("persistence.baseDelay must be positive")
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendBadger:
		if c.Storage.Badger.Path == "" {
			return fmt.Errorf("storage.badger.path is required")
		}
	case BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required")
		}
	case BackendSQLite:
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.Storage.Backend)
	}
	if influx := c.Storage.InfluxDB; influx.Enabled && (influx.URL == "" || influx.Org == "" || influx.Bucket == "") {
		return fmt.Errorf("storage.influxdb requires url, org and bucket when enabled")
	}

	n := c.Notifications
	if n.Email.Enabled && (n.Email.Host == "" || n.Email.From == "") {
		return fmt.Errorf("notifications.email requires host and from when enabled")
	}
	if n.Webhook.Enabled && n.Webhook.URL == "" {
		return fmt.Errorf("notifications.webhook.url is required when enabled")
	}
	if n.Kafka.Enabled && (len(n.Kafka.Brokers) == 0 || n.Kafka.Topic == "") {
		return fmt.Errorf("notifications.kafka requires brokers and topic when enabled")
	}

	names := make(map[string]bool)
	for i := range c.Monitors {
		m := &c.Monitors[i]
		if err := m.Validate(); err != nil {
			return fmt.Errorf("monitors[%d]: %w", i, err)
		}
		if m.Interval() < s.MinInterval {
			return fmt.Errorf("monitor %s interval %v is below scheduler.minInterval %v", m.Name, m.Interval(), s.MinInterval)
		}
		if names[m.Name] {
			return fmt.Errorf("duplicate monitor name: %s", m.Name)
		}
		names[m.Name] = true
	}

	return nil
}

// Redacted returns a copy with secrets masked, suitable for export.
func (c *Config) Redacted() Config {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	out.Storage.Postgres.DSN = mask(c.Storage.Postgres.DSN)
	out.Storage.InfluxDB.Token = mask(c.Storage.InfluxDB.Token)
	out.Notifications.Email.Password = mask(c.Notifications.Email.Password)
	return out
}
