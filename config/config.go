package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Lease      LeaseConfig      `yaml:"lease"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat"`
	Settlement SettlementConfig `yaml:"settlement"`
	Device     DeviceConfig     `yaml:"device"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Seed       SeedConfig       `yaml:"seed"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string        `yaml:"driver"` // "postgres" or "sqlite"
	DSN                    string        `yaml:"dsn"`
	MaxOpenConns           int           `yaml:"max_open_conns"`
	MaxIdleConns           int           `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int           `yaml:"conn_max_lifetime_minutes"`
	OpTimeoutSeconds       int           `yaml:"op_timeout_seconds"`
	OpTimeout              time.Duration `yaml:"-"`
	LogLevel               string        `yaml:"log_level"`
}

// LeaseConfig controls lease session bookkeeping.
type LeaseConfig struct {
	SessionTTLSeconds int           `yaml:"session_ttl_seconds"`
	SessionTTL        time.Duration `yaml:"-"`
}

// HeartbeatConfig controls liveness inference.
type HeartbeatConfig struct {
	LivenessThresholdSeconds int           `yaml:"liveness_threshold_seconds"`
	LivenessThreshold        time.Duration `yaml:"-"`
	DefaultStatus            string        `yaml:"default_status"`
}

// SettlementConfig holds per-item weight estimates used when a device
// reports counts without weights.
type SettlementConfig struct {
	UnitWeightsKg map[string]float64 `yaml:"unit_weights_kg"`
}

// DeviceConfig controls the credential lookup cache.
type DeviceConfig struct {
	CredentialCacheTTLSeconds int           `yaml:"credential_cache_ttl_seconds"`
	CredentialCacheTTL        time.Duration `yaml:"-"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	Enabled    bool   `yaml:"enabled"`
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size      int `yaml:"size"`
	QueueSize int `yaml:"queue_size"`
}

// MQTTConfig configures the optional MQTT event sink.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// MonitorConfig configures the liveness monitor loop.
type MonitorConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"`
}

// SeedConfig lists bins registered at startup. Registration proper is an
// administrative action outside this service.
type SeedConfig struct {
	Bins    []SeedBin    `yaml:"bins"`
	Pricing *SeedPricing `yaml:"pricing"`
}

// SeedBin describes one bin to register if it does not exist yet.
type SeedBin struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	Credential string   `yaml:"credential"`
	Lat        *float64 `yaml:"lat"`
	Lng        *float64 `yaml:"lng"`
}

// SeedPricing overrides the default pricing policy written on first start.
type SeedPricing struct {
	ItemsPerPoint  map[string]float64 `yaml:"items_per_point"`
	PricePerKg     map[string]float64 `yaml:"price_per_kg"`
	ConversionRate float64            `yaml:"conversion_rate"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills every unset field with its default value.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 60
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.OpTimeoutSeconds <= 0 {
		cfg.Database.OpTimeoutSeconds = 5
	}
	cfg.Database.OpTimeout = time.Duration(cfg.Database.OpTimeoutSeconds) * time.Second

	if cfg.Lease.SessionTTLSeconds <= 0 {
		cfg.Lease.SessionTTLSeconds = 300
	}
	cfg.Lease.SessionTTL = time.Duration(cfg.Lease.SessionTTLSeconds) * time.Second

	if cfg.Heartbeat.LivenessThresholdSeconds <= 0 {
		cfg.Heartbeat.LivenessThresholdSeconds = 60
	}
	cfg.Heartbeat.LivenessThreshold = time.Duration(cfg.Heartbeat.LivenessThresholdSeconds) * time.Second
	if cfg.Heartbeat.DefaultStatus == "" {
		cfg.Heartbeat.DefaultStatus = "active"
	}

	if cfg.Settlement.UnitWeightsKg == nil {
		cfg.Settlement.UnitWeightsKg = map[string]float64{
			"plastic": 0.5,
			"tin":     0.3,
		}
	}

	if cfg.Device.CredentialCacheTTLSeconds <= 0 {
		cfg.Device.CredentialCacheTTLSeconds = 300
	}
	cfg.Device.CredentialCacheTTL = time.Duration(cfg.Device.CredentialCacheTTLSeconds) * time.Second

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.QueueSize <= 0 {
		cfg.WorkerPool.QueueSize = 64
	}

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "bin-relay"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "recycling/bins"
	}

	if cfg.Monitor.IntervalSeconds <= 0 {
		cfg.Monitor.IntervalSeconds = 30
	}
	cfg.Monitor.Interval = time.Duration(cfg.Monitor.IntervalSeconds) * time.Second
}

// applyEnvOverrides lets deployment platforms inject the DSN and port.
func applyEnvOverrides(cfg *Config) {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			log.Printf("ignoring invalid PORT %q: %v", port, err)
			return
		}
		cfg.Server.Port = p
	}
}
