// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration. Defaults come from Default(),
// a YAML file overlays them, then ARBITER_* environment variables win.
type Config struct {
	Cluster     ClusterConfig     `yaml:"cluster" json:"cluster"`
	Database    DatabaseConfig    `yaml:"database" json:"database"`
	Lease       LeaseConfig       `yaml:"lease" json:"lease"`
	Failover    FailoverConfig    `yaml:"failover" json:"failover"`
	Probes      []ProbeConfig     `yaml:"probes" json:"probes,omitempty"`
	DNS         DNSConfig         `yaml:"dns" json:"dns"`
	Replication ReplicationConfig `yaml:"replication" json:"replication"`
	Events      EventsConfig      `yaml:"events" json:"events"`
	Notify      NotifyConfig      `yaml:"notify" json:"notify"`
	API         APIConfig         `yaml:"api" json:"api"`
	Log         LogConfig         `yaml:"log" json:"log"`
}

// ClusterConfig identifies this node and the cluster it arbitrates in.
type ClusterConfig struct {
	Name    string `yaml:"name" json:"name"`
	NodeID  string `yaml:"node_id" json:"node_id"`
	Node    string `yaml:"node" json:"node"`
	Role    string `yaml:"role" json:"role"`
	Address string `yaml:"address" json:"address"`
}

// DatabaseConfig points at the shared PostgreSQL store.
type DatabaseConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Name     string `yaml:"name" json:"name"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
	SSLMode  string `yaml:"sslmode" json:"sslmode"`
}

// LeaseConfig tunes the election loop. TTL must exceed twice the renew
// interval so a holder gets at least two renewal attempts per term.
type LeaseConfig struct {
	TTL             time.Duration `yaml:"ttl" json:"ttl"`
	RenewInterval   time.Duration `yaml:"renew_interval" json:"renew_interval"`
	AcquireInterval time.Duration `yaml:"acquire_interval" json:"acquire_interval"`
}

// FailoverConfig tunes dead-node detection on the active node.
type FailoverConfig struct {
	// DownAfter is how stale a heartbeat may be before the node is
	// declared unavailable. Zero means 3x the lease renew interval.
	DownAfter          time.Duration `yaml:"down_after" json:"down_after"`
	FailureThreshold   int           `yaml:"failure_threshold" json:"failure_threshold"`
	RecoveryThreshold  int           `yaml:"recovery_threshold" json:"recovery_threshold"`
	SweepInterval      time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
	SwitchoverCooldown time.Duration `yaml:"switchover_cooldown" json:"switchover_cooldown"`
}

// ProbeConfig declares one deep health check against a node.
type ProbeConfig struct {
	Node    string        `yaml:"node" json:"node"`
	Type    string        `yaml:"type" json:"type"` // http, tcp, icmp, docker
	Target  string        `yaml:"target" json:"target"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// DNSConfig controls the embedded failover DNS responder.
type DNSConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Zone    string `yaml:"zone" json:"zone"`
	Listen  string `yaml:"listen" json:"listen"`
	TTL     uint32 `yaml:"ttl" json:"ttl"`
}

// ReplicationConfig controls PostgreSQL replication monitoring.
type ReplicationConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	MaxLagBytes  int64         `yaml:"max_lag_bytes" json:"max_lag_bytes"`
}

// EventsConfig controls the event bus, journal, and archive sinks.
type EventsConfig struct {
	BufferSize       int           `yaml:"buffer_size" json:"buffer_size"`
	History          bool          `yaml:"history" json:"history"`
	JournalDir       string        `yaml:"journal_dir" json:"journal_dir"`
	JournalMaxSizeMB int           `yaml:"journal_max_size_mb" json:"journal_max_size_mb"`
	Archive          ArchiveConfig `yaml:"archive" json:"archive"`
}

// ArchiveConfig uploads rotated journals to S3-compatible storage.
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	Region    string `yaml:"region" json:"region"`
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	AccessKey string `yaml:"access_key" json:"access_key"`
	SecretKey string `yaml:"secret_key" json:"secret_key"`
}

// NotifyConfig fans failover-class events out to operators.
type NotifyConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks"`
	Mail     MailConfig      `yaml:"mail" json:"mail"`
	Kafka    KafkaConfig     `yaml:"kafka" json:"kafka"`
}

// WebhookConfig posts matching events to one URL.
type WebhookConfig struct {
	Name   string   `yaml:"name" json:"name"`
	URL    string   `yaml:"url" json:"url"`
	Events []string `yaml:"events" json:"events"`
	Secret string   `yaml:"secret,omitempty" json:"secret,omitempty"`
}

// MailConfig sends failover mail over SMTP.
type MailConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Host     string   `yaml:"host" json:"host"`
	Port     int      `yaml:"port" json:"port"`
	Username string   `yaml:"username" json:"username"`
	Password string   `yaml:"password" json:"password"`
	From     string   `yaml:"from" json:"from"`
	To       []string `yaml:"to" json:"to"`
}

// KafkaConfig streams every event to a topic.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic"`
}

// APIConfig controls the HTTP status/control surface.
type APIConfig struct {
	Listen    string           `yaml:"listen" json:"listen"`
	JWTSecret string           `yaml:"jwt_secret" json:"jwt_secret"`
	TokenTTL  time.Duration    `yaml:"token_ttl" json:"token_ttl"`
	RateLimit float64          `yaml:"rate_limit" json:"rate_limit"`
	RateBurst int              `yaml:"rate_burst" json:"rate_burst"`
	Operators []OperatorConfig `yaml:"operators" json:"operators"`
}

// OperatorConfig holds one operator credential. TokenHash is a bcrypt
// hash of the operator's token, never the token itself.
type OperatorConfig struct {
	Name      string `yaml:"name" json:"name"`
	TokenHash string `yaml:"token_hash" json:"token_hash"`
}

// LogConfig selects log verbosity.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// Default returns a Config with every tunable at its default.
func Default() *Config {
	return &Config{
		Cluster: ClusterConfig{
			Name: "zabbix-ha",
			Role: "server",
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			Name:    "arbiter",
			User:    "arbiter",
			SSLMode: "disable",
		},
		Lease: LeaseConfig{
			TTL:             15 * time.Second,
			RenewInterval:   5 * time.Second,
			AcquireInterval: 2 * time.Second,
		},
		Failover: FailoverConfig{
			FailureThreshold:   3,
			RecoveryThreshold:  2,
			SweepInterval:      5 * time.Second,
			SwitchoverCooldown: time.Minute,
		},
		DNS: DNSConfig{
			Listen: ":5353",
			TTL:    5,
		},
		Replication: ReplicationConfig{
			PollInterval: 10 * time.Second,
			MaxLagBytes:  16 << 20,
		},
		Events: EventsConfig{
			BufferSize:       256,
			History:          true,
			JournalMaxSizeMB: 16,
		},
		API: APIConfig{
			Listen:    ":8080",
			TokenTTL:  time.Hour,
			RateLimit: 50,
			RateBurst: 100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path, overlays it on the defaults, applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	LoadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config against the embedded schema plus the
// semantic rules the schema cannot express.
func (c *Config) Validate() error {
	if err := validateSchema(c); err != nil {
		return err
	}

	if c.Cluster.Node == "" {
		return fmt.Errorf("cluster.node is required")
	}
	if c.Cluster.Role != "server" && c.Cluster.Role != "proxy" {
		return fmt.Errorf("cluster.role must be server or proxy, got %q", c.Cluster.Role)
	}
	if c.Lease.TTL <= 2*c.Lease.RenewInterval {
		return fmt.Errorf("lease.ttl (%s) must be greater than twice lease.renew_interval (%s)",
			c.Lease.TTL, c.Lease.RenewInterval)
	}
	if c.Lease.AcquireInterval <= 0 {
		return fmt.Errorf("lease.acquire_interval must be positive")
	}
	if c.DNS.Enabled && c.DNS.Zone == "" {
		return fmt.Errorf("dns.zone is required when dns.enabled is true")
	}
	for i, p := range c.Probes {
		switch p.Type {
		case "http", "tcp", "icmp", "docker":
		default:
			return fmt.Errorf("probes[%d].type %q is not one of http, tcp, icmp, docker", i, p.Type)
		}
		if p.Node == "" || p.Target == "" {
			return fmt.Errorf("probes[%d] needs both node and target", i)
		}
	}
	return nil
}

// DownAfterOrDefault resolves the effective staleness threshold.
func (c *Config) DownAfterOrDefault() time.Duration {
	if c.Failover.DownAfter > 0 {
		return c.Failover.DownAfter
	}
	return 3 * c.Lease.RenewInterval
}
