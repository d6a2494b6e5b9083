package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnv applies ARBITER_* environment overrides on top of cfg.
// Only settings that differ per deployment host get an override;
// everything else belongs in the config file.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("ARBITER_CLUSTER"); v != "" {
		cfg.Cluster.Name = v
	}
	if v := os.Getenv("ARBITER_NODE"); v != "" {
		cfg.Cluster.Node = v
	}
	if v := os.Getenv("ARBITER_NODE_ID"); v != "" {
		cfg.Cluster.NodeID = v
	}
	if v := os.Getenv("ARBITER_ROLE"); v != "" {
		cfg.Cluster.Role = v
	}
	if v := os.Getenv("ARBITER_ADDRESS"); v != "" {
		cfg.Cluster.Address = v
	}

	if v := os.Getenv("ARBITER_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("ARBITER_DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = p
		}
	}
	if v := os.Getenv("ARBITER_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("ARBITER_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("ARBITER_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("ARBITER_DB_SSLMODE"); v != "" {
		cfg.Database.SSLMode = v
	}

	if v := os.Getenv("ARBITER_LEASE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Lease.TTL = d
		}
	}
	if v := os.Getenv("ARBITER_RENEW_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Lease.RenewInterval = d
		}
	}

	if v := os.Getenv("ARBITER_API_LISTEN"); v != "" {
		cfg.API.Listen = v
	}
	if v := os.Getenv("ARBITER_JWT_SECRET"); v != "" {
		cfg.API.JWTSecret = v
	}
	if v := os.Getenv("ARBITER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// GetEnvOrDefault returns the environment variable or a fallback.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
