package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// duration decodes YAML duration values. Config files write durations
// as strings ("15s", "1m30s"); bare integers are taken as nanoseconds
// so round-tripped JSON stays loadable.
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var asInt int64
	if err := node.Decode(&asInt); err == nil {
		*d = duration(asInt)
		return nil
	}

	var asString string
	if err := node.Decode(&asString); err != nil {
		return fmt.Errorf("duration must be a string like \"15s\" or an integer")
	}
	parsed, err := time.ParseDuration(asString)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", asString, err)
	}
	*d = duration(parsed)
	return nil
}

// The UnmarshalYAML methods below exist so the exported structs keep
// plain time.Duration fields while YAML accepts duration strings. Each
// seeds its shadow struct from the receiver so keys absent from the
// file keep the values already applied by Default().

func (l *LeaseConfig) UnmarshalYAML(node *yaml.Node) error {
	raw := struct {
		TTL             duration `yaml:"ttl"`
		RenewInterval   duration `yaml:"renew_interval"`
		AcquireInterval duration `yaml:"acquire_interval"`
	}{
		TTL:             duration(l.TTL),
		RenewInterval:   duration(l.RenewInterval),
		AcquireInterval: duration(l.AcquireInterval),
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	l.TTL = time.Duration(raw.TTL)
	l.RenewInterval = time.Duration(raw.RenewInterval)
	l.AcquireInterval = time.Duration(raw.AcquireInterval)
	return nil
}

func (f *FailoverConfig) UnmarshalYAML(node *yaml.Node) error {
	raw := struct {
		DownAfter          duration `yaml:"down_after"`
		FailureThreshold   int      `yaml:"failure_threshold"`
		RecoveryThreshold  int      `yaml:"recovery_threshold"`
		SweepInterval      duration `yaml:"sweep_interval"`
		SwitchoverCooldown duration `yaml:"switchover_cooldown"`
	}{
		DownAfter:          duration(f.DownAfter),
		FailureThreshold:   f.FailureThreshold,
		RecoveryThreshold:  f.RecoveryThreshold,
		SweepInterval:      duration(f.SweepInterval),
		SwitchoverCooldown: duration(f.SwitchoverCooldown),
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	f.DownAfter = time.Duration(raw.DownAfter)
	f.FailureThreshold = raw.FailureThreshold
	f.RecoveryThreshold = raw.RecoveryThreshold
	f.SweepInterval = time.Duration(raw.SweepInterval)
	f.SwitchoverCooldown = time.Duration(raw.SwitchoverCooldown)
	return nil
}

func (p *ProbeConfig) UnmarshalYAML(node *yaml.Node) error {
	raw := struct {
		Node    string   `yaml:"node"`
		Type    string   `yaml:"type"`
		Target  string   `yaml:"target"`
		Timeout duration `yaml:"timeout"`
	}{
		Node:    p.Node,
		Type:    p.Type,
		Target:  p.Target,
		Timeout: duration(p.Timeout),
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	p.Node = raw.Node
	p.Type = raw.Type
	p.Target = raw.Target
	p.Timeout = time.Duration(raw.Timeout)
	return nil
}

func (r *ReplicationConfig) UnmarshalYAML(node *yaml.Node) error {
	raw := struct {
		Enabled      bool     `yaml:"enabled"`
		PollInterval duration `yaml:"poll_interval"`
		MaxLagBytes  int64    `yaml:"max_lag_bytes"`
	}{
		Enabled:      r.Enabled,
		PollInterval: duration(r.PollInterval),
		MaxLagBytes:  r.MaxLagBytes,
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	r.Enabled = raw.Enabled
	r.PollInterval = time.Duration(raw.PollInterval)
	r.MaxLagBytes = raw.MaxLagBytes
	return nil
}

func (a *APIConfig) UnmarshalYAML(node *yaml.Node) error {
	raw := struct {
		Listen    string           `yaml:"listen"`
		JWTSecret string           `yaml:"jwt_secret"`
		TokenTTL  duration         `yaml:"token_ttl"`
		RateLimit float64          `yaml:"rate_limit"`
		RateBurst int              `yaml:"rate_burst"`
		Operators []OperatorConfig `yaml:"operators"`
	}{
		Listen:    a.Listen,
		JWTSecret: a.JWTSecret,
		TokenTTL:  duration(a.TokenTTL),
		RateLimit: a.RateLimit,
		RateBurst: a.RateBurst,
		Operators: a.Operators,
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	a.Listen = raw.Listen
	a.JWTSecret = raw.JWTSecret
	a.TokenTTL = time.Duration(raw.TokenTTL)
	a.RateLimit = raw.RateLimit
	a.RateBurst = raw.RateBurst
	a.Operators = raw.Operators
	return nil
}
