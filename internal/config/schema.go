package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// configSchema is the structural contract for a loaded Config. Semantic
// rules that depend on more than one field live in Validate instead.
// Durations appear as integers here because they serialize as nanoseconds.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["cluster", "database", "lease"],
  "properties": {
    "cluster": {
      "type": "object",
      "required": ["name", "node"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "node_id": {"type": "string"},
        "node": {"type": "string", "minLength": 1},
        "role": {"type": "string", "enum": ["server", "proxy"]},
        "address": {"type": "string"}
      }
    },
    "database": {
      "type": "object",
      "required": ["host", "name", "user"],
      "properties": {
        "host": {"type": "string", "minLength": 1},
        "port": {"type": "integer", "minimum": 1, "maximum": 65535},
        "name": {"type": "string", "minLength": 1},
        "user": {"type": "string", "minLength": 1},
        "password": {"type": "string"},
        "sslmode": {"type": "string"}
      }
    },
    "lease": {
      "type": "object",
      "properties": {
        "ttl": {"type": "integer", "minimum": 1},
        "renew_interval": {"type": "integer", "minimum": 1},
        "acquire_interval": {"type": "integer", "minimum": 1}
      }
    },
    "failover": {
      "type": "object",
      "properties": {
        "down_after": {"type": "integer", "minimum": 0},
        "failure_threshold": {"type": "integer", "minimum": 1},
        "recovery_threshold": {"type": "integer", "minimum": 1},
        "sweep_interval": {"type": "integer", "minimum": 1},
        "switchover_cooldown": {"type": "integer", "minimum": 0}
      }
    },
    "probes": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "node": {"type": "string"},
          "type": {"type": "string"},
          "target": {"type": "string"},
          "timeout": {"type": "integer", "minimum": 0}
        }
      }
    },
    "dns": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "zone": {"type": "string"},
        "listen": {"type": "string"},
        "ttl": {"type": "integer", "minimum": 1, "maximum": 86400}
      }
    },
    "api": {
      "type": "object",
      "properties": {
        "listen": {"type": "string"},
        "jwt_secret": {"type": "string"},
        "token_ttl": {"type": "integer", "minimum": 0},
        "rate_limit": {"type": "number", "minimum": 0},
        "rate_burst": {"type": "integer", "minimum": 0}
      }
    },
    "log": {
      "type": "object",
      "properties": {
        "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]}
      }
    }
  }
}`

func validateSchema(cfg *Config) error {
	schemaLoader := gojsonschema.NewStringLoader(configSchema)
	documentLoader := gojsonschema.NewGoLoader(cfg)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		errors := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errors = append(errors, e.String())
		}
		return fmt.Errorf("invalid config: %s", strings.Join(errors, "; "))
	}

	return nil
}
