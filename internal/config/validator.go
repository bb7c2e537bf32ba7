package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// configSchema constrains the value ranges the runtime components assume.
// Structural checks live here; anything cross-field is verified by the
// components' own constructors.
const configSchema = `{
	"type": "object",
	"properties": {
		"gateway": {
			"type": "object",
			"properties": {
				"url": {"type": "string", "pattern": "^wss?://"},
				"client_id": {"type": "string", "minLength": 1},
				"default_timeout_seconds": {"type": "integer", "minimum": 1},
				"dial_timeout_seconds": {"type": "integer", "minimum": 1},
				"reconnect_base_ms": {"type": "integer", "minimum": 1},
				"reconnect_max_ms": {"type": "integer", "minimum": 1}
			},
			"required": ["url"]
		},
		"retry": {
			"type": "object",
			"properties": {
				"max_retries": {"type": "integer", "minimum": 0, "maximum": 20},
				"backoff_base_ms": {"type": "integer", "minimum": 1},
				"backoff_max_ms": {"type": "integer", "minimum": 1}
			}
		},
		"breaker": {
			"type": "object",
			"properties": {
				"failure_threshold": {"type": "integer", "minimum": 1},
				"recovery_timeout_seconds": {"type": "integer", "minimum": 1},
				"half_open_max_calls": {"type": "integer", "minimum": 1}
			}
		},
		"rate_limit": {
			"type": "object",
			"properties": {
				"max_calls": {"type": "integer", "minimum": 1},
				"period_seconds": {"type": "integer", "minimum": 1}
			}
		},
		"dedup": {
			"type": "object",
			"properties": {
				"ttl_seconds": {"type": "integer", "minimum": 1},
				"max_size": {"type": "integer", "minimum": 1}
			}
		},
		"cache": {
			"type": "object",
			"properties": {
				"similarity_threshold": {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
				"ttl_seconds": {"type": "integer", "minimum": 1},
				"max_size": {"type": "integer", "minimum": 1},
				"provider": {"type": "string", "enum": ["openai", "hash"]}
			}
		},
		"logging": {
			"type": "object",
			"properties": {
				"level": {"type": "string", "enum": ["trace", "debug", "info", "warn", "error"]}
			}
		}
	},
	"required": ["gateway"]
}`

// Validate checks the configuration against the schema
func Validate(cfg *Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config for validation: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return fmt.Errorf("failed to validate config: %w", err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}
