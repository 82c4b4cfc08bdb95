// Package config handles configuration loading for agentloop.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. Any value the file omits keeps its Default, so an empty file is
// a valid configuration.
//
// # File Format
//
// Files ending in .toml are decoded with BurntSushi/toml; every other
// extension is treated as YAML.
//
//	logging:
//	  level: "info"        # debug, info, warn, error
//	  format: "text"       # text or json
//	  color: true
//
//	orchestrator:
//	  max_iterations: 5
//	  approval_timeout: "5m"
//
//	store:
//	  watch_buffer: 16
//
//	bus:
//	  subscriber_buffer: 100
//
//	dedupe:
//	  ttl: "10m"
//	  max_size: 10000
//
// # Environment Variable Expansion
//
// Values may reference environment variables with ${VAR_NAME}. Unset
// variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax. An approval_timeout of
// "0s" makes the orchestrator wait for approvals until the run is cancelled.
package config
