// Package config handles configuration loading for coven-relay.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_RELAY_CONFIG environment variable
//  2. ./relay.yaml (current directory)
//  3. ~/.config/coven/relay.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	matrix:
//	  password: "${COVEN_RELAY_MATRIX_PASSWORD}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	connection:
//	  backoff_base: "2s"
//	  backoff_cap: "30s"
//	  echo_ttl: "60s"
//	  watchdog_interval: "1m"
//	  stale_threshold: "30m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Matrix homeserver:
//
//	matrix:
//	  homeserver: "https://matrix.example.org"
//	  username: "relay"
//	  password: "${COVEN_RELAY_MATRIX_PASSWORD}"
//	  allowed_rooms:
//	    - "!room:example.org"
//
// Agent service:
//
//	agent:
//	  url: "http://localhost:8080"
//	  workspace: "/var/lib/coven-relay/work"
//
// Relay loop:
//
//	relay:
//	  typing_indicator: true
//	  chunk_limit: 4000
//	  max_attachment_bytes: 52428800
//
// Connection recovery:
//
//	connection:
//	  policy_path: "/etc/coven/reconnect.toml"
//	  backoff_base: "2s"
//	  backoff_factor: 1.8
//	  backoff_cap: "30s"
//
// Database:
//
//	database:
//	  path: "/var/lib/coven-relay/relay.db"
//	  secret: "${COVEN_RELAY_DB_SECRET}"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/coven/relay.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
