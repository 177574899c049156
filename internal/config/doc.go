// Package config handles configuration loading for tutor-realtime.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by extension)
// with environment variable expansion, defaults, and validation.
//
// # Configuration File
//
// Default location:
//
//  1. Path from TUTOR_REALTIME_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/tutor-realtime/gateway.yaml (~/.config when unset)
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${TUTOR_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	realtime:
//	  dedupe_ttl: "5m"
//	  session_idle_timeout: "30m"
//
// An explicit "0s" idle timeout disables reaping of idle sessions.
//
// # Example
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	database:
//	  driver: "sqlite"
//	  path: "/var/lib/tutor-realtime/tutor.db"
//	auth:
//	  jwt_secret: "${TUTOR_JWT_SECRET}"
//	realtime:
//	  dedupe_ttl: "5m"
//	  dedupe_max_entries: 10000
//	  max_event_bytes: 1048576
//	logging:
//	  level: "info"
//	  format: "text"
package config
