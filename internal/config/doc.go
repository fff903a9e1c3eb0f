// Package config loads runtime configuration for the sync agent and CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. A .env file in the working directory, then FOCUSSYNC_* variables.
//  3. Optional JSON file selected via flags: -c or -config.
//  4. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-s string      store driver: memory, sqlite, postgres
//	-d string      store DSN
//	-t string      peer transport: grpc, s3
//	-l string      gRPC peer listen address
//	-w string      address advertised to peers
//	-p host:port   peer address (repeatable)
//	-a string      status API address
//	-i int         auto-sync interval (seconds)
//	-k string      key derivation: pbkdf2-sha256, argon2id
//	-auto bool     sync periodically
//	-log-level, -log-file, -log-json
//	-s3-bucket, -s3-endpoint, -s3-region, -s3-prefix
//
// Boolean flags take their value with '=', e.g. -auto=false.
//
// # JSON schema
//
// Durations use timex.Duration, so "30s" and integer nanoseconds both work:
//
//	{
//	  "store_driver": "sqlite",
//	  "store_dsn": "focussync.db",
//	  "transport": "grpc",
//	  "peer_listen": ":47600",
//	  "peers": ["10.0.0.7:47600"],
//	  "sync_interval": "5m",
//	  "s3": {"bucket": "focussync", "prefix": "home"}
//	}
//
// S3 credentials are only read from FOCUSSYNC_S3_ACCESS_KEY and
// FOCUSSYNC_S3_SECRET_KEY or the JSON file, never from flags.
package config
