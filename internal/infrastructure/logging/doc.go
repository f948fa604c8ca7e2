// Package logging provides structured logging for Gray Logic Access.
//
// It wraps log/slog so every component logs with the same default fields
// (service, version) and the same level filtering.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("livesync").Warn("device sync failed", "device_id", id, "error", err)
//
// # Security
//
// Never log device passwords or session tokens. Driver errors carry the
// device ID and operation only.
package logging
