// Package logging provides structured logging for fleetlink.
//
// It wraps Go's log/slog package so every component logs with the same
// handler, level filter and default fields.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, or a file path
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 3000)
//	logger.Error("failed to connect", "error", err)
//
//	hubLog := logger.Component("realtime")
//
// Never log broker passwords or embedded broker credentials.
package logging
