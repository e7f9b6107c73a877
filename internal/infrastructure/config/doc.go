// Package config provides 12-factor configuration management for the shell.
//
// Configuration is resolved in three layers: built-in defaults, an optional
// YAML config file (pointed at by PHOTOSHELL_CONFIG), and environment
// variables. Later layers win.
//
// Configuration Sections:
//   - Server: local IPC HTTP server settings (host, port)
//   - Backend: supervised AI backend (command, port strategy, timeouts)
//   - Assets: model bundle staging (manifest, source/dest roots)
//   - Health: backend health polling cadence
//   - Paths: UI root, protocol root, settings file, extra allowed roots
//   - Logging: log level and output format
//   - RateLimit: per-IP rate limiting for the IPC surface
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Shell listening on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
package config
