package config

import (
	"flag"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Config is the agent's full runtime configuration, parsed once at
// startup from flags with environment-variable overrides.
type Config struct {
	DockerHost      string        // Docker Engine API endpoint, "" for the default socket
	TargetDir       string        // directory of per-app target-state YAML files
	DataDir         string        // directory for the agent's own bbolt state file
	StatusAddr      string        // listen address for the device status API
	DeviceKeyFile   string        // path to the bcrypt-hashed device API key
	ReconcileEvery  time.Duration // fallback timer driving a reconcile round
	LocalMode       bool          // disable cloud-driven cross-app removals
	LogLevel        slog.Level
	Pprof           bool // enable /debug/pprof/ endpoints on the status listener
}

// Parse parses flags, then applies AGENTD_* environment overrides, and
// returns the resulting Config.
func Parse() *Config {
	cfg := &Config{}

	var logLevel string
	var reconcileEvery string
	flag.StringVar(&cfg.DockerHost, "docker-host", "", "Docker Engine API endpoint (empty for the default socket)")
	flag.StringVar(&cfg.TargetDir, "target-dir", "/opt/edged/apps", "Directory of per-app target-state files")
	flag.StringVar(&cfg.DataDir, "data-dir", "./data", "Directory for the agent's local state database")
	flag.StringVar(&cfg.StatusAddr, "status-addr", "127.0.0.1:5050", "Listen address for the device status API")
	flag.StringVar(&cfg.DeviceKeyFile, "device-key-file", "./data/device.key", "Path to the bcrypt-hashed device API key")
	flag.StringVar(&reconcileEvery, "reconcile-every", "30s", "Fallback reconcile interval (parsed with time.ParseDuration)")
	flag.BoolVar(&cfg.LocalMode, "local-mode", false, "Disable cloud-driven cross-app removals")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.BoolVar(&cfg.Pprof, "pprof", false, "Enable /debug/pprof/ endpoints")
	flag.Parse()

	if v := os.Getenv("AGENTD_DOCKER_HOST"); v != "" {
		cfg.DockerHost = v
	}
	if v := os.Getenv("AGENTD_TARGET_DIR"); v != "" {
		cfg.TargetDir = v
	}
	if v := os.Getenv("AGENTD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("AGENTD_STATUS_ADDR"); v != "" {
		cfg.StatusAddr = v
	}
	if v := os.Getenv("AGENTD_DEVICE_KEY_FILE"); v != "" {
		cfg.DeviceKeyFile = v
	}
	if v := os.Getenv("AGENTD_RECONCILE_EVERY"); v != "" {
		reconcileEvery = v
	}
	if v := os.Getenv("AGENTD_LOCAL_MODE"); v == "1" || v == "true" {
		cfg.LocalMode = true
	}
	if v := os.Getenv("AGENTD_LOG_LEVEL"); v != "" {
		logLevel = v
	}
	if v := os.Getenv("AGENTD_PPROF"); v == "1" || v == "true" {
		cfg.Pprof = true
	}

	cfg.LogLevel = parseLogLevel(logLevel)
	cfg.ReconcileEvery = parseDuration(reconcileEvery, 30*time.Second)

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return fallback
}
