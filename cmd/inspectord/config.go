package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/propcare/inspector/internal/logging"
)

// Config holds daemon configuration. Flags win over environment variables;
// both fall back to defaults suited to a device-local deployment.
type Config struct {
	DataDir       string
	ListenAddr    string
	BackendURL    string
	APIToken      string
	DeviceID      string
	SyncInterval  time.Duration
	GraceInterval time.Duration
	ProbeInterval time.Duration
	LogLevel      logging.LogLevel
}

func loadConfig(args []string) (*Config, error) {
	fs := flag.NewFlagSet("inspectord", flag.ContinueOnError)

	dataDir := fs.String("data-dir", envOr("INSPECTOR_DATA_DIR", "./data"),
		"directory for the queue database and photo files")
	listen := fs.String("listen", envOr("INSPECTOR_LISTEN", "localhost:8091"),
		"address the local API listens on")
	backendURL := fs.String("backend-url", envOr("INSPECTOR_BACKEND_URL", ""),
		"base URL of the property-care backend")
	apiToken := fs.String("api-token", envOr("INSPECTOR_API_TOKEN", ""),
		"bearer token for backend calls")
	deviceID := fs.String("device-id", envOr("INSPECTOR_DEVICE_ID", ""),
		"device identifier sent with backend calls")
	syncInterval := fs.Duration("sync-interval", envDurationOr("INSPECTOR_SYNC_INTERVAL", 5*time.Minute),
		"how often the background drain re-runs while online")
	graceInterval := fs.Duration("grace-interval", envDurationOr("INSPECTOR_GRACE_INTERVAL", 30*time.Second),
		"how long synced queue rows linger before the sweep")
	probeInterval := fs.Duration("probe-interval", envDurationOr("INSPECTOR_PROBE_INTERVAL", 30*time.Second),
		"how often the connectivity probe pings the backend")
	logLevel := fs.String("log-level", envOr("INSPECTOR_LOG_LEVEL", "info"),
		"minimum log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *backendURL == "" {
		return nil, fmt.Errorf("backend URL is required (-backend-url or INSPECTOR_BACKEND_URL)")
	}

	level, err := parseLogLevel(*logLevel)
	if err != nil {
		return nil, err
	}

	return &Config{
		DataDir:       *dataDir,
		ListenAddr:    *listen,
		BackendURL:    *backendURL,
		APIToken:      *apiToken,
		DeviceID:      *deviceID,
		SyncInterval:  *syncInterval,
		GraceInterval: *graceInterval,
		ProbeInterval: *probeInterval,
		LogLevel:      level,
	}, nil
}

func parseLogLevel(s string) (logging.LogLevel, error) {
	switch s {
	case "debug":
		return logging.LevelDebug, nil
	case "info":
		return logging.LevelInfo, nil
	case "warn":
		return logging.LevelWarn, nil
	case "error":
		return logging.LevelError, nil
	default:
		return logging.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
