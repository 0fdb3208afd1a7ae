package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dgnsrekt/meet_torture/internal/participant"
)

// Config holds all configuration for a torture run.
type Config struct {
	// Deployment under test
	InstanceURL string
	Tenant      string
	// RoomName fixes the conference room; empty picks a random one per scenario.
	RoomName string

	ParticipantsFile string
	// Headless is applied to participants whose configuration does not say.
	Headless bool

	// Logging and diagnostics
	LogLevel       string
	LogFile        string
	DiagnosticsDir string

	// Status API
	BindAddr string
	// NotifyURL receives a run summary (an ntfy topic URL); empty disables.
	NotifyURL string

	FlakyTypes        []participant.Type
	JoinTimeout       time.Duration
	PageLoadTimeout   time.Duration
	KeepAliveInterval time.Duration
	LongLivedDuration time.Duration

	TestsToRun     []string
	TestsToExclude []string
}

// ErrNoInstance is returned by RequireInstance when no deployment is configured.
var ErrNoInstance = errors.New("TORTURE_INSTANCE_URL is not set")

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	flaky, err := parseTypes(getEnvOrDefault("TORTURE_FLAKY_TYPES", "firefox,safari"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		InstanceURL:       strings.TrimRight(os.Getenv("TORTURE_INSTANCE_URL"), "/"),
		Tenant:            os.Getenv("TORTURE_TENANT"),
		RoomName:          os.Getenv("TORTURE_ROOM_NAME"),
		ParticipantsFile:  getEnvOrDefault("TORTURE_PARTICIPANTS_FILE", "./config/participants.yaml"),
		Headless:          getEnvBoolOrDefault("TORTURE_HEADLESS", true),
		LogLevel:          getEnvOrDefault("TORTURE_LOG_LEVEL", "info"),
		LogFile:           getEnvOrDefault("TORTURE_LOG_FILE", "./logs/torture.log"),
		DiagnosticsDir:    getEnvOrDefault("TORTURE_DIAGNOSTICS_DIR", "./diagnostics"),
		BindAddr:          getEnvOrDefault("TORTURE_BIND_ADDR", "127.0.0.1:8190"),
		NotifyURL:         os.Getenv("TORTURE_NOTIFY_URL"),
		FlakyTypes:        flaky,
		JoinTimeout:       getEnvDurationOrDefault("TORTURE_JOIN_TIMEOUT", 10*time.Second),
		PageLoadTimeout:   getEnvDurationOrDefault("TORTURE_PAGE_LOAD_TIMEOUT", 30*time.Second),
		KeepAliveInterval: getEnvDurationOrDefault("TORTURE_KEEPALIVE_INTERVAL", 20*time.Second),
		LongLivedDuration: getEnvDurationOrDefault("TORTURE_LONG_LIVED_DURATION", 5*time.Minute),
		TestsToRun:        getEnvListOrDefault("TORTURE_TESTS_TO_RUN", nil),
		TestsToExclude:    getEnvListOrDefault("TORTURE_TESTS_TO_EXCLUDE", nil),
	}

	return cfg, nil
}

// RequireInstance fails when no deployment URL is configured.
func (c *Config) RequireInstance() error {
	if c.InstanceURL == "" {
		return ErrNoInstance
	}
	return nil
}

func parseTypes(list string) ([]participant.Type, error) {
	var out []participant.Type
	for _, s := range splitList(list) {
		t, err := participant.ParseType(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDurationOrDefault accepts Go durations ("15s") and bare seconds.
func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs := getEnvIntOrDefault(key, -1); secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	slog.Warn("ignoring invalid duration", "key", key, "value", val)
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		return splitList(val)
	}
	return defaultVal
}
