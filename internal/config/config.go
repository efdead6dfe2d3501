package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Mode      string
	Addr      string
	AuthToken string
	StateDir  string

	LogLevel     string
	RunRetention int

	PollInterval    time.Duration
	LeaseTimeout    time.Duration
	MaxTasksPerTick int

	GatewayURL     string
	GatewayAPIKey  string
	GatewayTimeout time.Duration

	BarkURL     string
	BarkEnabled bool

	ShutdownGrace time.Duration
}

const (
	defaultAddr          = "0.0.0.0:7070"
	defaultLogLevel      = "info"
	defaultRunRetention  = 20
	defaultShutdownGrace = 5 * time.Second
	defaultPollInterval  = 60 * time.Second
	defaultLeaseTimeout  = 5 * time.Minute
	defaultMaxPerTick    = 10
)

// getEnvString returns the environment variable value or default
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt returns the environment variable as int or default
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool returns the environment variable as bool or default
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		lower := strings.ToLower(val)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

// getEnvDuration returns the environment variable as duration or default
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// Parse parses command line flags and environment variables into Config.
// Priority: CLI flags > environment variables > .env file > defaults.
func Parse() (*Config, error) {
	// .env is optional; check the working directory then the user config dir.
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "nanosched", ".env"))
	}
	_ = godotenv.Load(envFiles...)

	cfg := &Config{
		Mode:            getEnvString("NANOSCHED_MODE", "http"),
		Addr:            getEnvString("NANOSCHED_ADDR", defaultAddr),
		AuthToken:       getEnvString("NANOSCHED_AUTH_TOKEN", ""),
		StateDir:        getEnvString("NANOSCHED_STATE_DIR", ""),
		LogLevel:        getEnvString("NANOSCHED_LOG_LEVEL", defaultLogLevel),
		RunRetention:    getEnvInt("NANOSCHED_RUN_RETENTION", defaultRunRetention),
		PollInterval:    getEnvDuration("NANOSCHED_POLL_INTERVAL", defaultPollInterval),
		LeaseTimeout:    getEnvDuration("NANOSCHED_LEASE_TIMEOUT", defaultLeaseTimeout),
		MaxTasksPerTick: getEnvInt("NANOSCHED_MAX_TASKS_PER_TICK", defaultMaxPerTick),
		GatewayURL:      getEnvString("NANOSCHED_GATEWAY_URL", ""),
		GatewayAPIKey:   getEnvString("NANOSCHED_GATEWAY_API_KEY", ""),
		GatewayTimeout:  getEnvDuration("NANOSCHED_GATEWAY_TIMEOUT", 0),
		BarkURL:         getEnvString("NANOSCHED_BARK_URL", ""),
		BarkEnabled:     getEnvBool("NANOSCHED_BARK_ENABLED", false),
		ShutdownGrace:   getEnvDuration("NANOSCHED_SHUTDOWN_GRACE", defaultShutdownGrace),
	}

	var mode, addr, logLevel, stateDir, gatewayURL string
	var runRetention int
	var pollInterval, leaseTimeout, shutdownGrace time.Duration

	flag.StringVar(&mode, "mode", "", "Run mode: http, mcp or both (overrides env)")
	flag.StringVar(&addr, "addr", "", "HTTP listen address (overrides env)")
	flag.StringVar(&stateDir, "state-dir", "", "Directory to store the task database")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&gatewayURL, "gateway-url", "", "Base URL of the generation gateway")
	flag.IntVar(&runRetention, "run-retention", 0, "Number of recent runs to retain per task")
	flag.DurationVar(&pollInterval, "poll-interval", 0, "Due-task poll cadence")
	flag.DurationVar(&leaseTimeout, "lease-timeout", 0, "Lease expiry for crashed workers")
	flag.DurationVar(&shutdownGrace, "shutdown-grace", 0, "Grace period when shutting down")

	flag.Parse()

	if mode != "" {
		cfg.Mode = mode
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if gatewayURL != "" {
		cfg.GatewayURL = gatewayURL
	}
	if runRetention > 0 {
		cfg.RunRetention = runRetention
	}
	if pollInterval > 0 {
		cfg.PollInterval = pollInterval
	}
	if leaseTimeout > 0 {
		cfg.LeaseTimeout = leaseTimeout
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "shutdown-grace" {
			cfg.ShutdownGrace = shutdownGrace
		}
	})

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}
	if cfg.GatewayURL == "" {
		return nil, fmt.Errorf("gateway url is required (NANOSCHED_GATEWAY_URL)")
	}
	if cfg.RunRetention < 1 {
		cfg.RunRetention = defaultRunRetention
	}

	return cfg, nil
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "nanosched")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
