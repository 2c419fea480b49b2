package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envDBPath         = "MAILSYNC_DB_PATH"
	envListenAddr     = "MAILSYNC_LISTEN_ADDR"
	envMessageSyncURL = "MAILSYNC_MESSAGE_SYNC_URL"
	envConnectTimeout = "MAILSYNC_CONNECT_TIMEOUT"
	envGreetTimeout   = "MAILSYNC_GREET_TIMEOUT"
	envSocketTimeout  = "MAILSYNC_SOCKET_TIMEOUT"
	envInsecureTLS    = "MAILSYNC_ALLOW_INSECURE_TLS"
	envSnapshotBucket = "MAILSYNC_SNAPSHOT_BUCKET"
	envSnapshotPrefix = "MAILSYNC_SNAPSHOT_PREFIX"
	envSnapshotRegion = "MAILSYNC_SNAPSHOT_REGION"
	envOTLPEndpoint   = "MAILSYNC_OTLP_ENDPOINT"
	envOTLPHeaders    = "MAILSYNC_OTLP_HEADERS"
)

// Config holds process-level configuration. Per-account IMAP settings
// live in the store, not here.
type Config struct {
	DBPath         string
	ListenAddr     string
	MessageSyncURL string

	// Timeouts applies to every IMAP dial performed by the process.
	Timeouts Timeouts

	// AllowInsecureTLS relaxes certificate verification on implicit-TLS
	// connections. Many self-hosted mail servers present self-signed or
	// mismatched certificates, so this defaults to on.
	AllowInsecureTLS bool

	SnapshotBucket string
	SnapshotPrefix string
	SnapshotRegion string

	OTLPEndpoint string
	OTLPHeaders  map[string]string
}

// Timeouts are the three independent budgets for an IMAP session:
// TCP establishment, TLS handshake plus server greeting, and per-command
// socket I/O once the session is up.
type Timeouts struct {
	Connect time.Duration
	Greet   time.Duration
	Socket  time.Duration
}

// DefaultTimeouts bounds every protocol stage so a hang at any of them
// cannot stall a request indefinitely.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect: 15 * time.Second,
		Greet:   15 * time.Second,
		Socket:  30 * time.Second,
	}
}

// FromEnv loads configuration from environment variables, applying
// defaults where a variable is absent.
func FromEnv() (Config, error) {
	cfg := Config{
		DBPath:           "mailsync.db",
		ListenAddr:       ":8080",
		Timeouts:         DefaultTimeouts(),
		AllowInsecureTLS: true,
		SnapshotPrefix:   "mailsync/snapshots",
	}

	if v := strings.TrimSpace(os.Getenv(envDBPath)); v != "" {
		cfg.DBPath = v
	}
	if v := strings.TrimSpace(os.Getenv(envListenAddr)); v != "" {
		cfg.ListenAddr = v
	}
	cfg.MessageSyncURL = strings.TrimSpace(os.Getenv(envMessageSyncURL))
	cfg.SnapshotBucket = strings.TrimSpace(os.Getenv(envSnapshotBucket))
	cfg.SnapshotRegion = strings.TrimSpace(os.Getenv(envSnapshotRegion))
	if v := strings.TrimSpace(os.Getenv(envSnapshotPrefix)); v != "" {
		cfg.SnapshotPrefix = v
	}
	cfg.OTLPEndpoint = strings.TrimSpace(os.Getenv(envOTLPEndpoint))

	var err error
	if cfg.Timeouts.Connect, err = durationFromEnv(envConnectTimeout, cfg.Timeouts.Connect); err != nil {
		return Config{}, err
	}
	if cfg.Timeouts.Greet, err = durationFromEnv(envGreetTimeout, cfg.Timeouts.Greet); err != nil {
		return Config{}, err
	}
	if cfg.Timeouts.Socket, err = durationFromEnv(envSocketTimeout, cfg.Timeouts.Socket); err != nil {
		return Config{}, err
	}

	if v := strings.TrimSpace(os.Getenv(envInsecureTLS)); v != "" {
		allow, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envInsecureTLS, err)
		}
		cfg.AllowInsecureTLS = allow
	}

	if headers := strings.TrimSpace(os.Getenv(envOTLPHeaders)); headers != "" {
		cfg.OTLPHeaders = map[string]string{}
		for _, pair := range strings.Split(headers, ",") {
			key, value, ok := strings.Cut(pair, "=")
			if !ok {
				return Config{}, fmt.Errorf("invalid %s entry %q, want key=value", envOTLPHeaders, pair)
			}
			cfg.OTLPHeaders[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}

	return cfg, nil
}

// TelemetryEnabled reports whether an OTLP endpoint is configured.
func (c Config) TelemetryEnabled() bool {
	return c.OTLPEndpoint != ""
}

// SnapshotEnabled reports whether pre-reset snapshots can be uploaded.
func (c Config) SnapshotEnabled() bool {
	return c.SnapshotBucket != ""
}

func durationFromEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if dur <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", name)
	}
	return dur, nil
}
