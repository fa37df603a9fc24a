package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures every externally tunable knob of the enforcement pipeline
// so main stays lean and no guard hardcodes its own limits.
type Config struct {
	Addr          string
	JWTSigningKey string

	Redis    RedisConfig
	Postgres PostgresConfig

	Audit  AuditConfig
	Cohort CohortConfig
	Export ExportConfig
}

// RedisConfig controls the optional shared rate-limit counter store.
// An empty URL means counters stay in process memory.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PostgresConfig controls the optional relational audit sink.
// An empty URL means the file sink alone is used.
type PostgresConfig struct {
	URL string
}

// AuditConfig locates the append-only audit streams.
type AuditConfig struct {
	LogPath       string
	ExportLogPath string
	// RotateBytes is the size at which the janitor archives the log.
	RotateBytes int64
}

// CohortConfig holds the k-anonymity threshold for aggregate disclosure.
type CohortConfig struct {
	MinCohortSize int
}

// ExportConfig holds the bulk-export safety caps.
type ExportConfig struct {
	MaxDays          int
	MaxEntries       int
	WarningThreshold int
	MinReasonLength  int
}

// FromEnv builds a Config from environment variables with safe defaults.
func FromEnv() Config {
	return Config{
		Addr:          envStr("EDUSHIELD_ADDR", ":8080"),
		JWTSigningKey: envStr("EDUSHIELD_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		Redis: RedisConfig{
			URL:          os.Getenv("EDUSHIELD_REDIS_URL"),
			PoolSize:     envInt("EDUSHIELD_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("EDUSHIELD_REDIS_MIN_IDLE", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Postgres: PostgresConfig{
			URL: os.Getenv("EDUSHIELD_DATABASE_URL"),
		},
		Audit: AuditConfig{
			LogPath:       envStr("EDUSHIELD_AUDIT_LOG", "/var/log/edushield/analytics_audit.log"),
			ExportLogPath: envStr("EDUSHIELD_EXPORT_LOG", "/var/log/edushield/audit_exports.log"),
			RotateBytes:   int64(envInt("EDUSHIELD_AUDIT_ROTATE_BYTES", 10*1024*1024)),
		},
		Cohort: CohortConfig{
			MinCohortSize: envInt("EDUSHIELD_MIN_COHORT_SIZE", 5),
		},
		Export: ExportConfig{
			MaxDays:          envInt("EDUSHIELD_EXPORT_MAX_DAYS", 365),
			MaxEntries:       envInt("EDUSHIELD_EXPORT_MAX_ENTRIES", 50000),
			WarningThreshold: envInt("EDUSHIELD_EXPORT_WARN_THRESHOLD", 10000),
			MinReasonLength:  envInt("EDUSHIELD_EXPORT_MIN_REASON_LEN", 5),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
