package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendFile     = "file"
	BackendSnapshot = "snapshot"
)

// Snapshot blob stores.
const (
	BlobsDir   = "dir"
	BlobsRedis = "redis"
)

// Config holds application configuration values.
type Config struct {
	Secret   string
	HTTPAddr string
	LogLevel string

	Backend      string
	DatabasePath string
	SnapshotBlob string
	SnapshotDir  string
	SnapshotKey  string
	RedisAddr    string

	PhoneRegion        string
	AuditRetentionDays int
	CatalogCSV         string
}

// Load reads configuration from environment variables with reasonable defaults.
// A .env file in the working directory is applied first when present.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Secret:       env("SECRET", "dev_secret"),
		HTTPAddr:     env("HTTP_ADDR", "127.0.0.1:8080"),
		LogLevel:     env("LOG_LEVEL", "info"),
		Backend:      strings.ToLower(env("STORE_BACKEND", BackendFile)),
		DatabasePath: env("DATABASE_PATH", "meditrack.db"),
		SnapshotBlob: strings.ToLower(env("SNAPSHOT_BLOBS", BlobsDir)),
		SnapshotDir:  env("SNAPSHOT_DIR", "data"),
		SnapshotKey:  env("SNAPSHOT_KEY", "meditrack_db"),
		RedisAddr:    env("REDIS_ADDR", "localhost:6379"),
		PhoneRegion:  strings.ToUpper(env("PHONE_REGION", "IN")),
		CatalogCSV:   os.Getenv("CATALOG_CSV"),
	}

	if cfg.Backend != BackendFile && cfg.Backend != BackendSnapshot {
		log.Printf("invalid STORE_BACKEND value %q, defaulting to %s", cfg.Backend, BackendFile)
		cfg.Backend = BackendFile
	}
	if cfg.SnapshotBlob != BlobsDir && cfg.SnapshotBlob != BlobsRedis {
		log.Printf("invalid SNAPSHOT_BLOBS value %q, defaulting to %s", cfg.SnapshotBlob, BlobsDir)
		cfg.SnapshotBlob = BlobsDir
	}

	cfg.AuditRetentionDays = 90
	if raw := os.Getenv("AUDIT_RETENTION_DAYS"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days <= 0 {
			log.Printf("invalid AUDIT_RETENTION_DAYS value %q, defaulting to 90", raw)
		} else {
			cfg.AuditRetentionDays = days
		}
	}

	return cfg
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
