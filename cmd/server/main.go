package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"mediavault/internal/app"
	"mediavault/internal/config"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(val string) error {
	*s = append(*s, val)
	return nil
}

func main() {
	var cfg config.Config

	flag.StringVar(&cfg.Addr, "addr", getEnv("ADDR", "127.0.0.1:8080"), "listen address")
	flag.StringVar(&cfg.DataDir, "data-dir", getEnv("DATA_DIR", "./data"), "data directory (sqlite db)")
	flag.StringVar(&cfg.DBBackend, "db-backend", getEnv("DB_BACKEND", "sqlite"), "database backend (sqlite or postgres)")
	flag.StringVar(&cfg.DatabaseURL, "database-url", getEnv("DATABASE_URL", ""), "postgres connection string (required when db-backend=postgres)")
	flag.StringVar(&cfg.MediaRoot, "media-root", getEnv("MEDIA_ROOT", "./media"), "local media root to scan")
	flag.StringVar(&cfg.APIToken, "api-token", getEnv("API_TOKEN", ""), "optional local API token (X-Api-Token)")
	flag.BoolVar(&cfg.AllowRemote, "allow-remote", getEnvBool("ALLOW_REMOTE", false), "accept private remote clients")

	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "json"), "log format (json or console)")

	flag.StringVar(&cfg.JobStoreBackend, "job-store", getEnv("JOB_STORE", "memory"), "job store backend (memory or redis)")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "127.0.0.1:6379"), "redis address (job-store=redis)")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "redis database number")

	flag.IntVar(&cfg.TransferPermits, "transfer-permits", getEnvInt("TRANSFER_PERMITS", 3), "max concurrent media transfers")
	flag.DurationVar(&cfg.JobRetention, "job-retention", getEnvDuration("JOB_RETENTION", 24*time.Hour), "delete finished jobs older than this duration")
	flag.DurationVar(&cfg.JobCleanupInterval, "job-cleanup-interval", getEnvDuration("JOB_CLEANUP_INTERVAL", time.Hour), "how often to sweep finished jobs")

	flag.DurationVar(&cfg.CacheSyncInterval, "cache-sync-interval", getEnvDuration("CACHE_SYNC_INTERVAL", 15*time.Minute), "periodic cache sync interval (0=disabled)")
	flag.DurationVar(&cfg.CacheSyncBackoff, "cache-sync-backoff", getEnvDuration("CACHE_SYNC_BACKOFF", 5*time.Minute), "backoff after a failed periodic sync")

	flag.StringVar(&cfg.S3Endpoint, "s3-endpoint", getEnv("S3_ENDPOINT", ""), "S3-compatible endpoint URL (empty=AWS)")
	flag.StringVar(&cfg.S3Region, "s3-region", getEnv("S3_REGION", "us-east-1"), "S3 region")
	flag.StringVar(&cfg.S3Bucket, "s3-bucket", getEnv("S3_BUCKET", ""), "S3 bucket holding the remote library")
	flag.StringVar(&cfg.S3AccessKeyID, "s3-access-key-id", getEnv("S3_ACCESS_KEY_ID", ""), "S3 access key id")
	flag.StringVar(&cfg.S3SecretAccessKey, "s3-secret-access-key", getEnv("S3_SECRET_ACCESS_KEY", ""), "S3 secret access key")
	flag.BoolVar(&cfg.S3ForcePathStyle, "s3-force-path-style", getEnvBool("S3_FORCE_PATH_STYLE", false), "use path-style S3 addressing")

	flag.StringVar(&cfg.DrivePrefix, "drive-prefix", getEnv("DRIVE_PREFIX", ""), "key prefix inside the bucket")
	flag.StringVar(&cfg.DriveFolder, "drive-folder", getEnv("DRIVE_FOLDER", "media"), "remote folder holding the media files")
	flag.StringVar(&cfg.CatalogFileName, "catalog-file", getEnv("CATALOG_FILE", "catalog.json.gz"), "name of the published catalog file")
	flag.StringVar(&cfg.LibraryID, "library-id", getEnv("LIBRARY_ID", ""), "optional library identifier stamped into snapshots")

	allowHosts := stringSliceFlag{}
	for _, host := range strings.Split(getEnv("ALLOWED_HOSTS", ""), ",") {
		host = strings.TrimSpace(strings.ToLower(host))
		if host == "" {
			continue
		}
		allowHosts = append(allowHosts, host)
	}
	flag.Var(&allowHosts, "allow-host", "allowed hostnames for Host/Origin checks (repeatable)")
	flag.Parse()

	cfg.AllowedHosts = allowHosts

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	if err := a.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return def
}
