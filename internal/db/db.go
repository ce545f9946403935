package db

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

type Config struct {
	Backend     Backend
	SQLitePath  string
	DatabaseURL string
}

func ParseBackend(raw string) (Backend, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return BackendSQLite, nil
	}
	switch raw {
	case "sqlite":
		return BackendSQLite, nil
	case "postgres", "postgresql", "pg":
		return BackendPostgres, nil
	default:
		return "", fmt.Errorf("unsupported db backend %q (expected sqlite or postgres)", raw)
	}
}

func Open(cfg Config) (*gorm.DB, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = BackendSQLite
	}
	switch backend {
	case BackendSQLite:
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return nil, errors.New("sqlite path is required")
		}
		return openSQLite(cfg.SQLitePath)
	case BackendPostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, errors.New("DATABASE_URL is required when DB_BACKEND=postgres")
		}
		return openPostgres(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported db backend %q", backend)
	}
}

func openSQLite(dbPath string) (*gorm.DB, error) {
	gormDB, err := trySQLite(dbPath)
	if err == nil {
		return gormDB, nil
	}
	if !isCorruption(err) {
		return nil, err
	}

	// A corrupted file is moved aside rather than deleted so it can be
	// inspected later; a fresh store is created in its place.
	backup := fmt.Sprintf("%s.corrupt-%s", dbPath, time.Now().UTC().Format("20060102T150405"))
	if renameErr := os.Rename(dbPath, backup); renameErr != nil {
		return nil, fmt.Errorf("back up corrupted db: %w", renameErr)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Rename(dbPath+suffix, backup+suffix)
	}
	return trySQLite(dbPath)
}

func trySQLite(dbPath string) (*gorm.DB, error) {
	gormDB, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := gormDB.Exec(`PRAGMA busy_timeout=5000;`).Error; err != nil {
		return nil, err
	}
	if err := gormDB.Exec(`PRAGMA foreign_keys=ON;`).Error; err != nil {
		return nil, err
	}
	if err := gormDB.Exec(`PRAGMA journal_mode=WAL;`).Error; err != nil {
		return nil, err
	}

	if err := migrate(gormDB); err != nil {
		return nil, err
	}

	return gormDB, nil
}

func isCorruption(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database disk image is malformed") ||
		strings.Contains(msg, "file is not a database") ||
		strings.Contains(msg, "file is encrypted")
}

func openPostgres(databaseURL string) (*gorm.DB, error) {
	gormDB, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := migrate(gormDB); err != nil {
		return nil, err
	}

	return gormDB, nil
}

func migrate(db *gorm.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS videos (
			video_uid TEXT PRIMARY KEY,
			origin TEXT NOT NULL,
			source TEXT,
			title TEXT,
			channel TEXT,
			duration_seconds INTEGER,
			created_at TEXT,
			modified_at TEXT,
			status TEXT NOT NULL,
			extra_json TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_videos_origin ON videos(origin);`,
		`CREATE INDEX IF NOT EXISTS idx_videos_origin_modified_at ON videos(origin, modified_at);`,

		`CREATE TABLE IF NOT EXISTS assets (
			id TEXT PRIMARY KEY,
			video_uid TEXT NOT NULL,
			kind TEXT NOT NULL,
			local_path TEXT,
			drive_file_id TEXT UNIQUE,
			mime_type TEXT,
			size_bytes BIGINT,
			hash TEXT,
			FOREIGN KEY(video_uid) REFERENCES videos(video_uid) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_assets_video_uid ON assets(video_uid);`,
		`CREATE INDEX IF NOT EXISTS idx_assets_kind ON assets(kind);`,

		`CREATE TABLE IF NOT EXISTS catalog_state (
			origin TEXT PRIMARY KEY,
			last_imported_at TEXT,
			last_published_at TEXT,
			drive_catalog_file_id TEXT,
			last_published_hash TEXT,
			revision BIGINT NOT NULL DEFAULT 0
		);`,

		`CREATE TABLE IF NOT EXISTS drive_files (
			drive_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			path TEXT,
			folder_id TEXT,
			size BIGINT NOT NULL DEFAULT 0,
			mime_type TEXT,
			created_at TEXT,
			modified_at TEXT,
			is_deleted INTEGER NOT NULL DEFAULT 0,
			cached_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_drive_files_is_deleted ON drive_files(is_deleted);`,
		`CREATE INDEX IF NOT EXISTS idx_drive_files_folder_id ON drive_files(folder_id);`,

		`CREATE TABLE IF NOT EXISTS drive_folders (
			folder_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			parent_id TEXT,
			path TEXT NOT NULL,
			cached_at TEXT NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS sync_state (
			key TEXT PRIMARY KEY,
			sync_in_progress INTEGER NOT NULL DEFAULT 0,
			last_full_sync_at TEXT,
			last_incremental_sync_at TEXT,
			total_videos BIGINT NOT NULL DEFAULT 0,
			total_size_bytes BIGINT NOT NULL DEFAULT 0
		);`,
	}

	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
