package store

type videoRow struct {
	VideoUID        string  `gorm:"column:video_uid;primaryKey"`
	Origin          string  `gorm:"column:origin"`
	Source          string  `gorm:"column:source"`
	Title           string  `gorm:"column:title"`
	Channel         string  `gorm:"column:channel"`
	DurationSeconds *int    `gorm:"column:duration_seconds"`
	CreatedAt       string  `gorm:"column:created_at"`
	ModifiedAt      string  `gorm:"column:modified_at"`
	Status          string  `gorm:"column:status"`
	ExtraJSON       *string `gorm:"column:extra_json"`
}

func (videoRow) TableName() string { return "videos" }

type assetRow struct {
	ID          string  `gorm:"column:id;primaryKey"`
	VideoUID    string  `gorm:"column:video_uid"`
	Kind        string  `gorm:"column:kind"`
	LocalPath   *string `gorm:"column:local_path"`
	DriveFileID *string `gorm:"column:drive_file_id"`
	MimeType    *string `gorm:"column:mime_type"`
	SizeBytes   *int64  `gorm:"column:size_bytes"`
	Hash        *string `gorm:"column:hash"`
}

func (assetRow) TableName() string { return "assets" }

type catalogStateRow struct {
	Origin             string  `gorm:"column:origin;primaryKey"`
	LastImportedAt     *string `gorm:"column:last_imported_at"`
	LastPublishedAt    *string `gorm:"column:last_published_at"`
	DriveCatalogFileID *string `gorm:"column:drive_catalog_file_id"`
	LastPublishedHash  *string `gorm:"column:last_published_hash"`
	Revision           int64   `gorm:"column:revision"`
}

func (catalogStateRow) TableName() string { return "catalog_state" }

type driveFileRow struct {
	DriveID    string `gorm:"column:drive_id;primaryKey"`
	Name       string `gorm:"column:name"`
	Path       string `gorm:"column:path"`
	FolderID   string `gorm:"column:folder_id"`
	Size       int64  `gorm:"column:size"`
	MimeType   string `gorm:"column:mime_type"`
	CreatedAt  string `gorm:"column:created_at"`
	ModifiedAt string `gorm:"column:modified_at"`
	IsDeleted  int    `gorm:"column:is_deleted"`
	CachedAt   string `gorm:"column:cached_at"`
}

func (driveFileRow) TableName() string { return "drive_files" }

type driveFolderRow struct {
	FolderID string `gorm:"column:folder_id;primaryKey"`
	Name     string `gorm:"column:name"`
	ParentID string `gorm:"column:parent_id"`
	Path     string `gorm:"column:path"`
	CachedAt string `gorm:"column:cached_at"`
}

func (driveFolderRow) TableName() string { return "drive_folders" }

type syncStateRow struct {
	Key                   string  `gorm:"column:key;primaryKey"`
	SyncInProgress        int     `gorm:"column:sync_in_progress"`
	LastFullSyncAt        *string `gorm:"column:last_full_sync_at"`
	LastIncrementalSyncAt *string `gorm:"column:last_incremental_sync_at"`
	TotalVideos           int64   `gorm:"column:total_videos"`
	TotalSizeBytes        int64   `gorm:"column:total_size_bytes"`
}

func (syncStateRow) TableName() string { return "sync_state" }

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
