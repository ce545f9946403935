package models

import "encoding/json"

type ErrorResponse struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Origin identifies which authoritative source a catalog row mirrors.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

func ParseOrigin(raw string) (Origin, bool) {
	switch Origin(raw) {
	case OriginLocal, OriginRemote:
		return Origin(raw), true
	default:
		return "", false
	}
}

type VideoStatus string

const (
	// VideoStatusAvailable is the only status in use today; kept as an enum so
	// soft-unavailable states can be added without a schema change.
	VideoStatusAvailable VideoStatus = "available"
)

type AssetKind string

const (
	AssetKindVideo     AssetKind = "video"
	AssetKindThumbnail AssetKind = "thumbnail"
	AssetKindSubtitles AssetKind = "subtitles"
	AssetKindInfoJSON  AssetKind = "info_json"
	AssetKindOther     AssetKind = "other"
)

// VideoExtra holds the known optional per-video fields plus a pass-through map
// for forward-compatible keys written by newer builds.
type VideoExtra struct {
	RemotePath        string `json:"remotePath,omitempty"`
	ShareLink         string `json:"shareLink,omitempty"`
	SharePermissionID string `json:"sharePermissionId,omitempty"`

	Unknown map[string]any `json:"-"`
}

func (e VideoExtra) IsZero() bool {
	return e.RemotePath == "" && e.ShareLink == "" && e.SharePermissionID == "" && len(e.Unknown) == 0
}

func (e VideoExtra) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Unknown)+3)
	for k, v := range e.Unknown {
		out[k] = v
	}
	if e.RemotePath != "" {
		out["remotePath"] = e.RemotePath
	}
	if e.ShareLink != "" {
		out["shareLink"] = e.ShareLink
	}
	if e.SharePermissionID != "" {
		out["sharePermissionId"] = e.SharePermissionID
	}
	return json.Marshal(out)
}

func (e *VideoExtra) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = VideoExtra{}
	for k, v := range raw {
		switch k {
		case "remotePath":
			if s, ok := v.(string); ok {
				e.RemotePath = s
				continue
			}
		case "shareLink":
			if s, ok := v.(string); ok {
				e.ShareLink = s
				continue
			}
		case "sharePermissionId":
			if s, ok := v.(string); ok {
				e.SharePermissionID = s
				continue
			}
		}
		if e.Unknown == nil {
			e.Unknown = make(map[string]any)
		}
		e.Unknown[k] = v
	}
	return nil
}

type Video struct {
	VideoUID        string      `json:"videoUid"`
	Origin          Origin      `json:"origin"`
	Source          string      `json:"source,omitempty"`
	Title           string      `json:"title,omitempty"`
	Channel         string      `json:"channel,omitempty"`
	DurationSeconds *int        `json:"durationSeconds,omitempty"`
	CreatedAt       string      `json:"createdAt,omitempty"`
	ModifiedAt      string      `json:"modifiedAt,omitempty"`
	Status          VideoStatus `json:"status"`
	Extra           VideoExtra  `json:"extra,omitempty"`
	Assets          []Asset     `json:"assets,omitempty"`
}

type Asset struct {
	ID          string    `json:"id"`
	VideoUID    string    `json:"videoUid"`
	Kind        AssetKind `json:"kind"`
	LocalPath   *string   `json:"localPath,omitempty"`
	DriveFileID *string   `json:"driveFileId,omitempty"`
	MimeType    *string   `json:"mimeType,omitempty"`
	SizeBytes   *int64    `json:"sizeBytes,omitempty"`
	Hash        *string   `json:"hash,omitempty"`
}

type VideoListResponse struct {
	Items []Video `json:"items"`
	Total int64   `json:"total"`
	Page  int     `json:"page"`
	Limit int     `json:"limit"`
}

// CatalogState is the singleton bookkeeping row per origin.
type CatalogState struct {
	Origin             Origin  `json:"origin"`
	LastImportedAt     *string `json:"lastImportedAt,omitempty"`
	LastPublishedAt    *string `json:"lastPublishedAt,omitempty"`
	DriveCatalogFileID *string `json:"driveCatalogFileId,omitempty"`
	Revision           int64   `json:"revision"`
}

// DriveFile is one entry of the remote-listing cache, distinct from the
// catalog proper. Soft-deleted entries stay queryable for audit.
type DriveFile struct {
	DriveID    string `json:"driveId"`
	Name       string `json:"name"`
	Path       string `json:"path,omitempty"`
	FolderID   string `json:"folderId,omitempty"`
	Size       int64  `json:"size"`
	MimeType   string `json:"mimeType,omitempty"`
	CreatedAt  string `json:"createdAt,omitempty"`
	ModifiedAt string `json:"modifiedAt,omitempty"`
	IsDeleted  bool   `json:"isDeleted"`
	CachedAt   string `json:"cachedAt"`
}

type DriveFolder struct {
	FolderID string `json:"folderId"`
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"`
	Path     string `json:"path"`
	CachedAt string `json:"cachedAt"`
}

type CacheStats struct {
	TotalVideos           int64   `json:"totalVideos"`
	TotalSizeBytes        int64   `json:"totalSizeBytes"`
	DeletedEntries        int64   `json:"deletedEntries"`
	SyncInProgress        bool    `json:"syncInProgress"`
	LastFullSyncAt        *string `json:"lastFullSyncAt,omitempty"`
	LastIncrementalSyncAt *string `json:"lastIncrementalSyncAt,omitempty"`
}

type SyncMode string

const (
	SyncModeFull        SyncMode = "full"
	SyncModeIncremental SyncMode = "incremental"
)

type SyncResult struct {
	Mode    SyncMode `json:"mode"`
	Added   int      `json:"added"`
	Updated int      `json:"updated"`
	Deleted int      `json:"deleted"`
}

type JobStatus string

const (
	JobStatusPending     JobStatus = "pending"
	JobStatusRunning     JobStatus = "running"
	JobStatusDownloading JobStatus = "downloading"
	JobStatusUploading   JobStatus = "uploading"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusError       JobStatus = "error"
	JobStatusCancelled   JobStatus = "cancelled"
)

// IsTerminal reports whether a job in this status can no longer change state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusError, JobStatusCancelled:
		return true
	default:
		return false
	}
}

const (
	JobTypeBootstrapLocal   = "bootstrap_local"
	JobTypeDriveImport      = "drive_import"
	JobTypeDrivePublish     = "drive_publish"
	JobTypeDriveRebuild     = "catalog_rebuild"
	JobTypeDriveUploadBatch = "drive_upload_batch"
	JobTypeCacheSync        = "cache_sync"
	JobTypeDownload         = "download"
	JobTypeUpload           = "upload"
)

type Job struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Status      JobStatus      `json:"status"`
	Payload     map[string]any `json:"payload,omitempty"`
	Progress    map[string]any `json:"progress,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       *string        `json:"error,omitempty"`
	CreatedAt   string         `json:"createdAt"`
	CompletedAt *string        `json:"completedAt,omitempty"`
}

type JobsListResponse struct {
	Items []Job `json:"items"`
}

type JobCreatedResponse struct {
	JobID string `json:"jobId"`
}
