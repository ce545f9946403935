package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"mediavault/internal/drive"
	"mediavault/internal/drivesync"
	"mediavault/internal/metrics"
	"mediavault/internal/models"
	"mediavault/internal/runtime"
	"mediavault/internal/scanner"
	"mediavault/internal/snapshot"
	"mediavault/internal/store"
)

// ErrImportRequired is returned when a publish would overwrite a remote
// catalog file that was never imported into this store.
var ErrImportRequired = errors.New("import required before publish")

const (
	defaultCatalogFileName = "catalog.json.gz"
	defaultDriveFolder     = "media"
)

type Options struct {
	MediaRoot       string
	CatalogFileName string
	DriveFolder     string
	LibraryID       string
}

// Service orchestrates the catalog: every long operation is started as a
// background job and returns the job id immediately.
type Service struct {
	store  *store.Store
	rt     *runtime.Runtime
	client drive.Client
	sync   *drivesync.Engine
	mtr    *metrics.Metrics
	log    zerolog.Logger
	opts   Options
}

func New(st *store.Store, rt *runtime.Runtime, client drive.Client, sync *drivesync.Engine, mtr *metrics.Metrics, log zerolog.Logger, opts Options) *Service {
	if opts.CatalogFileName == "" {
		opts.CatalogFileName = defaultCatalogFileName
	}
	if opts.DriveFolder == "" {
		opts.DriveFolder = defaultDriveFolder
	}
	return &Service{
		store:  st,
		rt:     rt,
		client: client,
		sync:   sync,
		mtr:    mtr,
		log:    log.With().Str("component", "catalog").Logger(),
		opts:   opts,
	}
}

// BootstrapLocal scans the media root and rebuilds the local origin.
func (s *Service) BootstrapLocal(ctx context.Context) (string, error) {
	return s.rt.CreateAndStart(ctx, runtime.Spec{
		Type: models.JobTypeBootstrapLocal,
		Run:  s.runBootstrap,
	})
}

// DriveImport replaces the remote origin from the published snapshot.
func (s *Service) DriveImport(ctx context.Context) (string, error) {
	if !s.client.IsAuthenticated(ctx) {
		return "", drivesync.ErrNotAuthenticated
	}
	return s.rt.CreateAndStart(ctx, runtime.Spec{
		Type: models.JobTypeDriveImport,
		Run:  s.runImport,
	})
}

// DrivePublish uploads a fresh snapshot of the remote origin. When a remote
// catalog file exists that was never imported here, publish is rejected
// unless forced.
func (s *Service) DrivePublish(ctx context.Context, force bool) (string, error) {
	if !s.client.IsAuthenticated(ctx) {
		return "", drivesync.ErrNotAuthenticated
	}
	if !force {
		state, err := s.store.GetCatalogState(ctx, models.OriginRemote)
		if err != nil {
			return "", err
		}
		known := state.DriveCatalogFileID != nil && *state.DriveCatalogFileID != ""
		if state.LastImportedAt == nil && !known && s.catalogFileID(ctx, state) != "" {
			return "", ErrImportRequired
		}
	}
	return s.rt.CreateAndStart(ctx, runtime.Spec{
		Type:    models.JobTypeDrivePublish,
		Payload: map[string]any{"force": force},
		Run: func(ctx context.Context, task *runtime.Task) error {
			result, err := s.publishSnapshot(ctx, force)
			if err != nil {
				return err
			}
			return task.SetResult(ctx, result)
		},
	})
}

// DriveRebuild relists the remote account, rebuilds the remote origin from it
// and publishes the result.
func (s *Service) DriveRebuild(ctx context.Context) (string, error) {
	if !s.client.IsAuthenticated(ctx) {
		return "", drivesync.ErrNotAuthenticated
	}
	return s.rt.CreateAndStart(ctx, runtime.Spec{
		Type: models.JobTypeDriveRebuild,
		Run:  s.runRebuild,
	})
}

// SyncLocalToDrive uploads local-only media under the transfer permit.
func (s *Service) SyncLocalToDrive(ctx context.Context) (string, error) {
	if !s.client.IsAuthenticated(ctx) {
		return "", drivesync.ErrNotAuthenticated
	}
	return s.rt.CreateAndStart(ctx, runtime.Spec{
		Type: models.JobTypeDriveUploadBatch,
		Run:  s.runSyncLocal,
	})
}

// CacheSync runs a remote-cache sync as a job. An already-running sync is
// rejected up front so the caller gets a conflict instead of a failed job.
func (s *Service) CacheSync(ctx context.Context, mode models.SyncMode) (string, error) {
	state, err := s.store.GetSyncState(ctx)
	if err != nil {
		return "", err
	}
	if state.SyncInProgress {
		return "", drivesync.ErrSyncInProgress
	}
	return s.rt.CreateAndStart(ctx, runtime.Spec{
		Type:    models.JobTypeCacheSync,
		Payload: map[string]any{"mode": string(mode)},
		Run: func(ctx context.Context, task *runtime.Task) error {
			res, err := s.sync.Sync(ctx, mode)
			if err != nil {
				return err
			}
			return task.SetResult(ctx, map[string]any{
				"mode":    string(res.Mode),
				"added":   res.Added,
				"updated": res.Updated,
				"deleted": res.Deleted,
			})
		},
	})
}

func (s *Service) runBootstrap(ctx context.Context, task *runtime.Task) error {
	res, err := scanner.Scan(s.opts.MediaRoot)
	if err != nil {
		return fmt.Errorf("scan media root: %w", err)
	}
	_ = task.SetProgress(ctx, map[string]any{
		"scanned": len(res.Entries),
		"skipped": len(res.Skipped),
	})

	now := time.Now().UTC().Format(time.RFC3339Nano)
	present := make(map[string]struct{}, len(res.Entries))

	for _, entry := range res.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		uid := localUID(entry.RelPath)
		present[uid] = struct{}{}

		existing, err := s.store.GetVideo(ctx, uid)
		if err != nil && !errors.Is(err, store.ErrVideoNotFound) {
			return err
		}

		video := models.Video{
			VideoUID:        uid,
			Origin:          models.OriginLocal,
			Source:          "filesystem",
			Title:           entry.Title,
			Channel:         entry.Channel,
			CreatedAt:       firstNonEmpty(existing.CreatedAt, now),
			ModifiedAt:      entry.ModifiedAt,
			Status:          models.VideoStatusAvailable,
			Extra:           existing.Extra,
			DurationSeconds: existing.DurationSeconds,
		}
		if err := s.store.UpsertVideo(ctx, video); err != nil {
			return fmt.Errorf("upsert %s: %w", uid, err)
		}

		assets := buildLocalAssets(entry, existing.Assets)
		if err := s.store.ReplaceAssets(ctx, uid, assets); err != nil {
			return fmt.Errorf("replace assets of %s: %w", uid, err)
		}
	}

	// Prune local rows whose file is gone from disk.
	pruned := 0
	locals, err := s.store.ListVideosByOrigin(ctx, models.OriginLocal)
	if err != nil {
		return err
	}
	for _, v := range locals {
		if _, ok := present[v.VideoUID]; ok {
			continue
		}
		if _, err := s.store.DeleteVideo(ctx, v.VideoUID); err != nil {
			return err
		}
		pruned++
	}

	state, err := s.store.GetCatalogState(ctx, models.OriginLocal)
	if err != nil {
		return err
	}
	state.LastImportedAt = &now
	if err := s.store.SetCatalogState(ctx, state); err != nil {
		return err
	}
	s.refreshGauges(ctx)

	return task.SetResult(ctx, map[string]any{
		"videos":  len(res.Entries),
		"pruned":  pruned,
		"skipped": res.Skipped,
	})
}

func (s *Service) runImport(ctx context.Context, task *runtime.Task) error {
	state, err := s.store.GetCatalogState(ctx, models.OriginRemote)
	if err != nil {
		return err
	}
	fileID := s.catalogFileID(ctx, state)
	if fileID == "" {
		return errors.New("remote catalog file not found")
	}

	_ = task.SetStatus(ctx, models.JobStatusDownloading)
	data, err := s.client.GetFile(ctx, fileID)
	if err != nil {
		return fmt.Errorf("download catalog: %w", err)
	}
	snap, err := snapshot.Decode(data)
	if err != nil {
		return fmt.Errorf("decode catalog: %w", err)
	}

	if err := s.store.ClearOrigin(ctx, models.OriginRemote); err != nil {
		return err
	}
	for i, video := range snap.Videos {
		if err := ctx.Err(); err != nil {
			return err
		}
		video.Origin = models.OriginRemote
		if err := s.store.UpsertVideo(ctx, video); err != nil {
			return fmt.Errorf("upsert %s: %w", video.VideoUID, err)
		}
		if err := s.store.ReplaceAssets(ctx, video.VideoUID, video.Assets); err != nil {
			return fmt.Errorf("replace assets of %s: %w", video.VideoUID, err)
		}
		if (i+1)%100 == 0 {
			_ = task.SetProgress(ctx, map[string]any{"imported": i + 1, "total": len(snap.Videos)})
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	state.LastImportedAt = &now
	state.DriveCatalogFileID = &fileID
	if err := s.store.SetCatalogState(ctx, state); err != nil {
		return err
	}
	s.refreshGauges(ctx)

	return task.SetResult(ctx, map[string]any{"videos": len(snap.Videos)})
}

func (s *Service) runRebuild(ctx context.Context, task *runtime.Task) error {
	files, err := s.client.ListFiles(ctx, s.opts.DriveFolder)
	if err != nil {
		return fmt.Errorf("list remote files: %w", err)
	}

	if err := s.store.ClearOrigin(ctx, models.OriginRemote); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	rebuilt := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		mime, ok := scanner.MediaMimeType(f.Name)
		if !ok {
			continue
		}
		video := models.Video{
			VideoUID:   remoteUID(f.ID),
			Origin:     models.OriginRemote,
			Source:     "drive",
			Title:      trimExt(f.Name),
			ModifiedAt: firstNonEmpty(f.ModifiedAt, now),
			CreatedAt:  firstNonEmpty(f.CreatedAt, now),
			Status:     models.VideoStatusAvailable,
			Extra:      models.VideoExtra{RemotePath: f.Path},
		}
		if err := s.store.UpsertVideo(ctx, video); err != nil {
			return fmt.Errorf("upsert %s: %w", video.VideoUID, err)
		}
		fileID := f.ID
		size := f.Size
		asset := models.Asset{
			ID:          ulid.Make().String(),
			Kind:        models.AssetKindVideo,
			DriveFileID: &fileID,
			MimeType:    &mime,
			SizeBytes:   &size,
		}
		if err := s.store.ReplaceAssets(ctx, video.VideoUID, []models.Asset{asset}); err != nil {
			return fmt.Errorf("replace assets of %s: %w", video.VideoUID, err)
		}
		rebuilt++
	}

	_ = task.SetProgress(ctx, map[string]any{"rebuilt": rebuilt})

	result, err := s.publishSnapshot(ctx, true)
	if err != nil {
		return fmt.Errorf("publish after rebuild: %w", err)
	}
	result["rebuilt"] = rebuilt
	s.refreshGauges(ctx)
	return task.SetResult(ctx, result)
}

func (s *Service) runSyncLocal(ctx context.Context, task *runtime.Task) error {
	locals, err := s.store.ListVideosByOrigin(ctx, models.OriginLocal)
	if err != nil {
		return err
	}

	type candidate struct {
		video models.Video
		asset models.Asset
	}
	var pending []candidate
	for _, v := range locals {
		for _, a := range v.Assets {
			if a.Kind == models.AssetKindVideo && a.LocalPath != nil && a.DriveFileID == nil {
				pending = append(pending, candidate{video: v, asset: a})
			}
		}
	}
	if len(pending) == 0 {
		return task.SetResult(ctx, map[string]any{"uploaded": 0, "failed": []any{}})
	}

	folderID, err := s.client.EnsureFolder(ctx, s.opts.DriveFolder)
	if err != nil {
		return fmt.Errorf("ensure remote folder: %w", err)
	}

	_ = task.SetStatus(ctx, models.JobStatusUploading)

	var (
		mu       sync.Mutex
		uploaded int
		done     int
		failures []map[string]any
		wg       sync.WaitGroup
	)
	total := len(pending)

	for _, c := range pending {
		wg.Add(1)
		go func(c candidate) {
			defer wg.Done()

			release, err := s.rt.AcquireTransfer(ctx)
			if err != nil {
				return // cancelled while queued
			}
			defer release()

			uploadErr := s.uploadOne(ctx, folderID, c.video, c.asset)

			mu.Lock()
			defer mu.Unlock()
			done++
			if uploadErr != nil {
				if ctx.Err() == nil {
					s.mtr.IncTransferErrors()
					failures = append(failures, map[string]any{
						"videoUid": c.video.VideoUID,
						"error":    uploadErr.Error(),
					})
					s.log.Warn().Err(uploadErr).Str("video_uid", c.video.VideoUID).Msg("upload failed")
				}
			} else {
				uploaded++
			}
			_ = task.SetProgress(ctx, map[string]any{"done": done, "total": total, "uploaded": uploaded})
		}(c)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.refreshGauges(ctx)
	return task.SetResult(ctx, map[string]any{
		"uploaded": uploaded,
		"failed":   failures,
	})
}

func (s *Service) uploadOne(ctx context.Context, folderID string, video models.Video, asset models.Asset) error {
	// local_path is relative to the media root.
	abs := filepath.Join(s.opts.MediaRoot, filepath.FromSlash(*asset.LocalPath))
	f, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("open %s: %w", abs, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	name := strings.TrimPrefix(video.VideoUID, string(models.OriginLocal)+":")
	mime := ""
	if asset.MimeType != nil {
		mime = *asset.MimeType
	}

	remote, err := s.client.Upload(ctx, folderID, name, f, info.Size(), mime)
	if err != nil {
		return err
	}
	if err := s.store.UpdateAssetDriveFileID(ctx, asset.ID, remote.ID); err != nil {
		return err
	}
	s.mtr.AddTransferBytes("upload", info.Size())
	return nil
}

// publishSnapshot encodes the remote origin and uploads it, skipping the
// upload when the content hash matches the previous publish.
func (s *Service) publishSnapshot(ctx context.Context, force bool) (map[string]any, error) {
	videos, err := s.store.ListVideosByOrigin(ctx, models.OriginRemote)
	if err != nil {
		return nil, err
	}

	hash, err := contentHash(videos)
	if err != nil {
		return nil, err
	}
	if !force {
		prev, err := s.store.GetLastPublishedHash(ctx, models.OriginRemote)
		if err != nil {
			return nil, err
		}
		if prev != "" && prev == hash {
			s.log.Info().Msg("publish skipped, catalog unchanged")
			return map[string]any{"skipped": true}, nil
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	data, err := snapshot.Encode(snapshot.Snapshot{
		GeneratedAt: now,
		LibraryID:   s.opts.LibraryID,
		Videos:      videos,
	})
	if err != nil {
		return nil, err
	}

	state, err := s.store.GetCatalogState(ctx, models.OriginRemote)
	if err != nil {
		return nil, err
	}

	var fileID string
	if state.DriveCatalogFileID != nil && *state.DriveCatalogFileID != "" {
		fileID = *state.DriveCatalogFileID
		if _, err := s.client.UpdateFile(ctx, fileID, data); err != nil {
			return nil, fmt.Errorf("update catalog file: %w", err)
		}
	} else {
		created, err := s.client.CreateFile(ctx, "", s.opts.CatalogFileName, data, "application/gzip")
		if err != nil {
			return nil, fmt.Errorf("create catalog file: %w", err)
		}
		fileID = created.ID
	}

	state.Origin = models.OriginRemote
	state.Revision++
	state.LastPublishedAt = &now
	state.DriveCatalogFileID = &fileID
	if err := s.store.SetCatalogState(ctx, state); err != nil {
		return nil, err
	}
	if err := s.store.SetLastPublishedHash(ctx, models.OriginRemote, hash); err != nil {
		return nil, err
	}

	s.log.Info().Int64("revision", state.Revision).Int("videos", len(videos)).Msg("catalog published")
	return map[string]any{
		"revision": state.Revision,
		"fileId":   fileID,
		"videos":   len(videos),
	}, nil
}

// catalogFileID returns the stored snapshot file id, falling back to a name
// lookup in the account root.
func (s *Service) catalogFileID(ctx context.Context, state models.CatalogState) string {
	if state.DriveCatalogFileID != nil && *state.DriveCatalogFileID != "" {
		return *state.DriveCatalogFileID
	}
	files, err := s.client.ListFiles(ctx, "")
	if err != nil {
		s.log.Warn().Err(err).Msg("catalog file lookup failed")
		return ""
	}
	for _, f := range files {
		if f.Name == s.opts.CatalogFileName && f.FolderID == "" {
			return f.ID
		}
	}
	return ""
}

func (s *Service) refreshGauges(ctx context.Context) {
	for _, origin := range []models.Origin{models.OriginLocal, models.OriginRemote} {
		n, err := s.store.CountVideosByOrigin(ctx, origin)
		if err != nil {
			continue
		}
		s.mtr.SetCatalogVideos(string(origin), n)
	}
}

func buildLocalAssets(entry scanner.Entry, existing []models.Asset) []models.Asset {
	prevByKey := make(map[string]models.Asset, len(existing))
	for _, a := range existing {
		key := string(a.Kind)
		if a.LocalPath != nil {
			key += ":" + *a.LocalPath
		}
		prevByKey[key] = a
	}

	mk := func(kind models.AssetKind, localPath string, mime *string, size *int64) models.Asset {
		a := models.Asset{
			ID:        ulid.Make().String(),
			Kind:      kind,
			LocalPath: &localPath,
			MimeType:  mime,
			SizeBytes: size,
		}
		// Keep the id and remote file id across rescans so an already
		// uploaded asset is not re-uploaded.
		if prev, ok := prevByKey[string(kind)+":"+localPath]; ok {
			a.ID = prev.ID
			a.DriveFileID = prev.DriveFileID
			a.Hash = prev.Hash
		}
		return a
	}

	mime := entry.MimeType
	size := entry.Size
	assets := []models.Asset{mk(models.AssetKindVideo, entry.RelPath, &mime, &size)}
	if entry.ThumbnailPath != nil {
		assets = append(assets, mk(models.AssetKindThumbnail, *entry.ThumbnailPath, nil, nil))
	}
	if entry.SubtitlesPath != nil {
		assets = append(assets, mk(models.AssetKindSubtitles, *entry.SubtitlesPath, nil, nil))
	}
	if entry.InfoJSONPath != nil {
		assets = append(assets, mk(models.AssetKindInfoJSON, *entry.InfoJSONPath, nil, nil))
	}
	return assets
}

func contentHash(videos []models.Video) (string, error) {
	raw, err := json.Marshal(videos)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func localUID(relPath string) string {
	return string(models.OriginLocal) + ":" + relPath
}

func remoteUID(driveID string) string {
	return string(models.OriginRemote) + ":" + driveID
}

func trimExt(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return name
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
