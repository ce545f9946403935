package drivesync

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"mediavault/internal/drive"
	"mediavault/internal/metrics"
	"mediavault/internal/models"
	"mediavault/internal/store"
)

var (
	ErrSyncInProgress   = errors.New("sync already in progress")
	ErrNotAuthenticated = errors.New("remote account not authenticated")
)

// Engine keeps the remote-listing cache in step with the remote account.
// The sync_in_progress flag lives in the database, so mutual exclusion holds
// across every code path that starts a sync.
type Engine struct {
	store  *store.Store
	client drive.Client
	mtr    *metrics.Metrics
	log    zerolog.Logger
}

func New(st *store.Store, client drive.Client, mtr *metrics.Metrics, log zerolog.Logger) *Engine {
	return &Engine{
		store:  st,
		client: client,
		mtr:    mtr,
		log:    log.With().Str("component", "drivesync").Logger(),
	}
}

// Sync dispatches on mode.
func (e *Engine) Sync(ctx context.Context, mode models.SyncMode) (models.SyncResult, error) {
	switch mode {
	case models.SyncModeFull:
		return e.FullSync(ctx)
	case models.SyncModeIncremental:
		return e.IncrementalSync(ctx)
	default:
		return models.SyncResult{}, fmt.Errorf("unsupported sync mode %q", mode)
	}
}

// FullSync replaces the whole cache from a fresh remote listing.
func (e *Engine) FullSync(ctx context.Context) (models.SyncResult, error) {
	if !e.client.IsAuthenticated(ctx) {
		return models.SyncResult{}, ErrNotAuthenticated
	}
	release, err := e.claim(ctx)
	if err != nil {
		return models.SyncResult{}, err
	}
	defer release()

	files, err := e.client.ListFiles(ctx, "")
	if err != nil {
		e.mtr.IncSyncRuns(string(models.SyncModeFull), "error")
		return models.SyncResult{}, fmt.Errorf("list remote files: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	entries := make([]models.DriveFile, 0, len(files))
	var totalSize int64
	for _, f := range files {
		entries = append(entries, toCacheEntry(f, now))
		totalSize += f.Size
	}

	if err := e.store.ReplaceDriveFiles(ctx, entries); err != nil {
		e.mtr.IncSyncRuns(string(models.SyncModeFull), "error")
		return models.SyncResult{}, fmt.Errorf("replace cache: %w", err)
	}
	if err := e.store.ReplaceDriveFolders(ctx, foldersOf(files, now)); err != nil {
		e.mtr.IncSyncRuns(string(models.SyncModeFull), "error")
		return models.SyncResult{}, fmt.Errorf("replace folder cache: %w", err)
	}
	if err := e.store.UpdateSyncAggregates(ctx, store.SyncAggregates{
		TotalVideos:    int64(len(entries)),
		TotalSizeBytes: totalSize,
		LastFullSyncAt: &now,
	}); err != nil {
		return models.SyncResult{}, fmt.Errorf("update sync state: %w", err)
	}

	e.mtr.IncSyncRuns(string(models.SyncModeFull), "ok")
	e.mtr.AddSyncEntries("added", len(entries))
	e.log.Info().Int("entries", len(entries)).Msg("full sync done")

	return models.SyncResult{Mode: models.SyncModeFull, Added: len(entries)}, nil
}

// IncrementalSync diffs the remote listing against the cache by id. With no
// prior sync on record it degrades to a full sync.
func (e *Engine) IncrementalSync(ctx context.Context) (models.SyncResult, error) {
	state, err := e.store.GetSyncState(ctx)
	if err != nil {
		return models.SyncResult{}, err
	}
	if state.LastFullSyncAt == nil && state.LastIncrementalSyncAt == nil {
		e.log.Info().Msg("no prior sync, degrading to full")
		return e.FullSync(ctx)
	}

	if !e.client.IsAuthenticated(ctx) {
		return models.SyncResult{}, ErrNotAuthenticated
	}
	release, err := e.claim(ctx)
	if err != nil {
		return models.SyncResult{}, err
	}
	defer release()

	remote, err := e.client.ListFiles(ctx, "")
	if err != nil {
		e.mtr.IncSyncRuns(string(models.SyncModeIncremental), "error")
		return models.SyncResult{}, fmt.Errorf("list remote files: %w", err)
	}
	cached, err := e.store.ListDriveFiles(ctx, false)
	if err != nil {
		return models.SyncResult{}, err
	}

	cachedByID := make(map[string]models.DriveFile, len(cached))
	for _, f := range cached {
		cachedByID[f.DriveID] = f
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	var upserts []models.DriveFile
	var result models.SyncResult
	result.Mode = models.SyncModeIncremental

	seen := make(map[string]struct{}, len(remote))
	for _, f := range remote {
		seen[f.ID] = struct{}{}
		prev, ok := cachedByID[f.ID]
		if !ok {
			upserts = append(upserts, toCacheEntry(f, now))
			result.Added++
			continue
		}
		if newerThan(f.ModifiedAt, prev.ModifiedAt) {
			upserts = append(upserts, toCacheEntry(f, now))
			result.Updated++
		}
	}

	var missing []string
	for id := range cachedByID {
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}

	if err := e.store.UpsertDriveFiles(ctx, upserts); err != nil {
		e.mtr.IncSyncRuns(string(models.SyncModeIncremental), "error")
		return models.SyncResult{}, fmt.Errorf("upsert cache: %w", err)
	}
	deleted, err := e.store.MarkDriveFilesDeleted(ctx, missing, now)
	if err != nil {
		e.mtr.IncSyncRuns(string(models.SyncModeIncremental), "error")
		return models.SyncResult{}, fmt.Errorf("soft-delete cache entries: %w", err)
	}
	result.Deleted = int(deleted)

	var totalSize int64
	for _, f := range remote {
		totalSize += f.Size
	}
	if err := e.store.UpdateSyncAggregates(ctx, store.SyncAggregates{
		TotalVideos:           int64(len(remote)),
		TotalSizeBytes:        totalSize,
		LastIncrementalSyncAt: &now,
	}); err != nil {
		return models.SyncResult{}, fmt.Errorf("update sync state: %w", err)
	}

	e.mtr.IncSyncRuns(string(models.SyncModeIncremental), "ok")
	e.mtr.AddSyncEntries("added", result.Added)
	e.mtr.AddSyncEntries("updated", result.Updated)
	e.mtr.AddSyncEntries("deleted", result.Deleted)
	e.log.Info().
		Int("added", result.Added).
		Int("updated", result.Updated).
		Int("deleted", result.Deleted).
		Msg("incremental sync done")

	return result, nil
}

// RunPeriodic runs incremental syncs on a ticker until the context ends.
// An unauthenticated account is skipped quietly; an unexpected failure backs
// off for the given duration before the ticker resumes.
func (e *Engine) RunPeriodic(ctx context.Context, interval, backoff time.Duration) {
	if interval <= 0 {
		return
	}
	if backoff <= 0 {
		backoff = interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !e.client.IsAuthenticated(ctx) {
			e.log.Debug().Msg("periodic sync skipped, not authenticated")
			continue
		}
		if _, err := e.IncrementalSync(ctx); err != nil {
			if errors.Is(err, ErrSyncInProgress) || errors.Is(err, ErrNotAuthenticated) {
				continue
			}
			e.log.Warn().Err(err).Dur("backoff", backoff).Msg("periodic sync failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
	}
}

func (e *Engine) claim(ctx context.Context) (func(), error) {
	ok, err := e.store.TrySetSyncInProgress(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSyncInProgress
	}
	return func() {
		clearCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.store.ClearSyncInProgress(clearCtx); err != nil {
			e.log.Error().Err(err).Msg("clear sync flag")
		}
	}, nil
}

func toCacheEntry(f drive.File, cachedAt string) models.DriveFile {
	return models.DriveFile{
		DriveID:    f.ID,
		Name:       f.Name,
		Path:       f.Path,
		FolderID:   f.FolderID,
		Size:       f.Size,
		MimeType:   f.MimeType,
		CreatedAt:  f.CreatedAt,
		ModifiedAt: f.ModifiedAt,
		CachedAt:   cachedAt,
	}
}

// foldersOf derives the folder rows from a listing. Folder ids are
// slash-separated paths, so every ancestor of a file's folder is included.
func foldersOf(files []drive.File, cachedAt string) []models.DriveFolder {
	byID := make(map[string]models.DriveFolder)
	for _, f := range files {
		for id := f.FolderID; id != "" && id != "."; id = parentOf(id) {
			if _, ok := byID[id]; ok {
				break
			}
			byID[id] = models.DriveFolder{
				FolderID: id,
				Name:     path.Base(id),
				ParentID: parentOf(id),
				Path:     id,
				CachedAt: cachedAt,
			}
		}
	}
	folders := make([]models.DriveFolder, 0, len(byID))
	for _, f := range byID {
		folders = append(folders, f)
	}
	sort.Slice(folders, func(i, j int) bool { return folders[i].FolderID < folders[j].FolderID })
	return folders
}

func parentOf(id string) string {
	if p := path.Dir(id); p != "." {
		return p
	}
	return ""
}

// newerThan compares RFC3339 timestamps; an unparsable value never counts as
// newer.
func newerThan(a, b string) bool {
	ta, err := time.Parse(time.RFC3339Nano, a)
	if err != nil {
		return false
	}
	tb, err := time.Parse(time.RFC3339Nano, b)
	if err != nil {
		return true
	}
	return ta.After(tb)
}
