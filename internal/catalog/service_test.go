package catalog

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mediavault/internal/db"
	"mediavault/internal/drive"
	"mediavault/internal/drivesync"
	"mediavault/internal/jobstore"
	"mediavault/internal/metrics"
	"mediavault/internal/models"
	"mediavault/internal/runtime"
	"mediavault/internal/store"
	"mediavault/internal/ws"
)

// fakeDrive is an in-memory remote account.
type fakeDrive struct {
	mu            sync.Mutex
	authenticated bool
	objects       map[string][]byte
	uploadErr     map[string]error
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{
		authenticated: true,
		objects:       make(map[string][]byte),
		uploadErr:     make(map[string]error),
	}
}

func (f *fakeDrive) IsAuthenticated(context.Context) bool { return f.authenticated }

func (f *fakeDrive) ListFiles(_ context.Context, folderID string) ([]drive.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var files []drive.File
	for id, data := range f.objects {
		folder := filepath.ToSlash(filepath.Dir(id))
		if folder == "." {
			folder = ""
		}
		if folderID != "" && folder != folderID {
			continue
		}
		files = append(files, drive.File{
			ID:         id,
			Name:       filepath.Base(id),
			Path:       id,
			FolderID:   folder,
			Size:       int64(len(data)),
			ModifiedAt: "2026-09-01T10:00:00Z",
		})
	}
	return files, nil
}

func (f *fakeDrive) GetFile(_ context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[id]
	if !ok {
		return nil, drive.ErrFileNotFound
	}
	return append([]byte(nil), data...), nil
}

func (f *fakeDrive) CreateFile(_ context.Context, folderID, name string, data []byte, _ string) (drive.File, error) {
	id := name
	if folderID != "" {
		id = folderID + "/" + name
	}
	f.mu.Lock()
	f.objects[id] = append([]byte(nil), data...)
	f.mu.Unlock()
	return drive.File{ID: id, Name: name, Path: id, Size: int64(len(data))}, nil
}

func (f *fakeDrive) UpdateFile(_ context.Context, id string, data []byte) (drive.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[id]; !ok {
		return drive.File{}, drive.ErrFileNotFound
	}
	f.objects[id] = append([]byte(nil), data...)
	return drive.File{ID: id, Path: id, Size: int64(len(data))}, nil
}

func (f *fakeDrive) DeleteFile(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, id)
	return nil
}

func (f *fakeDrive) Upload(_ context.Context, folderID, name string, r io.Reader, _ int64, _ string) (drive.File, error) {
	if err := f.uploadErr[name]; err != nil {
		return drive.File{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return drive.File{}, err
	}
	id := name
	if folderID != "" {
		id = folderID + "/" + name
	}
	f.mu.Lock()
	f.objects[id] = data
	f.mu.Unlock()
	return drive.File{ID: id, Name: filepath.Base(id), Path: id, Size: int64(len(data))}, nil
}

func (f *fakeDrive) EnsureFolder(_ context.Context, path string) (string, error) {
	return path, nil
}

type testEnv struct {
	svc   *Service
	store *store.Store
	jobs  jobstore.Store
	drive *fakeDrive
	root  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, Options{LibraryID: "test-lib"})
}

func newTestEnvWith(t *testing.T, opts Options) *testEnv {
	t.Helper()
	gormDB, err := db.Open(db.Config{
		Backend:    db.BackendSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "mediavault.db"),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		t.Fatalf("open sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	st, err := store.New(gormDB)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	jobs := jobstore.NewMemory()
	mtr := metrics.New()
	rt := runtime.New(jobs, ws.NewHub(), mtr, zerolog.Nop(), runtime.Options{})
	client := newFakeDrive()
	eng := drivesync.New(st, client, mtr, zerolog.Nop())
	opts.MediaRoot = t.TempDir()

	svc := New(st, rt, client, eng, mtr, zerolog.Nop(), opts)
	return &testEnv{svc: svc, store: st, jobs: jobs, drive: client, root: opts.MediaRoot}
}

func (e *testEnv) waitForJob(t *testing.T, id string) models.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := e.jobs.Get(context.Background(), id)
		if err == nil && job.Status.IsTerminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never finished", id)
	return models.Job{}
}

func (e *testEnv) mustComplete(t *testing.T, id string) models.Job {
	t.Helper()
	job := e.waitForJob(t, id)
	if job.Status != models.JobStatusCompleted {
		msg := ""
		if job.Error != nil {
			msg = *job.Error
		}
		t.Fatalf("job %s ended %s: %s", id, job.Status, msg)
	}
	return job
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestBootstrapLocalScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// One video with a sidecar thumbnail.
	writeFile(t, filepath.Join(env.root, "channel-a", "intro.mp4"), "video-bytes")
	writeFile(t, filepath.Join(env.root, "channel-a", "intro.jpg"), "thumb-bytes")

	jobID, err := env.svc.BootstrapLocal(ctx)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	env.mustComplete(t, jobID)

	origin := models.OriginLocal
	resp, err := env.store.ListVideos(ctx, &origin, 1, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if resp.Total != 1 {
		t.Fatalf("expected 1 video, got %d", resp.Total)
	}
	video := resp.Items[0]
	if video.VideoUID != "local:channel-a/intro.mp4" {
		t.Fatalf("unexpected uid %s", video.VideoUID)
	}
	if video.Title != "intro" || video.Channel != "channel-a" {
		t.Fatalf("title/channel mismatch: %+v", video)
	}
	if len(video.Assets) != 2 {
		t.Fatalf("expected 2 assets (video + thumbnail), got %d", len(video.Assets))
	}
	kinds := map[models.AssetKind]string{}
	for _, a := range video.Assets {
		if a.LocalPath == nil {
			t.Fatalf("expected local path on asset %+v", a)
		}
		kinds[a.Kind] = *a.LocalPath
	}
	// Local paths are stored relative to the media root.
	if kinds[models.AssetKindVideo] != "channel-a/intro.mp4" {
		t.Fatalf("video asset path mismatch: %+v", kinds)
	}
	if kinds[models.AssetKindThumbnail] != "channel-a/intro.jpg" {
		t.Fatalf("thumbnail asset path mismatch: %+v", kinds)
	}

	// Deleting the video empties the origin.
	deleted, err := env.store.DeleteVideo(ctx, video.VideoUID)
	if err != nil || !deleted {
		t.Fatalf("delete: deleted=%v err=%v", deleted, err)
	}
	total, err := env.store.CountVideosByOrigin(ctx, models.OriginLocal)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected empty origin, got %d", total)
	}
}

func TestBootstrapPrunesMissingFiles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	path := filepath.Join(env.root, "a.mp4")
	writeFile(t, path, "bytes")

	jobID, err := env.svc.BootstrapLocal(ctx)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	env.mustComplete(t, jobID)

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}

	jobID, err = env.svc.BootstrapLocal(ctx)
	if err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	env.mustComplete(t, jobID)

	total, err := env.store.CountVideosByOrigin(ctx, models.OriginLocal)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected pruned catalog, got %d videos", total)
	}
}

func TestPublishImportCycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Seed the remote origin directly.
	remote := models.Video{
		VideoUID:   "remote:media/x.mp4",
		Origin:     models.OriginRemote,
		Title:      "x",
		ModifiedAt: "2026-08-01T00:00:00Z",
		Status:     models.VideoStatusAvailable,
		Extra:      models.VideoExtra{RemotePath: "media/x.mp4"},
	}
	if err := env.store.UpsertVideo(ctx, remote); err != nil {
		t.Fatalf("seed: %v", err)
	}

	jobID, err := env.svc.DrivePublish(ctx, false)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	job := env.mustComplete(t, jobID)
	if job.Result["revision"] == nil {
		t.Fatalf("expected revision in result, got %+v", job.Result)
	}

	if _, err := env.drive.GetFile(ctx, defaultCatalogFileName); err != nil {
		t.Fatalf("expected catalog file on remote: %v", err)
	}

	// Wipe the remote origin, then import it back from the snapshot.
	if err := env.store.ClearOrigin(ctx, models.OriginRemote); err != nil {
		t.Fatalf("clear: %v", err)
	}
	jobID, err = env.svc.DriveImport(ctx)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	env.mustComplete(t, jobID)

	got, err := env.store.GetVideo(ctx, remote.VideoUID)
	if err != nil {
		t.Fatalf("get after import: %v", err)
	}
	if got.Title != "x" || got.Extra.RemotePath != "media/x.mp4" {
		t.Fatalf("import mismatch: %+v", got)
	}

	state, err := env.store.GetCatalogState(ctx, models.OriginRemote)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.LastImportedAt == nil || state.LastPublishedAt == nil || state.Revision != 1 {
		t.Fatalf("state bookkeeping mismatch: %+v", state)
	}
}

func TestPublishSkipsWhenUnchanged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	jobID, err := env.svc.DrivePublish(ctx, false)
	if err != nil {
		t.Fatalf("first publish: %v", err)
	}
	env.mustComplete(t, jobID)

	jobID, err = env.svc.DrivePublish(ctx, false)
	if err != nil {
		t.Fatalf("second publish: %v", err)
	}
	job := env.mustComplete(t, jobID)
	if job.Result["skipped"] != true {
		t.Fatalf("expected second publish to be skipped, got %+v", job.Result)
	}

	state, err := env.store.GetCatalogState(ctx, models.OriginRemote)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.Revision != 1 {
		t.Fatalf("expected revision to stay at 1, got %d", state.Revision)
	}
}

func TestPublishGuardRequiresImport(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A foreign catalog file exists that this store never imported.
	if _, err := env.drive.CreateFile(ctx, "", defaultCatalogFileName, []byte("foreign"), ""); err != nil {
		t.Fatalf("seed remote catalog: %v", err)
	}

	if _, err := env.svc.DrivePublish(ctx, false); !errors.Is(err, ErrImportRequired) {
		t.Fatalf("expected ErrImportRequired, got %v", err)
	}

	// Forced publish goes through.
	jobID, err := env.svc.DrivePublish(ctx, true)
	if err != nil {
		t.Fatalf("forced publish: %v", err)
	}
	env.mustComplete(t, jobID)
}

func TestSyncLocalToDrivePartialFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	writeFile(t, filepath.Join(env.root, "ok.mp4"), "good")
	writeFile(t, filepath.Join(env.root, "bad.mp4"), "bad")
	env.drive.uploadErr["bad.mp4"] = errors.New("quota exceeded")

	jobID, err := env.svc.BootstrapLocal(ctx)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	env.mustComplete(t, jobID)

	jobID, err = env.svc.SyncLocalToDrive(ctx)
	if err != nil {
		t.Fatalf("sync local: %v", err)
	}
	job := env.mustComplete(t, jobID)

	if job.Result["uploaded"] != float64(1) && job.Result["uploaded"] != 1 {
		t.Fatalf("expected 1 upload, got %+v", job.Result)
	}
	failed, _ := job.Result["failed"].([]map[string]any)
	if len(failed) != 1 {
		// The memory store keeps the original value types.
		if raw, ok := job.Result["failed"].([]any); !ok || len(raw) != 1 {
			t.Fatalf("expected 1 failure, got %+v", job.Result["failed"])
		}
	}

	// The successful upload is written back to the catalog.
	got, err := env.store.GetVideo(ctx, "local:ok.mp4")
	if err != nil {
		t.Fatalf("get ok video: %v", err)
	}
	var videoAsset *models.Asset
	for i := range got.Assets {
		if got.Assets[i].Kind == models.AssetKindVideo {
			videoAsset = &got.Assets[i]
		}
	}
	if videoAsset == nil || videoAsset.DriveFileID == nil {
		t.Fatalf("expected drive file id on uploaded asset, got %+v", got.Assets)
	}

	// A second run has nothing left to upload but the failed one.
	jobID, err = env.svc.SyncLocalToDrive(ctx)
	if err != nil {
		t.Fatalf("second sync local: %v", err)
	}
	job = env.mustComplete(t, jobID)
	if job.Result["uploaded"] != float64(0) && job.Result["uploaded"] != 0 {
		t.Fatalf("expected 0 uploads on rerun, got %+v", job.Result)
	}
}

func TestDriveRebuild(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Remote media plus a non-media file that must be ignored.
	if _, err := env.drive.CreateFile(ctx, defaultDriveFolder, "clip.mp4", []byte("remote-bytes"), ""); err != nil {
		t.Fatalf("seed clip: %v", err)
	}
	if _, err := env.drive.CreateFile(ctx, defaultDriveFolder, "notes.txt", []byte("text"), ""); err != nil {
		t.Fatalf("seed notes: %v", err)
	}

	jobID, err := env.svc.DriveRebuild(ctx)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	job := env.mustComplete(t, jobID)
	if job.Result["rebuilt"] != float64(1) && job.Result["rebuilt"] != 1 {
		t.Fatalf("expected 1 rebuilt video, got %+v", job.Result)
	}

	total, err := env.store.CountVideosByOrigin(ctx, models.OriginRemote)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected 1 remote video, got %d", total)
	}

	// Rebuild publishes the snapshot too.
	if _, err := env.drive.GetFile(ctx, defaultCatalogFileName); err != nil {
		t.Fatalf("expected published catalog after rebuild: %v", err)
	}
}

func TestRebuildUsesConfiguredFolder(t *testing.T) {
	env := newTestEnvWith(t, Options{DriveFolder: "library"})
	ctx := context.Background()

	if _, err := env.drive.CreateFile(ctx, "library", "clip.mp4", []byte("bytes"), ""); err != nil {
		t.Fatalf("seed library clip: %v", err)
	}
	if _, err := env.drive.CreateFile(ctx, defaultDriveFolder, "other.mp4", []byte("bytes"), ""); err != nil {
		t.Fatalf("seed media clip: %v", err)
	}

	jobID, err := env.svc.DriveRebuild(ctx)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	env.mustComplete(t, jobID)

	if _, err := env.store.GetVideo(ctx, "remote:library/clip.mp4"); err != nil {
		t.Fatalf("expected video from configured folder: %v", err)
	}
	total, err := env.store.CountVideosByOrigin(ctx, models.OriginRemote)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected only the configured folder to be scanned, got %d videos", total)
	}
}

func TestCacheSyncJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.drive.CreateFile(ctx, defaultDriveFolder, "a.mp4", []byte("a"), ""); err != nil {
		t.Fatalf("seed: %v", err)
	}

	jobID, err := env.svc.CacheSync(ctx, models.SyncModeFull)
	if err != nil {
		t.Fatalf("cache sync: %v", err)
	}
	job := env.mustComplete(t, jobID)
	if job.Result["mode"] != string(models.SyncModeFull) {
		t.Fatalf("expected full mode in result, got %+v", job.Result)
	}

	files, err := env.store.ListDriveFiles(ctx, false)
	if err != nil {
		t.Fatalf("list cache: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("expected cache entries after sync")
	}
}

func TestOperationsRejectUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	env.drive.authenticated = false
	ctx := context.Background()

	if _, err := env.svc.DriveImport(ctx); !errors.Is(err, drivesync.ErrNotAuthenticated) {
		t.Fatalf("import: expected ErrNotAuthenticated, got %v", err)
	}
	if _, err := env.svc.DrivePublish(ctx, false); !errors.Is(err, drivesync.ErrNotAuthenticated) {
		t.Fatalf("publish: expected ErrNotAuthenticated, got %v", err)
	}
	if _, err := env.svc.SyncLocalToDrive(ctx); !errors.Is(err, drivesync.ErrNotAuthenticated) {
		t.Fatalf("sync-local: expected ErrNotAuthenticated, got %v", err)
	}
}
