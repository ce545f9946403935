package scanner

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestScanFindsMediaWithSidecars(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "channel-a", "intro.mp4"))
	writeFile(t, filepath.Join(root, "channel-a", "intro.jpg"))
	writeFile(t, filepath.Join(root, "channel-a", "intro.srt"))
	writeFile(t, filepath.Join(root, "channel-a", "intro.info.json"))
	writeFile(t, filepath.Join(root, "channel-a", "notes.txt"))
	writeFile(t, filepath.Join(root, "loose.mkv"))

	res, err := Scan(root)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(res.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(res.Entries), res.Entries)
	}

	byPath := map[string]Entry{}
	for _, e := range res.Entries {
		byPath[e.RelPath] = e
	}

	intro, ok := byPath["channel-a/intro.mp4"]
	if !ok {
		t.Fatalf("missing channel-a/intro.mp4 in %+v", byPath)
	}
	if intro.Title != "intro" || intro.Channel != "channel-a" {
		t.Fatalf("title/channel mismatch: %+v", intro)
	}
	if intro.MimeType != "video/mp4" {
		t.Fatalf("mime mismatch: %s", intro.MimeType)
	}
	if intro.ThumbnailPath == nil || intro.SubtitlesPath == nil || intro.InfoJSONPath == nil {
		t.Fatalf("expected all sidecars: %+v", intro)
	}
	// Sidecar paths are relative to the root, like RelPath.
	if *intro.ThumbnailPath != "channel-a/intro.jpg" {
		t.Fatalf("thumbnail path mismatch: %q", *intro.ThumbnailPath)
	}
	if *intro.SubtitlesPath != "channel-a/intro.srt" || *intro.InfoJSONPath != "channel-a/intro.info.json" {
		t.Fatalf("sidecar paths mismatch: %+v", intro)
	}
	if intro.ModifiedAt == "" {
		t.Fatal("expected mtime")
	}

	loose, ok := byPath["loose.mkv"]
	if !ok {
		t.Fatalf("missing loose.mkv in %+v", byPath)
	}
	if loose.Channel != "" {
		t.Fatalf("expected empty channel for root file, got %q", loose.Channel)
	}
	if loose.ThumbnailPath != nil {
		t.Fatalf("expected no thumbnail, got %v", *loose.ThumbnailPath)
	}
}

func TestScanSkipsUnreadable(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are ignored as root")
	}
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "ok.mp4"))
	locked := filepath.Join(root, "locked")
	if err := os.MkdirAll(locked, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, filepath.Join(locked, "hidden.mp4"))
	if err := os.Chmod(locked, 0o000); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	res, err := Scan(root)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(res.Entries) != 1 || res.Entries[0].RelPath != "ok.mp4" {
		t.Fatalf("expected only ok.mp4, got %+v", res.Entries)
	}
	if len(res.Skipped) == 0 {
		t.Fatal("expected skipped record for unreadable directory")
	}
}

func TestMediaMimeType(t *testing.T) {
	if mime, ok := MediaMimeType("Clip.MP4"); !ok || mime != "video/mp4" {
		t.Fatalf("expected case-insensitive match, got %q %v", mime, ok)
	}
	if _, ok := MediaMimeType("notes.txt"); ok {
		t.Fatal("expected txt to be rejected")
	}
	if _, ok := MediaMimeType("noext"); ok {
		t.Fatal("expected extensionless name to be rejected")
	}
}
