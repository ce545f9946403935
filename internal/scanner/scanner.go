package scanner

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MediaMimeType reports the mime type of a media file name, false when the
// extension is not one of the recognized media formats.
func MediaMimeType(name string) (string, bool) {
	mime, ok := mediaExts[strings.ToLower(filepath.Ext(name))]
	return mime, ok
}

var mediaExts = map[string]string{
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".m4v":  "video/x-m4v",
}

var thumbnailExts = []string{".jpg", ".jpeg", ".png", ".webp"}

var subtitleExts = []string{".srt", ".vtt"}

// Entry is one media file found under the root, with any sidecar files that
// share its base name.
type Entry struct {
	// RelPath is slash-separated and relative to the scan root; it doubles
	// as the stable local identifier.
	RelPath string
	AbsPath string
	Title   string
	Channel string
	Size    int64
	// ModifiedAt is the file mtime as an RFC3339Nano UTC string.
	ModifiedAt string
	MimeType   string

	// Sidecar paths are slash-separated and relative to the scan root,
	// like RelPath.
	ThumbnailPath *string
	SubtitlesPath *string
	InfoJSONPath  *string
}

// Result carries the found entries plus the relative paths that were skipped
// because they could not be read.
type Result struct {
	Entries []Entry
	Skipped []string
}

// Scan walks the media root. Unreadable files and directories are recorded
// in Skipped, never fatal. Title comes from the file base name, channel from
// the first path element under the root.
func Scan(root string) (Result, error) {
	var res Result
	root = filepath.Clean(root)

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			rel, relErr := filepath.Rel(root, p)
			if relErr != nil {
				rel = p
			}
			res.Skipped = append(res.Skipped, filepath.ToSlash(rel))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		mime, ok := mediaExts[ext]
		if !ok {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			res.Skipped = append(res.Skipped, rel)
			return nil
		}

		entry := Entry{
			RelPath:    rel,
			AbsPath:    p,
			Title:      strings.TrimSuffix(d.Name(), filepath.Ext(d.Name())),
			Channel:    channelOf(rel),
			Size:       info.Size(),
			ModifiedAt: info.ModTime().UTC().Format(time.RFC3339Nano),
			MimeType:   mime,
		}

		absBase := strings.TrimSuffix(p, filepath.Ext(p))
		relBase := strings.TrimSuffix(rel, filepath.Ext(rel))
		entry.ThumbnailPath = firstExisting(absBase, relBase, thumbnailExts)
		entry.SubtitlesPath = firstExisting(absBase, relBase, subtitleExts)
		if fileExists(absBase + ".info.json") {
			p := relBase + ".info.json"
			entry.InfoJSONPath = &p
		}

		res.Entries = append(res.Entries, entry)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func channelOf(rel string) string {
	if i := strings.IndexByte(rel, '/'); i > 0 {
		return rel[:i]
	}
	return ""
}

func firstExisting(absBase, relBase string, exts []string) *string {
	for _, ext := range exts {
		if fileExists(absBase + ext) {
			p := relBase + ext
			return &p
		}
	}
	return nil
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
