package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/oklog/ulid/v2"

	"mediavault/internal/models"
)

// SchemaVersion is the only document version this build reads and writes.
const SchemaVersion = 1

var (
	ErrSchemaVersion = errors.New("unsupported snapshot schema version")
	ErrMissingVideos = errors.New("snapshot has no videos array")
)

// Snapshot is the portable catalog document persisted in the remote account.
// Asset lists are denormalized into each video entry.
type Snapshot struct {
	SchemaVersion int            `json:"schema_version"`
	GeneratedAt   string         `json:"generated_at"`
	LibraryID     string         `json:"library_id,omitempty"`
	Videos        []models.Video `json:"videos"`
}

// The on-wire document uses its own snake_case entry shape, independent of
// the API models: video entries carry the remote path at top level, asset
// entries have no id (ids are storage-local and regenerated on decode).
type videoEntry struct {
	VideoUID        string       `json:"video_uid"`
	Title           *string      `json:"title"`
	Channel         *string      `json:"channel"`
	DurationSeconds *int         `json:"duration_seconds"`
	CreatedAt       *string      `json:"created_at"`
	ModifiedAt      *string      `json:"modified_at"`
	Path            *string      `json:"path"`
	Assets          []assetEntry `json:"assets"`
}

type assetEntry struct {
	Kind        models.AssetKind `json:"kind"`
	DriveFileID *string          `json:"drive_file_id"`
	MimeType    *string          `json:"mime_type"`
	SizeBytes   *int64           `json:"size_bytes"`
}

// Encode serializes the snapshot as gzip-compressed JSON. The schema version
// is always stamped to the current one.
func Encode(s Snapshot) ([]byte, error) {
	doc := struct {
		SchemaVersion int          `json:"schema_version"`
		GeneratedAt   string       `json:"generated_at"`
		LibraryID     string       `json:"library_id,omitempty"`
		Videos        []videoEntry `json:"videos"`
	}{
		SchemaVersion: SchemaVersion,
		GeneratedAt:   s.GeneratedAt,
		LibraryID:     s.LibraryID,
		Videos:        make([]videoEntry, 0, len(s.Videos)),
	}
	for _, v := range s.Videos {
		doc.Videos = append(doc.Videos, toEntry(v))
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a snapshot produced by Encode. Plain uncompressed JSON is
// accepted too, for documents written by older builds.
func Decode(data []byte) (Snapshot, error) {
	raw := data
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return Snapshot{}, fmt.Errorf("open gzip stream: %w", err)
		}
		defer zr.Close()
		raw, err = io.ReadAll(zr)
		if err != nil {
			return Snapshot{}, fmt.Errorf("decompress snapshot: %w", err)
		}
	}

	var envelope struct {
		SchemaVersion int             `json:"schema_version"`
		GeneratedAt   string          `json:"generated_at"`
		LibraryID     string          `json:"library_id"`
		Videos        json.RawMessage `json:"videos"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Snapshot{}, fmt.Errorf("parse snapshot: %w", err)
	}
	if envelope.SchemaVersion != SchemaVersion {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrSchemaVersion, envelope.SchemaVersion)
	}
	if !isJSONArray(envelope.Videos) {
		return Snapshot{}, ErrMissingVideos
	}

	var entries []videoEntry
	if err := json.Unmarshal(envelope.Videos, &entries); err != nil {
		return Snapshot{}, fmt.Errorf("parse snapshot videos: %w", err)
	}

	videos := make([]models.Video, 0, len(entries))
	for _, e := range entries {
		videos = append(videos, fromEntry(e))
	}

	return Snapshot{
		SchemaVersion: envelope.SchemaVersion,
		GeneratedAt:   envelope.GeneratedAt,
		LibraryID:     envelope.LibraryID,
		Videos:        videos,
	}, nil
}

func toEntry(v models.Video) videoEntry {
	e := videoEntry{
		VideoUID:        v.VideoUID,
		Title:           optString(v.Title),
		Channel:         optString(v.Channel),
		DurationSeconds: v.DurationSeconds,
		CreatedAt:       optString(v.CreatedAt),
		ModifiedAt:      optString(v.ModifiedAt),
		Path:            optString(v.Extra.RemotePath),
		Assets:          make([]assetEntry, 0, len(v.Assets)),
	}
	for _, a := range v.Assets {
		e.Assets = append(e.Assets, assetEntry{
			Kind:        a.Kind,
			DriveFileID: a.DriveFileID,
			MimeType:    a.MimeType,
			SizeBytes:   a.SizeBytes,
		})
	}
	return e
}

func fromEntry(e videoEntry) models.Video {
	v := models.Video{
		VideoUID:        e.VideoUID,
		Origin:          originOf(e.VideoUID),
		Title:           strOf(e.Title),
		Channel:         strOf(e.Channel),
		DurationSeconds: e.DurationSeconds,
		CreatedAt:       strOf(e.CreatedAt),
		ModifiedAt:      strOf(e.ModifiedAt),
		Status:          models.VideoStatusAvailable,
		Extra:           models.VideoExtra{RemotePath: strOf(e.Path)},
		Assets:          make([]models.Asset, 0, len(e.Assets)),
	}
	for _, a := range e.Assets {
		v.Assets = append(v.Assets, models.Asset{
			ID:          ulid.Make().String(),
			VideoUID:    e.VideoUID,
			Kind:        a.Kind,
			DriveFileID: a.DriveFileID,
			MimeType:    a.MimeType,
			SizeBytes:   a.SizeBytes,
		})
	}
	return v
}

func originOf(uid string) models.Origin {
	prefix, _, ok := strings.Cut(uid, ":")
	if !ok {
		return models.OriginRemote
	}
	origin, ok := models.ParseOrigin(prefix)
	if !ok {
		return models.OriginRemote
	}
	return origin
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strOf(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func isJSONArray(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}
