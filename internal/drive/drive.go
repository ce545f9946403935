package drive

import (
	"context"
	"errors"
	"io"
)

var ErrFileNotFound = errors.New("drive file not found")

// File is one entry of the remote account as seen through the client.
// Timestamps are RFC3339Nano UTC strings.
type File struct {
	ID         string
	Name       string
	Path       string
	FolderID   string
	Size       int64
	MimeType   string
	CreatedAt  string
	ModifiedAt string
}

// Client is the boundary to the remote storage account. Implementations must
// be safe for concurrent use.
type Client interface {
	// IsAuthenticated reports whether the account is reachable with the
	// configured credentials. Callers treat false as "skip, don't retry".
	IsAuthenticated(ctx context.Context) bool

	// ListFiles returns every file under the given folder id, recursively.
	// An empty folder id lists the whole account slice.
	ListFiles(ctx context.Context, folderID string) ([]File, error)

	GetFile(ctx context.Context, id string) ([]byte, error)
	CreateFile(ctx context.Context, folderID, name string, data []byte, mimeType string) (File, error)
	UpdateFile(ctx context.Context, id string, data []byte) (File, error)
	DeleteFile(ctx context.Context, id string) error

	// Upload streams a large payload; used for media transfers where
	// buffering the whole file is not acceptable.
	Upload(ctx context.Context, folderID, name string, r io.Reader, size int64, mimeType string) (File, error)

	// EnsureFolder creates the folder path if missing and returns its id.
	EnsureFolder(ctx context.Context, path string) (string, error)
}
