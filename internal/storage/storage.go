package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/miya-dang/InkTranslator/pkg/pipeline"
	"github.com/miya-dang/InkTranslator/pkg/validation"
)

var (
	// ErrNotFound is returned when no content exists at a key
	ErrNotFound = errors.New("content not found")

	// ErrInvalidKey is returned for keys that escape the storage root
	ErrInvalidKey = errors.New("invalid key: path traversal detected")
)

// Reader provides read access to stored content
type Reader interface {
	// GetReader returns a reader for the content at the given key
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if content exists at the given key
	Exists(ctx context.Context, key string) (bool, error)
}

// Metadata contains storage object metadata
type Metadata struct {
	Size        int64
	ContentType string
	ETag        string
}

// ReaderWithMetadata provides read access with metadata
type ReaderWithMetadata interface {
	Reader

	// GetMetadata returns metadata for content at the given key
	GetMetadata(ctx context.Context, key string) (*Metadata, error)
}

// Writer stores content under a key
type Writer interface {
	// Put writes r at key and returns the stored location
	Put(ctx context.Context, key string, r io.Reader) (string, error)

	// Exists checks if content exists at the given key
	Exists(ctx context.Context, key string) (bool, error)
}

// LoadImage reads an input image into memory. The content type comes from
// the store's metadata when it names an image, then from the extension, then
// from sniffing the bytes. Reads stop one byte past validation.MaxFileSize so
// oversized inputs still fail validation without being fully buffered.
func LoadImage(ctx context.Context, r ReaderWithMetadata, key string) (pipeline.Image, error) {
	meta, err := r.GetMetadata(ctx, key)
	if err != nil {
		return pipeline.Image{}, err
	}

	rc, err := r.GetReader(ctx, key)
	if err != nil {
		return pipeline.Image{}, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, validation.MaxFileSize+1))
	if err != nil {
		return pipeline.Image{}, fmt.Errorf("failed to read %s: %w", key, err)
	}

	name := keyName(key)
	return pipeline.Image{
		Name:        name,
		ContentType: detectContentType(meta.ContentType, name, data),
		Data:        data,
	}, nil
}

func detectContentType(declared, name string, data []byte) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if strings.HasPrefix(declared, "image/") {
		if idx := strings.Index(declared, ";"); idx >= 0 {
			declared = strings.TrimSpace(declared[:idx])
		}
		return declared
	}
	if byName := validation.ContentTypeForName(name); byName != "" {
		return byName
	}
	return http.DetectContentType(data)
}

// keyName returns the last path element of a key or URL, without query
func keyName(key string) string {
	key, _, _ = strings.Cut(key, "?")
	key, _, _ = strings.Cut(key, "#")
	name := path.Base(strings.ReplaceAll(key, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}
