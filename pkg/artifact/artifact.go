package artifact

import (
	"bytes"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// Artifact is the translated image returned by a successful submission.
// The client does not keep a copy.
type Artifact struct {
	Data        []byte
	ContentType string
	Filename    string
	TextBoxes   int
}

// Size returns the payload size in bytes
func (a *Artifact) Size() int {
	if a == nil {
		return 0
	}
	return len(a.Data)
}

// Decode decodes the artifact into an image
func (a *Artifact) Decode() (image.Image, error) {
	if a == nil || len(a.Data) == 0 {
		return nil, fmt.Errorf("artifact is empty")
	}
	img, err := imaging.Decode(bytes.NewReader(a.Data))
	if err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	return img, nil
}

// Extension returns the file extension matching the content type
func (a *Artifact) Extension() string {
	if a == nil {
		return ""
	}
	switch strings.ToLower(a.ContentType) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	}
	if ext := filepath.Ext(a.Filename); ext != "" {
		return strings.ToLower(ext)
	}
	return ".png"
}

// OutputName returns the name to store the artifact under. The service
// announces translated_<input> in Content-Disposition; fallback is used
// when it does not.
func (a *Artifact) OutputName(fallback string) string {
	name := ""
	if a != nil {
		name = filepath.Base(strings.TrimSpace(a.Filename))
	}
	if name == "" || name == "." || name == "/" {
		base := strings.TrimSuffix(filepath.Base(fallback), filepath.Ext(fallback))
		if base == "" || base == "." {
			base = "image"
		}
		name = "translated_" + base + a.Extension()
	}
	return name
}
