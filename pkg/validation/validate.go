// Package validation checks candidate upload files before anything is sent
// to the translation service.
package validation

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// MaxFileSize is the upload ceiling in bytes (10 MiB)
const MaxFileSize int64 = 10 * 1024 * 1024

// MinDimension is the smallest width or height the service will process
const MinDimension = 50

// Reason explains why a file was rejected
type Reason string

const (
	ReasonUnsupportedType  Reason = "unsupported type"
	ReasonTooLarge         Reason = "too large"
	ReasonInvalidExtension Reason = "invalid extension"
	ReasonUndecodableImage Reason = "undecodable image"
	ReasonTooSmall         Reason = "too small"
)

var allowedContentTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
}

var allowedExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
}

// File describes a candidate upload
type File struct {
	Name        string
	ContentType string
	Size        int64
}

// Error is returned for a rejected file
type Error struct {
	Reason Reason
	File   File
	Index  int
	Detail string
}

func (e *Error) Error() string {
	name := e.File.Name
	if name == "" {
		name = "file"
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", name, e.Reason, e.Detail)
	}
	return fmt.Sprintf("%s: %s", name, e.Reason)
}

// Validate checks type, size and extension, in that order
func Validate(f File) error {
	contentType := normalizeContentType(f.ContentType)
	if _, ok := allowedContentTypes[contentType]; !ok {
		return &Error{Reason: ReasonUnsupportedType, File: f, Detail: fmt.Sprintf("got %q", f.ContentType)}
	}

	if f.Size > MaxFileSize {
		return &Error{Reason: ReasonTooLarge, File: f, Detail: fmt.Sprintf("%d bytes exceeds %d", f.Size, MaxFileSize)}
	}

	if name := strings.TrimSpace(f.Name); name != "" {
		ext := strings.ToLower(filepath.Ext(name))
		if _, ok := allowedExtensions[ext]; !ok {
			return &Error{Reason: ReasonInvalidExtension, File: f, Detail: fmt.Sprintf("got %q", ext)}
		}
	}

	return nil
}

// ValidateAll validates files in order and reports the first failure with its index
func ValidateAll(files []File) error {
	for i, f := range files {
		if err := Validate(f); err != nil {
			verr := err.(*Error)
			verr.Index = i
			return verr
		}
	}
	return nil
}

// ValidateContent decodes the image and enforces the minimum dimensions
func ValidateContent(f File, data []byte) error {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return &Error{Reason: ReasonUndecodableImage, File: f, Detail: err.Error()}
	}
	bounds := img.Bounds()
	if bounds.Dx() < MinDimension || bounds.Dy() < MinDimension {
		return &Error{
			Reason: ReasonTooSmall,
			File:   f,
			Detail: fmt.Sprintf("%dx%d, minimum is %dx%d", bounds.Dx(), bounds.Dy(), MinDimension, MinDimension),
		}
	}
	return nil
}

// AllowedContentTypes lists the accepted MIME types
func AllowedContentTypes() []string {
	return []string{"image/jpeg", "image/png"}
}

// ContentTypeForName maps an allowed extension to its MIME type
func ContentTypeForName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	}
	return ""
}

func normalizeContentType(raw string) string {
	contentType := strings.ToLower(strings.TrimSpace(raw))
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	return contentType
}
