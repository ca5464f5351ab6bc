package storage

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/miya-dang/InkTranslator/pkg/artifact"
)

// Derived output types written for an input image
const (
	DerivedTranslated = "translated"
	DerivedPreview    = "preview"
)

// Saved lists where the outputs of one job landed
type Saved struct {
	Artifact string
	Preview  string
}

// DerivedWriter stores the translated artifact and its preview
type DerivedWriter struct {
	store  Writer
	logger zerolog.Logger
}

// NewDerivedWriter creates a new derived output writer
func NewDerivedWriter(store Writer, logger zerolog.Logger) *DerivedWriter {
	return &DerivedWriter{
		store:  store,
		logger: logger,
	}
}

// DerivedKey returns the key of a derived output for inputName
func DerivedKey(art *artifact.Artifact, inputName, derivedType string) string {
	name := art.OutputName(inputName)
	if derivedType == DerivedPreview {
		base := strings.TrimSuffix(name, filepath.Ext(name))
		return DerivedPreview + "_" + base + ".jpg"
	}
	return name
}

// HasDerived checks if a derived output already exists
func (dw *DerivedWriter) HasDerived(ctx context.Context, art *artifact.Artifact, inputName, derivedType string) (bool, error) {
	return dw.store.Exists(ctx, DerivedKey(art, inputName, derivedType))
}

// PutDerived writes the artifact and, when withPreview is set, a JPEG
// thumbnail of it
func (dw *DerivedWriter) PutDerived(ctx context.Context, art *artifact.Artifact, inputName string, withPreview bool) (Saved, error) {
	var saved Saved
	if art.Size() == 0 {
		return saved, fmt.Errorf("artifact is empty")
	}

	key := DerivedKey(art, inputName, DerivedTranslated)
	location, err := dw.store.Put(ctx, key, bytes.NewReader(art.Data))
	if err != nil {
		return saved, fmt.Errorf("failed to store artifact: %w", err)
	}
	saved.Artifact = location
	dw.logger.Info().
		Str("location", location).
		Int("bytes", art.Size()).
		Msg("storage.artifact.saved")

	if !withPreview {
		return saved, nil
	}

	thumb, err := art.Thumbnail(artifact.DefaultThumbnailWidth, artifact.DefaultThumbnailHeight)
	if err != nil {
		return saved, fmt.Errorf("failed to generate preview: %w", err)
	}
	location, err = dw.store.Put(ctx, DerivedKey(art, inputName, DerivedPreview), bytes.NewReader(thumb.Data))
	if err != nil {
		return saved, fmt.Errorf("failed to store preview: %w", err)
	}
	saved.Preview = location
	dw.logger.Debug().
		Str("location", location).
		Int("width", thumb.Width).
		Int("height", thumb.Height).
		Msg("storage.preview.saved")

	return saved, nil
}
