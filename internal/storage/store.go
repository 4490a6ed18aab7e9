// Package storage persists acquired documents.
//
// Keys have the layout {project}/{doi-file-name}.pdf. A document only counts as
// present when the stored bytes carry a PDF signature, so a truncated or foreign
// file never short-circuits an acquisition.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/helixir/document-acquisition-service/internal/config"
	"github.com/helixir/document-acquisition-service/internal/domain"
)

// headerProbeSize is the number of leading bytes read to check the PDF signature.
const headerProbeSize = 1024

// Backend names accepted by New.
const (
	BackendLocal = "local"
	BackendGCS   = "gcs"
)

// DocumentStore writes and checks acquired documents.
type DocumentStore interface {
	// Exists reports whether a valid PDF is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
	// Put stores data under key and returns its location.
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Path returns the location key is stored at.
	Path(key string) string
}

// Key returns the storage key for a project's copy of doi.
func Key(projectID, doi string) string {
	return strings.TrimSpace(projectID) + "/" + domain.DOIFileName(doi) + ".pdf"
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") || strings.Contains(key, "\\") {
		return domain.NewValidationError("key", fmt.Sprintf("invalid storage key %q", key))
	}
	return nil
}

// New builds the store selected by cfg.
func New(ctx context.Context, cfg config.StorageConfig) (DocumentStore, error) {
	switch cfg.Backend {
	case BackendLocal, "":
		return NewLocalStore(cfg.LocalRoot)
	case BackendGCS:
		return NewGCSStoreFromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
