// Package storage keeps profile photos in a blob store and hands back their
// public URLs.
package storage

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/FACorreiaa/person-registry/internal/types"
)

// PhotoStore uploads and deletes profile photos.
type PhotoStore interface {
	// Upload stores file for personID and returns its public URL.
	Upload(ctx context.Context, token, personID string, file types.PhotoFile) (string, error)
	// Delete removes the object behind a URL returned by Upload.
	Delete(ctx context.Context, token, publicURL string) error
}

// objectName builds "{personID}_{unixMillis}.{ext}".
func objectName(personID string, file types.PhotoFile, now time.Time) string {
	return fmt.Sprintf("%s_%d.%s", personID, now.UnixMilli(), extension(file))
}

func extension(file types.PhotoFile) string {
	if ext := cleanExtension(filepath.Ext(file.Name)); ext != "" {
		return ext
	}
	if exts, err := mime.ExtensionsByType(file.ContentType); err == nil && len(exts) > 0 {
		if ext := cleanExtension(exts[0]); ext != "" {
			return ext
		}
	}
	return "bin"
}

// cleanExtension lowercases ext and returns "" unless it is 1-10 characters
// of [a-z0-9].
func cleanExtension(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" || len(ext) > 10 {
		return ""
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

func validateUpload(personID string, file types.PhotoFile) error {
	if strings.TrimSpace(personID) == "" {
		return fmt.Errorf("%w: person id is required", types.ErrValidation)
	}
	if len(file.Body) == 0 {
		return fmt.Errorf("%w: photo is empty", types.ErrValidation)
	}
	return nil
}

func contentType(file types.PhotoFile) string {
	if file.ContentType != "" {
		return file.ContentType
	}
	return "application/octet-stream"
}
