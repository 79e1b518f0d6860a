// Package documents stores uploaded identity documents. Uploads are limited
// to JPEG, PNG and PDF files of at most MaxUploadBytes.
package documents

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	dErrors "kycops/pkg/domain-errors"
)

const (
	MaxUploadBytes  = 10 << 20
	defaultFileType = "document"
)

var allowedTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/jpg":       ".jpg",
	"image/png":       ".png",
	"application/pdf": ".pdf",
}

// Stored describes a persisted document.
type Stored struct {
	ID   string `json:"fileId"`
	URL  string `json:"url"`
	Name string `json:"fileName"`
}

// Store persists document content under name.
type Store interface {
	Save(ctx context.Context, name, contentType string, body io.Reader) (Stored, error)
}

// IsAllowedType reports whether contentType may be uploaded.
func IsAllowedType(contentType string) bool {
	_, ok := allowedTypes[normalizeType(contentType)]
	return ok
}

// ValidateUpload checks type and size.
func ValidateUpload(contentType string, size int64) error {
	if !IsAllowedType(contentType) {
		return dErrors.New(dErrors.CodeBadRequest, "Invalid file type")
	}
	if size > MaxUploadBytes {
		return dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("file exceeds %d MB", MaxUploadBytes>>20))
	}
	if size == 0 {
		return dErrors.New(dErrors.CodeBadRequest, "file is empty")
	}
	return nil
}

// ObjectName builds "<fileType>_<unix ms><ext>". The extension comes from the
// original file name, falling back to the content type.
func ObjectName(fileType, originalName, contentType string, at time.Time) string {
	fileType = sanitizeFileType(fileType)
	ext := strings.ToLower(filepath.Ext(path.Base(strings.ReplaceAll(originalName, "\\", "/"))))
	if ext == "" || len(ext) > 5 {
		ext = allowedTypes[normalizeType(contentType)]
	}
	return fmt.Sprintf("%s_%d%s", fileType, at.UnixMilli(), ext)
}

func sanitizeFileType(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return defaultFileType
	}
	return b.String()
}

func normalizeType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
