package documents

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Local stores documents in a directory. BaseURL prefixes the returned URLs.
type Local struct {
	dir     string
	baseURL string
}

// NewLocal creates dir if needed.
func NewLocal(dir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Local{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Save writes body to a temp file and renames it into place so readers never
// see a partial document.
func (s *Local) Save(ctx context.Context, name, _ string, body io.Reader) (Stored, error) {
	if name != filepath.Base(name) || name == "." || name == ".." {
		return Stored{}, fmt.Errorf("invalid document name %q", name)
	}
	if err := ctx.Err(); err != nil {
		return Stored{}, err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return Stored{}, fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		return Stored{}, fmt.Errorf("write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Stored{}, fmt.Errorf("close document: %w", err)
	}
	dest := filepath.Join(s.dir, name)
	if _, err := os.Stat(dest); err == nil {
		return Stored{}, fmt.Errorf("document %s already exists", name)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return Stored{}, fmt.Errorf("store document: %w", err)
	}
	return Stored{ID: name, URL: s.baseURL + "/" + name, Name: name}, nil
}
