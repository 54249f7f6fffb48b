package delivery

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DownloadStore keeps artifacts on local disk for later download.
type DownloadStore struct {
	dir string
}

// NewDownloadStore creates dir if needed.
func NewDownloadStore(dir string) (*DownloadStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir %s: %w", dir, err)
	}
	return &DownloadStore{dir: dir}, nil
}

// Save writes data under name and returns the file path.
func (d *DownloadStore) Save(name string, data []byte) (string, error) {
	p, err := d.path(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("save artifact %s: %w", name, err)
	}
	return p, nil
}

// Open returns the artifact's bytes.
func (d *DownloadStore) Open(name string) ([]byte, error) {
	p, err := d.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	}
	return data, err
}

// path rejects names that would escape the store directory.
func (d *DownloadStore) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrArtifactNotFound, name)
	}
	return filepath.Join(d.dir, name), nil
}
