package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ImageStore persists uploaded images on the local filesystem. Names are
// unique within the media root; saving under an existing name overwrites it,
// the only guarantee is stable retrievability after a successful write.
type ImageStore struct {
	root string
}

// NewImageStore creates the media root if needed and returns a store bound
// to it.
func NewImageStore(root string) (*ImageStore, error) {
	if root == "" {
		return nil, fmt.Errorf("media root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create media root %s: %w", root, err)
	}
	return &ImageStore{root: root}, nil
}

// Save writes the image bytes under a sanitized version of name and returns
// the stored name.
func (s *ImageStore) Save(name string, data []byte) (string, error) {
	stored := sanitizeName(name)
	if stored == "" {
		return "", fmt.Errorf("empty image name")
	}
	if err := os.WriteFile(filepath.Join(s.root, stored), data, 0o644); err != nil {
		return "", fmt.Errorf("write image %s: %w", stored, err)
	}
	return stored, nil
}

// Path returns the filesystem location of a stored image.
func (s *ImageStore) Path(name string) string {
	return filepath.Join(s.root, sanitizeName(name))
}

// sanitizeName strips any directory components so uploads cannot escape the
// media root.
func sanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return name
}
