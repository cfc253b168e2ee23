// Package fileid derives stable source keys and change fingerprints for admission files.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperjump/uttree/internal/models"
)

const prefix = "file:"

// SourceKey returns a stable key for the given path. Same cleaned absolute
// path always yields the same key, so re-ingesting or removing a file finds
// the admissions it produced.
func SourceKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	hash := sha256.Sum256([]byte(filepath.Clean(path)))
	return prefix + hex.EncodeToString(hash[:16])
}

// Stat fingerprints the regular file at path.
func Stat(path string) (*models.SourceFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", abs)
	}
	return &models.SourceFile{
		Key:     SourceKey(abs),
		Path:    abs,
		ModTime: info.ModTime().UnixNano(),
		Size:    info.Size(),
	}, nil
}

// Unchanged reports whether cur has the same path, modification time, and size as prev.
func Unchanged(prev, cur *models.SourceFile) bool {
	if prev == nil || cur == nil {
		return false
	}
	return prev.Path == cur.Path && prev.ModTime == cur.ModTime && prev.Size == cur.Size
}
