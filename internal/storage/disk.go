package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// DiskUsage is the on-disk footprint of each persisted artifact, in bytes.
type DiskUsage struct {
	Database       int64 `json:"database_bytes"`
	KeywordIndex   int64 `json:"keyword_index_bytes"`
	VectorSnapshot int64 `json:"vector_snapshot_bytes"`
	Total          int64 `json:"total_bytes"`
}

// MeasureDiskUsage sums the SQLite database (with its WAL and shm side files),
// the Bleve index directory, and the vector snapshot. Missing paths count as zero.
func MeasureDiskUsage(dbPath, keywordPath, snapshotPath string) (DiskUsage, error) {
	var u DiskUsage
	var err error
	if u.Database, err = pathSize(dbPath, dbPath+"-wal", dbPath+"-shm"); err != nil {
		return DiskUsage{}, err
	}
	if u.KeywordIndex, err = pathSize(keywordPath); err != nil {
		return DiskUsage{}, err
	}
	if u.VectorSnapshot, err = pathSize(snapshotPath); err != nil {
		return DiskUsage{}, err
	}
	u.Total = u.Database + u.KeywordIndex + u.VectorSnapshot
	return u, nil
}

// pathSize returns the total size of files and directory trees under paths.
// Empty and missing paths are skipped.
func pathSize(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
			return nil
		})
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
