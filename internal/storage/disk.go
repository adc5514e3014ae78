package storage

import (
	"errors"
	"io/fs"
	"path/filepath"
)

// DiskUsageBytes sums the sizes of regular files at or under root. Symlinks are not
// followed. A missing or empty root counts as zero.
func DiskUsageBytes(root string) (int64, error) {
	if root == "" {
		return 0, nil
	}
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return total, nil
}
