package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperjump/kotae/internal/models"
)

// Fingerprint hashes the name, size and modification time of each file, in the given
// order. Any added, removed, renamed or modified file changes the result.
func Fingerprint(files []models.SourceFile) (string, error) {
	h := sha256.New()
	for _, f := range files {
		info, err := os.Stat(f.Path)
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", f.Path, err)
		}
		fmt.Fprintf(h, "%s\x00%d\x00%d\n", filepath.Base(f.Path), info.Size(), info.ModTime().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
