// Package fileid derives deterministic identifiers from source file paths.
package fileid

import (
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
)

// namespace scopes chunk IDs so they never collide with UUIDv5s from other name spaces.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("kotae:chunk"))

// ChunkID returns a stable ID for the chunk at position seq of the given source file.
// Same cleaned path and sequence index always yield the same ID.
func ChunkID(sourcePath string, seq int) string {
	name := filepath.Clean(sourcePath) + "#" + strconv.Itoa(seq)
	return uuid.NewSHA1(namespace, []byte(name)).String()
}
