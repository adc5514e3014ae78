package vectorstore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

// keyedMutex serialises builds of the same index path within the process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var buildLocks = &keyedMutex{locks: make(map[string]*sync.Mutex)}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func lockKey(indexPath string) string {
	if abs, err := filepath.Abs(indexPath); err == nil {
		return abs
	}
	return filepath.Clean(indexPath)
}

func lockFilePath(indexPath string) string {
	return indexPath + ".lock"
}

// staleLockAge bounds how long a lock file without a readable PID is honoured.
const staleLockAge = 10 * time.Minute

// acquireLockFile creates the build lock file for indexPath and writes the PID into it.
// A lock whose holder has exited, or whose content is unreadable and older than
// staleLockAge, is reclaimed. A live lock yields ErrIndexBuildInProgress. The
// returned func removes the file.
func acquireLockFile(indexPath string) (func(), error) {
	path := lockFilePath(indexPath)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index parent directory: %w", err)
	}
	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
			_ = f.Close()
			return func() { _ = os.Remove(path) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}
		if attempt > 0 || !reclaimStaleLock(path) {
			return nil, fmt.Errorf("%w: lock file %s exists", models.ErrIndexBuildInProgress, path)
		}
	}
}

// reclaimStaleLock removes the lock file at path if its holder is gone and reports
// whether it did. The content is re-read before removal so a lock taken over in the
// meantime is kept.
func reclaimStaleLock(path string) bool {
	content, err := os.ReadFile(path)
	if err != nil {
		return errors.Is(err, os.ErrNotExist)
	}
	if !lockIsStale(path, content) {
		return false
	}
	if again, err := os.ReadFile(path); err != nil || !bytes.Equal(again, content) {
		return errors.Is(err, os.ErrNotExist)
	}
	return os.Remove(path) == nil
}

func lockIsStale(path string, content []byte) bool {
	pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err == nil && pid > 0 {
		return !processAlive(pid)
	}
	info, err := os.Stat(path)
	return err == nil && time.Since(info.ModTime()) > staleLockAge
}
