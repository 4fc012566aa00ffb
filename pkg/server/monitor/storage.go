package monitor

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

// usageCacheDuration bounds how often the data directory is walked.
const usageCacheDuration = 10 * time.Second

// StorageUsage is the disk usage of the store's data directory.
type StorageUsage struct {
	UsedBytes int64   `json:"used_bytes"`
	MaxBytes  int64   `json:"max_bytes"`
	Percent   float64 `json:"percent"`
	OverLimit bool    `json:"over_limit"`
}

// StorageMonitor tracks disk usage of the data directory, cached between walks.
type StorageMonitor struct {
	dataDir     string
	maxBytes    int64
	cachedUsage int64
	lastCheck   time.Time
	mu          sync.RWMutex
}

// NewStorageMonitor creates a new storage monitor. maxBytes <= 0 means no limit.
func NewStorageMonitor(dataDir string, maxBytes int64) *StorageMonitor {
	return &StorageMonitor{
		dataDir:  dataDir,
		maxBytes: maxBytes,
	}
}

// GetUsage returns bytes used on disk by the data directory.
func (sm *StorageMonitor) GetUsage() (int64, error) {
	sm.mu.RLock()
	if !sm.lastCheck.IsZero() && time.Since(sm.lastCheck) < usageCacheDuration {
		usage := sm.cachedUsage
		sm.mu.RUnlock()
		return usage, nil
	}
	sm.mu.RUnlock()

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.lastCheck.IsZero() && time.Since(sm.lastCheck) < usageCacheDuration {
		return sm.cachedUsage, nil
	}

	usage, err := calculateDirSize(sm.dataDir)
	if err != nil {
		return 0, err
	}
	sm.cachedUsage = usage
	sm.lastCheck = time.Now()
	return usage, nil
}

// GetLimit returns the configured storage limit in bytes.
func (sm *StorageMonitor) GetLimit() int64 {
	return sm.maxBytes
}

// Usage returns current usage against the limit.
func (sm *StorageMonitor) Usage() (StorageUsage, error) {
	used, err := sm.GetUsage()
	if err != nil {
		return StorageUsage{}, err
	}
	u := StorageUsage{UsedBytes: used, MaxBytes: sm.maxBytes}
	if sm.maxBytes > 0 {
		u.Percent = float64(used) / float64(sm.maxBytes) * 100
		u.OverLimit = used > sm.maxBytes
	}
	return u, nil
}

// calculateDirSize sums the disk usage of every file under path, counting
// allocated blocks so Badger's sparse value logs are not overcounted.
func calculateDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if actual, err := getActualFileSize(filePath, info); err == nil {
			size += actual
		} else {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
