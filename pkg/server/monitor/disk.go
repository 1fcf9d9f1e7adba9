package monitor

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

const diskCacheDuration = 10 * time.Second

// DiskMonitor reports how much disk the archive directory uses. Scans are
// cached because walking a badger directory is expensive.
type DiskMonitor struct {
	dir      string
	maxBytes int64

	mu          sync.Mutex
	cachedUsage int64
	lastCheck   time.Time
}

// NewDiskMonitor creates a monitor for dir. maxBytes 0 means no limit.
func NewDiskMonitor(dir string, maxBytes int64) *DiskMonitor {
	return &DiskMonitor{dir: dir, maxBytes: maxBytes}
}

// Usage returns the bytes allocated under the directory.
func (d *DiskMonitor) Usage() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.lastCheck.IsZero() && time.Since(d.lastCheck) < diskCacheDuration {
		return d.cachedUsage, nil
	}

	usage, err := dirSize(d.dir)
	if err != nil {
		return 0, err
	}
	d.cachedUsage = usage
	d.lastCheck = time.Now()
	return usage, nil
}

// Limit returns the configured limit in bytes.
func (d *DiskMonitor) Limit() int64 {
	return d.maxBytes
}

// DiskUsage is the archive's disk report.
type DiskUsage struct {
	Dir          string  `json:"dir"`
	UsedBytes    int64   `json:"used_bytes"`
	LimitBytes   int64   `json:"limit_bytes,omitempty"`
	UsagePercent float64 `json:"usage_percent,omitempty"`
}

// Report returns usage and, with a limit, the percentage used.
func (d *DiskMonitor) Report() (DiskUsage, error) {
	used, err := d.Usage()
	if err != nil {
		return DiskUsage{}, err
	}
	r := DiskUsage{Dir: d.dir, UsedBytes: used, LimitBytes: d.maxBytes}
	if d.maxBytes > 0 {
		r.UsagePercent = float64(used) / float64(d.maxBytes) * 100
	}
	return r, nil
}

// dirSize sums allocated rather than logical sizes so sparse value logs
// are not overcounted.
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if actual, err := allocatedSize(filePath, info); err == nil {
			size += actual
		} else {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
