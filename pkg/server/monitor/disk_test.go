package monitor

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiskMonitor_Limit(t *testing.T) {
	d := NewDiskMonitor(t.TempDir(), 1<<30)
	if got := d.Limit(); got != 1<<30 {
		t.Errorf("Limit() = %d, want %d", got, 1<<30)
	}
}

func TestDiskMonitor_Usage(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "000001.vlog"), []byte("reading data"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	d := NewDiskMonitor(dir, 1<<30)
	usage, err := d.Usage()
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if usage <= 0 {
		t.Errorf("Usage() = %d, want > 0", usage)
	}
}

func TestDiskMonitor_Caching(t *testing.T) {
	dir := t.TempDir()
	d := NewDiskMonitor(dir, 0)

	first, err := d.Usage()
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "later.sst"), make([]byte, 64*1024), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	second, err := d.Usage()
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if first != second {
		t.Errorf("cached usage changed within cache window: %d != %d", first, second)
	}
}

func TestDiskMonitor_Report(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "MANIFEST"), make([]byte, 4096), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	r, err := NewDiskMonitor(dir, 1<<20).Report()
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if r.UsagePercent <= 0 || r.UsagePercent > 100 {
		t.Errorf("UsagePercent = %v, want within (0, 100]", r.UsagePercent)
	}

	unlimited, err := NewDiskMonitor(dir, 0).Report()
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if unlimited.UsagePercent != 0 {
		t.Errorf("UsagePercent without limit = %v, want 0", unlimited.UsagePercent)
	}
}

func TestDiskMonitor_InvalidDir(t *testing.T) {
	d := NewDiskMonitor("/nonexistent/path/12345", 0)
	if _, err := d.Usage(); err == nil {
		t.Error("Usage() should return error for nonexistent directory")
	}
}
