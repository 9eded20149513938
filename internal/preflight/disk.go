package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// MinDiskSpaceBytes is the default minimum free space (100MB).
const MinDiskSpaceBytes = 100 * 1024 * 1024

// DiskProbe checks free space on the filesystem holding Path.
type DiskProbe struct {
	Path         string
	MinFreeBytes uint64

	// freeBytes is swapped in tests.
	freeBytes func(path string) (uint64, error)
}

// NewDiskProbe creates a probe for path. A zero minimum uses
// MinDiskSpaceBytes.
func NewDiskProbe(path string, minFreeBytes uint64) *DiskProbe {
	if minFreeBytes == 0 {
		minFreeBytes = MinDiskSpaceBytes
	}
	return &DiskProbe{Path: path, MinFreeBytes: minFreeBytes, freeBytes: statfsFree}
}

// CheckFreeSpace reports whether at least MinFreeBytes are available.
func (p *DiskProbe) CheckFreeSpace(ctx context.Context) (bool, error) {
	free, err := p.Free(ctx)
	if err != nil {
		return false, err
	}
	return free >= p.MinFreeBytes, nil
}

// Free returns the bytes available to an unprivileged user.
func (p *DiskProbe) Free(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	fn := p.freeBytes
	if fn == nil {
		fn = statfsFree
	}
	return fn(existingAncestor(p.Path))
}

func statfsFree(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("failed to check disk space at %s: %w", path, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// existingAncestor walks up from path until it finds something that exists,
// so the probe works before the data directory is created.
func existingAncestor(path string) string {
	path = filepath.Clean(path)
	for {
		if _, err := os.Stat(path); err == nil || !errors.Is(err, os.ErrNotExist) {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}

// CheckDiskSpace runs the probe and renders it as a check result.
func (c *Checker) CheckDiskSpace(ctx context.Context, probe *DiskProbe) CheckResult {
	result := CheckResult{
		Name:     "disk_space",
		Required: true,
	}

	free, err := probe.Free(ctx)
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}

	result.Message = fmt.Sprintf("%s free (minimum: %s)", formatBytes(free), formatBytes(probe.MinFreeBytes))
	result.Details = probe.Path
	if free < probe.MinFreeBytes {
		result.Status = StatusFail
		return result
	}
	result.Status = StatusPass
	return result
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
