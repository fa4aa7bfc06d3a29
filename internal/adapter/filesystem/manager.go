package filesystem

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/vertextoedge/resumable-downloader/internal/domain"
	"github.com/vertextoedge/resumable-downloader/internal/port"
)

// Manager handles local filesystem operations
type Manager struct {
	rootDir    string
	tempSuffix string
	bufferSize int
}

// Ensure Manager implements port.FileSystem
var _ port.FileSystem = (*Manager)(nil)

// NewManager creates a new filesystem manager
func NewManager(rootDir, tempSuffix string) (*Manager, error) {
	return NewManagerWithBufferSize(rootDir, tempSuffix, 1024*1024) // 1MB copy buffer
}

// NewManagerWithBufferSize creates a new filesystem manager with a custom copy buffer size
func NewManagerWithBufferSize(rootDir, tempSuffix string, bufferSize int) (*Manager, error) {
	// Ensure root directory exists
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download root dir: %w", err)
	}

	if tempSuffix == "" {
		tempSuffix = domain.DefaultTempSuffix
	}
	if bufferSize <= 0 {
		bufferSize = 1024 * 1024
	}

	return &Manager{
		rootDir:    rootDir,
		tempSuffix: tempSuffix,
		bufferSize: bufferSize,
	}, nil
}

// RootDir returns the download root directory
func (m *Manager) RootDir() string {
	return m.rootDir
}

// Resolve returns an absolute destination path
func (m *Manager) Resolve(destination string) string {
	if filepath.IsAbs(destination) {
		return filepath.Clean(destination)
	}
	return filepath.Join(m.rootDir, destination)
}

// EnsureDir ensures the directory for a file path exists
func (m *Manager) EnsureDir(filePath string) error {
	dir := filepath.Dir(filePath)
	return os.MkdirAll(dir, 0755)
}

// OpenTemp opens a temp file for writing
func (m *Manager) OpenTemp(tempPath string, truncate bool) (port.TempFile, error) {
	if err := m.EnsureDir(tempPath); err != nil {
		return nil, domain.NewFilesystemError(domain.FilesystemCode(err), fmt.Errorf("failed to create parent dir: %w", err))
	}

	flags := os.O_WRONLY | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_APPEND
	}

	f, err := os.OpenFile(tempPath, flags, 0644)
	if err != nil {
		return nil, domain.NewFilesystemError(domain.FilesystemCode(err), fmt.Errorf("failed to open temp file: %w", err))
	}
	return f, nil
}

// GetTempFileInfo returns size and modification time of a temp file
// Returns error if file does not exist
func (m *Manager) GetTempFileInfo(tempPath string) (int64, time.Time, error) {
	info, err := os.Stat(tempPath)
	if err != nil {
		return 0, time.Time{}, err // Return error for non-existent files too
	}
	return info.Size(), info.ModTime(), nil
}

// DeleteTempFile removes a temporary file
func (m *Manager) DeleteTempFile(tempPath string) error {
	if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete temp file: %w", err)
	}
	return nil
}

// Move renames src to dst, replacing dst. Across devices it copies then deletes src.
func (m *Manager) Move(src, dst string) error {
	if err := m.EnsureDir(dst); err != nil {
		return domain.NewFilesystemError(domain.FilesystemCode(err), fmt.Errorf("failed to create destination dir: %w", err))
	}

	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return domain.NewFilesystemError(domain.FilesystemCode(err), fmt.Errorf("failed to rename temp file: %w", err))
	}

	if err := m.copyFile(src, dst); err != nil {
		os.Remove(dst)
		return domain.NewFilesystemError(domain.FilesystemCode(err), fmt.Errorf("failed to copy temp file: %w", err))
	}
	if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
		return domain.NewFilesystemError(domain.FilesystemCode(err), fmt.Errorf("failed to remove temp file after copy: %w", err))
	}
	return nil
}

func (m *Manager) copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	buf := make([]byte, m.bufferSize)
	if _, err := io.CopyBuffer(out, in, buf); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// FileExists checks if a file exists
func (m *Manager) FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// GetDiskUsage returns disk usage for the volume holding path.
// The nearest existing ancestor is queried when path does not exist yet.
func (m *Manager) GetDiskUsage(path string) (*port.DiskUsage, error) {
	if path == "" {
		path = m.rootDir
	}
	dir := path
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	usage, err := disk.Usage(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get disk stats: %w", err)
	}

	return &port.DiskUsage{
		Total:   usage.Total,
		Used:    usage.Used,
		Free:    usage.Free,
		UsedPct: usage.UsedPercent,
	}, nil
}

// CleanOldTempFiles removes temp files older than the specified duration
func (m *Manager) CleanOldTempFiles(olderThan time.Duration, keep func(path string) bool) (int, error) {
	count := 0
	threshold := time.Now().Add(-olderThan)

	err := filepath.Walk(m.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, m.tempSuffix) {
			return nil
		}
		if !info.ModTime().Before(threshold) {
			return nil
		}
		if keep != nil && keep(path) {
			return nil
		}
		if removeErr := os.Remove(path); removeErr == nil {
			count++
		}
		return nil
	})
	return count, err
}
