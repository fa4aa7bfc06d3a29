package port

import (
	"io"
	"time"
)

// DiskUsage represents disk usage statistics
type DiskUsage struct {
	Total   uint64  // Total disk space in bytes
	Used    uint64  // Used disk space in bytes
	Free    uint64  // Free disk space in bytes
	UsedPct float64 // Used percentage (0-100)
}

// TempFile is an open temp file. Writes go straight to disk so the file
// size always matches the bytes accepted.
type TempFile interface {
	io.WriteCloser
	Sync() error
}

// FileSystem defines the interface for filesystem operations
type FileSystem interface {
	// RootDir returns the download root directory
	RootDir() string

	// Resolve returns an absolute destination path; relative paths are joined to RootDir
	Resolve(destination string) string

	// OpenTemp opens a temp file for writing, creating parent directories.
	// truncate=false appends to existing content.
	OpenTemp(tempPath string, truncate bool) (TempFile, error)

	// GetTempFileInfo returns size and modification time of a temp file
	// Returns an error satisfying os.IsNotExist if the file doesn't exist
	GetTempFileInfo(tempPath string) (int64, time.Time, error)

	// DeleteTempFile removes a temporary file; a missing file is not an error
	DeleteTempFile(tempPath string) error

	// Move moves src to dst, falling back to copy+delete across devices
	Move(src, dst string) error

	// FileExists checks if a file exists
	FileExists(path string) bool

	// GetDiskUsage returns disk usage statistics for the volume holding path
	GetDiskUsage(path string) (*DiskUsage, error)

	// CleanOldTempFiles removes temp files older than the specified duration,
	// skipping any path for which keep returns true.
	// Returns the number of files deleted
	CleanOldTempFiles(olderThan time.Duration, keep func(path string) bool) (int, error)
}
