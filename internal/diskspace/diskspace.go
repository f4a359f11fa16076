// Package diskspace checks free space on the filesystem that will receive
// a download.
package diskspace

import (
	"errors"
	"fmt"
	"path/filepath"
)

// InsufficientSpaceError indicates that there is not enough disk space available.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	requiredMB := float64(e.RequiredBytes) / (1024 * 1024)
	availableMB := float64(e.AvailableBytes) / (1024 * 1024)
	return fmt.Sprintf("insufficient disk space for %s: need %.2f MB, have %.2f MB available",
		e.Path, requiredMB, availableMB)
}

// CheckAvailableSpace checks that the filesystem holding targetPath has
// requiredBytes plus bufferPercent (0.15 = 15%) free. targetPath need not
// exist but its directory must.
//
// When free space cannot be determined (network or virtual filesystems)
// the check passes and the write is left to fail on its own.
func CheckAvailableSpace(targetPath string, requiredBytes int64, bufferPercent float64) error {
	if requiredBytes <= 0 {
		return nil
	}
	available, err := availableBytes(filepath.Dir(targetPath))
	if err != nil {
		return nil
	}

	required := requiredBytes + int64(float64(requiredBytes)*bufferPercent)
	if available < required {
		return &InsufficientSpaceError{
			Path:           targetPath,
			RequiredBytes:  required,
			AvailableBytes: available,
		}
	}
	return nil
}

// GetAvailableSpace returns the available space in bytes for the filesystem
// containing the given path. Returns 0 if unable to determine.
func GetAvailableSpace(path string) int64 {
	n, err := availableBytes(filepath.Dir(path))
	if err != nil {
		return 0
	}
	return n
}

// IsInsufficientSpaceError checks if an error is an InsufficientSpaceError
func IsInsufficientSpaceError(err error) bool {
	var ise *InsufficientSpaceError
	return errors.As(err, &ise)
}
