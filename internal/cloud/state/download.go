// Package state persists download resume sidecars.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/stashbox/stashbox/internal/constants"
)

// Suffixes of the files kept next to a download destination.
const (
	PartSuffix  = ".part"
	StateSuffix = ".download.resume"
)

// Validation failures. Any of them means the partial data is discarded.
var (
	ErrStateExpired   = errors.New("resume state expired")
	ErrStateMismatch  = errors.New("resume state does not match download")
	ErrPartFileBroken = errors.New("partial file missing or inconsistent")
)

// DownloadResumeState tracks a partially downloaded object.
type DownloadResumeState struct {
	LocalPath       string    `json:"local_path"`       // Final destination
	PartPath        string    `json:"part_path"`        // Where bytes accumulate
	ObjectKey       string    `json:"object_key"`       // Storage key being fetched
	TotalSize       int64     `json:"total_size"`       // Expected object size
	DownloadedBytes int64     `json:"downloaded_bytes"` // Bytes flushed to PartPath
	ETag            string    `json:"etag,omitempty"`   // Sent as If-Range on resume
	CreatedAt       time.Time `json:"created_at"`
	LastUpdate      time.Time `json:"last_update"`
}

// NewDownloadState starts a fresh state for localPath.
func NewDownloadState(localPath, objectKey string, totalSize int64) *DownloadResumeState {
	now := time.Now()
	return &DownloadResumeState{
		LocalPath:  localPath,
		PartPath:   localPath + PartSuffix,
		ObjectKey:  objectKey,
		TotalSize:  totalSize,
		CreatedAt:  now,
		LastUpdate: now,
	}
}

// SaveDownloadState writes the sidecar atomically with owner-only permissions.
func SaveDownloadState(state *DownloadResumeState, localPath string) error {
	stateFilePath := localPath + StateSuffix
	tmpFilePath := stateFilePath + ".tmp"

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal download state: %w", err)
	}

	if err := os.WriteFile(tmpFilePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp state file: %w", err)
	}

	if err := os.Rename(tmpFilePath, stateFilePath); err != nil {
		os.Remove(tmpFilePath)
		return fmt.Errorf("failed to rename state file: %w", err)
	}

	return nil
}

// LoadDownloadState loads the sidecar for localPath.
// Returns nil without error if no resume state exists.
func LoadDownloadState(localPath string) (*DownloadResumeState, error) {
	data, err := os.ReadFile(localPath + StateSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state DownloadResumeState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state file: %w", err)
	}

	return &state, nil
}

// DeleteDownloadState removes the sidecar. A missing file is not an error.
func DeleteDownloadState(localPath string) error {
	err := os.Remove(localPath + StateSuffix)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete state file: %w", err)
	}
	return nil
}

// DownloadResumeStateExists checks if a resume state file exists.
func DownloadResumeStateExists(localPath string) bool {
	_, err := os.Stat(localPath + StateSuffix)
	return err == nil
}

// ValidateDownloadState checks that state can resume fetching objectKey of
// totalSize into localPath. On success DownloadedBytes is reconciled with
// the actual size of the part file.
func ValidateDownloadState(state *DownloadResumeState, localPath, objectKey string, totalSize int64) error {
	if state == nil {
		return fmt.Errorf("%w: state is nil", ErrStateMismatch)
	}
	if time.Since(state.CreatedAt) > constants.ResumeStateMaxAge {
		return ErrStateExpired
	}
	if state.LocalPath != localPath || state.ObjectKey != objectKey {
		return fmt.Errorf("%w: path or key differs", ErrStateMismatch)
	}
	if totalSize > 0 && state.TotalSize != totalSize {
		return fmt.Errorf("%w: size %d, expected %d", ErrStateMismatch, state.TotalSize, totalSize)
	}

	info, err := os.Stat(state.PartPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPartFileBroken, err)
	}
	if state.TotalSize > 0 && info.Size() > state.TotalSize {
		return fmt.Errorf("%w: %d bytes on disk exceeds %d", ErrPartFileBroken, info.Size(), state.TotalSize)
	}
	// The part file can be ahead of the sidecar if the process died between
	// a write and the next save; trust what is on disk.
	state.DownloadedBytes = info.Size()
	return nil
}

// GetDownloadResumeProgress returns the resume progress as a fraction (0.0 to 1.0).
func GetDownloadResumeProgress(state *DownloadResumeState) float64 {
	if state == nil || state.TotalSize <= 0 {
		return 0.0
	}
	return float64(state.DownloadedBytes) / float64(state.TotalSize)
}
