package services

import (
	"time"
)

// FileItem is one row of a folder listing: a folder or a file.
type FileItem struct {
	ID        string
	Name      string
	IsFolder  bool
	Size      int64
	MimeType  string
	ObjectKey string
	ModTime   time.Time
}

// FolderContents is a rendered folder listing. Folders come first, then
// files, each sorted by name.
type FolderContents struct {
	// FolderID is empty for the top level
	FolderID string
	Items    []FileItem
}

// Counts returns how many folders and files the listing holds.
func (c *FolderContents) Counts() (folders, files int) {
	for _, it := range c.Items {
		if it.IsFolder {
			folders++
		} else {
			files++
		}
	}
	return folders, files
}

// DownloadRequest names one object to fetch.
type DownloadRequest struct {
	ObjectKey string
	// Name is the local file name; the last key segment when empty
	Name string
	Size int64
}
