package models

import "time"

// FileRecord is the committed metadata row for an uploaded object.
// The JSON shape is shared by the broker and the client.
type FileRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	OriginalName string    `json:"original_name"`
	MimeType     string    `json:"mime_type"`
	SizeBytes    int64     `json:"size_bytes"`
	FolderID     *string   `json:"folder_id"`
	UserID       string    `json:"user_id"`
	S3Key        string    `json:"s3_key"`
	S3URL        string    `json:"s3_url"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ContainerRecord is a folder. A nil ParentID places it at the top level.
type ContainerRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  *string   `json:"parent_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FolderListing is the content of one folder (or the top level).
type FolderListing struct {
	FolderID *string           `json:"folder_id"`
	Folders  []ContainerRecord `json:"folders"`
	Files    []FileRecord      `json:"files"`
}

// TransferCandidate is a file offered for upload, before validation.
type TransferCandidate struct {
	// DisplayName becomes the record name; 1..255 characters
	DisplayName string

	// SourceLocation is an opaque handle to the local bytes (a path for the CLI)
	SourceLocation string

	MimeType string
	ByteSize int64

	// DestinationContainer is the target folder ID; nil means top level
	DestinationContainer *string
}

// StringPtr returns nil for an empty string, otherwise a pointer to a copy.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences p, returning "" for nil.
func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
