// Package records stores file and folder records for the broker.
//
// Two backends share one implementation: Postgres through pgx's
// database/sql driver and SQLite through modernc.org/sqlite. Every query is
// scoped to an owner, so a record belonging to another user behaves as if it
// did not exist.
package records

import (
	"context"
	"errors"

	"github.com/stashbox/stashbox/internal/models"
)

var (
	// ErrNotFound means no record with that ID exists for the owner.
	ErrNotFound = errors.New("record not found")
	// ErrConflict means a sibling with the same name, or a record for the
	// same object key, already exists.
	ErrConflict = errors.New("record already exists")
)

// Repository persists records.
type Repository interface {
	// CreateFile inserts rec. rec.ID and timestamps must be set.
	CreateFile(ctx context.Context, rec *models.FileRecord) error
	// GetFile returns the owner's file with id.
	GetFile(ctx context.Context, owner, id string) (*models.FileRecord, error)
	// GetFileByKey returns the owner's file stored under objectKey.
	GetFileByKey(ctx context.Context, owner, objectKey string) (*models.FileRecord, error)
	// DeleteFile removes the owner's file with id and returns its object key.
	DeleteFile(ctx context.Context, owner, id string) (string, error)

	// CreateFolder inserts f. f.ID and timestamps must be set.
	CreateFolder(ctx context.Context, f *models.ContainerRecord) error
	// GetFolder returns the owner's folder with id.
	GetFolder(ctx context.Context, owner, id string) (*models.ContainerRecord, error)

	// List returns the folders and files directly under parentID, or at the
	// top level when parentID is nil, ordered by name.
	List(ctx context.Context, owner string, parentID *string) ([]models.ContainerRecord, []models.FileRecord, error)

	Close() error
}
