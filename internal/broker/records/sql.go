package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/stashbox/stashbox/internal/models"
)

// dialect holds what differs between the backends.
type dialect struct {
	name string

	// dollar switches ? placeholders to $1, $2, ...
	dollar bool

	// isUnique reports whether err is a unique constraint violation.
	isUnique func(err error) bool
}

// sqlRepository implements Repository over database/sql.
type sqlRepository struct {
	db *sql.DB
	d  dialect
}

func newSQLRepository(db *sql.DB, d dialect) *sqlRepository {
	return &sqlRepository{db: db, d: d}
}

// bind rewrites ? placeholders for the dialect.
func (r *sqlRepository) bind(query string) string {
	if !r.d.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (r *sqlRepository) classify(op string, err error) error {
	if r.d.isUnique != nil && r.d.isUnique(err) {
		return ErrConflict
	}
	return fmt.Errorf("%s: %w", op, err)
}

const fileColumns = `id, name, original_name, mime_type, size_bytes, folder_id, user_id, s3_key, s3_url, created_at, updated_at`

const folderColumns = `id, name, parent_id, user_id, created_at, updated_at`

func (r *sqlRepository) CreateFile(ctx context.Context, rec *models.FileRecord) error {
	query := r.bind(`INSERT INTO files (` + fileColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.Name, rec.OriginalName, rec.MimeType, rec.SizeBytes, nullString(rec.FolderID),
		rec.UserID, rec.S3Key, rec.S3URL, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return r.classify("insert file", err)
	}
	return nil
}

func (r *sqlRepository) GetFile(ctx context.Context, owner, id string) (*models.FileRecord, error) {
	query := r.bind(`SELECT ` + fileColumns + ` FROM files WHERE user_id = ? AND id = ?`)

	rec, err := scanFile(r.db.QueryRowContext(ctx, query, owner, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select file: %w", err)
	}
	return rec, nil
}

func (r *sqlRepository) GetFileByKey(ctx context.Context, owner, objectKey string) (*models.FileRecord, error) {
	query := r.bind(`SELECT ` + fileColumns + ` FROM files WHERE user_id = ? AND s3_key = ?`)

	rec, err := scanFile(r.db.QueryRowContext(ctx, query, owner, objectKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select file by key: %w", err)
	}
	return rec, nil
}

func (r *sqlRepository) DeleteFile(ctx context.Context, owner, id string) (string, error) {
	query := r.bind(`DELETE FROM files WHERE user_id = ? AND id = ? RETURNING s3_key`)

	var key string
	err := r.db.QueryRowContext(ctx, query, owner, id).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("delete file: %w", err)
	}
	return key, nil
}

func (r *sqlRepository) CreateFolder(ctx context.Context, f *models.ContainerRecord) error {
	query := r.bind(`INSERT INTO folders (` + folderColumns + `) VALUES (?, ?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		f.ID, f.Name, nullString(f.ParentID), f.UserID, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return r.classify("insert folder", err)
	}
	return nil
}

func (r *sqlRepository) GetFolder(ctx context.Context, owner, id string) (*models.ContainerRecord, error) {
	query := r.bind(`SELECT ` + folderColumns + ` FROM folders WHERE user_id = ? AND id = ?`)

	f, err := scanFolder(r.db.QueryRowContext(ctx, query, owner, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select folder: %w", err)
	}
	return f, nil
}

func (r *sqlRepository) List(ctx context.Context, owner string, parentID *string) ([]models.ContainerRecord, []models.FileRecord, error) {
	parent := models.StringValue(parentID)

	folderQuery := r.bind(`SELECT ` + folderColumns + ` FROM folders
		WHERE user_id = ? AND COALESCE(parent_id, '') = ? ORDER BY name`)
	rows, err := r.db.QueryContext(ctx, folderQuery, owner, parent)
	if err != nil {
		return nil, nil, fmt.Errorf("list folders: %w", err)
	}
	folders := []models.ContainerRecord{}
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("scan folder: %w", err)
		}
		folders = append(folders, *f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("list folders: %w", err)
	}

	fileQuery := r.bind(`SELECT ` + fileColumns + ` FROM files
		WHERE user_id = ? AND COALESCE(folder_id, '') = ? ORDER BY name`)
	rows, err = r.db.QueryContext(ctx, fileQuery, owner, parent)
	if err != nil {
		return nil, nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()
	files := []models.FileRecord{}
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("list files: %w", err)
	}
	return folders, files, nil
}

func (r *sqlRepository) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFile(s scanner) (*models.FileRecord, error) {
	var (
		rec    models.FileRecord
		folder sql.NullString
	)
	err := s.Scan(&rec.ID, &rec.Name, &rec.OriginalName, &rec.MimeType, &rec.SizeBytes, &folder,
		&rec.UserID, &rec.S3Key, &rec.S3URL, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.FolderID = stringPtr(folder)
	return &rec, nil
}

func scanFolder(s scanner) (*models.ContainerRecord, error) {
	var (
		f      models.ContainerRecord
		parent sql.NullString
	)
	if err := s.Scan(&f.ID, &f.Name, &parent, &f.UserID, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.ParentID = stringPtr(parent)
	return &f, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
