// Package broker is the credential broker: an HTTP service that verifies
// bearer tokens, hands out presigned upload and download URLs scoped to
// the caller's key prefix, and keeps file and folder records.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/stashbox/stashbox/internal/api"
	"github.com/stashbox/stashbox/internal/broker/records"
	"github.com/stashbox/stashbox/internal/config"
	"github.com/stashbox/stashbox/internal/constants"
	"github.com/stashbox/stashbox/internal/logging"
	"github.com/stashbox/stashbox/internal/models"
	"github.com/stashbox/stashbox/internal/validation"
)

const defaultContentType = "application/octet-stream"

// Service executes broker requests for an authenticated owner.
type Service struct {
	store   ObjectStore
	records records.Repository
	logger  *logging.Logger

	maxFileSize int64
	uploadTTL   time.Duration
	downloadTTL time.Duration

	now   func() time.Time
	newID func() string
}

// NewService wires the store and repository with the [policy] limits.
func NewService(store ObjectStore, repo records.Repository, cfg *config.BrokerConfig, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &Service{
		store:       store,
		records:     repo,
		logger:      logger,
		maxFileSize: constants.MaxFileSizeBytes,
		uploadTTL:   constants.UploadURLTTL,
		downloadTTL: constants.DownloadURLTTL,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	if cfg != nil {
		if cfg.MaxFileSize > 0 {
			s.maxFileSize = cfg.MaxFileSize
		}
		if cfg.UploadURLTTL > 0 {
			s.uploadTTL = cfg.UploadURLTTL
		}
		if cfg.DownloadURLTTL > 0 {
			s.downloadTTL = cfg.DownloadURLTTL
		}
	}
	return s
}

// Handle runs req for owner and returns the response body.
func (s *Service) Handle(ctx context.Context, owner string, req api.Request) (interface{}, error) {
	switch r := req.(type) {
	case api.GetUploadCredential:
		return s.presignUpload(ctx, owner, r)
	case api.CommitRecord:
		return s.commitRecord(ctx, owner, r)
	case api.GetDownloadCredential:
		return s.presignDownload(ctx, owner, r)
	case api.DeleteObject:
		return s.deleteObject(ctx, owner, r)
	case api.DeleteRecord:
		return s.deleteRecord(ctx, owner, r)
	case api.CreateFolder:
		return s.createFolder(ctx, owner, r)
	case api.ListFolder:
		return s.listFolder(ctx, owner, r)
	default:
		return nil, badRequest("unsupported request %T", req)
	}
}

// checkName validates a record name as sent. Names are stored unchanged;
// only the object key segment is sanitized.
func checkName(kind, name string) error {
	if err := validation.ValidateFilename(name); err != nil {
		return badRequest("%v", err)
	}
	if n := utf8.RuneCountInString(name); n > constants.MaxNameLength {
		return badRequest("%s name is %d characters, limit is %d", kind, n, constants.MaxNameLength)
	}
	return nil
}

// checkFile validates the declared name and size.
func (s *Service) checkFile(fileName string, size int64) error {
	if err := checkName("file", fileName); err != nil {
		return err
	}
	if size < 0 {
		return badRequest("file size cannot be negative")
	}
	if size > s.maxFileSize {
		return &Error{Code: api.CodeSizeLimitExceeded, Message: fmt.Sprintf("%s exceeds the %s limit",
			validation.FormatBytes(size), validation.FormatBytes(s.maxFileSize))}
	}
	return nil
}

func (s *Service) checkKey(owner, key string) error {
	if key == "" {
		return badRequest("s3Key is required")
	}
	if !OwnsKey(owner, key) {
		// Other owners' keys look the same as missing ones.
		return notFound("object")
	}
	return nil
}

// checkFolder confirms the owner has folder id. A nil id is the top level.
func (s *Service) checkFolder(ctx context.Context, owner string, id *string) error {
	if id == nil {
		return nil
	}
	if _, err := s.records.GetFolder(ctx, owner, *id); err != nil {
		if e := asError(err); e.Code == api.CodeNotFound {
			return notFound("folder")
		}
		return err
	}
	return nil
}

func (s *Service) presignUpload(ctx context.Context, owner string, r api.GetUploadCredential) (*models.UploadCredential, error) {
	if err := s.checkFile(r.FileName, r.FileSize); err != nil {
		return nil, err
	}
	contentType := strings.TrimSpace(r.FileType)
	if contentType == "" {
		contentType = defaultContentType
	}

	key := ObjectKey(owner, r.FileName, s.now())
	cred, err := s.store.PresignUpload(ctx, key, contentType, r.FileSize, s.uploadTTL)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("owner", owner).
		Str("key", key).
		Int64("size", r.FileSize).
		Msg("Issued upload credential")
	return cred, nil
}

func (s *Service) commitRecord(ctx context.Context, owner string, r api.CommitRecord) (*api.CommitRecordResponse, error) {
	if err := s.checkKey(owner, r.ObjectKey); err != nil {
		return nil, err
	}
	if err := s.checkFile(r.FileName, r.FileSize); err != nil {
		return nil, err
	}
	if err := s.checkFolder(ctx, owner, r.FolderID); err != nil {
		return nil, err
	}

	mimeType := strings.TrimSpace(r.FileType)
	if mimeType == "" {
		mimeType = defaultContentType
	}

	now := s.now().UTC()
	rec := &models.FileRecord{
		ID:           s.newID(),
		Name:         r.FileName,
		OriginalName: r.FileName,
		MimeType:     mimeType,
		SizeBytes:    r.FileSize,
		FolderID:     r.FolderID,
		UserID:       owner,
		S3Key:        r.ObjectKey,
		S3URL:        s.store.ObjectURL(r.ObjectKey),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.records.CreateFile(ctx, rec); err != nil {
		if existing := s.sameCommit(ctx, owner, rec, err); existing != nil {
			s.logger.Info().Str("owner", owner).Str("id", existing.ID).Str("key", existing.S3Key).Msg("File record already committed")
			return &api.CommitRecordResponse{FileRecord: existing}, nil
		}
		return nil, err
	}

	s.logger.Info().Str("owner", owner).Str("id", rec.ID).Str("key", rec.S3Key).Msg("File record created")
	return &api.CommitRecordResponse{FileRecord: rec}, nil
}

// sameCommit returns the stored record when a conflicting commit repeats one
// that already succeeded: same key, name, size and folder. A replayed
// commit then answers like the first one did.
func (s *Service) sameCommit(ctx context.Context, owner string, rec *models.FileRecord, err error) *models.FileRecord {
	if !errors.Is(err, records.ErrConflict) {
		return nil
	}
	existing, lookupErr := s.records.GetFileByKey(ctx, owner, rec.S3Key)
	if lookupErr != nil {
		return nil
	}
	if existing.Name != rec.Name || existing.SizeBytes != rec.SizeBytes ||
		models.StringValue(existing.FolderID) != models.StringValue(rec.FolderID) {
		return nil
	}
	return existing
}

func (s *Service) presignDownload(ctx context.Context, owner string, r api.GetDownloadCredential) (*models.DownloadCredential, error) {
	if err := s.checkKey(owner, r.ObjectKey); err != nil {
		return nil, err
	}
	return s.store.PresignDownload(ctx, r.ObjectKey, s.downloadTTL)
}

func (s *Service) deleteObject(ctx context.Context, owner string, r api.DeleteObject) (*api.SuccessResponse, error) {
	if err := s.checkKey(owner, r.ObjectKey); err != nil {
		return nil, err
	}
	if err := s.store.Delete(ctx, r.ObjectKey); err != nil {
		return nil, err
	}
	s.logger.Info().Str("owner", owner).Str("key", r.ObjectKey).Msg("Object deleted")
	return &api.SuccessResponse{Success: true}, nil
}

func (s *Service) deleteRecord(ctx context.Context, owner string, r api.DeleteRecord) (*api.DeleteRecordResponse, error) {
	if r.FileID == "" {
		return nil, badRequest("fileId is required")
	}
	key, err := s.records.DeleteFile(ctx, owner, r.FileID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("owner", owner).Str("id", r.FileID).Msg("File record deleted")
	return &api.DeleteRecordResponse{Success: true, ObjectKey: key}, nil
}

func (s *Service) createFolder(ctx context.Context, owner string, r api.CreateFolder) (*api.CreateFolderResponse, error) {
	if err := checkName("folder", r.FolderName); err != nil {
		return nil, err
	}
	if err := s.checkFolder(ctx, owner, r.ParentID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	folder := &models.ContainerRecord{
		ID:        s.newID(),
		Name:      r.FolderName,
		ParentID:  r.ParentID,
		UserID:    owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.records.CreateFolder(ctx, folder); err != nil {
		return nil, err
	}
	return &api.CreateFolderResponse{Folder: folder}, nil
}

func (s *Service) listFolder(ctx context.Context, owner string, r api.ListFolder) (*api.ListFolderResponse, error) {
	if err := s.checkFolder(ctx, owner, r.FolderID); err != nil {
		return nil, err
	}
	folders, files, err := s.records.List(ctx, owner, r.FolderID)
	if err != nil {
		return nil, err
	}
	return &api.ListFolderResponse{Folders: folders, Files: files}, nil
}
