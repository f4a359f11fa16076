package records

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/stashbox/stashbox/internal/config"
	"github.com/stashbox/stashbox/internal/models"
)

// SQLiteRepositoryTestSuite runs repository semantics against an in-memory
// SQLite database with the real migrations applied.
type SQLiteRepositoryTestSuite struct {
	suite.Suite
	repo Repository
	ctx  context.Context
	now  time.Time
}

func (s *SQLiteRepositoryTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	repo, err := Open(s.ctx, config.DriverSQLite, ":memory:", nil)
	s.Require().NoError(err)
	s.repo = repo
}

func (s *SQLiteRepositoryTestSuite) TearDownTest() {
	s.NoError(s.repo.Close())
}

func (s *SQLiteRepositoryTestSuite) file(id, owner, name string, folder *string) *models.FileRecord {
	return &models.FileRecord{
		ID:           id,
		Name:         name,
		OriginalName: name,
		MimeType:     "application/pdf",
		SizeBytes:    1024,
		FolderID:     folder,
		UserID:       owner,
		S3Key:        "users/" + owner + "/1-" + id + "/" + name,
		S3URL:        "https://store.example/" + id,
		CreatedAt:    s.now,
		UpdatedAt:    s.now,
	}
}

func (s *SQLiteRepositoryTestSuite) folder(id, owner, name string, parent *string) *models.ContainerRecord {
	return &models.ContainerRecord{ID: id, Name: name, ParentID: parent, UserID: owner, CreatedAt: s.now, UpdatedAt: s.now}
}

func (s *SQLiteRepositoryTestSuite) TestCreateAndGetFile() {
	rec := s.file("f1", "u1", "report.pdf", nil)
	s.Require().NoError(s.repo.CreateFile(s.ctx, rec))

	got, err := s.repo.GetFile(s.ctx, "u1", "f1")
	s.Require().NoError(err)
	s.Equal("report.pdf", got.Name)
	s.Equal(int64(1024), got.SizeBytes)
	s.Equal(rec.S3Key, got.S3Key)
	s.Nil(got.FolderID)
	s.True(got.CreatedAt.Equal(s.now), "created_at = %v", got.CreatedAt)
}

func (s *SQLiteRepositoryTestSuite) TestGetFileByKey() {
	rec := s.file("f1", "u1", "a  b.pdf", nil)
	s.Require().NoError(s.repo.CreateFile(s.ctx, rec))

	got, err := s.repo.GetFileByKey(s.ctx, "u1", rec.S3Key)
	s.Require().NoError(err)
	s.Equal("f1", got.ID)
	s.Equal("a  b.pdf", got.Name)

	_, err = s.repo.GetFileByKey(s.ctx, "u2", rec.S3Key)
	s.ErrorIs(err, ErrNotFound)
	_, err = s.repo.GetFileByKey(s.ctx, "u1", "users/u1/missing")
	s.ErrorIs(err, ErrNotFound)
}

func (s *SQLiteRepositoryTestSuite) TestOwnerIsolation() {
	s.Require().NoError(s.repo.CreateFile(s.ctx, s.file("f1", "u1", "a.pdf", nil)))

	_, err := s.repo.GetFile(s.ctx, "u2", "f1")
	s.ErrorIs(err, ErrNotFound)

	_, err = s.repo.DeleteFile(s.ctx, "u2", "f1")
	s.ErrorIs(err, ErrNotFound)

	folders, files, err := s.repo.List(s.ctx, "u2", nil)
	s.Require().NoError(err)
	s.Empty(folders)
	s.Empty(files)
}

func (s *SQLiteRepositoryTestSuite) TestNameConflictAtTopLevel() {
	s.Require().NoError(s.repo.CreateFile(s.ctx, s.file("f1", "u1", "a.pdf", nil)))

	err := s.repo.CreateFile(s.ctx, s.file("f2", "u1", "a.pdf", nil))
	s.ErrorIs(err, ErrConflict)

	// Another owner may use the same name.
	s.NoError(s.repo.CreateFile(s.ctx, s.file("f3", "u2", "a.pdf", nil)))
}

func (s *SQLiteRepositoryTestSuite) TestSameNameInDifferentFolders() {
	s.Require().NoError(s.repo.CreateFolder(s.ctx, s.folder("d1", "u1", "reports", nil)))
	s.Require().NoError(s.repo.CreateFile(s.ctx, s.file("f1", "u1", "a.pdf", nil)))
	s.NoError(s.repo.CreateFile(s.ctx, s.file("f2", "u1", "a.pdf", models.StringPtr("d1"))))
}

func (s *SQLiteRepositoryTestSuite) TestFolderConflict() {
	s.Require().NoError(s.repo.CreateFolder(s.ctx, s.folder("d1", "u1", "reports", nil)))
	s.ErrorIs(s.repo.CreateFolder(s.ctx, s.folder("d2", "u1", "reports", nil)), ErrConflict)

	s.Require().NoError(s.repo.CreateFolder(s.ctx, s.folder("d3", "u1", "2024", models.StringPtr("d1"))))
	s.ErrorIs(s.repo.CreateFolder(s.ctx, s.folder("d4", "u1", "2024", models.StringPtr("d1"))), ErrConflict)
}

func (s *SQLiteRepositoryTestSuite) TestMissingParentFolder() {
	err := s.repo.CreateFile(s.ctx, s.file("f1", "u1", "a.pdf", models.StringPtr("nope")))
	s.Error(err)
	s.NotErrorIs(err, ErrConflict)
}

func (s *SQLiteRepositoryTestSuite) TestDuplicateObjectKey() {
	first := s.file("f1", "u1", "a.pdf", nil)
	s.Require().NoError(s.repo.CreateFile(s.ctx, first))

	second := s.file("f2", "u1", "b.pdf", nil)
	second.S3Key = first.S3Key
	s.ErrorIs(s.repo.CreateFile(s.ctx, second), ErrConflict)
}

func (s *SQLiteRepositoryTestSuite) TestDeleteFileReturnsKey() {
	rec := s.file("f1", "u1", "a.pdf", nil)
	s.Require().NoError(s.repo.CreateFile(s.ctx, rec))

	key, err := s.repo.DeleteFile(s.ctx, "u1", "f1")
	s.Require().NoError(err)
	s.Equal(rec.S3Key, key)

	_, err = s.repo.DeleteFile(s.ctx, "u1", "f1")
	s.ErrorIs(err, ErrNotFound)
}

func (s *SQLiteRepositoryTestSuite) TestListScopesByParent() {
	s.Require().NoError(s.repo.CreateFolder(s.ctx, s.folder("d2", "u1", "zeta", nil)))
	s.Require().NoError(s.repo.CreateFolder(s.ctx, s.folder("d1", "u1", "alpha", nil)))
	s.Require().NoError(s.repo.CreateFile(s.ctx, s.file("f2", "u1", "b.pdf", nil)))
	s.Require().NoError(s.repo.CreateFile(s.ctx, s.file("f1", "u1", "a.pdf", nil)))
	s.Require().NoError(s.repo.CreateFile(s.ctx, s.file("f3", "u1", "inner.pdf", models.StringPtr("d1"))))

	folders, files, err := s.repo.List(s.ctx, "u1", nil)
	s.Require().NoError(err)
	s.Require().Len(folders, 2)
	s.Equal("alpha", folders[0].Name)
	s.Equal("zeta", folders[1].Name)
	s.Require().Len(files, 2)
	s.Equal("a.pdf", files[0].Name)
	s.Equal("b.pdf", files[1].Name)

	folders, files, err = s.repo.List(s.ctx, "u1", models.StringPtr("d1"))
	s.Require().NoError(err)
	s.Empty(folders)
	s.Require().Len(files, 1)
	s.Equal("inner.pdf", files[0].Name)
	s.Equal("d1", models.StringValue(files[0].FolderID))
}

func (s *SQLiteRepositoryTestSuite) TestGetFolder() {
	s.Require().NoError(s.repo.CreateFolder(s.ctx, s.folder("d1", "u1", "reports", nil)))

	f, err := s.repo.GetFolder(s.ctx, "u1", "d1")
	s.Require().NoError(err)
	s.Equal("reports", f.Name)
	s.Nil(f.ParentID)

	_, err = s.repo.GetFolder(s.ctx, "u2", "d1")
	s.ErrorIs(err, ErrNotFound)
}

func TestSQLiteRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(SQLiteRepositoryTestSuite))
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := OpenDB(ctx, config.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	v1, err := Migrate(ctx, db, config.DriverSQLite, nil)
	if err != nil {
		t.Fatalf("first Migrate() error = %v", err)
	}
	v2, err := Migrate(ctx, db, config.DriverSQLite, nil)
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if v1 != 1 || v2 != 1 {
		t.Errorf("versions = %d, %d; want 1, 1", v1, v2)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", "x", nil); err == nil {
		t.Error("expected error for unknown driver")
	}
}
