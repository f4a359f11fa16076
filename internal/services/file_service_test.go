package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stashbox/stashbox/internal/events"
	"github.com/stashbox/stashbox/internal/logging"
	"github.com/stashbox/stashbox/internal/models"
)

type fakeRecordBroker struct {
	listing    *models.FolderListing
	folders    []string
	deletedRec []string
	deletedObj []string
	credCalls  int
	ttl        time.Duration

	deleteRecordErr error
	deleteObjectErr error
}

func (f *fakeRecordBroker) DeleteRecord(ctx context.Context, fileID string) (string, error) {
	if f.deleteRecordErr != nil {
		return "", f.deleteRecordErr
	}
	f.deletedRec = append(f.deletedRec, fileID)
	return "users/u1/1-a/" + fileID + ".pdf", nil
}

func (f *fakeRecordBroker) DeleteObject(ctx context.Context, objectKey string) error {
	if f.deleteObjectErr != nil {
		return f.deleteObjectErr
	}
	f.deletedObj = append(f.deletedObj, objectKey)
	return nil
}

func (f *fakeRecordBroker) CreateFolder(ctx context.Context, name string, parentID *string) (*models.ContainerRecord, error) {
	f.folders = append(f.folders, name)
	return &models.ContainerRecord{ID: "d-" + name, Name: name, ParentID: parentID}, nil
}

func (f *fakeRecordBroker) ListFolder(ctx context.Context, folderID *string) (*models.FolderListing, error) {
	return f.listing, nil
}

func (f *fakeRecordBroker) GetDownloadCredential(ctx context.Context, objectKey string) (*models.DownloadCredential, error) {
	f.credCalls++
	return &models.DownloadCredential{
		SignedURL: "https://bucket/" + objectKey,
		ExpiresAt: time.Now().Add(f.ttl),
	}, nil
}

func TestListFolderOrdersFoldersFirst(t *testing.T) {
	broker := &fakeRecordBroker{listing: &models.FolderListing{
		Folders: []models.ContainerRecord{{ID: "d2", Name: "zeta"}, {ID: "d1", Name: "Alpha"}},
		Files:   []models.FileRecord{{ID: "f2", Name: "b.pdf", SizeBytes: 2}, {ID: "f1", Name: "A.pdf", SizeBytes: 1, S3Key: "k1"}},
	}}
	fs := NewFileService(broker, nil, nil)

	contents, err := fs.ListFolder(context.Background(), "")
	if err != nil {
		t.Fatalf("ListFolder() error = %v", err)
	}
	var names []string
	for _, it := range contents.Items {
		names = append(names, it.Name)
	}
	if got := strings.Join(names, ","); got != "Alpha,zeta,A.pdf,b.pdf" {
		t.Errorf("order = %s", got)
	}
	if folders, files := contents.Counts(); folders != 2 || files != 2 {
		t.Errorf("Counts() = %d, %d", folders, files)
	}
	if contents.Items[2].ObjectKey != "k1" {
		t.Errorf("file item lost its object key: %+v", contents.Items[2])
	}
}

func TestCreateFolderValidatesName(t *testing.T) {
	broker := &fakeRecordBroker{}
	fs := NewFileService(broker, nil, nil)

	for _, bad := range []string{"", "   ", "a/b", strings.Repeat("x", 256)} {
		if _, err := fs.CreateFolder(context.Background(), bad, ""); !errors.Is(err, ErrInvalidFolderName) {
			t.Errorf("CreateFolder(%q) error = %v, want ErrInvalidFolderName", bad, err)
		}
	}
	if len(broker.folders) != 0 {
		t.Errorf("invalid names reached the broker: %v", broker.folders)
	}

	folder, err := fs.CreateFolder(context.Background(), " reports ", "parent-1")
	if err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	if folder.Name != "reports" || models.StringValue(folder.ParentID) != "parent-1" {
		t.Errorf("folder = %+v", folder)
	}
}

func TestDeleteFileTwoPhase(t *testing.T) {
	broker := &fakeRecordBroker{}
	fs := NewFileService(broker, nil, nil)

	if err := fs.DeleteFile(context.Background(), "f1"); err != nil {
		t.Fatalf("DeleteFile() error = %v", err)
	}
	if len(broker.deletedRec) != 1 || len(broker.deletedObj) != 1 {
		t.Fatalf("records %v, objects %v", broker.deletedRec, broker.deletedObj)
	}
	if broker.deletedObj[0] != "users/u1/1-a/f1.pdf" {
		t.Errorf("deleted object %s", broker.deletedObj[0])
	}
}

func TestDeleteFileObjectFailureIsOrphanWarning(t *testing.T) {
	broker := &fakeRecordBroker{deleteObjectErr: errors.New("store unavailable")}
	bus := events.NewEventBus(10)
	defer bus.Close()
	orphans := bus.Subscribe(events.EventOrphanedObject)

	var logs bytes.Buffer
	fs := NewFileService(broker, bus, logging.NewJSONLogger(&logs))

	if err := fs.DeleteFile(context.Background(), "f1"); err != nil {
		t.Fatalf("DeleteFile() must succeed once the record is gone, got %v", err)
	}
	if len(broker.deletedRec) != 1 {
		t.Error("record should have been deleted")
	}
	if !strings.Contains(logs.String(), `"event":"orphaned_object"`) {
		t.Errorf("expected orphan warning in logs, got %s", logs.String())
	}

	select {
	case ev := <-orphans:
		if oe, ok := ev.(*events.OrphanEvent); !ok || oe.ObjectKey != "users/u1/1-a/f1.pdf" {
			t.Errorf("unexpected event %#v", ev)
		}
	case <-time.After(time.Second):
		t.Error("no orphan event published")
	}
}

func TestDeleteFileRecordFailureStops(t *testing.T) {
	broker := &fakeRecordBroker{deleteRecordErr: errors.New("not found")}
	fs := NewFileService(broker, nil, nil)

	if err := fs.DeleteFile(context.Background(), "f1"); err == nil {
		t.Fatal("expected error when the record delete fails")
	}
	if len(broker.deletedObj) != 0 {
		t.Error("object must not be deleted when the record delete failed")
	}
}

func TestDeleteFilesContinuesPastFailures(t *testing.T) {
	broker := &fakeRecordBroker{}
	fs := NewFileService(broker, nil, nil)

	deleted, failed := fs.DeleteFiles(context.Background(), []string{"a", "", "b"})
	if deleted != 2 || len(failed) != 1 {
		t.Errorf("deleted %d, failed %v", deleted, failed)
	}
}

func TestPreviewURLCache(t *testing.T) {
	broker := &fakeRecordBroker{ttl: time.Hour}
	fs := NewFileService(broker, nil, nil)
	ctx := context.Background()

	first, err := fs.PreviewURL(ctx, "k1")
	if err != nil {
		t.Fatal(err)
	}
	second, _ := fs.PreviewURL(ctx, "k1")
	if broker.credCalls != 1 || first != second {
		t.Errorf("expected cached URL, broker called %d times", broker.credCalls)
	}

	// Move the clock to within the skew of expiry.
	fs.now = func() time.Time { return time.Now().Add(59 * time.Minute) }
	if _, err := fs.PreviewURL(ctx, "k1"); err != nil {
		t.Fatal(err)
	}
	if broker.credCalls != 2 {
		t.Errorf("expected refresh near expiry, broker called %d times", broker.credCalls)
	}

	fs.InvalidatePreview("k1")
	fs.now = time.Now
	if _, err := fs.PreviewURL(ctx, "k1"); err != nil {
		t.Fatal(err)
	}
	if broker.credCalls != 3 {
		t.Errorf("expected refresh after invalidation, broker called %d times", broker.credCalls)
	}
}
