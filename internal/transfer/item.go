// Package transfer owns the transfer queue, the per-item state machine and
// the batch controller that drives items through it.
package transfer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stashbox/stashbox/internal/models"
)

// Kind indicates whether an item is an upload or download.
type Kind string

const (
	KindUpload   Kind = "upload"
	KindDownload Kind = "download"
)

// Status is the lifecycle position of an item.
type Status int

const (
	StatusQueued               Status = iota // Admitted, waiting for a run
	StatusRequestingCredential               // Asking the broker for a presigned URL
	StatusTransferring                       // Bytes moving to or from the object store
	StatusCommitting                         // Upload stored, creating the metadata record
	StatusSucceeded                          // Terminal
	StatusFailed                             // Terminal, Err set
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusRequestingCredential:
		return "requesting_credential"
	case StatusTransferring:
		return "transferring"
	case StatusCommitting:
		return "committing"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// ErrInvalidTransition is returned when a state change is not in the table.
// Reaching it means a bug in the controller.
var ErrInvalidTransition = errors.New("invalid state transition")

// Failed is reachable from every non-terminal state and is added by allowed().
var transitions = map[Kind]map[Status][]Status{
	KindUpload: {
		StatusQueued:               {StatusRequestingCredential},
		StatusRequestingCredential: {StatusTransferring},
		StatusTransferring:         {StatusCommitting},
		StatusCommitting:           {StatusSucceeded},
	},
	KindDownload: {
		StatusQueued:               {StatusRequestingCredential},
		StatusRequestingCredential: {StatusTransferring},
		StatusTransferring:         {StatusSucceeded},
	},
}

func allowed(kind Kind, from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	for _, s := range transitions[kind][from] {
		if s == to {
			return true
		}
	}
	return false
}

// DownloadTarget names an object to fetch and where to put it.
type DownloadTarget struct {
	ObjectKey string
	Name      string
	Size      int64
	LocalPath string
}

// Item is one upload or download tracked by a queue.
// Fields are guarded by mu; callers outside the package read Snapshots.
type Item struct {
	id       string
	kind     Kind
	upload   models.TransferCandidate
	download DownloadTarget

	mu          sync.RWMutex
	status      Status
	progress    float64
	err         error
	objectKey   string
	orphaned    bool
	record      *models.FileRecord
	selected    bool
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
}

// Snapshot is an immutable copy of an item's state.
type Snapshot struct {
	ID          string
	Kind        Kind
	Name        string
	Size        int64
	Status      Status
	Progress    float64
	Err         error
	ObjectKey   string
	Orphaned    bool // the object was stored and left without a record
	Record      *models.FileRecord
	Selected    bool
	Candidate   models.TransferCandidate
	Download    DownloadTarget
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// NewUploadItem creates a queued upload for an already validated candidate.
func NewUploadItem(c models.TransferCandidate) *Item {
	return &Item{
		id:        generateItemID(),
		kind:      KindUpload,
		upload:    c,
		status:    StatusQueued,
		createdAt: time.Now(),
	}
}

// NewDownloadItem creates a queued download.
func NewDownloadItem(t DownloadTarget) *Item {
	return &Item{
		id:        generateItemID(),
		kind:      KindDownload,
		download:  t,
		objectKey: t.ObjectKey,
		status:    StatusQueued,
		createdAt: time.Now(),
	}
}

// ID returns the process-local identifier.
func (it *Item) ID() string { return it.id }

// Kind returns upload or download.
func (it *Item) Kind() Kind { return it.kind }

// Name returns the display name.
func (it *Item) Name() string {
	if it.kind == KindDownload {
		return it.download.Name
	}
	return it.upload.DisplayName
}

// Size returns the expected byte count.
func (it *Item) Size() int64 {
	if it.kind == KindDownload {
		return it.download.Size
	}
	return it.upload.ByteSize
}

// Status returns the current state (thread-safe).
func (it *Item) Status() Status {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.status
}

// Snapshot returns a copy of the item (thread-safe).
func (it *Item) Snapshot() Snapshot {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return Snapshot{
		ID:          it.id,
		Kind:        it.kind,
		Name:        it.Name(),
		Size:        it.Size(),
		Status:      it.status,
		Progress:    it.progress,
		Err:         it.err,
		ObjectKey:   it.objectKey,
		Orphaned:    it.orphaned,
		Record:      it.record,
		Selected:    it.selected,
		Candidate:   it.upload,
		Download:    it.download,
		CreatedAt:   it.createdAt,
		StartedAt:   it.startedAt,
		CompletedAt: it.completedAt,
	}
}

// advance moves the item to status `to`, enforcing the transition table.
func (it *Item) advance(to Status) error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if !allowed(it.kind, it.status, to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, it.kind, it.status, to)
	}
	if it.status == StatusQueued {
		it.startedAt = time.Now()
	}
	it.status = to
	if to == StatusSucceeded {
		it.progress = 1
	}
	if to.IsTerminal() {
		it.completedAt = time.Now()
	}
	return nil
}

// fail moves the item to Failed with err. It is a no-op on terminal items.
func (it *Item) fail(err error) bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.status.IsTerminal() {
		return false
	}
	it.status = StatusFailed
	it.err = err
	it.completedAt = time.Now()
	return true
}

func (it *Item) setProgress(fraction float64) {
	it.mu.Lock()
	it.progress = fraction
	it.mu.Unlock()
}

func (it *Item) setObjectKey(key string) {
	it.mu.Lock()
	it.objectKey = key
	it.mu.Unlock()
}

func (it *Item) setOrphaned(orphaned bool) {
	it.mu.Lock()
	it.orphaned = orphaned
	it.mu.Unlock()
}

func (it *Item) setRecord(rec *models.FileRecord) {
	it.mu.Lock()
	it.record = rec
	it.mu.Unlock()
}

func (it *Item) setSelected(v bool) {
	it.mu.Lock()
	it.selected = v
	it.mu.Unlock()
}

func (it *Item) isSelected() bool {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.selected
}

var itemCounter atomic.Uint64

func generateItemID() string {
	return fmt.Sprintf("item-%d-%d", time.Now().UnixNano(), itemCounter.Add(1))
}
