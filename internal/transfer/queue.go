package transfer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/stashbox/stashbox/internal/events"
	"github.com/stashbox/stashbox/internal/models"
	"github.com/stashbox/stashbox/internal/validation"
)

var (
	// ErrQueueBusy is returned for structural changes while a run is active.
	ErrQueueBusy = errors.New("queue is running")

	// ErrRunInProgress is returned when a second run is started on a queue.
	ErrRunInProgress = errors.New("a run is already in progress")

	// ErrItemNotFound is returned for unknown item IDs.
	ErrItemNotFound = errors.New("item not found")

	// ErrNotRemovable is returned when removing an item that already started.
	ErrNotRemovable = errors.New("only queued items can be removed")

	// ErrNotRetryable is returned when resubmitting an item that has not failed.
	ErrNotRetryable = errors.New("only failed items can be resubmitted")
)

// Stats counts items by status.
type Stats struct {
	Queued     int
	InProgress int
	Succeeded  int
	Failed     int
}

// Total returns total number of items in queue.
func (s Stats) Total() int {
	return s.Queued + s.InProgress + s.Succeeded + s.Failed
}

// Rejected is a candidate that was refused on Add.
type Rejected struct {
	Candidate models.TransferCandidate
	Err       *validation.Error
}

// AddResult reports what Add admitted and what it refused.
type AddResult struct {
	Added    []Snapshot
	Rejected []Rejected
}

// Queue is the single owner of transfer items between selection and the end
// of a run. While a run is active only reads and the controller's own
// updates are allowed; structural changes return ErrQueueBusy.
type Queue struct {
	items  []*Item
	byID   map[string]*Item
	mu     sync.RWMutex
	policy validation.Policy

	running bool

	eventBus *events.EventBus
}

// NewQueue creates an empty queue that admits uploads under policy.
func NewQueue(policy validation.Policy, eventBus *events.EventBus) *Queue {
	return &Queue{
		byID:     make(map[string]*Item),
		policy:   policy,
		eventBus: eventBus,
	}
}

// Add validates candidates and appends the admitted ones as queued uploads.
// The byte and count caps include items already waiting or in flight.
func (q *Queue) Add(candidates []models.TransferCandidate) (AddResult, error) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return AddResult{}, ErrQueueBusy
	}

	queuedBytes, queuedCount := q.activeUploadsLocked()
	adm := validation.Admit(queuedBytes, queuedCount, candidates, q.policy)

	var res AddResult
	added := make([]*Item, 0, len(adm.Admitted))
	for _, idx := range adm.Admitted {
		it := NewUploadItem(candidates[idx])
		q.appendLocked(it)
		added = append(added, it)
	}
	q.mu.Unlock()

	for _, r := range adm.Rejected {
		res.Rejected = append(res.Rejected, Rejected{Candidate: candidates[r.Index], Err: r.Err})
	}
	for _, it := range added {
		res.Added = append(res.Added, it.Snapshot())
		q.publish(events.EventItemQueued, it)
	}
	return res, nil
}

// AddDownload appends queued downloads. Downloads are not subject to the
// upload policy.
func (q *Queue) AddDownload(targets ...DownloadTarget) ([]Snapshot, error) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return nil, ErrQueueBusy
	}
	added := make([]*Item, 0, len(targets))
	for _, t := range targets {
		it := NewDownloadItem(t)
		q.appendLocked(it)
		added = append(added, it)
	}
	q.mu.Unlock()

	out := make([]Snapshot, 0, len(added))
	for _, it := range added {
		out = append(out, it.Snapshot())
		q.publish(events.EventItemQueued, it)
	}
	return out, nil
}

// Remove deletes a queued item. Items that have started cannot be removed.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return ErrQueueBusy
	}
	it, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	if it.Status() != StatusQueued {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotRemovable, id, it.Status())
	}
	q.removeLocked(id)
	q.mu.Unlock()

	q.publish(events.EventItemRemoved, it)
	return nil
}

// Select marks or unmarks an item for bulk removal.
func (q *Queue) Select(id string, selected bool) error {
	q.mu.RLock()
	it, ok := q.byID[id]
	q.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	it.setSelected(selected)
	return nil
}

// SelectAll marks or unmarks every item.
func (q *Queue) SelectAll(selected bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, it := range q.items {
		it.setSelected(selected)
	}
}

// RemoveSelected removes every selected item that is still queued and
// returns how many were removed. Selected items that already started stay.
func (q *Queue) RemoveSelected() (int, error) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return 0, ErrQueueBusy
	}
	var removed []*Item
	for _, it := range append([]*Item(nil), q.items...) {
		if it.isSelected() && it.Status() == StatusQueued {
			q.removeLocked(it.id)
			removed = append(removed, it)
		}
	}
	q.mu.Unlock()

	for _, it := range removed {
		q.publish(events.EventItemRemoved, it)
	}
	return len(removed), nil
}

// ClearFinished drops succeeded and failed items.
func (q *Queue) ClearFinished() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return 0, ErrQueueBusy
	}
	n := 0
	for _, it := range append([]*Item(nil), q.items...) {
		if it.Status().IsTerminal() {
			q.removeLocked(it.id)
			n++
		}
	}
	return n, nil
}

// Resubmit replaces a failed item with a fresh queued copy under a new ID.
// Uploads are re-admitted against the current policy.
func (q *Queue) Resubmit(id string) (Snapshot, error) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return Snapshot{}, ErrQueueBusy
	}
	old, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	if old.Status() != StatusFailed {
		q.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: %s is %s", ErrNotRetryable, id, old.Status())
	}

	var fresh *Item
	if old.kind == KindUpload {
		queuedBytes, queuedCount := q.activeUploadsLocked()
		adm := validation.Admit(queuedBytes, queuedCount, []models.TransferCandidate{old.upload}, q.policy)
		if len(adm.Rejected) > 0 {
			q.mu.Unlock()
			return Snapshot{}, adm.Rejected[0].Err
		}
		fresh = NewUploadItem(old.upload)
	} else {
		fresh = NewDownloadItem(old.download)
	}
	q.removeLocked(id)
	q.appendLocked(fresh)
	q.mu.Unlock()

	q.publish(events.EventItemRemoved, old)
	q.publish(events.EventItemQueued, fresh)
	return fresh.Snapshot(), nil
}

// Get returns a snapshot of one item.
func (q *Queue) Get(id string) (Snapshot, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	it, ok := q.byID[id]
	if !ok {
		return Snapshot{}, false
	}
	return it.Snapshot(), true
}

// Snapshot returns copies of all items in insertion order.
func (q *Queue) Snapshot() []Snapshot {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]Snapshot, len(q.items))
	for i, it := range q.items {
		out[i] = it.Snapshot()
	}
	return out
}

// Stats counts items by status.
func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var s Stats
	for _, it := range q.items {
		switch st := it.Status(); {
		case st == StatusQueued:
			s.Queued++
		case st == StatusSucceeded:
			s.Succeeded++
		case st == StatusFailed:
			s.Failed++
		default:
			s.InProgress++
		}
	}
	return s
}

// Pending returns the queued items in insertion order.
func (q *Queue) Pending() []*Item {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]*Item, 0, len(q.items))
	for _, it := range q.items {
		if it.Status() == StatusQueued {
			out = append(out, it)
		}
	}
	return out
}

// BeginRun claims the queue for a run.
func (q *Queue) BeginRun() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return ErrRunInProgress
	}
	q.running = true
	return nil
}

// EndRun releases the claim taken by BeginRun.
func (q *Queue) EndRun() {
	q.mu.Lock()
	q.running = false
	q.mu.Unlock()
}

// Running reports whether a run holds the queue.
func (q *Queue) Running() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.running
}

func (q *Queue) activeUploadsLocked() (int64, int) {
	var bytes int64
	var count int
	for _, it := range q.items {
		if it.kind != KindUpload || it.Status().IsTerminal() {
			continue
		}
		bytes += it.upload.ByteSize
		count++
	}
	return bytes, count
}

func (q *Queue) appendLocked(it *Item) {
	q.items = append(q.items, it)
	q.byID[it.id] = it
}

func (q *Queue) removeLocked(id string) {
	delete(q.byID, id)
	for i, it := range q.items {
		if it.id == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

func (q *Queue) publish(eventType events.EventType, it *Item) {
	publishItem(q.eventBus, eventType, it)
}

func publishItem(bus *events.EventBus, eventType events.EventType, it *Item) {
	if bus == nil {
		return
	}
	s := it.Snapshot()
	bus.PublishItem(eventType, events.ItemEvent{
		ItemID:    s.ID,
		Kind:      string(s.Kind),
		Name:      s.Name,
		Size:      s.Size,
		Status:    s.Status.String(),
		Progress:  s.Progress,
		ObjectKey: s.ObjectKey,
		Error:     s.Err,
	})
}
