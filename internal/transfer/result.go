package transfer

import (
	"fmt"
	"strings"
)

// FailedItem pairs a failed item with the reason it failed.
type FailedItem struct {
	Item Snapshot
	Err  error
}

// BatchResult aggregates the outcome of one RunBatch call.
type BatchResult struct {
	Succeeded int
	Failed    []FailedItem
	// Orphans lists object keys that were stored but have no record and
	// were not cleaned up.
	Orphans []string
}

// Total returns the number of items the batch ran.
func (r BatchResult) Total() int {
	return r.Succeeded + len(r.Failed)
}

// Summary renders the counts for the end-of-batch notice.
func (r BatchResult) Summary() string {
	return fmt.Sprintf("%d succeeded, %d failed", r.Succeeded, len(r.Failed))
}

// Err returns nil when every item succeeded, otherwise an error listing the
// failed items.
func (r BatchResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d transfer(s) failed", len(r.Failed), r.Total())
	for _, f := range r.Failed {
		fmt.Fprintf(&b, "\n  %s: %v", f.Item.Name, f.Err)
	}
	return fmt.Errorf("%s", b.String())
}
