package validation

import (
	"fmt"
	"sort"

	"github.com/stashbox/stashbox/internal/models"
)

// Rejection pairs an incoming candidate index with the reason it was refused.
type Rejection struct {
	Index int
	Err   *Error
}

// Admission is the outcome of offering a group of candidates to a queue.
// Both lists are in input order.
type Admission struct {
	Admitted []int
	Rejected []Rejection
}

func (a *Admission) sortRejected() {
	sort.Slice(a.Rejected, func(i, j int) bool { return a.Rejected[i].Index < a.Rejected[j].Index })
}

// Admit validates each incoming candidate and then checks the batch limits.
//
// queuedBytes and queuedCount describe what the queue already holds. When the
// valid part of the incoming group on its own exceeds the byte cap, every
// valid candidate in it is refused. Otherwise candidates are admitted in
// order against a running total; a refused candidate does not count toward
// the total. Items already queued are never affected.
func Admit(queuedBytes int64, queuedCount int, incoming []models.TransferCandidate, p Policy) Admission {
	var res Admission
	valid := make([]int, 0, len(incoming))
	var groupBytes int64

	for i, c := range incoming {
		if err := Validate(c, p); err != nil {
			res.Rejected = append(res.Rejected, Rejection{Index: i, Err: err.(*Error)})
			continue
		}
		valid = append(valid, i)
		groupBytes += c.ByteSize
	}

	if groupBytes > p.MaxTotalBatchBytes {
		reason := fmt.Sprintf("selected files total %s, limit is %s",
			FormatBytes(groupBytes), FormatBytes(p.MaxTotalBatchBytes))
		for _, i := range valid {
			res.Rejected = append(res.Rejected, Rejection{Index: i, Err: &Error{Rule: RuleBatchSize, Reason: reason}})
		}
		res.sortRejected()
		return res
	}

	total := queuedBytes
	count := queuedCount
	for _, i := range valid {
		c := incoming[i]
		if p.MaxFilesPerBatch > 0 && count+1 > p.MaxFilesPerBatch {
			res.Rejected = append(res.Rejected, Rejection{Index: i, Err: &Error{
				Rule:   RuleBatchCount,
				Reason: fmt.Sprintf("queue already holds %d files, limit is %d", count, p.MaxFilesPerBatch),
			}})
			continue
		}
		if total+c.ByteSize > p.MaxTotalBatchBytes {
			res.Rejected = append(res.Rejected, Rejection{Index: i, Err: &Error{
				Rule: RuleBatchSize,
				Reason: fmt.Sprintf("adding %s would bring the queue to %s, limit is %s",
					FormatBytes(c.ByteSize), FormatBytes(total+c.ByteSize), FormatBytes(p.MaxTotalBatchBytes)),
			}})
			continue
		}
		total += c.ByteSize
		count++
		res.Admitted = append(res.Admitted, i)
	}
	res.sortRejected()
	return res
}
