package csync

import "fmt"

// RecordError is a per-item failure collected during a batch operation.
// One bad record never blocks the rest of the batch.
type RecordError struct {
	NativeID  string
	ContactID string
	Err       error
}

func (e RecordError) Error() string {
	switch {
	case e.ContactID != "":
		return fmt.Sprintf("contact %s: %v", e.ContactID, e.Err)
	case e.NativeID != "":
		return fmt.Sprintf("member %s: %v", e.NativeID, e.Err)
	default:
		return e.Err.Error()
	}
}

// PullResult summarizes one pull reconciliation pass.
type PullResult struct {
	Created   int
	Updated   int
	Unchanged int
	Orphaned  int
	Conflicts []string // conflict IDs recorded this pass
	Errors    []RecordError
}

// PushResult summarizes one push reconciliation pass.
type PushResult struct {
	Created   int
	Updated   int
	Skipped   int // no-op pushes detected by content hash
	Conflicts []string
	Errors    []RecordError
}

// MergeResult summarizes one import merge batch.
type MergeResult struct {
	Created   int
	Enriched  int
	Unchanged int
	Errors    []RecordError
}
