package mot

import "time"

// Record is one normalized row of the motdata table. Reason and Type are
// both set when Result is ResultFailed and both nil otherwise.
type Record struct {
	Registration string
	Make         string
	Model        string
	CompletedAt  time.Time
	Result       string
	Reason       *string
	Type         *string
}

// HasReason reports whether the record carries a failure reason.
func (r Record) HasReason() bool { return r.Reason != nil && r.Type != nil }
