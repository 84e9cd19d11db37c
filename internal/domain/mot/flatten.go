package mot

import "strings"

// SkipReason describes why an entry was dropped as malformed.
type SkipReason string

const (
	SkipMissingRegistration SkipReason = "missing_registration"
	SkipMissingResult       SkipReason = "missing_result"
	SkipBadCompletedDate    SkipReason = "bad_completed_date"
	SkipEmptyComment        SkipReason = "empty_comment"
)

// FlattenResult is the output of Flatten.
type FlattenResult struct {
	Records []Record
	// Skipped counts malformed entries by reason. Entries dropped by the date
	// filter are not malformed and are not counted.
	Skipped map[SkipReason]int
}

// SkippedTotal returns the number of malformed entries across all reasons.
func (r FlattenResult) SkippedTotal() int {
	n := 0
	for _, c := range r.Skipped {
		n += c
	}
	return n
}

func (r *FlattenResult) skip(reason SkipReason) {
	if r.Skipped == nil {
		r.Skipped = make(map[SkipReason]int)
	}
	r.Skipped[reason]++
}

// Flatten turns the vehicles of one page into rows, preserving vehicle, test
// and comment order.
//
// A failing test yields one row per comment and no row at all when it has no
// comments. Any other result yields exactly one row without a reason. When
// filter is non-nil only tests completed on that day are kept.
//
// Malformed entries are skipped and counted rather than failing the page:
// a vehicle without a registration, a test without a result or with an
// unparseable completion date, and a failing comment with blank text.
func Flatten(vehicles []Vehicle, filter *CalendarDate) FlattenResult {
	var res FlattenResult

	for _, v := range vehicles {
		if strings.TrimSpace(v.Registration) == "" {
			res.skip(SkipMissingRegistration)
			continue
		}

		for _, t := range v.MotTests {
			if strings.TrimSpace(t.TestResult) == "" {
				res.skip(SkipMissingResult)
				continue
			}

			completedAt, err := ParseCompletedDate(t.CompletedDate)
			if err != nil {
				res.skip(SkipBadCompletedDate)
				continue
			}

			if filter != nil && !filter.Matches(completedAt) {
				continue
			}

			base := Record{
				Registration: v.Registration,
				Make:         v.Make,
				Model:        v.Model,
				CompletedAt:  completedAt,
				Result:       t.TestResult,
			}

			if !t.Failed() {
				res.Records = append(res.Records, base)
				continue
			}

			for _, c := range t.RfrAndComments {
				if strings.TrimSpace(c.Text) == "" {
					res.skip(SkipEmptyComment)
					continue
				}
				text, typ := c.Text, c.Type
				rec := base
				rec.Reason = &text
				rec.Type = &typ
				res.Records = append(res.Records, rec)
			}
		}
	}

	return res
}
