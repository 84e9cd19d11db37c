package mot

import "fmt"

// Cursor identifies the next page to fetch. Page only moves forward within
// a run and Date never changes once the cursor is built.
type Cursor struct {
	Page int
	Date *CalendarDate
}

// NewCursor creates a cursor positioned at startPage, optionally filtered to
// a single day.
func NewCursor(startPage int, date *CalendarDate) (Cursor, error) {
	if startPage < 0 {
		return Cursor{}, fmt.Errorf("start page must be non-negative, got %d", startPage)
	}

	c := Cursor{Page: startPage}
	if date != nil {
		d := *date
		c.Date = &d
	}
	return c, nil
}

// Next returns the cursor for the following page.
func (c Cursor) Next() Cursor {
	return Cursor{Page: c.Page + 1, Date: c.Date}
}

// String implements fmt.Stringer.
func (c Cursor) String() string {
	if c.Date == nil {
		return fmt.Sprintf("page=%d", c.Page)
	}
	return fmt.Sprintf("date=%s page=%d", c.Date, c.Page)
}
