package mot

import "context"

// PageFetcher retrieves one page of vehicles from the remote API.
type PageFetcher interface {
	// FetchPage performs a single request for the page at cursor. A 404 is
	// reported as a Page with NotFound set and a nil error; every other
	// failure is returned as an error (normally a *TransientError).
	FetchPage(ctx context.Context, cursor Cursor) (*Page, error)
}

// BatchWriter persists the rows of one page atomically.
type BatchWriter interface {
	// WriteBatch commits all records in one transaction or none of them.
	// Writing an empty batch is a no-op.
	WriteBatch(ctx context.Context, records []Record) error
}

// Store is a relational backend for MOT rows.
type Store interface {
	BatchWriter
	// CreateSchema creates the motdata table and its lookup index if they
	// do not already exist.
	CreateSchema(ctx context.Context) error
	Close() error
}
