// Package mot holds the domain model for MOT (vehicle inspection) history
// ingestion: the remote payload shape, the flattened row written to the
// store, the paging cursor and the ports the ingestion loop depends on.
package mot

// Test results reported by the remote API. Anything other than
// ResultFailed yields a single row with no reason.
const (
	ResultPassed = "PASSED"
	ResultFailed = "FAILED"
)

// Vehicle is one entry of a page returned by the remote API.
type Vehicle struct {
	Registration string `json:"registration"`
	Make         string `json:"make"`
	Model        string `json:"model"`
	MotTests     []Test `json:"motTests"`
}

// Test is a single inspection of a vehicle.
type Test struct {
	// CompletedDate uses the dotted API form, e.g. "2023.06.15 14:30:21".
	CompletedDate  string    `json:"completedDate"`
	TestResult     string    `json:"testResult"`
	RfrAndComments []Comment `json:"rfrAndComments"`
}

// Failed reports whether the test carries the failing status.
func (t Test) Failed() bool { return t.TestResult == ResultFailed }

// Comment is a reason-for-refusal or advisory attached to a test.
type Comment struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

// Page is the outcome of fetching one page. A NotFound page is the remote
// signalling that the index is beyond the available data; it is treated as
// an empty page rather than an error.
type Page struct {
	Number   int
	Vehicles []Vehicle
	NotFound bool
}

// Empty reports whether the page contributes no vehicles.
func (p *Page) Empty() bool {
	return p == nil || p.NotFound || len(p.Vehicles) == 0
}
