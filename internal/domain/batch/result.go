package batch

// ItemStatus is the processing outcome of a single batch item.
type ItemStatus string

// Batch item status values.
const (
	StatusIndexed ItemStatus = "indexed"
	StatusSkipped ItemStatus = "skipped"
)

// Result is the outcome of indexing one document in a batch.
type Result struct {
	id     string
	status ItemStatus
	err    error
}

// NewIndexed creates a successful batch result.
func NewIndexed(id string) Result { return Result{id: id, status: StatusIndexed} }

// NewSkipped creates a result for a document that was not indexed.
func NewSkipped(id string, err error) Result { return Result{id: id, status: StatusSkipped, err: err} }

// ID returns the document identifier.
func (r Result) ID() string { return r.id }

// Status returns the processing outcome.
func (r Result) Status() ItemStatus { return r.status }

// Err returns the reason a document was skipped, if any.
func (r Result) Err() error { return r.err }

// Counts tallies indexed and skipped outcomes.
func Counts(results []Result) (indexed, skipped int) {
	for _, r := range results {
		if r.status == StatusIndexed {
			indexed++
		} else {
			skipped++
		}
	}
	return indexed, skipped
}
