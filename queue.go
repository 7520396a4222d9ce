package docbase

// appendJob carries one document awaiting encoding and append.
type appendJob struct {
	doc  map[string]any
	done func(err error)
}

// mutateJob carries one update or remove request: its compiled query
// plus a completion callback reporting the number of matched documents.
type mutateJob struct {
	query *QueryBuilder
	done  func(err error, count int)
}

// readResult is what a reader job's completion callback receives: either
// a plain document list, a listing page, or a scalar aggregate,
// depending on the originating QueryBuilder's options.
type readResult struct {
	Docs    []map[string]any
	Listing *ListingPage
	Scalar  *scalarResult
}

type readerJob struct {
	query *QueryBuilder
	done  func(err error, res readResult)

	// scan state, reset per pass
	matched    int
	firstMatch map[string]any
	buf        []map[string]any
	scalarAcc  *scalarResult
	doneFlag   bool // reverse-reader early exit once this job is satisfied
}

type lockJob struct {
	fn   func(unlock func())
	done func(err error)
}

type maintKind int

const (
	maintClear maintKind = iota
	maintClean
	maintDrop
)

type maintJob struct {
	kind maintKind
	done func(err error)
}
