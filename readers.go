package docbase

import (
	"strconv"

	"github.com/localdb/docbase/streamfile"
)

// runReaderPass implements spec §4.5's reader path: one forward scan
// evaluates every pending reader's compiled predicate against every live
// document, accumulating either full matches, a scalar aggregate, or a
// first-match result per job. The scan short-circuits once every job is
// a satisfied first() query.
func (e *DocumentEngine) runReaderPass(jobs []*readerJob) {
	for _, j := range jobs {
		initAccumulator(j)
	}

	rs, err := streamfile.OpenRead(e.dataPath(), streamfile.WithLogger(e.opt.Logger))
	if err != nil {
		e.failReaders(jobs, err)
		return
	}
	defer rs.Close()

	runErr := rs.Run(func(batch streamfile.Batch) (bool, error) {
		for _, ln := range batch {
			marker := byte(0)
			if len(ln.Text) > 0 {
				marker = ln.Text[0]
			}
			if !e.isLive(marker) {
				continue
			}
			_, doc, derr := e.decodeLine(ln.Text)
			if derr != nil {
				e.parseErrors++
				continue
			}
			for _, j := range jobs {
				if j.doneFlag {
					continue
				}
				if !j.query.compiled().eval(doc) {
					continue
				}
				accumulate(j, doc)
			}
		}
		return allFirstSatisfied(jobs), nil
	})
	if runErr != nil {
		e.failReaders(jobs, runErr)
		return
	}
	for _, j := range jobs {
		finish(j)
	}
}

// runReversePass is identical except the scan runs from EOF to BOF and
// each fully-satisfied job is skipped for remaining lines via doneFlag,
// letting the whole pass terminate early once every job is satisfied.
func (e *DocumentEngine) runReversePass(jobs []*readerJob) {
	for _, j := range jobs {
		initAccumulator(j)
	}

	rs, err := streamfile.OpenReadReverse(e.dataPath(), streamfile.WithLogger(e.opt.Logger))
	if err != nil {
		e.failReaders(jobs, err)
		return
	}
	defer rs.Close()

	runErr := rs.Run(func(batch streamfile.Batch) (bool, error) {
		for _, ln := range batch {
			marker := byte(0)
			if len(ln.Text) > 0 {
				marker = ln.Text[0]
			}
			if !e.isLive(marker) {
				continue
			}
			_, doc, derr := e.decodeLine(ln.Text)
			if derr != nil {
				e.parseErrors++
				continue
			}
			for _, j := range jobs {
				if j.doneFlag {
					continue
				}
				if !j.query.compiled().eval(doc) {
					continue
				}
				accumulate(j, doc)
				if j.query.first && j.matched > 0 {
					j.doneFlag = true
				}
			}
		}
		return allFirstSatisfied(jobs), nil
	})
	if runErr != nil {
		e.failReaders(jobs, runErr)
		return
	}
	for _, j := range jobs {
		finish(j)
	}
}

func allFirstSatisfied(jobs []*readerJob) bool {
	for _, j := range jobs {
		if !j.query.first && !j.doneFlag {
			return false
		}
		if j.query.first && j.matched == 0 {
			return false
		}
	}
	return true
}

func initAccumulator(j *readerJob) {
	if j.query.scalar != nil {
		j.scalarAcc = &scalarResult{Type: j.query.scalar.Type, Field: j.query.scalar.Field, Group: map[string]int{}}
	}
}

func accumulate(j *readerJob, doc map[string]any) {
	j.matched++
	if j.query.first {
		if j.firstMatch == nil {
			j.firstMatch = j.query.project(doc)
		}
		j.doneFlag = true
		return
	}
	if j.scalarAcc != nil {
		accumulateScalar(j.scalarAcc, doc)
		return
	}
	j.buf = append(j.buf, j.query.project(doc))
}

func accumulateScalar(acc *scalarResult, doc map[string]any) {
	acc.Count++
	switch acc.Type {
	case ScalarCount:
		return
	case ScalarGroup:
		key := formatScalarKey(doc[acc.Field])
		acc.Group[key]++
		return
	}
	v, ok := toFloat(doc[acc.Field])
	if !ok {
		return
	}
	switch acc.Type {
	case ScalarSum, ScalarAvg:
		acc.Sum += v
	case ScalarMin:
		if !acc.HasMM || v < acc.Min {
			acc.Min = v
		}
	case ScalarMax:
		if !acc.HasMM || v > acc.Max {
			acc.Max = v
		}
	}
	acc.HasMM = true
}

func formatScalarKey(v any) string {
	if v == nil {
		return ""
	}
	switch vv := v.(type) {
	case string:
		return vv
	default:
		return formatAny(vv)
	}
}

func finish(j *readerJob) {
	if j.query.first {
		var res readResult
		if j.firstMatch != nil {
			res.Docs = []map[string]any{j.firstMatch}
		}
		j.done(nil, res)
		return
	}
	if j.scalarAcc != nil {
		j.done(nil, readResult{Scalar: j.scalarAcc})
		return
	}

	sortDocs(j.buf, j.query.sort)

	if j.query.emptyError && len(j.buf) == 0 {
		j.done(&EmptyResultError{Message: j.query.emptyErrorText}, readResult{})
		return
	}

	total := len(j.buf)
	docs := applyPage(j.buf, j.query.skip, j.query.take)

	if j.query.listing {
		limit := j.query.take
		if limit == 0 {
			limit = defaultListingPageSize
			if t := j.query.Table; t != nil && t.opt.ListingPageSize > 0 {
				limit = t.opt.ListingPageSize
			}
		}
		pages := 1
		if limit > 0 {
			pages = (total + limit - 1) / limit
			if pages == 0 {
				pages = 1
			}
		}
		page := j.query.skip/maxInt(limit, 1) + 1
		j.done(nil, readResult{Listing: &ListingPage{Page: page, Pages: pages, Limit: limit, Count: total, Items: docs}})
		return
	}
	j.done(nil, readResult{Docs: docs})
}

func applyPage(docs []map[string]any, skip, take int) []map[string]any {
	if skip > 0 {
		if skip >= len(docs) {
			return nil
		}
		docs = docs[skip:]
	}
	if take > 0 && take < len(docs) {
		docs = docs[:take]
	}
	return docs
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func formatAny(v any) string {
	switch vv := v.(type) {
	case float64:
		return trimFloat(vv)
	default:
		return ""
	}
}

func trimFloat(f float64) string {
	i := int64(f)
	if float64(i) == f {
		return strconv.FormatInt(i, 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
