package docbase

import "regexp"

// ScalarType is the aggregation kind for QueryBuilder.Scalar.
type ScalarType int

const (
	ScalarCount ScalarType = iota
	ScalarSum
	ScalarMin
	ScalarMax
	ScalarAvg
	ScalarGroup
)

// SortSpec describes the sort applied before pagination. A nil Less with
// Name == "" applies no sort: results keep scan order. There is no
// random-order mode.
type SortSpec struct {
	Name string
	Asc  bool
	Less func(a, b map[string]any) bool
}

// ListingPage is the paginated result shape produced when
// QueryBuilder.Listing() is set.
type ListingPage struct {
	Page  int
	Pages int
	Limit int
	Count int
	Items []map[string]any
}

// scalarResult carries the outcome of a scalar aggregation.
type scalarResult struct {
	Type  ScalarType
	Field string
	Count int
	Sum   float64
	Min   float64
	Max   float64
	Group map[string]int
	HasMM bool
}

// joinSpec resolves a sibling database against each matched document
// after the primary query completes.
type joinSpec struct {
	field    string
	table    *DocumentEngine
	on       [2]string
	first    bool
	scalar   *scalarField
}

type scalarField struct {
	Type  ScalarType
	Field string
}

// QueryBuilder accumulates predicate nodes and result options for a
// single read, update, or remove call. It is mutated only by its
// creator and consumed exactly once by the scheduler.
type QueryBuilder struct {
	nodes      []node
	groupDepth int

	take    int
	skip    int
	first   bool
	sort    SortSpec
	fields  []string // keep-list
	fields2 []string // drop-set
	scalar  *scalarField
	listing bool
	id      string
	join    *joinSpec

	emptyError     bool
	emptyErrorText string

	// mutation-only fields, set by Set/Merge/Increment callers (engine.go
	// interprets these during the update/remove pass).
	replaceFn func(doc map[string]any) map[string]any
	merge     map[string]any
	incr      map[string]float64 // signed deltas; engine adds each one to its field
	insertOn  map[string]any     // fallback document inserted when match count is zero

	Table *DocumentEngine
}

// NewQuery starts a fresh builder against tbl.
func NewQuery(tbl *DocumentEngine) *QueryBuilder {
	return &QueryBuilder{Table: tbl}
}

func (b *QueryBuilder) push(n node) *QueryBuilder {
	b.nodes = append(b.nodes, n)
	return b
}

// Where adds a comparison predicate. op is one of == != < <= > >=.
func (b *QueryBuilder) Where(field, op string, value any) *QueryBuilder {
	return b.push(node{kind: nodeWhere, field: field, op: op, value: value})
}

func (b *QueryBuilder) In(field string, values any) *QueryBuilder {
	return b.push(node{kind: nodeIn, field: field, value: values})
}

func (b *QueryBuilder) NotIn(field string, values any) *QueryBuilder {
	return b.push(node{kind: nodeNotIn, field: field, value: values})
}

func (b *QueryBuilder) Between(field string, lo, hi any) *QueryBuilder {
	return b.push(node{kind: nodeBetween, field: field, value: [2]any{lo, hi}})
}

func (b *QueryBuilder) Like(field string, value any, where likeWhere) *QueryBuilder {
	return b.push(node{kind: nodeLike, field: field, value: value, likeMode: where})
}

func (b *QueryBuilder) Regexp(field string, re *regexp.Regexp) *QueryBuilder {
	return b.push(node{kind: nodeRegexp, field: field, value: regexpMatcher{match: func(v any) bool {
		s, ok := v.(string)
		return ok && re.MatchString(s)
	}}})
}

func (b *QueryBuilder) Fulltext(field string, value any, weight float64) *QueryBuilder {
	return b.push(node{kind: nodeFulltext, field: field, value: value, weight: weight})
}

func (b *QueryBuilder) Contains(field string, value any) *QueryBuilder {
	return b.push(node{kind: nodeContains, field: field, value: value})
}

func (b *QueryBuilder) Empty(field string) *QueryBuilder {
	return b.push(node{kind: nodeEmpty, field: field})
}

func (b *QueryBuilder) Month(field string, m float64) *QueryBuilder {
	return b.push(node{kind: nodeMonth, field: field, value: m})
}

func (b *QueryBuilder) Day(field string, d float64) *QueryBuilder {
	return b.push(node{kind: nodeDay, field: field, value: d})
}

func (b *QueryBuilder) Year(field string, y float64) *QueryBuilder {
	return b.push(node{kind: nodeYear, field: field, value: y})
}

// Query adds a raw predicate function, for callers that already have a
// compiled Go closure rather than a field/op/value triple.
func (b *QueryBuilder) Query(fn func(doc map[string]any) bool) *QueryBuilder {
	return b.push(node{kind: nodeRaw, value: fn})
}

// Prepare is equivalent to Query, named to mirror the fluent API's
// separate entry point for a user-supplied scan function.
func (b *QueryBuilder) Prepare(fn func(doc map[string]any) bool) *QueryBuilder {
	return b.push(node{kind: nodePrepare, fn: fn})
}

// Or opens a disjunctive scope; And opens a conjunctive one. Both must be
// closed with End.
func (b *QueryBuilder) Or() *QueryBuilder {
	b.groupDepth++
	return b.push(node{kind: nodeGroupStart, disjunct: true})
}

func (b *QueryBuilder) And() *QueryBuilder {
	b.groupDepth++
	return b.push(node{kind: nodeGroupStart, disjunct: false})
}

func (b *QueryBuilder) End() *QueryBuilder {
	b.groupDepth--
	return b.push(node{kind: nodeGroupEnd})
}

// Take/Skip/First/Sort/Fields/Fields2/Scalar/Listing/ID set the query's
// result-shaping options. Each setter touches only its own field — the
// teacher's $skip/$take aliasing bug (spec §9 open question 3) is not
// reproduced.
func (b *QueryBuilder) Take(n int) *QueryBuilder { b.take = n; return b }
func (b *QueryBuilder) Skip(n int) *QueryBuilder { b.skip = n; return b }
func (b *QueryBuilder) First() *QueryBuilder     { b.first = true; b.take = 1; return b }

func (b *QueryBuilder) Sort(name string, asc bool) *QueryBuilder {
	b.sort = SortSpec{Name: name, Asc: asc}
	return b
}

func (b *QueryBuilder) SortFunc(less func(a, b map[string]any) bool) *QueryBuilder {
	b.sort = SortSpec{Less: less}
	return b
}

func (b *QueryBuilder) Fields(keep ...string) *QueryBuilder  { b.fields = keep; return b }
func (b *QueryBuilder) Fields2(drop ...string) *QueryBuilder { b.fields2 = drop; return b }

func (b *QueryBuilder) Scalar(t ScalarType, field string) *QueryBuilder {
	b.scalar = &scalarField{Type: t, Field: field}
	return b
}

func (b *QueryBuilder) Listing() *QueryBuilder { b.listing = true; return b }
func (b *QueryBuilder) ID(id string) *QueryBuilder { b.id = id; return b }

// EmptyError opts the query into returning a structured EmptyResultError
// when it matches nothing, instead of an empty-but-successful result.
func (b *QueryBuilder) EmptyError(msg string) *QueryBuilder {
	b.emptyError = true
	b.emptyErrorText = msg
	return b
}

// Join resolves field against a sibling table post-query.
func (b *QueryBuilder) Join(field string, table *DocumentEngine) *QueryBuilder {
	b.join = &joinSpec{field: field, table: table}
	return b
}

func (b *QueryBuilder) On(a, bField string) *QueryBuilder {
	if b.join != nil {
		b.join.on = [2]string{a, bField}
	}
	return b
}

// Set replaces each matched document wholesale via fn.
func (b *QueryBuilder) Set(fn func(doc map[string]any) map[string]any) *QueryBuilder {
	b.replaceFn = fn
	return b
}

// Merge shallow-merges fields into each matched document.
func (b *QueryBuilder) Merge(fields map[string]any) *QueryBuilder {
	b.merge = fields
	return b
}

// Increment applies a signed delta to a numeric field on each matched
// document: positive add, negative subtract. Multiply and divide are not
// supported by the update path.
func (b *QueryBuilder) Increment(field string, delta float64) *QueryBuilder {
	if b.incr == nil {
		b.incr = map[string]float64{}
	}
	b.incr[field] = delta
	return b
}

// InsertOn supplies a fallback document inserted when this query's match
// count is zero (used with update/remove jobs).
func (b *QueryBuilder) InsertOn(doc map[string]any) *QueryBuilder {
	b.insertOn = doc
	return b
}

// compiled returns this builder's compiled predicate, from the
// process-scoped cache when possible.
func (b *QueryBuilder) compiled() *compiledPredicate {
	return compile(b.nodes, b.id)
}

// project applies the builder's Fields/Fields2 option to a matched
// document. The sort key is always retained even when it isn't in the
// keep-list, per spec §4.3.
func (b *QueryBuilder) project(doc map[string]any) map[string]any {
	if len(b.fields) == 0 && len(b.fields2) == 0 {
		return doc
	}
	out := make(map[string]any, len(doc))
	if len(b.fields) > 0 {
		keep := make(map[string]bool, len(b.fields)+1)
		for _, f := range b.fields {
			keep[f] = true
		}
		if b.sort.Name != "" {
			keep[b.sort.Name] = true
		}
		for k, v := range doc {
			if keep[k] {
				out[k] = v
			}
		}
		return out
	}
	drop := make(map[string]bool, len(b.fields2))
	for _, f := range b.fields2 {
		drop[f] = true
	}
	for k, v := range doc {
		if !drop[k] || k == b.sort.Name {
			out[k] = v
		}
	}
	return out
}
