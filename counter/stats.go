package counter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/localdb/docbase/streamfile"
)

// AggType selects which family of an id's aggregate Read/Stats reports.
type AggType int

const (
	AggSum AggType = iota
	AggMin
	AggMax
	AggAvg
)

// Subtype selects the granularity Read reports at.
type Subtype int

const (
	SubtypeHead  Subtype = iota // whole-year head aggregate
	SubtypeYear                // yearly slice (the year's head aggregate)
	SubtypeMonth                // one slice per daily bucket, labelled with its month; days of one month are not merged
	SubtypeDay                  // daily slices
)

// ReadOptions parameterizes Read the way the spec's read(options, cb)
// entry point does.
type ReadOptions struct {
	IDs     []string // empty means "all ids"
	Year    int
	Subtype Subtype
	Type    AggType
}

// Slice is one row of a Read result: a single id's aggregate at the
// requested granularity.
type Slice struct {
	ID    string
	Year  int
	Month int // 0 if not applicable
	Day   int // 0 if not applicable
	Value float64
}

// Read scans the counter file once and returns every id (or the
// requested subset) at the requested granularity and aggregate type.
func (c *Counter) Read(opt ReadOptions) ([]Slice, error) {
	want := map[string]bool{}
	for _, id := range opt.IDs {
		want[id] = true
	}
	year := opt.Year
	if year == 0 {
		year = time.Now().Year()
	}
	k := kindSum
	if opt.Type == AggMin || opt.Type == AggMax || opt.Type == AggAvg {
		k = kindMinMax
	}
	prefix := fmt.Sprintf("%s%04d", k.prefix(), year)

	var out []Slice
	rs, err := streamfile.OpenRead(c.path)
	if err != nil {
		return nil, fmt.Errorf("counter: read %s: %w", c.path, err)
	}
	defer rs.Close()

	runErr := rs.Run(func(batch streamfile.Batch) (bool, error) {
		for _, ln := range batch {
			key, head, buckets, ok := parseCounterLine(ln.Text)
			if !ok || !strings.HasPrefix(key, prefix) {
				continue
			}
			id := strings.TrimPrefix(key, prefix)
			if len(want) > 0 && !want[id] {
				continue
			}
			out = append(out, sliceFor(id, year, opt, head, buckets)...)
		}
		return false, nil
	})
	if runErr != nil {
		return nil, fmt.Errorf("counter: read %s: %w", c.path, runErr)
	}
	return out, nil
}

func sliceFor(id string, year int, opt ReadOptions, head *headValue, buckets map[string]string) []Slice {
	if opt.Subtype == SubtypeHead || opt.Subtype == SubtypeYear {
		return []Slice{{ID: id, Year: year, Value: reduceHead(head, opt.Type)}}
	}
	var out []Slice
	for day, raw := range buckets {
		if len(day) != 4 {
			continue
		}
		month, _ := strconv.Atoi(day[:2])
		dom, _ := strconv.Atoi(day[2:])
		v := reduceHead(ptrHead(parseHeadValue(raw)), opt.Type)
		switch opt.Subtype {
		case SubtypeYear:
			out = append(out, Slice{ID: id, Year: year, Value: v})
		case SubtypeMonth:
			out = append(out, Slice{ID: id, Year: year, Month: month, Value: v})
		case SubtypeDay:
			out = append(out, Slice{ID: id, Year: year, Month: month, Day: dom, Value: v})
		}
	}
	return out
}

func ptrHead(h headValue) *headValue { return &h }

func reduceHead(h *headValue, t AggType) float64 {
	switch t {
	case AggMin:
		return h.min
	case AggMax:
		return h.max
	case AggAvg:
		return (h.min + h.max) / 2
	default:
		return h.sum
	}
}

// Stats returns the top-N ids by aggregate value, using bounded
// insertion into a fixed-size buffer rather than sorting the whole
// dataset. Ties do not displace an earlier equal value.
func (c *Counter) Stats(top int, opt ReadOptions) ([]Slice, error) {
	slices, err := c.Read(opt)
	if err != nil {
		return nil, err
	}
	buf := make([]Slice, 0, top)
	for _, s := range slices {
		insertTopN(&buf, s, top)
	}
	return buf, nil
}

func insertTopN(buf *[]Slice, s Slice, top int) {
	b := *buf
	pos := len(b)
	for pos > 0 && b[pos-1].Value < s.Value {
		pos--
	}
	if pos >= top {
		return
	}
	if len(b) < top {
		b = append(b, Slice{})
	}
	copy(b[pos+1:], b[pos:len(b)-1])
	b[pos] = s
	*buf = b
}
