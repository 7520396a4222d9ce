package counter

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/localdb/docbase/streamfile"
)

func appendLines(path string, lines []string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("counter: append %s: %w", path, err)
	}
	defer f.Close()
	for _, l := range lines {
		if _, err := f.WriteString(l + "\n"); err != nil {
			return fmt.Errorf("counter: append %s: %w", path, err)
		}
	}
	return nil
}

// Flush reconciles every pending mutation against the on-disk counter
// file: lines whose key has no pending change stream through unmodified;
// lines with a pending change get their head aggregate and today's daily
// bucket merged. That rewritten content replaces the file by rename; ids
// that never appeared in the file are then appended to the new file.
func (c *Counter) Flush() error {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return nil
	}
	pending := c.pending
	c.pending = map[string]*delta{}
	c.mu.Unlock()

	seen := map[string]bool{}

	err := streamfile.Rewrite(c.path, func(line streamfile.Line) ([]byte, bool) {
		key, head, buckets, ok := parseCounterLine(line.Text)
		if !ok {
			return line.Text, true
		}
		d, has := pending[key]
		if !has {
			return line.Text, true
		}
		seen[key] = true
		if d.removed {
			return nil, false
		}
		mergeDelta(d, head, buckets)
		return encodeCounterLine(key, head, buckets), true
	})
	if err != nil {
		return fmt.Errorf("counter: flush %s: %w", c.path, err)
	}

	var appended []string
	for key, d := range pending {
		if seen[key] || d.removed {
			continue
		}
		head := headValue{}
		buckets := map[string]string{}
		mergeDelta(d, &head, buckets)
		appended = append(appended, string(encodeCounterLine(key, &head, buckets)))
	}
	if len(appended) == 0 {
		return nil
	}
	return appendLines(c.path, appended)
}

// headValue is either a running scalar sum or a min/max pair, matching
// the two families a counter id can belong to.
type headValue struct {
	sum      float64
	hasSum   bool
	min, max float64
	hasMM    bool
}

func (h headValue) String() string {
	if h.hasMM {
		return fmt.Sprintf("%sX%s", trimFloat(h.min), trimFloat(h.max))
	}
	return trimFloat(h.sum)
}

func trimFloat(f float64) string {
	if float64(int64(f)) == f {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// parseCounterLine splits "<key>=<head>;<MMdd>=<value>;…" into its key,
// parsed head aggregate, and a mutable day→raw-value map.
func parseCounterLine(line []byte) (key string, head *headValue, buckets map[string]string, ok bool) {
	s := string(line)
	parts := strings.Split(s, ";")
	if len(parts) == 0 {
		return "", nil, nil, false
	}
	k, headStr, found := strings.Cut(parts[0], "=")
	if !found {
		return "", nil, nil, false
	}
	h := parseHeadValue(headStr)
	buckets = map[string]string{}
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		bk, bv, ok := strings.Cut(p, "=")
		if ok {
			buckets[bk] = bv
		}
	}
	return k, &h, buckets, true
}

func parseHeadValue(s string) headValue {
	s = strings.TrimSpace(s)
	if before, after, ok := strings.Cut(s, "X"); ok {
		min, _ := strconv.ParseFloat(strings.TrimSpace(before), 64)
		max, _ := strconv.ParseFloat(strings.TrimSpace(after), 64)
		return headValue{min: min, max: max, hasMM: true}
	}
	sum, _ := strconv.ParseFloat(s, 64)
	return headValue{sum: sum, hasSum: true}
}

func mergeDelta(d *delta, head *headValue, buckets map[string]string) {
	if d.kind == kindSum {
		head.sum += d.sum
		head.hasSum = true
		cur, _ := strconv.ParseFloat(buckets[d.day], 64)
		buckets[d.day] = trimFloat(cur + d.sum)
		return
	}
	if !head.hasMM {
		head.min, head.max = d.min, d.max
		head.hasMM = true
	} else {
		if d.min < head.min {
			head.min = d.min
		}
		if d.max > head.max {
			head.max = d.max
		}
	}
	bh := parseHeadValue(buckets[d.day])
	if !bh.hasMM {
		bh.min, bh.max, bh.hasMM = d.min, d.max, true
	} else {
		if d.min < bh.min {
			bh.min = d.min
		}
		if d.max > bh.max {
			bh.max = d.max
		}
	}
	buckets[d.day] = bh.String()
}

func encodeCounterLine(key string, head *headValue, buckets map[string]string) []byte {
	var buf strings.Builder
	buf.WriteString(key)
	buf.WriteByte('=')
	buf.WriteString(head.String())
	// lexicographically sortable bucket keys per spec §4.6
	days := make([]string, 0, len(buckets))
	for d := range buckets {
		days = append(days, d)
	}
	sortStrings(days)
	for _, d := range days {
		buf.WriteByte(';')
		buf.WriteString(d)
		buf.WriteByte('=')
		buf.WriteString(buckets[d])
	}
	return []byte(buf.String())
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
