package docbase

import (
	"bytes"
	"regexp"
	"time"
)

// splitByte splits data on sep without the allocation overhead of
// bytes.Split's backing-slice-per-call when the caller only needs to walk
// the pieces once.
func splitByte(data []byte, sep byte) [][]byte {
	var out [][]byte
	start := 0
	for i, b := range data {
		if b == sep {
			out = append(out, data[start:i])
			start = i + 1
		}
	}
	out = append(out, data[start:])
	return out
}

// rpad right-pads s with spaces to width, used for the backup sidecar's
// fixed-width user column (§6: "<user padded to 20>").
func rpad(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	var buf bytes.Buffer
	buf.WriteString(s)
	for buf.Len() < width {
		buf.WriteByte(' ')
	}
	return buf.String()
}

var isoDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})$`)

// looksLikeISODate reports whether s is shaped like an ISO-8601 timestamp,
// the JSON codec's signal to reparse a decoded string into a time.Time.
func looksLikeISODate(s string) bool {
	return isoDateRe.MatchString(s)
}

func parseISODate(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
