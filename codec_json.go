package docbase

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// encodeJSON marshals a document to its on-disk line form: standard JSON
// except that every `true` value gets a padding space inserted between it
// and the comma/brace/bracket that would otherwise immediately follow it.
// "false" and "true " are both five bytes, so toggling a boolean field
// never changes the line's encoded length (spec property 3), which is
// what lets an update stay in-place instead of tombstone-and-append.
func encodeJSON(doc map[string]any) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("docbase: encode document: %w", err)
	}
	return padBooleans(raw), nil
}

// padBooleans rewrites every bare `true` token that is a JSON value (not
// part of a quoted string, and not a substring of some other token) so
// that it consumes the same number of bytes as `false` would: "true"
// followed by one of `,}]` becomes "true " followed by that same byte,
// i.e. the terminator moves one byte later and the freed slot becomes a
// space. It walks the byte stream tracking quoted-string spans so a
// string value like "a,true,b" is copied through untouched.
func padBooleans(src []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(src) + 8)
	inString := false
	i := 0
	for i < len(src) {
		c := src[i]
		if inString {
			out.WriteByte(c)
			i++
			if c == '\\' && i < len(src) {
				out.WriteByte(src[i])
				i++
				continue
			}
			if c == '"' {
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out.WriteByte(c)
			i++
			continue
		}
		if isBoolValueStart(src, i) && bytes.HasPrefix(src[i:], []byte("true")) {
			end := i + 4
			if end < len(src) && isValueTerminator(src[end]) {
				out.WriteString("true ")
				i = end
				continue
			}
		}
		out.WriteByte(c)
		i++
	}
	return out.Bytes()
}

func isBoolValueStart(src []byte, i int) bool {
	if i == 0 {
		return false
	}
	switch src[i-1] {
	case ':', '[', ',':
		return true
	default:
		return false
	}
}

func isValueTerminator(b byte) bool {
	switch b {
	case ',', '}', ']':
		return true
	default:
		return false
	}
}

// decodeJSON parses a data-file line into a document, reparsing any
// ISO-8601-shaped string field into a time.Time the way the original
// engine reconstructs Date objects on read.
func decodeJSON(line []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(line, &doc); err != nil {
		return nil, fmt.Errorf("docbase: decode document: %w", err)
	}
	reparseDates(doc)
	return doc, nil
}

func reparseDates(doc map[string]any) {
	for k, v := range doc {
		switch vv := v.(type) {
		case string:
			if looksLikeISODate(vv) {
				if t, ok := parseISODate(vv); ok {
					doc[k] = t
				}
			}
		case map[string]any:
			reparseDates(vv)
		case []any:
			for i, e := range vv {
				if s, ok := e.(string); ok && looksLikeISODate(s) {
					if t, ok := parseISODate(s); ok {
						vv[i] = t
					}
				}
			}
		}
	}
}
