package docbase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

const (
	markerLive     = '+'
	markerEscaped  = '*'
	markerTomb     = '-'
)

// encodeRow renders a table row as "<marker>|v1|v2|…" (without trailing
// newline). keys that are missing from row encode as an empty field.
// If any string or serialized-object cell contains '|', '\r' or '\n',
// the whole row switches to the '*' marker and those bytes are
// percent-escaped in every cell that needs it.
func encodeRow(schema *Schema, row map[string]any) ([]byte, error) {
	cells := make([][]byte, len(schema.Columns))
	needsEscape := false
	for i, col := range schema.Columns {
		cell, escaped, err := encodeCell(col, row[col.Name])
		if err != nil {
			return nil, fmt.Errorf("docbase: encode column %q: %w", col.Name, err)
		}
		cells[i] = cell
		needsEscape = needsEscape || escaped
	}

	var buf bytes.Buffer
	if needsEscape {
		buf.WriteByte(markerEscaped)
	} else {
		buf.WriteByte(markerLive)
	}
	for _, c := range cells {
		buf.WriteByte('|')
		if needsEscape {
			buf.Write(percentEscape(c))
		} else {
			buf.Write(c)
		}
	}
	return buf.Bytes(), nil
}

// encodeCell renders one column's value and reports whether its raw form
// contains a byte that would require row-level escaping.
func encodeCell(col Column, v any) (cell []byte, needsEscape bool, err error) {
	if v == nil {
		return nil, false, nil
	}
	switch col.Type {
	case ColumnString:
		s, _ := v.(string)
		return []byte(s), containsEscapeByte([]byte(s)), nil
	case ColumnNumber:
		switch n := v.(type) {
		case float64:
			return []byte(strconv.FormatFloat(n, 'g', -1, 64)), false, nil
		case int:
			return []byte(strconv.Itoa(n)), false, nil
		default:
			return nil, false, fmt.Errorf("value %v is not a number", v)
		}
	case ColumnBool:
		b, _ := v.(bool)
		if b {
			return []byte("1"), false, nil
		}
		return []byte("0"), false, nil
	case ColumnDate:
		t, ok := v.(time.Time)
		if !ok {
			return nil, false, fmt.Errorf("value %v is not a date", v)
		}
		return []byte(strconv.FormatInt(t.UnixMilli(), 10)), false, nil
	case ColumnObject:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, false, err
		}
		return raw, containsEscapeByte(raw), nil
	default:
		return nil, false, fmt.Errorf("unknown column type %v", col.Type)
	}
}

func containsEscapeByte(b []byte) bool {
	return bytes.IndexAny(b, "|\r\n") >= 0
}

func percentEscape(b []byte) []byte {
	if !containsEscapeByte(b) {
		return b
	}
	var buf bytes.Buffer
	for _, c := range b {
		switch c {
		case '|':
			buf.WriteString("%7C")
		case '\r':
			buf.WriteString("%0D")
		case '\n':
			buf.WriteString("%0A")
		default:
			buf.WriteByte(c)
		}
	}
	return buf.Bytes()
}

func percentUnescape(b []byte) []byte {
	if !bytes.ContainsRune(b, '%') {
		return b
	}
	var buf bytes.Buffer
	for i := 0; i < len(b); i++ {
		if b[i] == '%' && i+2 < len(b) {
			switch string(b[i+1 : i+3]) {
			case "7C":
				buf.WriteByte('|')
				i += 2
				continue
			case "0D":
				buf.WriteByte('\r')
				i += 2
				continue
			case "0A":
				buf.WriteByte('\n')
				i += 2
				continue
			}
		}
		buf.WriteByte(b[i])
	}
	return buf.Bytes()
}

// decodeRow parses a table data line into marker and field map. keys, if
// non-nil, restricts decoding to a subset of the schema's columns (the
// partial-projection path); fields outside the subset are skipped.
func decodeRow(schema *Schema, line []byte, keys map[string]bool) (marker byte, row map[string]any, err error) {
	if len(line) == 0 {
		return 0, nil, fmt.Errorf("docbase: empty row line")
	}
	marker = line[0]
	rest := line[1:]
	if len(rest) > 0 && rest[0] == '|' {
		rest = rest[1:]
	}
	fields := splitByte(rest, '|')
	row = make(map[string]any, len(schema.Columns))
	for _, col := range schema.Columns {
		idx := col.Position - 1
		if idx < 0 || idx >= len(fields) {
			continue
		}
		if keys != nil && !keys[col.Name] {
			continue
		}
		raw := fields[idx]
		if marker == markerEscaped {
			raw = percentUnescape(raw)
		}
		v, derr := decodeCell(col, raw)
		if derr != nil {
			// malformed field becomes the column's zero value, per spec §7
			v = zeroValue(col.Type)
		}
		row[col.Name] = v
	}
	return marker, row, nil
}

func decodeCell(col Column, raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	switch col.Type {
	case ColumnString:
		return string(raw), nil
	case ColumnNumber:
		return strconv.ParseFloat(string(raw), 64)
	case ColumnBool:
		return string(raw) == "1", nil
	case ColumnDate:
		ms, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return nil, err
		}
		return time.UnixMilli(ms), nil
	case ColumnObject:
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown column type %v", col.Type)
	}
}

func zeroValue(t ColumnType) any {
	switch t {
	case ColumnString:
		return ""
	case ColumnNumber:
		return float64(0)
	case ColumnBool:
		return false
	case ColumnDate:
		return time.Time{}
	case ColumnObject:
		return nil
	default:
		return nil
	}
}
