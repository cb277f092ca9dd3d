package common

import (
	"fmt"
	"strings"
)

// ParseCSV splits a captured column image into values.
//
// Quoted fields may escape quotes as "" or \" and backslashes as \\.
// An unquoted empty field is NULL (nil); a quoted empty field is "".
func ParseCSV(s string) ([]*string, error) {
	if s == "" {
		return nil, nil
	}

	var (
		values []*string
		buf    strings.Builder
	)

	i := 0
	for {
		// start of field
		if i < len(s) && s[i] == '"' {
			buf.Reset()
			i++
			closed := false
			for i < len(s) {
				c := s[i]
				switch {
				case c == '\\' && i+1 < len(s):
					buf.WriteByte(s[i+1])
					i += 2
				case c == '"' && i+1 < len(s) && s[i+1] == '"':
					buf.WriteByte('"')
					i += 2
				case c == '"':
					i++
					closed = true
				default:
					buf.WriteByte(c)
					i++
				}
				if closed {
					break
				}
			}
			if !closed {
				return nil, fmt.Errorf("unterminated quoted field at offset %d", i)
			}
			v := buf.String()
			values = append(values, &v)
		} else {
			start := i
			for i < len(s) && s[i] != ',' {
				i++
			}
			raw := strings.TrimSpace(s[start:i])
			if raw == "" {
				values = append(values, nil)
			} else {
				v := raw
				values = append(values, &v)
			}
		}

		if i >= len(s) {
			return values, nil
		}
		if s[i] != ',' {
			return nil, fmt.Errorf("unexpected %q after quoted field at offset %d", s[i], i)
		}
		i++
		if i == len(s) {
			// trailing separator means a final NULL
			values = append(values, nil)
			return values, nil
		}
	}
}

// FormatCSV is the inverse of ParseCSV
func FormatCSV(values []*string) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte(',')
		}
		if v == nil {
			continue
		}
		b.WriteByte('"')
		for j := 0; j < len(*v); j++ {
			c := (*v)[j]
			if c == '"' || c == '\\' {
				b.WriteByte('\\')
			}
			b.WriteByte(c)
		}
		b.WriteByte('"')
	}
	return b.String()
}

// StrPtr is a convenience for building column images
func StrPtr(s string) *string {
	return &s
}
