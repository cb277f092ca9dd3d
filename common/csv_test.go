package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deref(values []*string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		if v == nil {
			out[i] = nil
		} else {
			out[i] = *v
		}
	}
	return out
}

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []any
	}{
		{"empty", "", []any{}},
		{"quoted values", `"1","abc"`, []any{"1", "abc"}},
		{"null and empty", `,""`, []any{nil, ""}},
		{"trailing null", `"a",`, []any{"a", nil}},
		{"unquoted", `1,abc`, []any{"1", "abc"}},
		{"escaped quote", `"say \"hi\""`, []any{`say "hi"`}},
		{"doubled quote", `"say ""hi"""`, []any{`say "hi"`}},
		{"escaped backslash", `"c:\\tmp"`, []any{`c:\tmp`}},
		{"comma inside quotes", `"a,b","c"`, []any{"a,b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCSV(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, deref(got))
		})
	}
}

func TestParseCSV_Errors(t *testing.T) {
	_, err := ParseCSV(`"unterminated`)
	assert.Error(t, err)

	_, err = ParseCSV(`"a"b`)
	assert.Error(t, err)
}

func TestFormatCSV_RoundTrip(t *testing.T) {
	values := []*string{StrPtr("1"), nil, StrPtr(`he said "x"`), StrPtr(`a\b`), StrPtr("")}
	parsed, err := ParseCSV(FormatCSV(values))
	require.NoError(t, err)
	assert.Equal(t, deref(values), deref(parsed))
}

func TestData_ColumnValues(t *testing.T) {
	hist := &TriggerHistory{
		TriggerHistID: 1,
		ColumnNames:   []string{"id", "status"},
		PKColumnNames: []string{"id"},
	}

	t.Run("update carries both images", func(t *testing.T) {
		d := &Data{DataID: 1, RowData: `"1","OK"`, OldData: `"1","FAIL"`}
		row, old, err := d.ColumnValues(hist)
		require.NoError(t, err)
		assert.Equal(t, "OK", *row["STATUS"])
		assert.Equal(t, "FAIL", *old["STATUS"])
	})

	t.Run("delete falls back to old image", func(t *testing.T) {
		d := &Data{DataID: 2, OldData: `"1","FAIL"`, PKData: `"1"`}
		row, _, err := d.ColumnValues(hist)
		require.NoError(t, err)
		assert.Equal(t, "FAIL", *row["STATUS"])
	})

	t.Run("pk only", func(t *testing.T) {
		d := &Data{DataID: 3, PKData: `"7"`}
		row, old, err := d.ColumnValues(hist)
		require.NoError(t, err)
		assert.Nil(t, old)
		assert.Equal(t, "7", *row["ID"])
		_, hasStatus := row["STATUS"]
		assert.False(t, hasStatus)
	})

	t.Run("nil history", func(t *testing.T) {
		d := &Data{DataID: 4, RowData: `"1"`}
		row, old, err := d.ColumnValues(nil)
		require.NoError(t, err)
		assert.Nil(t, row)
		assert.Nil(t, old)
	})
}

func TestParseEventType(t *testing.T) {
	for _, code := range []string{"I", "U", "D", "S", "R", "C"} {
		et, err := ParseEventType(code)
		require.NoError(t, err)
		assert.Equal(t, code, et.Code())
	}

	_, err := ParseEventType("X")
	assert.Error(t, err)
	_, err = ParseEventType("")
	assert.Error(t, err)
}
