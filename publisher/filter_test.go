package publisher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobFilter(t *testing.T) {
	tests := []struct {
		name     string
		channels []string
		nodes    []string
		channel  string
		node     string
		want     bool
	}{
		{"empty matches all", nil, nil, "sale", "001", true},
		{"channel exact", []string{"sale"}, nil, "sale", "001", true},
		{"channel miss", []string{"sale"}, nil, "item", "001", false},
		{"channel wildcard", []string{"sale*"}, nil, "sale_return", "001", true},
		{"node wildcard", nil, []string{"00?"}, "sale", "002", true},
		{"node miss", nil, []string{"00?"}, "sale", "100", false},
		{"both must match", []string{"sale"}, []string{"001"}, "sale", "002", false},
		{"alternation", []string{"{sale,item}"}, nil, "item", "001", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewGlobFilter(tt.channels, tt.nodes)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Match(tt.channel, tt.node))
		})
	}
}

func TestGlobFilter_InvalidPattern(t *testing.T) {
	_, err := NewGlobFilter([]string{"[unclosed"}, nil)
	assert.Error(t, err)
	_, err = NewGlobFilter(nil, []string{"[node"})
	assert.Error(t, err)
}
