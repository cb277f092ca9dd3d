package publisher

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter selects batch events by channel and target node patterns.
// An empty pattern list matches everything.
type GlobFilter struct {
	channels []glob.Glob
	nodes    []glob.Glob
}

// NewGlobFilter compiles channel and node patterns
func NewGlobFilter(channelPatterns, nodePatterns []string) (*GlobFilter, error) {
	channels, err := compileGlobs("channel", channelPatterns)
	if err != nil {
		return nil, err
	}
	nodes, err := compileGlobs("node", nodePatterns)
	if err != nil {
		return nil, err
	}
	return &GlobFilter{channels: channels, nodes: nodes}, nil
}

func compileGlobs(kind string, patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", kind, p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func matchAny(globs []glob.Glob, s string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}

// Match returns true when both the channel and the node match
func (f *GlobFilter) Match(channelID, nodeID string) bool {
	return matchAny(f.channels, channelID) && matchAny(f.nodes, nodeID)
}
