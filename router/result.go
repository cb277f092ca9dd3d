package router

import "github.com/courier-cdc/courier/common"

// ResultKind tags a RouteResult
type ResultKind uint8

const (
	// NoMatch routes nowhere
	NoMatch ResultKind = iota
	// AllNodes routes to every candidate
	AllNodes
	// NodeIDSet routes to the listed candidates
	NodeIDSet
)

func (k ResultKind) String() string {
	switch k {
	case AllNodes:
		return "all"
	case NodeIDSet:
		return "nodes"
	default:
		return "none"
	}
}

// RouteResult is the decoded outcome of one router evaluation
type RouteResult struct {
	Kind    ResultKind
	NodeIDs []string
}

// All routes to every candidate node
func All() RouteResult {
	return RouteResult{Kind: AllNodes}
}

// None routes nowhere
func None() RouteResult {
	return RouteResult{Kind: NoMatch}
}

// Nodes routes to the given node ids; an empty list is NoMatch
func Nodes(ids ...string) RouteResult {
	if len(ids) == 0 {
		return None()
	}
	return RouteResult{Kind: NodeIDSet, NodeIDs: ids}
}

// Union merges two results
func (r RouteResult) Union(o RouteResult) RouteResult {
	switch {
	case r.Kind == AllNodes || o.Kind == AllNodes:
		return All()
	case r.Kind == NoMatch:
		return o
	case o.Kind == NoMatch:
		return r
	}
	ids := make([]string, 0, len(r.NodeIDs)+len(o.NodeIDs))
	ids = append(ids, r.NodeIDs...)
	ids = append(ids, o.NodeIDs...)
	return Nodes(ids...)
}

// Select resolves the result against the candidate nodes. Ids that are not
// candidates are dropped; order follows candidates and ids are unique.
func (r RouteResult) Select(candidates []common.Node) []string {
	switch r.Kind {
	case AllNodes:
		out := make([]string, 0, len(candidates))
		for _, n := range candidates {
			out = append(out, n.NodeID)
		}
		return out
	case NodeIDSet:
		want := make(map[string]struct{}, len(r.NodeIDs))
		for _, id := range r.NodeIDs {
			want[id] = struct{}{}
		}
		var out []string
		for _, n := range candidates {
			if _, ok := want[n.NodeID]; ok {
				out = append(out, n.NodeID)
				delete(want, n.NodeID)
			}
		}
		return out
	default:
		return nil
	}
}
