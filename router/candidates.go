package router

import "github.com/courier-cdc/courier/common"

// Candidates returns the sync-enabled nodes of the router's target group
func Candidates(nodes []common.Node, r *common.Router) []common.Node {
	var out []common.Node
	for _, n := range nodes {
		if n.SyncEnabled && n.NodeGroupID == r.TargetNodeGroupID {
			out = append(out, n)
		}
	}
	return out
}

// ExcludeSource drops the node a change originated from so it is never
// echoed back
func ExcludeSource(candidates []common.Node, sourceNodeID string) []common.Node {
	if sourceNodeID == "" {
		return candidates
	}
	for i, n := range candidates {
		if n.NodeID == sourceNodeID {
			out := make([]common.Node, 0, len(candidates)-1)
			out = append(out, candidates[:i]...)
			return append(out, candidates[i+1:]...)
		}
	}
	return candidates
}
