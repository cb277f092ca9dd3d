package router

import (
	"testing"

	"github.com/courier-cdc/courier/common"
	"github.com/stretchr/testify/assert"
)

var testNodes = []common.Node{
	{NodeID: "001", ExternalID: "store-1", NodeGroupID: "store", SyncEnabled: true},
	{NodeID: "002", ExternalID: "store-2", NodeGroupID: "store", SyncEnabled: true},
	{NodeID: "003", ExternalID: "store-3", NodeGroupID: "store", SyncEnabled: false},
	{NodeID: "100", ExternalID: "corp", NodeGroupID: "corp", SyncEnabled: true},
}

func TestRouteResult_Select(t *testing.T) {
	candidates := testNodes[:2]

	assert.Equal(t, []string{"001", "002"}, All().Select(candidates))
	assert.Nil(t, None().Select(candidates))
	assert.Equal(t, []string{"002"}, Nodes("002", "999").Select(candidates))
	assert.Equal(t, []string{"001", "002"}, Nodes("002", "001", "002").Select(candidates))
	assert.Equal(t, NoMatch, Nodes().Kind)
}

func TestRouteResult_Union(t *testing.T) {
	assert.Equal(t, AllNodes, None().Union(All()).Kind)
	assert.Equal(t, AllNodes, Nodes("1").Union(All()).Kind)
	assert.Equal(t, []string{"1"}, None().Union(Nodes("1")).NodeIDs)
	assert.Equal(t, []string{"1", "2"}, Nodes("1").Union(Nodes("2")).NodeIDs)
	assert.Equal(t, NoMatch, None().Union(None()).Kind)
}

func TestCandidates(t *testing.T) {
	r := &common.Router{RouterID: "corp_2_store", TargetNodeGroupID: "store"}
	got := Candidates(testNodes, r)
	if len(got) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(got))
	}
	assert.Equal(t, "001", got[0].NodeID)
	assert.Equal(t, "002", got[1].NodeID)

	filtered := ExcludeSource(got, "001")
	assert.Len(t, filtered, 1)
	assert.Equal(t, "002", filtered[0].NodeID)
	assert.Len(t, got, 2, "source exclusion must not modify the input")
	assert.Len(t, ExcludeSource(got, ""), 2)
}
