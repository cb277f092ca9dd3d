package router

import (
	"context"
	"errors"
	"testing"

	"github.com/courier-cdc/courier/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedStrategy struct {
	result RouteResult
	calls  int
}

func (f *fixedStrategy) Route(context.Context, *Request) (RouteResult, error) {
	f.calls++
	return f.result, nil
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cache, err := NewCache(8)
	require.NoError(t, err)
	return NewEngine(Options{Cache: cache})
}

func TestEngine_BlankExpressionRoutesToAllCandidates(t *testing.T) {
	e := newTestEngine(t)
	r := &common.Router{RouterID: "r", TargetNodeGroupID: "store"}
	candidates := Candidates(testNodes, r)

	for _, routerType := range []string{"", common.RouterTypeDefault, common.RouterTypeColumn, common.RouterTypeSubSelect, common.RouterTypeScript} {
		r.RouterType = routerType
		r.RouterExpression = "  "
		ids, err := e.Route(context.Background(), &Request{Data: &common.Data{DataID: 1}, Router: r, Candidates: candidates})
		require.NoError(t, err, routerType)
		assert.Equal(t, []string{"001", "002"}, ids, routerType)
	}
}

func TestEngine_NoCandidates(t *testing.T) {
	e := newTestEngine(t)
	ids, err := e.Route(context.Background(), &Request{
		Data:   &common.Data{DataID: 1},
		Router: &common.Router{RouterID: "r", RouterType: "bogus"},
	})
	assert.NoError(t, err)
	assert.Nil(t, ids)
}

func TestEngine_UnknownRouterType(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Route(context.Background(), &Request{
		Data:       &common.Data{DataID: 1},
		Router:     &common.Router{RouterID: "r", RouterType: "lookuptable"},
		Candidates: testNodes[:1],
	})
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, cfgErr.Error(), "lookuptable")
}

func TestEngine_Register(t *testing.T) {
	e := newTestEngine(t)
	custom := &fixedStrategy{result: Nodes("002", "100")}
	e.Register("custom", custom)

	ids, err := e.Route(context.Background(), &Request{
		Data:       &common.Data{DataID: 1},
		Router:     &common.Router{RouterID: "r", RouterType: "custom", RouterExpression: "x"},
		Candidates: testNodes[:2],
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"002"}, ids, "non-candidates are dropped")
	assert.Equal(t, 1, custom.calls)
}

func TestCache_KeyedByExpression(t *testing.T) {
	cache, err := NewCache(8)
	require.NoError(t, err)

	compiles := 0
	compile := func() (string, error) {
		compiles++
		return "ok", nil
	}

	for i := 0; i < 3; i++ {
		v, err := compiled(cache, "column", "r", "A=1", compile)
		require.NoError(t, err)
		assert.Equal(t, "ok", v)
	}
	_, err = compiled(cache, "column", "r", "A=2", compile)
	require.NoError(t, err)

	assert.Equal(t, 2, compiles)
	hits, misses := cache.Stats()
	assert.Equal(t, 2, hits)
	assert.Equal(t, 2, misses)
}
