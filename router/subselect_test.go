package router

import (
	"context"
	"errors"
	"testing"

	"github.com/courier-cdc/courier/common"
	"github.com/courier-cdc/courier/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindNamed(t *testing.T) {
	query, params, err := bindNamed("SELECT 1 WHERE a = :STORE_ID AND b = ':NOT_A_PARAM' AND c = :old_status")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1 WHERE a = ? AND b = ':NOT_A_PARAM' AND c = ?", query)
	assert.Equal(t, []string{"STORE_ID", "OLD_STATUS"}, params)

	query, params, err = bindNamed("SELECT 'it''s' WHERE x = :X")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 'it''s' WHERE x = ?", query)
	assert.Equal(t, []string{"X"}, params)

	_, _, err = bindNamed("SELECT 'open")
	assert.Error(t, err)
}

func subSelectFixture(t *testing.T) *db.Store {
	t.Helper()
	s := db.OpenTestStore(t)
	ctx := context.Background()
	for _, n := range testNodes {
		require.NoError(t, s.SaveNode(ctx, s.Writer(), n))
	}
	return s
}

func subSelectRequest(expression string, row map[string]*string) *Request {
	return &Request{
		Data:       &common.Data{DataID: 7, TableName: "sale_transaction", EventType: common.EventInsert, ChannelID: "sale"},
		Row:        row,
		Router:     &common.Router{RouterID: "sub", RouterType: common.RouterTypeSubSelect, RouterExpression: expression, TargetNodeGroupID: "store"},
		Candidates: testNodes[:2],
	}
}

func TestSubSelectRouter(t *testing.T) {
	s := subSelectFixture(t)
	cache, err := NewCache(16)
	require.NoError(t, err)
	e := NewEngine(Options{Querier: s.Reader(), Cache: cache, SQLDialect: DialectSQLite})

	row := map[string]*string{"STORE_ID": common.StrPtr("store-2")}
	ids, err := e.Route(context.Background(), subSelectRequest("c.external_id = :STORE_ID", row))
	require.NoError(t, err)
	assert.Equal(t, []string{"002"}, ids)

	// node 003 is in the group but sync disabled
	row = map[string]*string{"STORE_ID": common.StrPtr("store-3")}
	ids, err = e.Route(context.Background(), subSelectRequest("c.external_id = :STORE_ID", row))
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = e.Route(context.Background(), subSelectRequest("c.external_id != :TABLE_NAME", row))
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "002"}, ids)

	hits, misses := cache.Stats()
	assert.Equal(t, 2, misses)
	assert.Equal(t, 1, hits)
}

func TestSubSelectRouter_MalformedSQL(t *testing.T) {
	s := subSelectFixture(t)
	cache, err := NewCache(16)
	require.NoError(t, err)
	e := NewEngine(Options{Querier: s.Reader(), Cache: cache, SQLDialect: DialectSQLite})

	_, err = e.Route(context.Background(), subSelectRequest("c.external_id = = :STORE_ID", nil))
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %v", err)
	assert.Equal(t, "sub", cfgErr.RouterID)
}

func TestSubSelectRouter_MissingParameter(t *testing.T) {
	s := subSelectFixture(t)
	cache, err := NewCache(16)
	require.NoError(t, err)
	e := NewEngine(Options{Querier: s.Reader(), Cache: cache})

	ids, err := e.Route(context.Background(), subSelectRequest("c.external_id = :UNKNOWN_COLUMN", map[string]*string{}))
	require.NoError(t, err)
	assert.Nil(t, ids)
	assert.Equal(t, int64(1), e.ExpressionErrors())
}

func TestSubSelectRouter_QueryFailure(t *testing.T) {
	s := subSelectFixture(t)
	cache, err := NewCache(16)
	require.NoError(t, err)
	e := NewEngine(Options{Querier: s.Reader(), Cache: cache})

	_, err = e.Route(context.Background(), subSelectRequest("c.node_id IN (SELECT store FROM missing_table)", nil))
	require.Error(t, err)
	var exprErr *ExpressionError
	assert.False(t, errors.As(err, &exprErr))
}

func TestCompileSubSelect_Dialects(t *testing.T) {
	tests := []struct {
		name       string
		dialect    string
		expression string
		wantErr    bool
	}{
		{"sqlite valid", DialectSQLite, "c.external_id = :STORE_ID", false},
		{"sqlite malformed", DialectSQLite, "c.external_id = = :STORE_ID", true},
		{"mysql valid", DialectMySQL, "c.external_id = :STORE_ID", false},
		{"mysql regexp", DialectMySQL, "c.external_id REGEXP :STORE_ID", false},
		{"mysql malformed", DialectMySQL, "c.external_id = = :STORE_ID", true},
		{"mysql unbalanced", DialectMySQL, "c.external_id IN (SELECT node_id FROM sym_node", true},
		{"no dialect skips parsing", "", "c.external_id = = :STORE_ID", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cq, err := compileSubSelect("sub", tt.expression, tt.dialect)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, []string{"NODE_GROUP_ID", "STORE_ID"}, cq.params)
				return
			}
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %v", err)
			assert.Equal(t, "sub", cfgErr.RouterID)
		})
	}
}

func TestSubSelectRouter_MalformedMySQL(t *testing.T) {
	s := subSelectFixture(t)
	cache, err := NewCache(16)
	require.NoError(t, err)
	e := NewEngine(Options{Querier: s.Reader(), Cache: cache, SQLDialect: DialectMySQL})

	_, err = e.Route(context.Background(), subSelectRequest("c.external_id = = :STORE_ID", nil))
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %v", err)
	assert.Equal(t, int64(0), e.ExpressionErrors())
}
