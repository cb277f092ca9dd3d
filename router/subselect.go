package router

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rqlite/sql"
	"vitess.io/vitess/go/vt/sqlparser"
)

// Source database dialects a sub-select can be validated against
const (
	DialectSQLite = "sqlite3"
	DialectMySQL  = "mysql"
)

// subSelectPrefix is the fixed query a sub-select expression is appended to
const subSelectPrefix = "SELECT c.node_id FROM sym_node c WHERE c.node_group_id = :NODE_GROUP_ID AND c.sync_enabled = 1 AND ("

// Named parameters bound for every change besides its columns
const (
	paramNodeGroupID   = "NODE_GROUP_ID"
	paramExternalData  = "EXTERNAL_DATA"
	paramTableName     = "TABLE_NAME"
	paramDataEventType = "DATA_EVENT_TYPE"
	paramChannelID     = "CHANNEL_ID"
	paramSourceNodeID  = "SOURCE_NODE_ID"
)

// compiledQuery is a sub-select rewritten to positional placeholders
type compiledQuery struct {
	sql    string
	params []string
}

var mysqlParser = sync.OnceValues(func() (*sqlparser.Parser, error) {
	return sqlparser.New(sqlparser.Options{})
})

// validateSubSelect parses the full lookup query in the source dialect
func validateSubSelect(dialect, query string) error {
	switch dialect {
	case DialectSQLite:
		_, err := sql.NewParser(strings.NewReader(query)).ParseStatement()
		return err
	case DialectMySQL:
		p, err := mysqlParser()
		if err != nil {
			return err
		}
		_, err = p.Parse(query)
		return err
	default:
		return nil
	}
}

// compileSubSelect builds the lookup query for expression, parsing it in
// dialect first when one is set
func compileSubSelect(routerID, expression, dialect string) (*compiledQuery, error) {
	full := subSelectPrefix + expression + ")"

	if err := validateSubSelect(dialect, full); err != nil {
		return nil, &ConfigError{RouterID: routerID, Reason: "malformed sub-select", Err: err}
	}

	query, params, err := bindNamed(full)
	if err != nil {
		return nil, &ConfigError{RouterID: routerID, Reason: "malformed sub-select", Err: err}
	}
	return &compiledQuery{sql: query, params: params}, nil
}

// bindNamed rewrites :NAME parameters outside string literals to ? and
// returns the upper-cased names in order
func bindNamed(query string) (string, []string, error) {
	var b strings.Builder
	var params []string
	b.Grow(len(query))

	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			end := strings.IndexByte(query[i+1:], c)
			if end < 0 {
				return "", nil, fmt.Errorf("unterminated quote at offset %d", i)
			}
			b.WriteString(query[i : i+end+2])
			i += end + 1
		case c == ':' && i+1 < len(query) && isIdentStart(query[i+1]):
			j := i + 1
			for j < len(query) && isIdentPart(query[j]) {
				j++
			}
			params = append(params, strings.ToUpper(query[i+1:j]))
			b.WriteByte('?')
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), params, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// subSelectStrategy runs a lookup query against the source database for
// every change. This is the slowest strategy: one query per change.
type subSelectStrategy struct {
	cache   *Cache
	q       Querier
	dialect string
}

func (s *subSelectStrategy) Route(ctx context.Context, req *Request) (RouteResult, error) {
	routerID := req.Router.RouterID
	cq, err := compiled(s.cache, "subselect", routerID, req.Router.RouterExpression, func() (*compiledQuery, error) {
		return compileSubSelect(routerID, req.Router.RouterExpression, s.dialect)
	})
	if err != nil {
		return None(), err
	}
	if s.q == nil {
		return None(), &ConfigError{RouterID: routerID, Reason: "sub-select router without a database"}
	}

	values := subSelectParams(req)
	args := make([]interface{}, len(cq.params))
	for i, name := range cq.params {
		v, ok := values[name]
		if !ok {
			return None(), expressionErr(routerID, "no value for parameter :%s", name)
		}
		args[i] = v
	}

	rows, err := s.q.QueryContext(ctx, cq.sql, args...)
	if err != nil {
		return None(), fmt.Errorf("sub-select router %s: %w", routerID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return None(), fmt.Errorf("sub-select router %s: %w", routerID, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return None(), fmt.Errorf("sub-select router %s: %w", routerID, err)
	}
	return Nodes(ids...), nil
}

func subSelectParams(req *Request) map[string]interface{} {
	values := make(map[string]interface{}, len(req.Row)+len(req.Old)+6)
	for col, v := range req.Old {
		values[oldColumnPrefix+col] = nullableValue(v)
	}
	for col, v := range req.Row {
		values[col] = nullableValue(v)
	}
	d := req.Data
	values[paramNodeGroupID] = req.Router.TargetNodeGroupID
	values[paramExternalData] = d.ExternalData
	values[paramTableName] = d.TableName
	values[paramDataEventType] = d.EventType.Code()
	values[paramChannelID] = d.ChannelID
	values[paramSourceNodeID] = d.SourceNodeID
	return values
}

func nullableValue(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
