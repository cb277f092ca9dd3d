package router

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/courier-cdc/courier/common"
)

// Well-known column-match value tokens
const (
	tokenNodeID       = ":NODE_ID"
	tokenExternalID   = ":EXTERNAL_ID"
	tokenNodeGroupID  = ":NODE_GROUP_ID"
	tokenRedirectNode = ":REDIRECT_NODE"
	tokenNull         = "NULL"
	oldColumnPrefix   = "OLD_"
)

var orSplitter = regexp.MustCompile(`(?i)\s+or\s+`)

// columnMatch is one parsed `column=value` or `column!=value` term
type columnMatch struct {
	column string
	old    bool
	equals bool
	value  string
}

// parseColumnExpression splits an expression into terms on newlines and
// " or ". Terms are unioned.
func parseColumnExpression(expression string) ([]columnMatch, error) {
	var matches []columnMatch
	for _, line := range strings.Split(expression, "\n") {
		for _, term := range orSplitter.Split(line, -1) {
			term = strings.TrimSpace(term)
			if term == "" {
				continue
			}
			m, err := parseColumnTerm(term)
			if err != nil {
				return nil, err
			}
			matches = append(matches, m)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("empty column expression")
	}
	return matches, nil
}

func parseColumnTerm(term string) (columnMatch, error) {
	m := columnMatch{equals: true}
	op := "="
	idx := strings.Index(term, "!=")
	if idx >= 0 {
		m.equals = false
		op = "!="
	} else {
		idx = strings.Index(term, "=")
	}
	if idx < 0 {
		return m, fmt.Errorf("no operator in %q", term)
	}

	column := strings.ToUpper(strings.TrimSpace(term[:idx]))
	if column == "" {
		return m, fmt.Errorf("no column in %q", term)
	}
	if strings.HasPrefix(column, oldColumnPrefix) {
		m.old = true
		column = strings.TrimPrefix(column, oldColumnPrefix)
	}
	m.column = column
	m.value = unquote(strings.TrimSpace(term[idx+len(op):]))
	return m, nil
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// columnStrategy matches a change column against node attributes or a
// literal
type columnStrategy struct {
	cache     *Cache
	redirects map[string]string
}

func (s *columnStrategy) Route(_ context.Context, req *Request) (RouteResult, error) {
	routerID := req.Router.RouterID
	matches, err := compiled(s.cache, "column", routerID, req.Router.RouterExpression, func() ([]columnMatch, error) {
		m, err := parseColumnExpression(req.Router.RouterExpression)
		if err != nil {
			return nil, expressionErr(routerID, "%v", err)
		}
		return m, nil
	})
	if err != nil {
		return None(), err
	}

	result := None()
	for _, m := range matches {
		images := req.Row
		if m.old {
			images = req.Old
		}

		var value *string
		if images != nil {
			v, ok := images[m.column]
			if !ok {
				return None(), expressionErr(routerID, "column %s not captured for table %s", m.column, req.Data.TableName)
			}
			value = v
		}

		result = result.Union(s.evaluate(m, value, req.Candidates))
		if result.Kind == AllNodes {
			break
		}
	}
	return result, nil
}

func (s *columnStrategy) evaluate(m columnMatch, value *string, candidates []common.Node) RouteResult {
	switch m.value {
	case tokenNodeID:
		return matchNodes(candidates, value, m.equals, func(n common.Node) string { return n.NodeID })
	case tokenExternalID:
		return matchNodes(candidates, value, m.equals, func(n common.Node) string { return n.ExternalID })
	case tokenNodeGroupID:
		return matchNodes(candidates, value, m.equals, func(n common.Node) string { return n.NodeGroupID })
	case tokenRedirectNode:
		var target *string
		if value != nil {
			if nodeID, ok := s.redirects[*value]; ok {
				target = &nodeID
			}
		}
		return matchNodes(candidates, target, m.equals, func(n common.Node) string { return n.NodeID })
	case tokenNull:
		if (value == nil) == m.equals {
			return All()
		}
		return None()
	default:
		if (value != nil && *value == m.value) == m.equals {
			return All()
		}
		return None()
	}
}

func matchNodes(candidates []common.Node, value *string, equals bool, attr func(common.Node) string) RouteResult {
	var ids []string
	for _, n := range candidates {
		if (value != nil && attr(n) == *value) == equals {
			ids = append(ids, n.NodeID)
		}
	}
	return Nodes(ids...)
}
