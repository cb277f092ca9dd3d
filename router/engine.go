// Package router decides which target nodes receive a captured change.
//
// A router is configuration data: a type and an expression. The Engine
// selects the Strategy for the router type, evaluates it against the change
// and the candidate nodes, and resolves the tagged RouteResult into node ids.
package router

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/courier-cdc/courier/common"
	"github.com/courier-cdc/courier/telemetry"
	"github.com/rs/zerolog/log"
)

// Querier runs the sub-select router's lookup query
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Request is one change offered to one router
type Request struct {
	Data       *common.Data
	Row        map[string]*string // upper-cased column → post-image value
	Old        map[string]*string // upper-cased column → pre-image value
	Router     *common.Router
	Candidates []common.Node
}

// Strategy evaluates a router expression
type Strategy interface {
	Route(ctx context.Context, req *Request) (RouteResult, error)
}

// Options configures an Engine
type Options struct {
	// Querier runs sub-select lookups, normally the pass transaction
	Querier Querier
	// Cache holds compiled expressions for the pass
	Cache *Cache
	// Redirects maps registrant external id → registration node id
	Redirects map[string]string
	// SQLDialect is the source database driver. Sub-select SQL is parsed
	// in this dialect before first use; empty skips validation.
	SQLDialect string
}

// Engine routes changes for one pass. It is not safe for concurrent use.
type Engine struct {
	strategies       map[string]Strategy
	expressionErrors int64
}

// NewEngine builds the strategies for a pass
func NewEngine(opts Options) *Engine {
	return &Engine{
		strategies: map[string]Strategy{
			common.RouterTypeDefault:   defaultStrategy{},
			common.RouterTypeColumn:    &columnStrategy{cache: opts.Cache, redirects: opts.Redirects},
			common.RouterTypeSubSelect: &subSelectStrategy{cache: opts.Cache, q: opts.Querier, dialect: opts.SQLDialect},
			common.RouterTypeScript:    &scriptStrategy{cache: opts.Cache},
		},
	}
}

// Register replaces or adds the strategy for a router type
func (e *Engine) Register(routerType string, s Strategy) {
	e.strategies[routerType] = s
}

// ExpressionErrors returns how many evaluations failed and routed nowhere
func (e *Engine) ExpressionErrors() int64 {
	return e.expressionErrors
}

// Route returns the candidate node ids req's router selects. Expression
// failures are logged and route nowhere; a ConfigError or a database
// failure is returned.
func (e *Engine) Route(ctx context.Context, req *Request) ([]string, error) {
	if len(req.Candidates) == 0 {
		return nil, nil
	}

	routerType := req.Router.RouterType
	if routerType == "" {
		routerType = common.RouterTypeDefault
	}
	strategy, ok := e.strategies[routerType]
	if !ok {
		return nil, &ConfigError{RouterID: req.Router.RouterID, Reason: "unknown router type " + routerType}
	}

	if strings.TrimSpace(req.Router.RouterExpression) == "" {
		return All().Select(req.Candidates), nil
	}

	result, err := strategy.Route(ctx, req)
	if err != nil {
		var exprErr *ExpressionError
		if errors.As(err, &exprErr) {
			e.expressionErrors++
			telemetry.RouterExpressionErrorsTotal.With(req.Router.RouterID).Inc()
			log.Warn().
				Err(err).
				Str("router_id", req.Router.RouterID).
				Int64("data_id", req.Data.DataID).
				Msg("Router expression failed, change routed nowhere")
			return nil, nil
		}
		return nil, err
	}

	return result.Select(req.Candidates), nil
}

type defaultStrategy struct{}

func (defaultStrategy) Route(context.Context, *Request) (RouteResult, error) {
	return All(), nil
}
