package router

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// scriptStrategy evaluates an expression program per change. The program
// sees every column by name (OLD_ prefixed for the pre-image) and the
// candidate nodes. A bool routes to all or none; a string or list of
// strings names nodes; nil routes nowhere.
type scriptStrategy struct {
	cache *Cache
}

func compileScript(routerID, source string) (*vm.Program, error) {
	program, err := expr.Compile(source, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, expressionErr(routerID, "compile: %v", err)
	}
	return program, nil
}

func (s *scriptStrategy) Route(_ context.Context, req *Request) (RouteResult, error) {
	routerID := req.Router.RouterID
	program, err := compiled(s.cache, "script", routerID, req.Router.RouterExpression, func() (*vm.Program, error) {
		return compileScript(routerID, req.Router.RouterExpression)
	})
	if err != nil {
		return None(), err
	}

	out, err := expr.Run(program, scriptEnv(req))
	if err != nil {
		return None(), expressionErr(routerID, "run: %v", err)
	}
	return decodeScriptResult(routerID, out)
}

func scriptEnv(req *Request) map[string]interface{} {
	env := make(map[string]interface{}, len(req.Row)+len(req.Old)+10)
	for col, v := range req.Old {
		env[oldColumnPrefix+col] = nullableValue(v)
	}
	for col, v := range req.Row {
		env[col] = nullableValue(v)
	}

	ids := make([]string, len(req.Candidates))
	for i, n := range req.Candidates {
		ids[i] = n.NodeID
	}
	d := req.Data
	env["nodes"] = req.Candidates
	env["nodeIds"] = ids
	env["targetNodeGroupId"] = req.Router.TargetNodeGroupID
	env["channelId"] = d.ChannelID
	env["tableName"] = d.TableName
	env["eventType"] = d.EventType.Code()
	env["externalData"] = d.ExternalData
	env["sourceNodeId"] = d.SourceNodeID
	env["dataId"] = d.DataID
	return env
}

// decodeScriptResult turns a program result into a RouteResult
func decodeScriptResult(routerID string, out interface{}) (RouteResult, error) {
	switch v := out.(type) {
	case nil:
		return None(), nil
	case bool:
		if v {
			return All(), nil
		}
		return None(), nil
	case string:
		if v == "" {
			return None(), nil
		}
		return Nodes(v), nil
	case []string:
		return Nodes(v...), nil
	case []interface{}:
		ids := make([]string, 0, len(v))
		for _, item := range v {
			id, ok := item.(string)
			if !ok {
				return None(), expressionErr(routerID, "result list holds %T, want string", item)
			}
			ids = append(ids, id)
		}
		return Nodes(ids...), nil
	default:
		return None(), expressionErr(routerID, "unsupported result type %s", fmt.Sprintf("%T", v))
	}
}
