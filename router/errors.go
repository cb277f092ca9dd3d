package router

import "fmt"

// ConfigError is a router misconfiguration. It aborts the routing pass.
type ConfigError struct {
	RouterID string
	Reason   string
	Err      error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("router %s: %s: %v", e.RouterID, e.Reason, e.Err)
	}
	return fmt.Sprintf("router %s: %s", e.RouterID, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ExpressionError is a router expression that could not be evaluated for
// one change. The change is treated as routed nowhere.
type ExpressionError struct {
	RouterID string
	Err      error
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("router %s expression: %v", e.RouterID, e.Err)
}

func (e *ExpressionError) Unwrap() error {
	return e.Err
}

func expressionErr(routerID string, format string, args ...interface{}) error {
	return &ExpressionError{RouterID: routerID, Err: fmt.Errorf(format, args...)}
}
