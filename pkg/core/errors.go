package core

import (
	"errors"
	"fmt"
)

// SchemaValidationError reports a bad DAG connection, an unknown column
// reference, or a misused aggregate/window function. It carries the
// node and port so the editor can highlight the offending connection.
type SchemaValidationError struct {
	NodeID  string `json:"node_id"`
	Port    int    `json:"port"`
	Message string `json:"message"`
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("node %s port %d: %s", e.NodeID, e.Port, e.Message)
}

// CompileErrorKind classifies compilation failures.
type CompileErrorKind string

// Compilation failure kinds.
const (
	CompileCycle           CompileErrorKind = "cycle"
	CompileUnsupportedNode CompileErrorKind = "unsupported_node"
	CompileIncompleteBind  CompileErrorKind = "incomplete_binding"
	CompilePaginationBound CompileErrorKind = "pagination_bound_exceeded"
	CompileUnknownTable    CompileErrorKind = "unknown_table"
	CompileBadConfig       CompileErrorKind = "bad_config"
)

// CompilationError fails the whole compile call; a partial or invalid
// query is never emitted alongside one.
type CompilationError struct {
	Kind    CompileErrorKind `json:"kind"`
	NodeID  string           `json:"node_id,omitempty"`
	Message string           `json:"message"`
}

func (e *CompilationError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("compile: %s at node %s: %s", e.Kind, e.NodeID, e.Message)
	}
	return fmt.Sprintf("compile: %s: %s", e.Kind, e.Message)
}

// ExecErrorKind classifies execution failures.
type ExecErrorKind string

// Execution failure kinds.
const (
	ExecTimeout     ExecErrorKind = "timeout"
	ExecRowCap      ExecErrorKind = "row_cap_exceeded"
	ExecUnreachable ExecErrorKind = "store_unreachable"
	ExecRejected    ExecErrorKind = "query_rejected"
)

// ExecutionError is surfaced to callers as a typed failure with a
// human-readable reason. There is no silent fallback to stale data.
type ExecutionError struct {
	Kind    ExecErrorKind `json:"kind"`
	Store   string        `json:"store"`
	Message string        `json:"message"`
	Err     error         `json:"-"`
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute on %s: %s: %s", e.Store, e.Kind, e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Reason returns the user-facing explanation of the failure, with a
// hint where one helps (preview failures must say why, not hang).
func (e *ExecutionError) Reason() string {
	switch e.Kind {
	case ExecRowCap:
		return "row scan cap exceeded — narrow your filter"
	case ExecTimeout:
		return "query timed out — reduce the data range or simplify the workflow"
	case ExecUnreachable:
		return "backing store unreachable — try again shortly"
	default:
		return e.Message
	}
}

// Sentinel errors shared across components.
var (
	// ErrNotFound is returned by registry lookups for unknown tables.
	ErrNotFound = errors.New("not found")

	// ErrCacheUnavailable marks a cache backend round trip that
	// failed; callers log it and fall through to direct execution.
	ErrCacheUnavailable = errors.New("cache backend unavailable")

	// ErrSubscriptionClosed is delivered to consumers whose channel
	// was torn down by the last detach.
	ErrSubscriptionClosed = errors.New("subscription closed")
)
