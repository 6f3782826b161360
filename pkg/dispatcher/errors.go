package dispatcher

import (
	"fmt"
	"strings"

	"github.com/prismdb/prism/pkg/types"
)

// DispatchError reports a failure while communicating with a specific server
type DispatchError struct {
	RequestID int64
	Server    string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("failed to dispatch request %d to server %s: %v", e.RequestID, e.Server, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// ExplainError reports a worker-side failure on the explain path
type ExplainError struct {
	RequestID int64
	Server    string
	Message   string
}

func (e *ExplainError) Error() string {
	return fmt.Sprintf("explain of request %d failed on server %s: %s", e.RequestID, e.Server, e.Message)
}

// TimeoutError reports deadline expiry in serialization, fan-out, or reduce
type TimeoutError struct {
	RequestID int64
	Phase     string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %d timed out during %s", e.RequestID, e.Phase)
}

// ReduceError reports an error block terminating the reduce stream. It
// carries the worker-reported exceptions verbatim.
type ReduceError struct {
	RequestID  int64
	Exceptions []types.WorkerError
}

func (e *ReduceError) Error() string {
	msgs := make([]string, len(e.Exceptions))
	for i, ex := range e.Exceptions {
		msgs[i] = ex.Error()
	}
	return fmt.Sprintf("request %d failed during reduce: %s", e.RequestID, strings.Join(msgs, "; "))
}

// InvariantError reports a violated structural precondition. These are
// planner or programmer bugs, not runtime conditions.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return "invariant violated: " + e.Reason
}

func invariantf(format string, args ...any) *InvariantError {
	return &InvariantError{Reason: fmt.Sprintf(format, args...)}
}
