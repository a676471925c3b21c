package apierrors

import (
	"errors"
	"fmt"
)

// ToolError is the structured failure shape spec §4.5/§7 requires:
// {toolName, reason}. It preserves causal chains via Cause so errors.Is/As
// keeps working across tool-call retries, the way the teacher's
// toolerrors.ToolError does.
type ToolError struct {
	ToolName string
	Reason   string
	Cause    *ToolError
}

// NewToolError constructs a ToolError with no cause.
func NewToolError(toolName, reason string) *ToolError {
	if reason == "" {
		reason = "tool error"
	}
	return &ToolError{ToolName: toolName, Reason: reason}
}

// ToolErrorFromError converts an arbitrary error into a ToolError chain,
// reusing an existing *ToolError in err's chain if present instead of
// re-wrapping it.
func ToolErrorFromError(toolName string, err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{
		ToolName: toolName,
		Reason:   err.Error(),
		Cause:    ToolErrorFromError(toolName, errors.Unwrap(err)),
	}
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("tool %s: %s", e.ToolName, e.Reason)
}

// Unwrap returns the underlying tool error to support errors.Is/As.
func (e *ToolError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}
