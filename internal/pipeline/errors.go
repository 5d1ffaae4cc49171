package pipeline

import "fmt"

// ValidationError reports an inbound payload that cannot become a validation
// request. The webhook layer maps it to 400/422.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid payload: %s: %s", e.Field, e.Msg)
	}
	return "invalid payload: " + e.Msg
}

// NotFoundError reports a Process call for a change that was never received.
type NotFoundError struct {
	ChangeID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no validation request for change %q", e.ChangeID)
}

// ProcessingError reports a failure before a verdict was produced. The row has
// already been marked failed (best effort) when this is returned.
type ProcessingError struct {
	ChangeID string
	Stage    string
	Err      error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing change %q failed at %s: %v", e.ChangeID, e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// PostingError reports a failed verdict write-back. It is logged, never
// returned: posting is best-effort and must not fail a completed validation.
type PostingError struct {
	ChangeID string
	Err      error
}

func (e *PostingError) Error() string {
	return fmt.Sprintf("posting verdict to change %q: %v", e.ChangeID, e.Err)
}

func (e *PostingError) Unwrap() error { return e.Err }
