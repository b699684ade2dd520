package llm

import (
	"fmt"
	"time"
)

// SubmissionError reports a provider call that failed. Op names the phase
// that failed: upload, poll, or generate.
type SubmissionError struct {
	Op  string
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("analysis %s failed: %v", e.Op, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that uploaded content never became ready for
// analysis within the polling budget.
type TimeoutError struct {
	Attempts int
	Interval time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("analysis timed out waiting for content to become ready (%d polls at %s)", e.Attempts, e.Interval)
}
