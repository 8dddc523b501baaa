package arq

import (
	"fmt"

	"emperror.dev/errors"
)

const (
	ErrSubmission     = errors.Sentinel("task submission failed")
	ErrPayloadMissing = errors.Sentinel("task payload missing")
	ErrResultTimeout  = errors.Sentinel("timed out waiting for task result")
	ErrNotEnsured     = errors.Sentinel("task result not ensured")
)

// SubmissionError reports an enqueue that did not happen. Nothing of the
// task is visible in the store.
type SubmissionError struct {
	Id  string
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s: task %s: %v", ErrSubmission, e.Id, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

func (e *SubmissionError) Is(target error) bool {
	return target == ErrSubmission
}
