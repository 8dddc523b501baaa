package result

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"emperror.dev/errors"
)

// Prefix marks a reply that carries a worker failure instead of a value.
const Prefix = "ERROR::"

// Subscription is a listener on one result channel. It is registered with the
// store before it is returned, so a message published afterwards is delivered.
type Subscription interface {
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// WorkerError is the decoded form of an ERROR:: reply.
type WorkerError struct {
	Kind    string
	Message string
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("%s%s|%s", Prefix, e.Kind, e.Message)
}

// Kind names the concrete type at the root of err's cause chain.
func Kind(err error) string {
	var we *WorkerError
	if errors.As(err, &we) {
		return we.Kind
	}
	return fmt.Sprintf("%T", errors.Cause(err))
}

// FormatError renders err as "ERROR::<kind>|<message>".
func FormatError(err error) []byte {
	var we *WorkerError
	if errors.As(err, &we) {
		return []byte(we.Error())
	}
	return []byte(fmt.Sprintf("%s%s|%s", Prefix, Kind(err), err.Error()))
}

// IsError reports whether reply carries a worker failure.
func IsError(reply []byte) bool {
	return bytes.HasPrefix(reply, []byte(Prefix))
}

// AsError returns a *WorkerError for an ERROR:: reply and nil otherwise.
func AsError(reply []byte) error {
	if !IsError(reply) {
		return nil
	}
	body := strings.TrimPrefix(string(reply), Prefix)
	kind, msg, found := strings.Cut(body, "|")
	if !found {
		return &WorkerError{Message: body}
	}
	return &WorkerError{Kind: kind, Message: msg}
}

// Parse splits a reply into its value or its worker failure.
func Parse(reply []byte) ([]byte, error) {
	if err := AsError(reply); err != nil {
		return nil, err
	}
	return reply, nil
}
