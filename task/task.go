package task

import (
	"sync"

	"emperror.dev/errors"
	"github.com/zigzed/arq/marshaller"
	"github.com/zigzed/arq/result"
)

// Task is one unit of work. A producer builds it from a payload; an agent
// rebuilds it from the payload record it dequeued.
type Task struct {
	Id        string
	Payload   interface{}
	Score     float64
	ResultKey string

	// Callback runs after the result is published. It may take any subset
	// of context.Context, *Task, the worker error and the worker's return
	// value (the ERROR:: reply text when it failed), in any order, and may
	// return an error.
	Callback interface{}

	mu     sync.Mutex
	future result.Subscription
}

func NewTask(id string, payload interface{}, score float64, resultKey string) *Task {
	return &Task{
		Id:        id,
		Payload:   payload,
		Score:     score,
		ResultKey: resultKey,
	}
}

// Encode serializes the task payload with m.
func (t *Task) Encode(m marshaller.Marshaller) ([]byte, error) {
	buf, err := m.Encode(t.Payload)
	if err != nil {
		return nil, errors.Wrapf(err, "encode task %s failed", t.Id)
	}
	return buf, nil
}

// Decode reverses Encode on data with m.
func (t *Task) Decode(m marshaller.Marshaller, data interface{}) (interface{}, error) {
	v, err := m.Decode(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode task %s failed", t.Id)
	}
	return v, nil
}

// Bytes returns the payload as raw bytes when it is textual.
func (t *Task) Bytes() ([]byte, bool) {
	switch p := t.Payload.(type) {
	case []byte:
		return p, true
	case string:
		return []byte(p), true
	}
	return nil, false
}

// Text returns the payload as a string when it is textual.
func (t *Task) Text() (string, bool) {
	b, ok := t.Bytes()
	return string(b), ok
}

// Ensure attaches the result subscription opened for this task.
func (t *Task) Ensure(sub result.Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.future = sub
}

// Ensured reports whether a result subscription is attached and not released.
func (t *Task) Ensured() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.future != nil
}

// Future returns the attached subscription, or nil.
func (t *Task) Future() result.Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.future
}

// Release closes and detaches the result subscription. It is safe to call
// more than once.
func (t *Task) Release() error {
	t.mu.Lock()
	sub := t.future
	t.future = nil
	t.mu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Close()
}
