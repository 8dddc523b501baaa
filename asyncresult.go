package arq

import (
	"context"
	"time"

	"emperror.dev/errors"
	"github.com/zigzed/arq/result"
)

// AsyncResult is the pending reply of one task.
type AsyncResult struct {
	id      string
	sub     result.Subscription
	release func() error
}

func newAsyncResult(id string, sub result.Subscription, release func() error) *AsyncResult {
	return &AsyncResult{
		id:      id,
		sub:     sub,
		release: release,
	}
}

// Wait returns the first message on the result channel. The subscription is
// released when Wait returns.
func (ar *AsyncResult) Wait(ctx context.Context, timeout time.Duration) ([]byte, error) {
	defer ar.release()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	buf, err := ar.sub.Receive(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, errors.Wrapf(ErrResultTimeout, "task %s after %v", ar.id, timeout)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "wait result of task %s failed", ar.id)
	}
	return buf, nil
}
