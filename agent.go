package arq

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"emperror.dev/errors"
	"github.com/zigzed/arq/invoker"
	"github.com/zigzed/arq/redis"
	"github.com/zigzed/arq/result"
	"github.com/zigzed/arq/task"
	"golang.org/x/sync/semaphore"
)

const maxPollBackOff = 5 * time.Second

// WorkerFunc executes one task. The returned value is encoded and published
// as the task's reply; an error is published as "ERROR::<kind>|<message>".
type WorkerFunc func(ctx context.Context, t *task.Task) (interface{}, error)

// Agent polls the pending set and runs every dequeued task in its own
// goroutine. Run one Agent per store connection; a second concurrent Run
// on the same Agent blocks until the first returns.
type Agent struct {
	*baseClient
	worker   WorkerFunc
	gate     *semaphore.Weighted
	invoker  Invoker
	backoff  *BackOff
	success  atomic.Int64
	paused   atomic.Bool
	inflight sync.WaitGroup
	// held by Run, so Wait never races the poll loop's inflight.Add
	loop sync.Mutex
}

func NewAgent(store Store, worker WorkerFunc, opts ...Option) *Agent {
	a := &Agent{
		baseClient: newBaseClient(store, "agent", opts),
		worker:     worker,
		invoker:    invoker.NewGenericInvoker(),
	}
	a.backoff = newBackOff(a.opts.pollInterval, maxPollBackOff, 1.5)
	if a.opts.maxConcurrency > 0 {
		a.gate = semaphore.NewWeighted(int64(a.opts.maxConcurrency))
	}
	a.extra = func() map[string]interface{} {
		return map[string]interface{}{
			"success_tasks": a.success.Load(),
		}
	}
	a.start()
	return a
}

func NewAgentFromRedis(cfg redis.Option, worker WorkerFunc, opts ...Option) (*Agent, error) {
	store, err := redis.NewStore(&cfg)
	if err != nil {
		return nil, err
	}
	a := NewAgent(store, worker, opts...)
	a.ownsStore = true
	return a, nil
}

// SuccessTasks counts tasks whose reply was handled, failed ones included.
func (a *Agent) SuccessTasks() int64 {
	return a.success.Load()
}

// Pause stops dequeuing. Tasks already dispatched keep running.
func (a *Agent) Pause() {
	a.paused.Store(true)
}

func (a *Agent) Resume() {
	a.paused.Store(false)
}

func (a *Agent) Paused() bool {
	return a.paused.Load()
}

// Wait blocks until Run has returned and every task and callback it
// dispatched has finished. It returns at once when Run is not active.
func (a *Agent) Wait() {
	a.loop.Lock()
	defer a.loop.Unlock()
	a.inflight.Wait()
}

// Run polls until ctx is done. Dispatched tasks are detached from ctx and
// run to completion.
func (a *Agent) Run(ctx context.Context) error {
	a.loop.Lock()
	defer a.loop.Unlock()

	a.logger.Infof("arq: agent polling %s is starting...", a.ns.Pending())
	defer a.logger.Infof("arq: agent polling %s is stopped...", a.ns.Pending())

	for {
		if ctx.Err() != nil {
			return nil
		}

		delay := a.opts.pollInterval
		if !a.Paused() {
			t, err := a.dequeue(ctx)
			switch {
			case err == nil:
				a.backoff.Reset()
				if t != nil {
					a.dispatch(ctx, t)
				}
			case errors.Is(err, ErrPayloadMissing):
				a.backoff.Reset()
				a.logger.Errorf("arq: dropped task: %v", err)
			case ctx.Err() != nil:
				return nil
			default:
				delay = a.backoff.NextAttempt()
				a.logger.Errorf("arq: polling %s failed, next attempt in %.3f seconds: %v",
					a.ns.Pending(), delay.Seconds(), err)
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// dequeue pops the lowest scored pending id together with its payload. It
// returns nil, nil when nothing is pending.
func (a *Agent) dequeue(ctx context.Context) (*task.Task, error) {
	popped, ok, err := a.store.Dequeue(ctx, a.ns.Pending(), a.ns.PayloadPrefix())
	if err != nil || !ok {
		return nil, err
	}
	id := popped.Id
	if !popped.Found {
		return nil, errors.Wrapf(ErrPayloadMissing, "task %s", id)
	}

	t := task.NewTask(id, nil, popped.Score, a.ns.Result(id))
	t.Callback = a.opts.callback
	if t.Payload, err = t.Decode(a.codec, popped.Payload); err != nil {
		a.logger.Errorf("arq: dropped task %s: %v", id, err)
		a.publish(ctx, t, a.encodeReply(nil, err))
		return nil, nil
	}

	a.taskCount.Add(1)
	return t, nil
}

func (a *Agent) dispatch(ctx context.Context, t *task.Task) {
	a.inflight.Add(1)
	go a.do(context.WithoutCancel(ctx), t)
}

func (a *Agent) do(ctx context.Context, t *task.Task) {
	defer a.inflight.Done()

	if a.gate != nil {
		if err := a.gate.Acquire(ctx, 1); err != nil {
			a.logger.Errorf("arq: acquire execution slot for task %s failed: %v", t.Id, err)
			return
		}
		defer a.gate.Release(1)
	}

	value, err := a.execute(ctx, t)
	reply := a.encodeReply(value, err)
	a.publish(ctx, t, reply)
	a.success.Add(1)

	if t.Callback != nil {
		if err != nil {
			value = string(result.FormatError(err))
		}
		a.inflight.Add(1)
		go a.callback(ctx, t, value, err)
	}
}

func (a *Agent) execute(ctx context.Context, t *task.Task) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Errorf("panic: execute task %s failed: %v", t.Id, r)
			err = &result.WorkerError{Kind: "panic", Message: fmt.Sprint(r)}
		}
	}()
	return a.worker(ctx, t)
}

func (a *Agent) encodeReply(value interface{}, err error) []byte {
	if err == nil {
		buf, encErr := a.codec.Encode(value)
		if encErr == nil {
			return buf
		}
		err = encErr
	}

	reply := result.FormatError(err)
	buf, encErr := a.codec.Encode(reply)
	if encErr != nil {
		a.logger.Errorf("arq: encode error reply failed, publishing it in clear: %v", encErr)
		return reply
	}
	return buf
}

func (a *Agent) publish(ctx context.Context, t *task.Task, reply []byte) {
	if err := a.store.Publish(ctx, t.ResultKey, reply); err != nil {
		a.logger.Errorf("arq: publish result of task %s failed: %v", t.Id, err)
	}
}

func (a *Agent) callback(ctx context.Context, t *task.Task, value interface{}, werr error) {
	defer a.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			a.logger.Errorf("panic: callback of task %s failed: %v", t.Id, r)
		}
	}()

	exact := []interface{}{ctx, t}
	if werr != nil {
		exact = append(exact, werr)
	}
	if err := a.invoker.Call(t.Callback, exact, value); err != nil {
		a.logger.Errorf("arq: callback of task %s failed: %v", t.Id, err)
	}
}
