package arq

import (
	"context"
	"time"

	"emperror.dev/errors"
	"github.com/google/uuid"
	"github.com/zigzed/arq/redis"
	"github.com/zigzed/arq/task"
)

// Client submits tasks and waits for their results.
type Client struct {
	*baseClient
	seq *task.Sequence
}

type putOptions struct {
	id         string
	score      float64
	hasScore   bool
	autoEnsure bool
	ttl        time.Duration
}

type PutOption func(*putOptions)

func WithId(id string) PutOption {
	return func(po *putOptions) {
		po.id = id
	}
}

// WithScore overrides the generated score. Lower scores are dequeued first.
func WithScore(score float64) PutOption {
	return func(po *putOptions) {
		po.score = score
		po.hasScore = true
	}
}

// WithAutoEnsure subscribes to the result channel before the task is
// enqueued, so Result cannot miss a fast reply.
func WithAutoEnsure() PutOption {
	return func(po *putOptions) {
		po.autoEnsure = true
	}
}

func WithTTL(ttl time.Duration) PutOption {
	return func(po *putOptions) {
		po.ttl = ttl
	}
}

func NewClient(store Store, opts ...Option) *Client {
	c := &Client{
		baseClient: newBaseClient(store, "client", opts),
		seq:        task.NewSequence(),
	}
	c.start()
	return c
}

func NewClientFromRedis(cfg redis.Option, opts ...Option) (*Client, error) {
	store, err := redis.NewStore(&cfg)
	if err != nil {
		return nil, err
	}
	c := NewClient(store, opts...)
	c.ownsStore = true
	return c, nil
}

// NewTask builds a task without submitting it.
func (c *Client) NewTask(payload interface{}, opts ...PutOption) *task.Task {
	po := c.putOptions(opts)
	return c.newTask(payload, po)
}

func (c *Client) putOptions(opts []PutOption) putOptions {
	var po putOptions
	for _, opt := range opts {
		opt(&po)
	}
	return po
}

func (c *Client) newTask(payload interface{}, po putOptions) *task.Task {
	id := po.id
	if id == "" {
		id = uuid.New().String()
	}
	score := po.score
	if !po.hasScore {
		score = c.seq.Next()
	}
	return task.NewTask(id, payload, score, c.ns.Result(id))
}

// Put builds a task from payload and submits it.
func (c *Client) Put(ctx context.Context, payload interface{}, opts ...PutOption) (*task.Task, error) {
	po := c.putOptions(opts)
	t := c.newTask(payload, po)

	if po.autoEnsure {
		if err := c.Ensure(ctx, t); err != nil {
			return nil, &SubmissionError{Id: t.Id, Err: err}
		}
	}
	if err := c.putTask(ctx, t, po.ttl); err != nil {
		t.Release()
		return nil, err
	}
	return t, nil
}

// PutTask submits a task built by NewTask, typically after Ensure.
func (c *Client) PutTask(ctx context.Context, t *task.Task) error {
	return c.putTask(ctx, t, 0)
}

func (c *Client) putTask(ctx context.Context, t *task.Task, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.opts.payloadTTL
	}

	buf, err := t.Encode(c.codec)
	if err != nil {
		return &SubmissionError{Id: t.Id, Err: err}
	}
	if err := c.store.Enqueue(ctx, c.ns.Pending(), t.Id, t.Score, c.ns.Payload(t.Id), buf, ttl); err != nil {
		return &SubmissionError{Id: t.Id, Err: err}
	}

	c.taskCount.Add(1)
	return nil
}

// Ensure subscribes to the task's result channel and keeps the subscription
// on the task until Result consumes it.
func (c *Client) Ensure(ctx context.Context, t *task.Task) error {
	if t.Ensured() {
		return nil
	}
	sub, err := c.store.Subscribe(ctx, t.ResultKey)
	if err != nil {
		return errors.Wrapf(err, "ensure result of task %s failed", t.Id)
	}
	t.Ensure(sub)
	return nil
}

// Result waits for the reply of an ensured task. A timeout of zero waits
// until ctx is done. The subscription is released on every return path, so
// Result can be called once per Ensure.
func (c *Client) Result(ctx context.Context, t *task.Task, timeout time.Duration) ([]byte, error) {
	sub := t.Future()
	if sub == nil {
		return nil, errors.Wrapf(ErrNotEnsured, "task %s", t.Id)
	}

	ar := newAsyncResult(t.Id, sub, t.Release)
	raw, err := ar.Wait(ctx, timeout)
	if err != nil {
		return nil, err
	}
	return c.codec.Open(raw)
}

// GetResultById subscribes only now. A reply published before the
// subscription is in place is lost and the call times out even though the
// task succeeded; use WithAutoEnsure and Result when that matters.
func (c *Client) GetResultById(ctx context.Context, id string, timeout time.Duration) ([]byte, error) {
	sub, err := c.store.Subscribe(ctx, c.ns.Result(id))
	if err != nil {
		return nil, errors.Wrapf(err, "subscribe result of task %s failed", id)
	}

	ar := newAsyncResult(id, sub, sub.Close)
	raw, err := ar.Wait(ctx, timeout)
	if err != nil {
		return nil, err
	}
	return c.codec.Open(raw)
}
