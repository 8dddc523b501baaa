package arq

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"emperror.dev/errors"
	"github.com/alicebob/miniredis/v2"
	"github.com/cheekybits/is"
	"github.com/zigzed/arq/redis"
)

func TestPutWritesPendingAndPayload(t *testing.T) {
	is := is.New(t)
	m := miniredis.RunT(t)
	c := newTestClient(t, m, WithNamespace("shop"))
	ctx := context.Background()

	tk, err := c.Put(ctx, map[string]int{"order": 7}, WithId("o-7"))
	is.NoErr(err)
	is.Equal(tk.Id, "o-7")
	is.Equal(tk.ResultKey, "shop:result:o-7")
	is.False(tk.Ensured())

	score, err := m.ZScore("shop:pending", "o-7")
	is.NoErr(err)
	is.Equal(score, tk.Score)

	body, err := m.Get("shop:payload:o-7")
	is.NoErr(err)
	is.Equal(body, `{"order":7}`)
	is.Equal(m.TTL("shop:payload:o-7"), DefaultPayloadTTL)
	is.Equal(c.TaskCount(), int64(1))
}

func TestPutGeneratesIncreasingScores(t *testing.T) {
	is := is.New(t)
	m := miniredis.RunT(t)
	c := newTestClient(t, m)
	ctx := context.Background()

	last := float64(0)
	for i := 0; i < 20; i++ {
		tk, err := c.Put(ctx, "x")
		is.NoErr(err)
		is.True(tk.Id != "")
		is.True(tk.Score > last)
		last = tk.Score
	}
}

func TestPutDuplicateId(t *testing.T) {
	is := is.New(t)
	m := miniredis.RunT(t)
	c := newTestClient(t, m)
	ctx := context.Background()

	_, err := c.Put(ctx, "first", WithId("same"))
	is.NoErr(err)

	tk, err := c.Put(ctx, "second", WithId("same"), WithAutoEnsure())
	is.Err(err)
	is.Nil(tk)
	is.True(errors.Is(err, ErrSubmission))
	is.True(errors.Is(err, redis.ErrDuplicate))

	var se *SubmissionError
	is.True(errors.As(err, &se))
	is.Equal(se.Id, "same")

	body, err := m.Get("arq:payload:same")
	is.NoErr(err)
	is.Equal(body, "first")
	is.Equal(c.TaskCount(), int64(1))
}

func TestPutStoreDown(t *testing.T) {
	is := is.New(t)
	m := miniredis.RunT(t)
	c := newTestClient(t, m, WithLogger(NopLogger{}))
	m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.Put(ctx, "lost")
	is.True(errors.Is(err, ErrSubmission))
}

func TestPutWithTTLAndSecret(t *testing.T) {
	is := is.New(t)
	m := miniredis.RunT(t)
	c := newTestClient(t, m, WithSecret("s3cr3t"))
	ctx := context.Background()

	tk, err := c.Put(ctx, "classified", WithTTL(30*time.Second))
	is.NoErr(err)

	key := c.Namespace().Payload(tk.Id)
	is.Equal(m.TTL(key), 30*time.Second)
	body, err := m.Get(key)
	is.NoErr(err)
	is.True(body != "classified")

	plain, err := c.codec.Open([]byte(body))
	is.NoErr(err)
	is.Equal(string(plain), "classified")
}

func TestResultNotEnsured(t *testing.T) {
	is := is.New(t)
	m := miniredis.RunT(t)
	c := newTestClient(t, m)
	ctx := context.Background()

	tk, err := c.Put(ctx, "x")
	is.NoErr(err)

	_, err = c.Result(ctx, tk, time.Second)
	is.True(errors.Is(err, ErrNotEnsured))
}

func TestResultTimeoutReleasesSubscription(t *testing.T) {
	is := is.New(t)
	m := miniredis.RunT(t)
	c := newTestClient(t, m)
	ctx := context.Background()

	tk, err := c.Put(ctx, "nobody home", WithAutoEnsure())
	is.NoErr(err)
	is.True(tk.Ensured())

	start := time.Now()
	_, err = c.Result(ctx, tk, 100*time.Millisecond)
	is.True(errors.Is(err, ErrResultTimeout))
	is.True(time.Since(start) < 2*time.Second)
	is.False(tk.Ensured())

	_, err = c.Result(ctx, tk, 100*time.Millisecond)
	is.True(errors.Is(err, ErrNotEnsured))
}

func TestResultCancelledByContext(t *testing.T) {
	is := is.New(t)
	m := miniredis.RunT(t)
	c := newTestClient(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	tk, err := c.Put(ctx, "x", WithAutoEnsure())
	is.NoErr(err)

	cancel()
	_, err = c.Result(ctx, tk, 0)
	is.True(errors.Is(err, context.Canceled))
	is.False(tk.Ensured())
}

func TestEnsureBeforePutTask(t *testing.T) {
	is := is.New(t)
	m := miniredis.RunT(t)
	c := newTestClient(t, m)
	ctx := context.Background()

	tk := c.NewTask("manual", WithId("m-1"), WithScore(5))
	is.Equal(tk.Score, float64(5))
	is.NoErr(c.Ensure(ctx, tk))
	is.NoErr(c.PutTask(ctx, tk))

	// play the agent by hand
	is.NoErr(c.store.Publish(ctx, tk.ResultKey, []byte("done")))

	reply, err := c.Result(ctx, tk, time.Second)
	is.NoErr(err)
	is.Equal(string(reply), "done")
}

func TestStatus(t *testing.T) {
	is := is.New(t)
	m := miniredis.RunT(t)
	c := newTestClient(t, m, WithObjectMode(true))
	ctx := context.Background()

	_, ok, err := c.GetStatus(ctx, "job-1", 0)
	is.NoErr(err)
	is.False(ok)

	is.NoErr(c.SetStatus(ctx, "job-1", map[string]interface{}{"progress": 40}, 10*time.Second))
	is.Equal(m.TTL("arq:status:job-1"), 10*time.Second)

	m.FastForward(8 * time.Second)
	v, ok, err := c.GetStatus(ctx, "job-1", time.Minute)
	is.NoErr(err)
	is.True(ok)
	is.Equal(v, map[string]interface{}{"progress": float64(40)})
	is.Equal(m.TTL("arq:status:job-1"), time.Minute)

	is.NoErr(c.DeleteStatus(ctx, "job-1"))
	_, ok, err = c.GetStatus(ctx, "job-1", 0)
	is.NoErr(err)
	is.False(ok)
}

func TestClientHeartbeat(t *testing.T) {
	is := is.New(t)
	m := miniredis.RunT(t)
	interval := 50 * time.Millisecond
	c := newTestClient(t, m, WithHeartbeatInterval(interval),
		WithMetrics(func() map[string]interface{} {
			return map[string]interface{}{"queue": "orders"}
		}))
	ctx := context.Background()

	key := c.LivenessKey()
	is.Equal(key, "arq:client:10.0.0.1")

	_, err := c.Put(ctx, "x")
	is.NoErr(err)

	for i := 0; i < 5; i++ {
		eventually(t, time.Second, func() bool { return m.Exists(key) })
		body, err := m.Get(key)
		is.NoErr(err)

		var record map[string]interface{}
		is.NoErr(json.Unmarshal([]byte(body), &record))
		is.Equal(record["host_ip"], "10.0.0.1")
		is.Equal(record["queue"], "orders")
		count, ok := record["task_count"].(float64)
		is.True(ok)
		is.True(count >= 0)

		updated := time.Unix(int64(record["updated_at"].(float64)), 0)
		is.True(time.Since(updated) <= interval+time.Second+time.Second)

		ttl := m.TTL(key)
		is.True(ttl > 0)
		is.True(ttl <= interval+time.Second)

		time.Sleep(interval)
	}

	is.NoErr(c.Close())
	is.NoErr(c.Close())
}

func TestPutSubMillisecondTTL(t *testing.T) {
	is := is.New(t)
	m := miniredis.RunT(t)
	c := newTestClient(t, m)
	ctx := context.Background()

	tk, err := c.Put(ctx, "x", WithTTL(500*time.Microsecond))
	is.NoErr(err)
	is.Equal(m.TTL(c.Namespace().Payload(tk.Id)), time.Millisecond)

	members, err := m.ZMembers(c.Namespace().Pending())
	is.NoErr(err)
	is.Equal(members, []string{tk.Id})
}

func TestFailedPutLeavesNothingPending(t *testing.T) {
	is := is.New(t)
	m := miniredis.RunT(t)
	c := newTestClient(t, m)
	ctx := context.Background()

	tk := c.NewTask("x", WithId("bad-ttl"))
	err := c.store.Enqueue(ctx, c.Namespace().Pending(), tk.Id, tk.Score,
		c.Namespace().Payload(tk.Id), []byte("x"), 0)
	is.True(errors.Is(err, redis.ErrInvalidTTL))
	is.False(m.Exists(c.Namespace().Pending()))

	// the id stays free for a retry
	_, err = c.Put(ctx, "x", WithId("bad-ttl"))
	is.NoErr(err)
	members, err := m.ZMembers(c.Namespace().Pending())
	is.NoErr(err)
	is.Equal(members, []string{"bad-ttl"})
}
