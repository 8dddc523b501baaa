package redis

import (
	"context"
	"testing"
	"time"

	"emperror.dev/errors"
	"github.com/alicebob/miniredis/v2"
	"github.com/cheekybits/is"
	goredis "github.com/go-redis/redis/v8"
)

func newTestStore(t *testing.T, m *miniredis.Miniredis, strategy PopStrategy) *Store {
	s, err := NewStore(&Option{Addrs: []string{m.Addr()}, PopStrategy: strategy})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestProbeSelectsZPopMin(t *testing.T) {
	is := is.New(t)
	m := miniredis.RunT(t)

	s := newTestStore(t, m, PopAuto)
	is.Equal(s.Strategy(), PopZPopMin)
	is.Equal(len(m.Keys()), 0)
}

func TestUnknownStrategy(t *testing.T) {
	is := is.New(t)
	m := miniredis.RunT(t)

	_, err := NewStore(&Option{Addrs: []string{m.Addr()}, PopStrategy: "lifo"})
	is.Err(err)
}

func TestEnqueue(t *testing.T) {
	is := is.New(t)
	m := miniredis.RunT(t)
	s := newTestStore(t, m, PopAuto)
	ctx := context.Background()

	err := s.Enqueue(ctx, "q:pending", "t1", 42, "q:payload:t1", []byte("body"), 300*time.Second)
	is.NoErr(err)

	score, err := m.ZScore("q:pending", "t1")
	is.NoErr(err)
	is.Equal(score, float64(42))
	body, err := m.Get("q:payload:t1")
	is.NoErr(err)
	is.Equal(body, "body")
	is.Equal(m.TTL("q:payload:t1"), 300*time.Second)

	err = s.Enqueue(ctx, "q:pending", "t1", 43, "q:payload:t1", []byte("other"), time.Second)
	is.True(errors.Is(err, ErrDuplicate))
	body, err = m.Get("q:payload:t1")
	is.NoErr(err)
	is.Equal(body, "body")
	score, err = m.ZScore("q:pending", "t1")
	is.NoErr(err)
	is.Equal(score, float64(42))
}

func TestEnqueueTTL(t *testing.T) {
	is := is.New(t)
	m := miniredis.RunT(t)
	s := newTestStore(t, m, PopAuto)
	ctx := context.Background()

	for _, ttl := range []time.Duration{0, -time.Second} {
		err := s.Enqueue(ctx, "q:pending", "t0", 1, "q:payload:t0", []byte("body"), ttl)
		is.True(errors.Is(err, ErrInvalidTTL))
	}
	is.False(m.Exists("q:pending"))
	is.False(m.Exists("q:payload:t0"))

	// below a millisecond rounds up instead of reaching the server as PX 0
	is.NoErr(s.Enqueue(ctx, "q:pending", "t1", 1, "q:payload:t1", []byte("body"), 500*time.Microsecond))
	is.Equal(m.TTL("q:payload:t1"), time.Millisecond)
	members, err := m.ZMembers("q:pending")
	is.NoErr(err)
	is.Equal(members, []string{"t1"})

	is.NoErr(s.Enqueue(ctx, "q:pending", "t2", 2, "q:payload:t2", []byte("body"), 1500*time.Microsecond))
	is.Equal(m.TTL("q:payload:t2"), 2*time.Millisecond)
}

func TestEnqueueScriptRejectsBadTTLBeforeWriting(t *testing.T) {
	is := is.New(t)
	m := miniredis.RunT(t)
	ctx := context.Background()

	rdb := goredis.NewClient(&goredis.Options{Addr: m.Addr()})
	defer rdb.Close()

	for _, ttl := range []interface{}{0, -5, "soon"} {
		err := rdb.Eval(ctx, enqueueScript, []string{"q:pending", "q:payload:t1"}, "t1", 1, "body", ttl).Err()
		is.Err(err)
		is.False(m.Exists("q:pending"))
		is.False(m.Exists("q:payload:t1"))
	}
}

func TestDequeue(t *testing.T) {
	for _, strategy := range []PopStrategy{PopZPopMin, PopTransaction} {
		t.Run(string(strategy), func(t *testing.T) {
			is := is.New(t)
			m := miniredis.RunT(t)
			s := newTestStore(t, m, strategy)
			ctx := context.Background()

			_, ok, err := s.Dequeue(ctx, "q:pending", "q:payload:")
			is.NoErr(err)
			is.False(ok)

			is.NoErr(s.Enqueue(ctx, "q:pending", "late", 9, "q:payload:late", []byte("second"), time.Minute))
			is.NoErr(s.Enqueue(ctx, "q:pending", "early", 3, "q:payload:early", []byte{0xff, 0x00, 'x'}, time.Minute))
			_, err = m.ZAdd("q:pending", 5, "orphan")
			is.NoErr(err)

			p, ok, err := s.Dequeue(ctx, "q:pending", "q:payload:")
			is.NoErr(err)
			is.True(ok)
			is.Equal(p, Popped{Id: "early", Score: 3, Payload: []byte{0xff, 0x00, 'x'}, Found: true})

			p, ok, err = s.Dequeue(ctx, "q:pending", "q:payload:")
			is.NoErr(err)
			is.True(ok)
			is.Equal(p.Id, "orphan")
			is.Equal(p.Score, float64(5))
			is.False(p.Found)

			p, ok, err = s.Dequeue(ctx, "q:pending", "q:payload:")
			is.NoErr(err)
			is.True(ok)
			is.Equal(string(p.Payload), "second")
			is.False(m.Exists("q:pending"))
		})
	}
}

func TestPopMinOrder(t *testing.T) {
	for _, strategy := range []PopStrategy{PopZPopMin, PopTransaction} {
		t.Run(string(strategy), func(t *testing.T) {
			is := is.New(t)
			m := miniredis.RunT(t)
			s := newTestStore(t, m, strategy)
			ctx := context.Background()

			for _, score := range []float64{5, 1, 4, 2, 3} {
				_, err := m.ZAdd("q:pending", score, "t"+string(rune('0'+int(score))))
				is.NoErr(err)
			}

			for want := 1; want <= 5; want++ {
				id, score, ok, err := s.PopMin(ctx, "q:pending")
				is.NoErr(err)
				is.True(ok)
				is.Equal(id, "t"+string(rune('0'+want)))
				is.Equal(score, float64(want))
			}

			_, _, ok, err := s.PopMin(ctx, "q:pending")
			is.NoErr(err)
			is.False(ok)
		})
	}
}

func TestKeyValue(t *testing.T) {
	is := is.New(t)
	m := miniredis.RunT(t)
	s := newTestStore(t, m, PopAuto)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	is.NoErr(err)
	is.False(ok)

	is.NoErr(s.Set(ctx, "k", []byte("v"), 0))
	is.Equal(m.TTL("k"), time.Duration(0))
	is.NoErr(s.Expire(ctx, "k", 10*time.Second))
	is.Equal(m.TTL("k"), 10*time.Second)

	v, ok, err := s.Get(ctx, "k")
	is.NoErr(err)
	is.True(ok)
	is.Equal(string(v), "v")

	is.NoErr(s.Del(ctx, "k"))
	is.False(m.Exists("k"))
}

func TestPublishSubscribe(t *testing.T) {
	is := is.New(t)
	m := miniredis.RunT(t)
	s := newTestStore(t, m, PopAuto)
	ctx := context.Background()

	// nobody listens yet: the message is gone
	is.NoErr(s.Publish(ctx, "q:result:t1", []byte("early")))

	sub, err := s.Subscribe(ctx, "q:result:t1")
	is.NoErr(err)
	defer sub.Close()

	is.NoErr(s.Publish(ctx, "q:result:t1", []byte("late")))
	msg, err := sub.Receive(ctx)
	is.NoErr(err)
	is.Equal(string(msg), "late")

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = sub.Receive(short)
	is.True(errors.Is(err, context.DeadlineExceeded))

	is.NoErr(sub.Close())
	is.NoErr(sub.Close())
}

func TestNewStoreFromClient(t *testing.T) {
	is := is.New(t)
	m := miniredis.RunT(t)
	ctx := context.Background()

	rdb := goredis.NewClient(&goredis.Options{Addr: m.Addr()})
	defer rdb.Close()

	s, err := NewStoreFromClient(ctx, rdb, PopTransaction)
	is.NoErr(err)
	is.Equal(s.Strategy(), PopTransaction)

	is.NoErr(s.Close())
	is.NoErr(rdb.Ping(ctx).Err())
}

func TestNewStoreUnreachable(t *testing.T) {
	is := is.New(t)
	m := miniredis.RunT(t)
	addr := m.Addr()
	m.Close()

	_, err := NewStore(&Option{Addrs: []string{addr}})
	is.Err(err)
}
