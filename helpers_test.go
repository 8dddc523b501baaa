package arq

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/zigzed/arq/redis"
)

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
}

func (rl *recordingLogger) Infof(format string, args ...interface{})    {}
func (rl *recordingLogger) Warningf(format string, args ...interface{}) {}

func (rl *recordingLogger) Fatalf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}

func (rl *recordingLogger) Errorf(format string, args ...interface{}) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.errors = append(rl.errors, fmt.Sprintf(format, args...))
}

func (rl *recordingLogger) contains(sub string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for _, e := range rl.errors {
		if strings.Contains(e, sub) {
			return true
		}
	}
	return false
}

func newTestStore(t *testing.T, m *miniredis.Miniredis, strategy redis.PopStrategy) *redis.Store {
	t.Helper()
	s, err := redis.NewStore(&redis.Option{Addrs: []string{m.Addr()}, PopStrategy: strategy})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestClient(t *testing.T, m *miniredis.Miniredis, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithHostIP("10.0.0.1")}, opts...)
	c := NewClient(newTestStore(t, m, redis.PopAuto), opts...)
	t.Cleanup(func() { c.Close() })
	return c
}

func newTestAgent(t *testing.T, m *miniredis.Miniredis, worker WorkerFunc, opts ...Option) *Agent {
	t.Helper()
	opts = append([]Option{WithHostIP("10.0.0.2"), WithPollInterval(time.Millisecond)}, opts...)
	a := NewAgent(newTestStore(t, m, redis.PopAuto), worker, opts...)
	t.Cleanup(func() { a.Close() })
	return a
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, within time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v", within)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
