package redis

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/zigzed/arq/result"
)

const (
	// ErrDuplicate is returned by Enqueue when the id is already pending.
	ErrDuplicate = errors.Sentinel("task id already pending")
	// ErrClosed is returned by Receive on a closed subscription.
	ErrClosed = errors.Sentinel("subscription closed")
	// ErrInvalidTTL is returned by Enqueue for a ttl that is not positive.
	ErrInvalidTTL = errors.Sentinel("payload ttl must be positive")
)

// KEYS[1] pending set, KEYS[2] payload key
// ARGV[1] id, ARGV[2] score, ARGV[3] payload, ARGV[4] ttl in milliseconds
// Arguments are checked before anything is written; a script that fails
// halfway is not rolled back.
const enqueueScript = `
local ttl = tonumber(ARGV[4])
if not ttl or ttl <= 0 then
	return redis.error_reply('ERR invalid payload ttl ' .. tostring(ARGV[4]))
end
if redis.call('ZADD', KEYS[1], 'NX', ARGV[2], ARGV[1]) == 0 then
	return 0
end
redis.call('SET', KEYS[2], ARGV[3], 'PX', ttl)
return 1
`

// KEYS[1] pending set
// ARGV[1] payload key prefix, the id is appended
const dequeueScript = `
local head = redis.call('ZPOPMIN', KEYS[1])
if #head == 0 then
	return false
end
local payload = redis.call('GET', ARGV[1] .. head[1])
if not payload then
	return {head[1], head[2]}
end
return {head[1], head[2], payload}
`

type popFunc func(ctx context.Context, key string) (string, float64, bool, error)

// Store is the shared store on top of a Redis compatible server.
type Store struct {
	rdb      redis.UniversalClient
	owned    bool
	strategy PopStrategy
	pop      popFunc
}

// NewStore connects with opt and selects the pop strategy.
func NewStore(opt *Option) (*Store, error) {
	if opt == nil {
		opt = DefaultOption()
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:            opt.Addrs,
		DB:               opt.DB,
		Username:         opt.Username,
		Password:         opt.Password,
		SentinelUsername: opt.SentinelUsername,
		SentinelPassword: opt.SentinelPassword,
		MasterName:       opt.MasterName,
	})

	ctx := context.Background()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, errors.Wrapf(err, "redis connection of %v failed", opt.Addrs)
	}

	s, err := NewStoreFromClient(ctx, rdb, opt.PopStrategy)
	if err != nil {
		rdb.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewStoreFromClient wraps an existing connection. Close leaves rdb open.
func NewStoreFromClient(ctx context.Context, rdb redis.UniversalClient, strategy PopStrategy) (*Store, error) {
	s := &Store{rdb: rdb}

	if strategy == PopAuto {
		var err error
		if strategy, err = probe(ctx, rdb); err != nil {
			return nil, err
		}
	}

	switch strategy {
	case PopZPopMin:
		s.pop = s.zpopmin
	case PopTransaction:
		s.pop = s.txpop
	default:
		return nil, errors.Errorf("unknown pop strategy %q", strategy)
	}
	s.strategy = strategy
	return s, nil
}

// probe runs ZPOPMIN against a key nobody uses.
func probe(ctx context.Context, rdb redis.UniversalClient) (PopStrategy, error) {
	key := "arq:probe:" + uuid.New().String()
	err := rdb.ZPopMin(ctx, key, 1).Err()
	if err == nil || err == redis.Nil {
		return PopZPopMin, nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "unknown command") {
		return PopTransaction, nil
	}
	return "", errors.Wrap(err, "probe for ZPOPMIN failed")
}

func (s *Store) Strategy() PopStrategy {
	return s.strategy
}

// Enqueue adds id to the pending set and writes its payload in one atomic
// step. ttl is rounded up to whole milliseconds and must be positive.
func (s *Store) Enqueue(ctx context.Context, pending, id string, score float64,
	payloadKey string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.WithDetails(ErrInvalidTTL, "id", id, "ttl", ttl)
	}
	ms := (ttl + time.Millisecond - 1).Milliseconds()

	added, err := s.rdb.Eval(ctx,
		enqueueScript,
		[]string{pending, payloadKey},
		id, score, payload, ms).Int()
	if err != nil {
		return errors.Wrapf(err, "enqueue %s into %s failed", id, pending)
	}
	if added == 0 {
		return errors.WithDetails(ErrDuplicate, "id", id, "pending", pending)
	}
	return nil
}

// Popped is a member removed from the pending set. Found is false when its
// payload record had already expired.
type Popped struct {
	Id      string
	Score   float64
	Payload []byte
	Found   bool
}

// Dequeue pops the lowest scored id of pending and reads the payload stored
// under payloadPrefix+id. With ZPOPMIN both happen in one script, so a
// transport error cannot lose a popped id. The transaction strategy pops
// first and reads in a second round trip.
func (s *Store) Dequeue(ctx context.Context, pending, payloadPrefix string) (Popped, bool, error) {
	if s.strategy == PopZPopMin {
		return s.dequeueScripted(ctx, pending, payloadPrefix)
	}

	id, score, ok, err := s.pop(ctx, pending)
	if err != nil || !ok {
		return Popped{}, false, err
	}
	p := Popped{Id: id, Score: score}
	if p.Payload, p.Found, err = s.Get(ctx, payloadPrefix+id); err != nil {
		return p, true, errors.Wrapf(err, "fetch payload of %s failed", id)
	}
	return p, true, nil
}

func (s *Store) dequeueScripted(ctx context.Context, pending, payloadPrefix string) (Popped, bool, error) {
	reply, err := s.rdb.Eval(ctx, dequeueScript, []string{pending}, payloadPrefix).Slice()
	if err == redis.Nil {
		return Popped{}, false, nil
	}
	if err != nil {
		return Popped{}, false, errors.Wrapf(err, "dequeue from %s failed", pending)
	}
	if len(reply) < 2 {
		return Popped{}, false, errors.Errorf("dequeue from %s: unexpected reply %v", pending, reply)
	}

	id, _ := reply[0].(string)
	raw, _ := reply[1].(string)
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Popped{}, false, errors.Wrapf(err, "dequeue from %s: bad score %q of %s", pending, raw, id)
	}
	p := Popped{Id: id, Score: score}
	if len(reply) > 2 {
		body, _ := reply[2].(string)
		p.Payload, p.Found = []byte(body), true
	}
	return p, true, nil
}

// PopMin removes and returns the lowest scored member of key.
func (s *Store) PopMin(ctx context.Context, key string) (string, float64, bool, error) {
	return s.pop(ctx, key)
}

func (s *Store) zpopmin(ctx context.Context, key string) (string, float64, bool, error) {
	zs, err := s.rdb.ZPopMin(ctx, key, 1).Result()
	if err == redis.Nil {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, errors.Wrapf(err, "zpopmin %s failed", key)
	}
	return first(zs)
}

func (s *Store) txpop(ctx context.Context, key string) (string, float64, bool, error) {
	var head *redis.ZSliceCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		head = pipe.ZRangeWithScores(ctx, key, 0, 0)
		pipe.ZRemRangeByRank(ctx, key, 0, 0)
		return nil
	})
	if err != nil && err != redis.Nil {
		return "", 0, false, errors.Wrapf(err, "transactional pop %s failed", key)
	}
	return first(head.Val())
}

func first(zs []redis.Z) (string, float64, bool, error) {
	if len(zs) == 0 {
		return "", 0, false, nil
	}
	switch m := zs[0].Member.(type) {
	case string:
		return m, zs[0].Score, true, nil
	case []byte:
		return string(m), zs[0].Score, true, nil
	default:
		return "", 0, false, errors.Errorf("unexpected member type %T", m)
	}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	buf, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "get %s failed", key)
	}
	return buf, true, nil
}

// Set writes value under key. A ttl of zero keeps the key forever.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return errors.Wrapf(err, "set %s failed", key)
	}
	return nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return errors.Wrapf(err, "expire %s failed", key)
	}
	return nil
}

func (s *Store) Del(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return errors.Wrapf(err, "del %s failed", key)
	}
	return nil
}

// Publish delivers msg to the listeners subscribed right now. Nothing is kept
// for later subscribers.
func (s *Store) Publish(ctx context.Context, channel string, msg []byte) error {
	if err := s.rdb.Publish(ctx, channel, msg).Err(); err != nil {
		return errors.Wrapf(err, "publish to %s failed", channel)
	}
	return nil
}

// Subscribe returns once the server has confirmed the subscription.
func (s *Store) Subscribe(ctx context.Context, channel string) (result.Subscription, error) {
	ps := s.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, errors.Wrapf(err, "subscribe %s failed", channel)
	}
	return &subscription{ps: ps, ch: ps.Channel()}, nil
}

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.rdb.Close()
}

type subscription struct {
	ps   *redis.PubSub
	ch   <-chan *redis.Message
	once sync.Once
	err  error
}

func (sub *subscription) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg, ok := <-sub.ch:
		if !ok {
			return nil, ErrClosed
		}
		return []byte(msg.Payload), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (sub *subscription) Close() error {
	sub.once.Do(func() {
		sub.err = sub.ps.Close()
	})
	return sub.err
}
