package arq

import (
	"context"
	"time"

	"github.com/zigzed/arq/redis"
	"github.com/zigzed/arq/result"
)

// Store is the shared store clients and agents meet in. redis.Store is the
// implementation shipped with this module.
type Store interface {
	// Enqueue inserts id with score into pending and writes payload under
	// payloadKey with ttl, both or neither.
	Enqueue(ctx context.Context, pending, id string, score float64,
		payloadKey string, payload []byte, ttl time.Duration) error
	// Dequeue removes the lowest scored id of pending and reads the payload
	// stored under payloadPrefix+id. ok is false when pending is empty.
	Dequeue(ctx context.Context, pending, payloadPrefix string) (p redis.Popped, ok bool, err error)

	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, key string) error

	Publish(ctx context.Context, channel string, msg []byte) error
	Subscribe(ctx context.Context, channel string) (result.Subscription, error)

	Close() error
}
