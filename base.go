package arq

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"emperror.dev/errors"
	"github.com/zigzed/arq/marshaller"
)

var (
	hostIPOnce sync.Once
	hostIP     string
	hostIPErr  error
)

// localIP returns the address of the interface that routes outwards. Nothing
// is sent: connecting a UDP socket only selects the route.
func localIP() (string, error) {
	hostIPOnce.Do(func() {
		conn, err := net.Dial("udp", "8.8.8.8:80")
		if err != nil {
			hostIPErr = errors.Wrap(err, "detect local ip failed")
			return
		}
		defer conn.Close()
		hostIP = conn.LocalAddr().(*net.UDPAddr).IP.String()
	})
	return hostIP, hostIPErr
}

// baseClient holds what producers and agents share: the namespace, the store,
// the payload codec and the liveness reporter.
type baseClient struct {
	ns        Namespace
	store     Store
	ownsStore bool
	codec     marshaller.Marshaller
	logger    Logger
	opts      settings
	role      string
	hostIP    string

	taskCount atomic.Int64
	extra     func() map[string]interface{}

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func newBaseClient(store Store, role string, opts []Option) *baseClient {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	if s.role != "" {
		role = s.role
	}

	bc := &baseClient{
		ns:     NewNamespace(s.namespace),
		store:  store,
		codec:  marshaller.NewJsonMarshaller(s.encryptor, s.object),
		logger: s.logger,
		opts:   s,
		role:   role,
		hostIP: s.hostIP,
		done:   make(chan struct{}),
	}
	if bc.hostIP == "" {
		ip, err := localIP()
		if err != nil {
			bc.logger.Warningf("arq: %v, reporting liveness as 127.0.0.1", err)
			ip = "127.0.0.1"
		}
		bc.hostIP = ip
	}
	return bc
}

// start launches the liveness reporter. It runs until Close.
func (bc *baseClient) start() {
	ctx, cancel := context.WithCancel(context.Background())
	bc.cancel = cancel
	go bc.heartbeat(ctx)
}

func (bc *baseClient) Namespace() Namespace {
	return bc.ns
}

func (bc *baseClient) TaskCount() int64 {
	return bc.taskCount.Load()
}

// LivenessKey is where this process reports itself.
func (bc *baseClient) LivenessKey() string {
	return bc.ns.Liveness(bc.role, bc.hostIP)
}

func (bc *baseClient) heartbeat(ctx context.Context) {
	defer close(bc.done)

	tick := time.NewTicker(bc.opts.heartbeatInterval)
	defer tick.Stop()

	for {
		if err := bc.beat(ctx); err != nil && ctx.Err() == nil {
			bc.logger.Warningf("arq: heartbeat %s failed: %v", bc.LivenessKey(), err)
		}
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

func (bc *baseClient) beat(ctx context.Context) error {
	record := make(map[string]interface{})
	for _, fn := range []func() map[string]interface{}{bc.extra, bc.opts.metrics} {
		if fn == nil {
			continue
		}
		for k, v := range fn() {
			record[k] = v
		}
	}
	record["host_ip"] = bc.hostIP
	record["task_count"] = bc.taskCount.Load()
	record["updated_at"] = time.Now().Unix()

	buf, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "json marshal liveness record failed")
	}
	return bc.store.Set(ctx, bc.LivenessKey(), buf, bc.opts.heartbeatInterval+time.Second)
}

// SetStatus stores data for id, independent of the task pipeline. A ttl of
// zero keeps it until deleted.
func (bc *baseClient) SetStatus(ctx context.Context, id string, data interface{}, ttl time.Duration) error {
	buf, err := bc.codec.Encode(data)
	if err != nil {
		return errors.Wrapf(err, "encode status of %s failed", id)
	}
	return bc.store.Set(ctx, bc.ns.Status(id), buf, ttl)
}

// GetStatus returns the status stored for id. A positive refresh resets its ttl.
func (bc *baseClient) GetStatus(ctx context.Context, id string, refresh time.Duration) (interface{}, bool, error) {
	key := bc.ns.Status(id)
	buf, ok, err := bc.store.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	if refresh > 0 {
		if err := bc.store.Expire(ctx, key, refresh); err != nil {
			return nil, false, err
		}
	}

	v, err := bc.codec.Decode(buf)
	if err != nil {
		return nil, false, errors.Wrapf(err, "decode status of %s failed", id)
	}
	return v, true, nil
}

func (bc *baseClient) DeleteStatus(ctx context.Context, id string) error {
	return bc.store.Del(ctx, bc.ns.Status(id))
}

// Close stops the liveness reporter and releases the store connection when
// the client opened it.
func (bc *baseClient) Close() error {
	var err error
	bc.closeOnce.Do(func() {
		if bc.cancel != nil {
			bc.cancel()
			<-bc.done
		}
		if bc.ownsStore {
			err = bc.store.Close()
		}
	})
	return err
}
