package arq

import (
	"time"

	"github.com/zigzed/arq/marshaller"
)

const (
	DefaultPayloadTTL        = 300 * time.Second
	DefaultPollInterval      = 10 * time.Millisecond
	DefaultHeartbeatInterval = 5 * time.Second
)

type settings struct {
	namespace         string
	logger            Logger
	payloadTTL        time.Duration
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	encryptor         marshaller.Encryptor
	object            bool
	maxConcurrency    int
	callback          interface{}
	role              string
	metrics           func() map[string]interface{}
	hostIP            string
}

func defaultSettings() settings {
	return settings{
		namespace:         DefaultNamespace,
		logger:            glogLogger{depth: 1},
		payloadTTL:        DefaultPayloadTTL,
		pollInterval:      DefaultPollInterval,
		heartbeatInterval: DefaultHeartbeatInterval,
	}
}

type Option func(*settings)

func WithNamespace(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.namespace = name
		}
	}
}

func WithLogger(logger Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPayloadTTL sets how long a submitted payload waits for an agent.
func WithPayloadTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl > 0 {
			s.payloadTTL = ttl
		}
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(s *settings) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

func WithHeartbeatInterval(interval time.Duration) Option {
	return func(s *settings) {
		if interval > 0 {
			s.heartbeatInterval = interval
		}
	}
}

// WithSecret enables the built-in salted XOR obfuscation keyed by secret.
func WithSecret(secret string) Option {
	return func(s *settings) {
		if secret != "" {
			s.encryptor = marshaller.NewSaltBase64(secret)
		}
	}
}

func WithEncryptor(enc marshaller.Encryptor) Option {
	return func(s *settings) {
		s.encryptor = enc
	}
}

// WithObjectMode makes agents hand workers the structured payload instead of bytes.
func WithObjectMode(object bool) Option {
	return func(s *settings) {
		s.object = object
	}
}

// WithMaxConcurrency bounds the number of tasks an agent executes at once.
// Zero means unbounded.
func WithMaxConcurrency(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.maxConcurrency = n
		}
	}
}

// WithCallback sets the completion callback of every task an agent dequeues.
// A worker may replace it per task through Task.Callback.
func WithCallback(fn interface{}) Option {
	return func(s *settings) {
		s.callback = fn
	}
}

// WithRole overrides the role part of the liveness key.
func WithRole(role string) Option {
	return func(s *settings) {
		if role != "" {
			s.role = role
		}
	}
}

// WithMetrics adds the returned fields to every liveness record.
func WithMetrics(fn func() map[string]interface{}) Option {
	return func(s *settings) {
		s.metrics = fn
	}
}

// WithHostIP overrides the detected host address used in the liveness key.
func WithHostIP(ip string) Option {
	return func(s *settings) {
		if ip != "" {
			s.hostIP = ip
		}
	}
}
