package docstore

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Type selects a store driver.
type Type string

const (
	TypeMemory Type = "memory"
	TypeRedis  Type = "redis"
)

type options struct {
	redisClient *redis.Client
	keyPrefix   string
	clock       func() time.Time
	buffer      int
}

// Option configures a store created by New.
type Option func(*options)

// WithRedisClient supplies the client backing the redis driver.
func WithRedisClient(c *redis.Client) Option {
	return func(o *options) { o.redisClient = c }
}

// WithKeyPrefix namespaces all redis keys and channels. Default "ds".
func WithKeyPrefix(p string) Option {
	return func(o *options) { o.keyPrefix = p }
}

// WithClock overrides the memory driver's timestamp source (tests).
func WithClock(fn func() time.Time) Option {
	return func(o *options) { o.clock = fn }
}

// WithBuffer sets per-watch channel headroom beyond the initial snapshot.
func WithBuffer(n int) Option {
	return func(o *options) { o.buffer = n }
}

// New builds a Store for the given driver type.
func New(t Type, opts ...Option) (Store, error) {
	o := options{
		keyPrefix: "ds",
		clock:     time.Now,
		buffer:    64,
	}
	for _, opt := range opts {
		opt(&o)
	}

	switch t {
	case TypeMemory:
		return newMemoryStore(o), nil
	case TypeRedis:
		if o.redisClient == nil {
			return nil, fmt.Errorf("docstore: redis driver requires a client")
		}
		return newRedisStore(o), nil
	default:
		return nil, fmt.Errorf("docstore: unknown store type %q", t)
	}
}
