package store

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shpitdev/contact-reveal/pkg/contact"
	rerr "github.com/shpitdev/contact-reveal/pkg/errors"
)

// Store caches revealed contacts by normalized profile URL so repeated
// requests do not spend provider credits.
type Store interface {
	Get(ctx context.Context, key string) (*contact.Contact, bool, error)
	Put(ctx context.Context, key string, c *contact.Contact) error
	Close() error
}

type Options struct {
	Backend    string
	RedisURL   string
	TTL        time.Duration
	MaxEntries int // memory backend only
}

// New opens the configured backend.
func New(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", "none":
		return Nop{}, nil
	case "memory":
		return NewMemory(opts.TTL, opts.MaxEntries), nil
	case "redis":
		redisOpts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, rerr.Wrap(err, rerr.CodeConfigInvalid, "parse redis url")
		}
		client := redis.NewClient(redisOpts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, rerr.Wrap(err, rerr.CodeStoreFailure, "ping redis")
		}
		return NewRedis(client, opts.TTL), nil
	default:
		return nil, rerr.Errorf(rerr.CodeConfigInvalid, "unknown store backend %q", opts.Backend)
	}
}

// Nop never caches.
type Nop struct{}

func (Nop) Get(context.Context, string) (*contact.Contact, bool, error) { return nil, false, nil }
func (Nop) Put(context.Context, string, *contact.Contact) error         { return nil }
func (Nop) Close() error                                                { return nil }

func copyContact(c *contact.Contact) *contact.Contact {
	if c == nil {
		return nil
	}
	out := *c
	out.Emails = append([]string(nil), c.Emails...)
	out.Phones = append([]string(nil), c.Phones...)
	return &out
}
