package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shpitdev/contact-reveal/pkg/contact"
	rerr "github.com/shpitdev/contact-reveal/pkg/errors"
)

const contactKeyPrefix = "reveal:contact:"

// Redis stores contacts as JSON with SET ... EX.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) (*contact.Contact, bool, error) {
	b, err := r.client.Get(ctx, contactKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, rerr.Wrap(err, rerr.CodeStoreFailure, "redis get")
	}
	var c contact.Contact
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, false, rerr.Wrap(err, rerr.CodeStoreFailure, "decode cached contact")
	}
	return &c, true, nil
}

func (r *Redis) Put(ctx context.Context, key string, c *contact.Contact) error {
	if c == nil {
		return nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return rerr.Wrap(err, rerr.CodeStoreFailure, "encode contact")
	}
	if err := r.client.Set(ctx, contactKeyPrefix+key, b, r.ttl).Err(); err != nil {
		return rerr.Wrap(err, rerr.CodeStoreFailure, "redis set")
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
