package store

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/shpitdev/contact-reveal/pkg/contact"
)

// DefaultMaxEntries bounds the in-process cache when no size is configured.
const DefaultMaxEntries = 10000

// Memory is an in-process LRU cache with per-entry expiry. A zero TTL keeps
// entries until they are pushed out by newer ones.
type Memory struct {
	lru *expirable.LRU[string, *contact.Contact]
}

// NewMemory caps the cache at maxEntries (DefaultMaxEntries when <= 0).
func NewMemory(ttl time.Duration, maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Memory{lru: expirable.NewLRU[string, *contact.Contact](maxEntries, nil, ttl)}
}

func (m *Memory) Get(_ context.Context, key string) (*contact.Contact, bool, error) {
	c, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	return copyContact(c), true, nil
}

func (m *Memory) Put(_ context.Context, key string, c *contact.Contact) error {
	if c == nil {
		return nil
	}
	m.lru.Add(key, copyContact(c))
	return nil
}

// Len counts entries not yet removed, which may include expired ones awaiting
// cleanup.
func (m *Memory) Len() int {
	return m.lru.Len()
}

func (m *Memory) Close() error {
	m.lru.Purge()
	return nil
}
