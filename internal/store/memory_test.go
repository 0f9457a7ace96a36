package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/contact-reveal/pkg/contact"
)

func TestMemory_PutGet(t *testing.T) {
	t.Parallel()

	m := NewMemory(time.Hour, 0)
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, "k", &contact.Contact{Name: "Ada", Emails: []string{"a@example.com"}}))

	got, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ada", got.Name)

	// Returned values are copies.
	got.Emails[0] = "changed"
	again, _, _ := m.Get(ctx, "k")
	assert.Equal(t, "a@example.com", again.Emails[0])
}

func TestMemory_ExpiredEntriesEvicted(t *testing.T) {
	t.Parallel()

	m := NewMemory(30*time.Millisecond, 0)
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, "k", &contact.Contact{Name: "Ada"}))

	_, ok, _ := m.Get(ctx, "k")
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok, err := m.Get(ctx, "k")
		return err == nil && !ok
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMemory_ExcessEntriesEvicted(t *testing.T) {
	t.Parallel()

	m := NewMemory(time.Hour, 2)
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, "a", &contact.Contact{Name: "A"}))
	require.NoError(t, m.Put(ctx, "b", &contact.Contact{Name: "B"}))

	// Touch "a" so "b" is the least recently used.
	_, ok, _ := m.Get(ctx, "a")
	require.True(t, ok)
	require.NoError(t, m.Put(ctx, "c", &contact.Contact{Name: "C"}))

	assert.Equal(t, 2, m.Len())
	_, ok, _ = m.Get(ctx, "b")
	assert.False(t, ok)
	_, ok, _ = m.Get(ctx, "a")
	assert.True(t, ok)
	_, ok, _ = m.Get(ctx, "c")
	assert.True(t, ok)
}

func TestMemory_NilContactIgnored(t *testing.T) {
	t.Parallel()

	m := NewMemory(0, 0)
	require.NoError(t, m.Put(context.Background(), "k", nil))
	assert.Equal(t, 0, m.Len())
}

func TestNew_Backends(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	s, err := New(ctx, Options{Backend: "none"})
	require.NoError(t, err)
	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	s, err = New(ctx, Options{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	_, err = New(ctx, Options{Backend: "redis", RedisURL: "::not a url"})
	require.Error(t, err)

	_, err = New(ctx, Options{Backend: "etcd"})
	require.Error(t, err)
}
