package memory

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memFactStore is an in-memory FactStore for tests.
type memFactStore struct {
	mu   sync.Mutex
	data map[string][]Fact
}

func newMemFactStore() *memFactStore {
	return &memFactStore{data: make(map[string][]Fact)}
}

func (m *memFactStore) Load(_ context.Context, userID string) ([]Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Fact(nil), m.data[userID]...), nil
}

func (m *memFactStore) Save(_ context.Context, userID string, facts []Fact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]Fact)
	}
	m.data[userID] = append([]Fact(nil), facts...)
	return nil
}

func (m *memFactStore) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, userID)
	return nil
}

func (m *memFactStore) Users(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id := range m.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memFactStore) Close() error { return nil }

func TestRegistry_LazyCreateAndRestore(t *testing.T) {
	backend := newMemFactStore()
	backend.data["u2"] = []Fact{{UserID: "u2", Key: "city", Content: "Osaka", Importance: 3, AccessCount: 1}}
	r := NewRegistry(Options{}, backend, nil)
	ctx := context.Background()

	_, ok := r.Lookup("u2")
	assert.False(t, ok)

	s := r.Get(ctx, "u2")
	assert.Same(t, s, r.Get(ctx, "u2"))
	require.Len(t, s.Facts(), 1)
	assert.Equal(t, "Osaka", s.Facts()[0].Content)
}

func TestRegistry_SnapshotOrdered(t *testing.T) {
	r := NewRegistry(Options{}, nil, nil)
	ctx := context.Background()
	r.Get(ctx, "c")
	r.Get(ctx, "a")
	r.Get(ctx, "b")
	assert.Equal(t, []string{"a", "b", "c"}, r.Users())
}

func TestRegistry_Forget(t *testing.T) {
	backend := newMemFactStore()
	r := NewRegistry(Options{}, backend, nil)
	ctx := context.Background()

	s := r.Get(ctx, "u1")
	_, err := s.UpsertFact(ctx, "food", "ramen", 3)
	require.NoError(t, err)

	require.NoError(t, r.Forget(ctx, "u1"))
	_, ok := r.Lookup("u1")
	assert.False(t, ok)
	users, _ := backend.Users(ctx)
	assert.Empty(t, users)

	assert.ErrorIs(t, r.Forget(ctx, "u1"), ErrNoStore)

	backend.data["offline"] = []Fact{{Key: "k"}}
	require.NoError(t, r.Forget(ctx, "offline"))
	assert.NotContains(t, backend.data, "offline")
}

func TestRegistry_StoredFacts(t *testing.T) {
	backend := newMemFactStore()
	backend.data["u9"] = []Fact{{Key: "k", Content: "v"}}
	r := NewRegistry(Options{}, backend, nil)

	facts, err := r.StoredFacts(context.Background(), "u9")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	_, live := r.Lookup("u9")
	assert.False(t, live, "StoredFacts must not create a live store")

	known, err := r.KnownUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"u9"}, known)
}
