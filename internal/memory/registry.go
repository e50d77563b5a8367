package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

var ErrNoStore = errors.New("memory: no memory for user")

// Registry owns every per-user Store. Stores are created lazily on first
// contact and live until Forget.
type Registry struct {
	opts    Options
	backend FactStore
	logger  *slog.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

func NewRegistry(opts Options, backend FactStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		opts:    opts,
		backend: backend,
		logger:  logger,
		stores:  make(map[string]*Store),
	}
}

// Get returns the user's store, creating and restoring it on first use. A
// restore failure is logged and the user starts fresh.
func (r *Registry) Get(ctx context.Context, userID string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[userID]; ok {
		return s
	}
	s := NewStore(userID, r.opts, r.backend, r.logger)
	if err := s.load(ctx); err != nil {
		r.logger.Warn("restore memory failed, starting fresh", "component", "memory", "user", userID, "error", err)
	}
	r.stores[userID] = s
	return s
}

func (r *Registry) Lookup(userID string) (*Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stores[userID]
	return s, ok
}

// Snapshot lists the live stores ordered by user id.
func (r *Registry) Snapshot() []*Store {
	r.mu.Lock()
	out := make([]*Store, 0, len(r.stores))
	for _, s := range r.stores {
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].userID < out[j].userID })
	return out
}

func (r *Registry) Users() []string {
	stores := r.Snapshot()
	ids := make([]string, len(stores))
	for i, s := range stores {
		ids[i] = s.userID
	}
	return ids
}

// KnownUsers lists users with durable facts, including ones not yet seen in
// this process.
func (r *Registry) KnownUsers(ctx context.Context) ([]string, error) {
	if r.backend == nil {
		return r.Users(), nil
	}
	return r.backend.Users(ctx)
}

// StoredFacts reads a user's facts without creating a live store.
func (r *Registry) StoredFacts(ctx context.Context, userID string) ([]Fact, error) {
	if s, ok := r.Lookup(userID); ok {
		return s.Facts(), nil
	}
	if r.backend == nil {
		return nil, nil
	}
	return r.backend.Load(ctx, userID)
}

// Forget discards the user's facts and drops the live store. ErrNoStore means
// there was nothing to forget.
func (r *Registry) Forget(ctx context.Context, userID string) error {
	r.mu.Lock()
	s, live := r.stores[userID]
	delete(r.stores, userID)
	r.mu.Unlock()

	if live {
		return s.Forget(ctx)
	}
	if r.backend == nil {
		return ErrNoStore
	}
	facts, err := r.backend.Load(ctx, userID)
	if err != nil {
		return fmt.Errorf("load facts: %w", err)
	}
	if len(facts) == 0 {
		return ErrNoStore
	}
	if err := r.backend.Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete facts: %w", err)
	}
	return nil
}

func (r *Registry) Close() error {
	if r.backend == nil {
		return nil
	}
	return r.backend.Close()
}
