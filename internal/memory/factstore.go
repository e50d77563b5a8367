package memory

import (
	"context"
	"fmt"

	"github.com/stellarlinkco/myfriend/internal/config"
)

// FactStore persists each user's ordered fact list. Load of an unknown user
// returns no facts and no error.
type FactStore interface {
	Load(ctx context.Context, userID string) ([]Fact, error)
	Save(ctx context.Context, userID string, facts []Fact) error
	Delete(ctx context.Context, userID string) error
	Users(ctx context.Context) ([]string, error)
	Close() error
}

// OpenFactStore opens the backend named by cfg.Memory.Backend.
func OpenFactStore(cfg config.MemoryConfig) (FactStore, error) {
	switch cfg.Backend {
	case config.MemoryBackendBadger:
		return OpenBadgerFactStore(cfg.DBPath)
	case config.MemoryBackendSQLite, "":
		return OpenSQLiteFactStore(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
}
