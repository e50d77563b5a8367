package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

const badgerFactPrefix = "facts:"

// BadgerFactStore keeps one JSON record per user under "facts:<user>".
type BadgerFactStore struct {
	db *badger.DB
}

func OpenBadgerFactStore(dir string) (*BadgerFactStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create badger dir: %w", err)
	}
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerFactStore{db: db}, nil
}

func factKey(userID string) []byte {
	return []byte(badgerFactPrefix + userID)
}

func (b *BadgerFactStore) Load(_ context.Context, userID string) ([]Fact, error) {
	var facts []Fact
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(factKey(userID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &facts)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}
	return facts, nil
}

func (b *BadgerFactStore) Save(_ context.Context, userID string, facts []Fact) error {
	data, err := json.Marshal(facts)
	if err != nil {
		return fmt.Errorf("marshal facts: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(factKey(userID), data)
	})
}

func (b *BadgerFactStore) Delete(_ context.Context, userID string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(factKey(userID))
	})
}

func (b *BadgerFactStore) Users(_ context.Context) ([]string, error) {
	var users []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(badgerFactPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			users = append(users, strings.TrimPrefix(key, badgerFactPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	sort.Strings(users)
	return users, nil
}

func (b *BadgerFactStore) Close() error {
	return b.db.Close()
}
