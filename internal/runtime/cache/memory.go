package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMemoryCapacity = 1024

type memoryStore struct {
	entries *lru.Cache[string, Record]
}

// NewMemory returns an in-process store bounded to capacity records. The least
// recently used record is evicted once the bound is reached.
func NewMemory(capacity int) (Store, error) {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	entries, err := lru.New[string, Record](capacity)
	if err != nil {
		return nil, fmt.Errorf("cache: memory lru: %w", err)
	}
	return &memoryStore{entries: entries}, nil
}

func (c *memoryStore) Get(_ context.Context, key string) (Record, bool, error) {
	record, ok := c.entries.Get(key)
	if !ok {
		return Record{}, false, nil
	}
	return record.Clone(), true, nil
}

func (c *memoryStore) Put(_ context.Context, key string, record Record) error {
	c.entries.Add(key, record.Clone())
	return nil
}

func (c *memoryStore) Size(_ context.Context) (int64, error) {
	return int64(c.entries.Len()), nil
}

func (c *memoryStore) Close(_ context.Context) error {
	c.entries.Purge()
	return nil
}
