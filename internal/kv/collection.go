package kv

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/miradorstack/faultsim/internal/metrics"
	"github.com/miradorstack/faultsim/internal/utils"
)

// Collection is a JSON-encoded slice stored under one backend key. Load never
// fails: missing or corrupt data yields an empty slice. Update refuses to write
// when the backend read fails. Writes are serialized so
// a read-modify-write through Update is atomic with respect to other writers.
type Collection[T any] struct {
	backend Backend
	key     string
	logger  *slog.Logger

	mu sync.Mutex

	subMu  sync.RWMutex
	subs   map[uint64]func()
	nextID uint64
}

// NewCollection binds a typed collection to key on backend.
func NewCollection[T any](backend Backend, key string, logger *slog.Logger) *Collection[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collection[T]{
		backend: backend,
		key:     key,
		logger:  logger,
		subs:    make(map[uint64]func()),
	}
}

// Name returns the storage key.
func (c *Collection[T]) Name() string { return c.key }

// Load returns the current contents, or an empty slice when the key is absent,
// unreadable or corrupt.
func (c *Collection[T]) Load(ctx context.Context) []T {
	items, err := c.read(ctx)
	if err != nil {
		return []T{}
	}
	return items
}

// read decodes the stored slice. A missing key or corrupt payload yields an
// empty slice; any other backend failure is returned.
func (c *Collection[T]) read(ctx context.Context) ([]T, error) {
	raw, err := c.backend.Get(ctx, c.key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []T{}, nil
		}
		c.logger.Warn("collection load failed", slog.String("collection", c.key), slog.Any("error", err))
		metrics.ObservePersistenceError(c.key, "load")
		return nil, utils.NewAppError("kv."+c.key, "read failed", err)
	}
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		c.logger.Warn("collection decode failed", slog.String("collection", c.key), slog.Any("error", err))
		metrics.ObservePersistenceError(c.key, "decode")
		return []T{}, nil
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// Update loads the collection, applies fn and persists the result when fn
// reports a change. Subscribers are notified after a successful save, once the
// write lock has been released. When the read, fn or the save fails nothing is
// written and the error is returned.
func (c *Collection[T]) Update(ctx context.Context, fn func([]T) ([]T, bool, error)) ([]T, error) {
	c.mu.Lock()
	items, err := c.read(ctx)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	next, changed, err := fn(items)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if !changed {
		c.mu.Unlock()
		return next, nil
	}
	if err := c.save(ctx, next); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	c.notify()
	return next, nil
}

// Replace overwrites the collection with items without reading it first.
func (c *Collection[T]) Replace(ctx context.Context, items []T) error {
	c.mu.Lock()
	err := c.save(ctx, items)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.notify()
	return nil
}

// Subscribe registers a change handler and returns a function that removes it.
// Handlers receive no payload; they re-query what they need.
func (c *Collection[T]) Subscribe(fn func()) func() {
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})
	}
}

func (c *Collection[T]) save(ctx context.Context, items []T) error {
	if items == nil {
		items = []T{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		metrics.ObservePersistenceError(c.key, "encode")
		return utils.NewAppError("kv."+c.key, "encode failed", err)
	}
	if err := c.backend.Set(ctx, c.key, raw, 0); err != nil {
		c.logger.Warn("collection save failed, write dropped", slog.String("collection", c.key), slog.Any("error", err))
		metrics.ObservePersistenceError(c.key, "save")
		return utils.NewAppError("kv."+c.key, "write dropped", err)
	}
	return nil
}

func (c *Collection[T]) notify() {
	c.subMu.RLock()
	handlers := make([]func(), 0, len(c.subs))
	for _, fn := range c.subs {
		handlers = append(handlers, fn)
	}
	c.subMu.RUnlock()

	for _, fn := range handlers {
		fn()
	}
}
