package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore - Store в памяти процесса. Используется в тестах и при STORE_BACKEND=memory.
type MemoryStore struct {
	mu    sync.RWMutex
	parts map[string]map[string]Item
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		parts: make(map[string]map[string]Item),
		now:   time.Now,
	}
}

// WithClock подменяет источник времени (для проверки TTL).
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Put(ctx context.Context, item Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	part, ok := s.parts[item.PK]
	if !ok {
		part = make(map[string]Item)
		s.parts[item.PK] = part
	}
	part[item.SK] = cloneItem(item)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, pk, sk string) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.parts[pk][sk]
	if !ok || item.Expired(s.now()) {
		return Item{}, ErrNotFound
	}
	return cloneItem(item), nil
}

func (s *MemoryStore) Update(ctx context.Context, pk, sk string, fn UpdateFunc) (UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return UpdateResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.parts[pk][sk]
	if !ok || current.Expired(s.now()) {
		return UpdateResult{}, ErrNotFound
	}

	next, res, apply, err := ApplyUpdate(cloneItem(current), fn)
	if err != nil || !apply {
		return res, err
	}

	s.parts[pk][sk] = cloneItem(next)
	return res, nil
}

func (s *MemoryStore) Query(ctx context.Context, pk string, opts QueryOptions) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	part := s.parts[pk]
	keys := make([]string, 0, len(part))
	for sk, item := range part {
		if item.Expired(now) {
			continue
		}
		if opts.Cursor != "" {
			if !opts.Descending && strings.Compare(sk, opts.Cursor) <= 0 {
				continue
			}
			if opts.Descending && strings.Compare(sk, opts.Cursor) >= 0 {
				continue
			}
		}
		keys = append(keys, sk)
	}

	sort.Strings(keys)
	if opts.Descending {
		sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	}

	var page Page
	if opts.Limit > 0 && len(keys) > opts.Limit {
		keys = keys[:opts.Limit]
		page.Next = keys[len(keys)-1]
	}

	page.Items = make([]Item, 0, len(keys))
	for _, sk := range keys {
		page.Items = append(page.Items, cloneItem(part[sk]))
	}
	return page, nil
}

func cloneItem(i Item) Item {
	if i.Value != nil {
		v := make([]byte, len(i.Value))
		copy(v, i.Value)
		i.Value = v
	}
	return i
}
