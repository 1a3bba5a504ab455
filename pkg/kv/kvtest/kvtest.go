// Package kvtest содержит общий набор проверок для реализаций kv.Store.
package kvtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DRSN-tech/product-identity/pkg/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreSuite проверяет контракт kv.Store. newStore должен возвращать пустое хранилище;
// pk уникален для каждого подтеста, поэтому допустимо общее хранилище.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) kv.Store) {
	ctx := context.Background()

	t.Run("put and get", func(t *testing.T) {
		s := newStore(t)
		pk := uniquePK(t)

		require.NoError(t, s.Put(ctx, kv.Item{PK: pk, SK: "a", Value: []byte(`{"v":1}`)}))

		got, err := s.Get(ctx, pk, "a")
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":1}`, string(got.Value))

		_, err = s.Get(ctx, pk, "missing")
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("put overwrites", func(t *testing.T) {
		s := newStore(t)
		pk := uniquePK(t)

		require.NoError(t, s.Put(ctx, kv.Item{PK: pk, SK: "a", Value: []byte(`1`)}))
		require.NoError(t, s.Put(ctx, kv.Item{PK: pk, SK: "a", Value: []byte(`2`)}))

		got, err := s.Get(ctx, pk, "a")
		require.NoError(t, err)
		assert.Equal(t, "2", string(got.Value))
	})

	t.Run("expired items are invisible", func(t *testing.T) {
		s := newStore(t)
		pk := uniquePK(t)

		past := time.Now().Add(-time.Minute)
		require.NoError(t, s.Put(ctx, kv.Item{PK: pk, SK: "old", Value: []byte(`1`), ExpiresAt: past}))
		require.NoError(t, s.Put(ctx, kv.Item{PK: pk, SK: "new", Value: []byte(`2`), ExpiresAt: time.Now().Add(time.Hour)}))

		_, err := s.Get(ctx, pk, "old")
		assert.ErrorIs(t, err, kv.ErrNotFound)

		page, err := s.Query(ctx, pk, kv.QueryOptions{})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, "new", page.Items[0].SK)
	})

	t.Run("query paginates", func(t *testing.T) {
		s := newStore(t)
		pk := uniquePK(t)

		for i := 0; i < 7; i++ {
			require.NoError(t, s.Put(ctx, kv.Item{PK: pk, SK: fmt.Sprintf("k%02d", i), Value: []byte(`{}`)}))
		}

		var keys []string
		opts := kv.QueryOptions{Limit: 3}
		for pages := 0; ; pages++ {
			require.Less(t, pages, 10)

			page, err := s.Query(ctx, pk, opts)
			require.NoError(t, err)
			for _, it := range page.Items {
				keys = append(keys, it.SK)
			}
			if page.Next == "" {
				break
			}
			opts.Cursor = page.Next
		}

		assert.Equal(t, []string{"k00", "k01", "k02", "k03", "k04", "k05", "k06"}, keys)

		desc, err := s.Query(ctx, pk, kv.QueryOptions{Limit: 2, Descending: true})
		require.NoError(t, err)
		require.Len(t, desc.Items, 2)
		assert.Equal(t, "k06", desc.Items[0].SK)
		assert.Equal(t, "k05", desc.Next)
	})

	t.Run("query other partition is empty", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, kv.Item{PK: uniquePK(t), SK: "a", Value: []byte(`1`)}))

		page, err := s.Query(ctx, uniquePK(t)+"-other", kv.QueryOptions{})
		require.NoError(t, err)
		assert.Empty(t, page.Items)
		assert.Empty(t, page.Next)
	})

	t.Run("update applies", func(t *testing.T) {
		s := newStore(t)
		pk := uniquePK(t)
		require.NoError(t, s.Put(ctx, kv.Item{PK: pk, SK: "a", Value: []byte(`1`)}))

		res, err := s.Update(ctx, pk, "a", func(cur kv.Item) (kv.Item, error) {
			cur.Value = []byte(`2`)
			return cur, nil
		})
		require.NoError(t, err)
		assert.False(t, res.Conflict)

		got, err := s.Get(ctx, pk, "a")
		require.NoError(t, err)
		assert.Equal(t, "2", string(got.Value))
	})

	t.Run("update condition failed is a conflict", func(t *testing.T) {
		s := newStore(t)
		pk := uniquePK(t)
		require.NoError(t, s.Put(ctx, kv.Item{PK: pk, SK: "a", Value: []byte(`1`)}))

		res, err := s.Update(ctx, pk, "a", func(kv.Item) (kv.Item, error) {
			return kv.Item{}, kv.ErrConditionFailed
		})
		require.NoError(t, err)
		assert.True(t, res.Conflict)
		assert.Equal(t, "1", string(res.Item.Value))
	})

	t.Run("update missing item", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Update(ctx, uniquePK(t), "a", func(cur kv.Item) (kv.Item, error) {
			return cur, nil
		})
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("concurrent updates are serialized", func(t *testing.T) {
		s := newStore(t)
		pk := uniquePK(t)
		require.NoError(t, s.Put(ctx, kv.Item{PK: pk, SK: "set", Value: []byte(``)}))

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			conflicts int
		)

		// каждый пытается добавить один и тот же элемент; успешно должен ровно один
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := s.Update(ctx, pk, "set", func(cur kv.Item) (kv.Item, error) {
					if string(cur.Value) == "x" {
						return kv.Item{}, kv.ErrConditionFailed
					}
					cur.Value = []byte("x")
					return cur, nil
				})
				assert.NoError(t, err)

				mu.Lock()
				if res.Conflict {
					conflicts++
				}
				mu.Unlock()
			}()
		}
		wg.Wait()

		assert.Equal(t, workers-1, conflicts)
	})
}

func uniquePK(t *testing.T) string {
	return fmt.Sprintf("%s#%d", t.Name(), time.Now().UnixNano())
}
