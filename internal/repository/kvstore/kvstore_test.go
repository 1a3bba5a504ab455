package kvstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DRSN-tech/product-identity/internal/cfg"
	"github.com/DRSN-tech/product-identity/internal/domain"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/DRSN-tech/product-identity/pkg/kv"
	"github.com/DRSN-tech/product-identity/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCfg() *cfg.EngineCfg {
	return &cfg.EngineCfg{
		EmbeddingTTL: 30 * 24 * time.Hour,
		GroupTTL:     90 * 24 * time.Hour,
		PageSize:     2,
	}
}

func newRepos() (*kv.MemoryStore, *EmbeddingRepo, *GroupRepo) {
	store := kv.NewMemoryStore()
	return store,
		NewEmbeddingRepo(store, testCfg(), logger.NewNopLogger()),
		NewGroupRepo(store, testCfg(), logger.NewNopLogger())
}

func TestEmbeddingRepoStoreAndFetchAll(t *testing.T) {
	ctx := context.Background()
	_, repo, _ := newRepos()

	for i := 0; i < 5; i++ {
		emb := domain.NewEmbedding(fmt.Sprintf("img-%d", i), "shop-1", []float32{float32(i), 1}, nil)
		require.NoError(t, repo.Store(ctx, emb))
		assert.False(t, emb.ExpiresAt.IsZero())
	}

	all, err := repo.FetchAll(ctx, "shop-1", 100)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	limited, err := repo.FetchAll(ctx, "shop-1", 3)
	require.NoError(t, err)
	assert.Len(t, limited, 3)

	other, err := repo.FetchAll(ctx, "shop-2", 100)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestEmbeddingRepoSanitizesTenant(t *testing.T) {
	ctx := context.Background()
	store, repo, _ := newRepos()

	require.NoError(t, repo.Store(ctx, domain.NewEmbedding("a", "ab/c#1", []float32{1}, nil)))

	page, err := store.Query(ctx, "TENANT#abc1#EMBEDDING", kv.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "IMAGE#a", page.Items[0].SK)

	err = repo.Store(ctx, domain.NewEmbedding("a", "#/!", []float32{1}, nil))
	assert.ErrorIs(t, err, e.ErrInvalidTenant)

	_, err = repo.FetchAll(ctx, "", 10)
	assert.ErrorIs(t, err, e.ErrInvalidTenant)
}

func TestEmbeddingRepoSkipsCorrupted(t *testing.T) {
	ctx := context.Background()
	store, repo, _ := newRepos()

	require.NoError(t, repo.Store(ctx, domain.NewEmbedding("ok", "t1", []float32{1, 2}, nil)))
	require.NoError(t, store.Put(ctx, kv.Item{PK: "TENANT#t1#EMBEDDING", SK: "IMAGE#bad", Value: []byte("{not json")}))
	require.NoError(t, store.Put(ctx, kv.Item{PK: "TENANT#t1#EMBEDDING", SK: "IMAGE#empty", Value: []byte(`{"imageId":"empty"}`)}))

	all, err := repo.FetchAll(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "ok", all[0].ImageID)
}

func TestEmbeddingRepoLinkGroupWriteOnce(t *testing.T) {
	ctx := context.Background()
	_, repo, _ := newRepos()

	require.NoError(t, repo.Store(ctx, domain.NewEmbedding("a", "t1", []float32{1}, nil)))

	res, err := repo.LinkGroup(ctx, "t1", "a", "pg_1")
	require.NoError(t, err)
	assert.True(t, res.Linked)

	res, err = repo.LinkGroup(ctx, "t1", "a", "pg_1")
	require.NoError(t, err)
	assert.False(t, res.Linked)
	assert.Equal(t, "pg_1", res.GroupID)

	res, err = repo.LinkGroup(ctx, "t1", "a", "pg_2")
	require.NoError(t, err)
	assert.False(t, res.Linked)
	assert.Equal(t, "pg_1", res.GroupID)

	// повторное сохранение не сбрасывает ссылку
	require.NoError(t, repo.Store(ctx, domain.NewEmbedding("a", "t1", []float32{2}, nil)))
	got, err := repo.Get(ctx, "t1", "a")
	require.NoError(t, err)
	assert.Equal(t, "pg_1", got.ProductGroupID)
	assert.Equal(t, []float32{2}, got.Vector)

	_, err = repo.LinkGroup(ctx, "t1", "missing", "pg_1")
	assert.ErrorIs(t, err, e.ErrImageNotFound)
}

func TestEmbeddingRepoPendingAssignment(t *testing.T) {
	ctx := context.Background()
	_, repo, _ := newRepos()

	require.NoError(t, repo.Store(ctx, domain.NewEmbedding("a", "t1", []float32{1}, nil)))

	res, err := repo.MarkPending(ctx, "t1", "a", "pg_1")
	require.NoError(t, err)
	assert.True(t, res.Linked)
	assert.Equal(t, domain.PendingGroupAssignment, res.State)

	// ожидающее изображение не уходит в чужую группу
	res, err = repo.LinkGroup(ctx, "t1", "a", "pg_2")
	require.NoError(t, err)
	assert.False(t, res.Linked)
	assert.Equal(t, "pg_1", res.GroupID)

	res, err = repo.MarkPending(ctx, "t1", "a", "pg_2")
	require.NoError(t, err)
	assert.False(t, res.Linked)
	assert.Equal(t, "pg_1", res.GroupID)

	// пересохранение сохраняет ожидание
	require.NoError(t, repo.Store(ctx, domain.NewEmbedding("a", "t1", []float32{2}, nil)))
	got, err := repo.Get(ctx, "t1", "a")
	require.NoError(t, err)
	assert.Equal(t, domain.PendingGroupAssignment, got.State())
	assert.Equal(t, "pg_1", got.PendingGroupID)

	res, err = repo.LinkGroup(ctx, "t1", "a", "pg_1")
	require.NoError(t, err)
	assert.True(t, res.Linked)
	assert.Equal(t, domain.Assigned, res.State)

	got, err = repo.Get(ctx, "t1", "a")
	require.NoError(t, err)
	assert.Equal(t, "pg_1", got.ProductGroupID)
	assert.Empty(t, got.PendingGroupID)

	// ASSIGNED -> PENDING запрещён
	res, err = repo.MarkPending(ctx, "t1", "a", "pg_1")
	require.NoError(t, err)
	assert.False(t, res.Linked)
	assert.Equal(t, domain.Assigned, res.State)
}

func TestGroupRepoAppendIsConditional(t *testing.T) {
	ctx := context.Background()
	_, _, repo := newRepos()

	group, err := domain.NewProductGroup("t1", []string{"a", "b"}, "", "", 0.9, time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, group))

	res, err := repo.AppendImage(ctx, "t1", group.GroupID, "c")
	require.NoError(t, err)
	assert.True(t, res.Appended)
	assert.Equal(t, []string{"a", "b", "c"}, res.Group.ImageIDs)

	res, err = repo.AppendImage(ctx, "t1", group.GroupID, "c")
	require.NoError(t, err)
	assert.False(t, res.Appended)
	assert.Equal(t, []string{"a", "b", "c"}, res.Group.ImageIDs)

	_, err = repo.AppendImage(ctx, "t1", "pg_missing", "c")
	assert.ErrorIs(t, err, e.ErrGroupNotFound)
}

func TestGroupRepoConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	_, _, repo := newRepos()

	group, err := domain.NewProductGroup("t1", []string{"a"}, "", "", 1, time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, group))

	const workers = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		appended int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := repo.AppendImage(ctx, "t1", group.GroupID, "dup")
			assert.NoError(t, err)
			if res.Appended {
				mu.Lock()
				appended++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, appended)

	got, err := repo.Get(ctx, "t1", group.GroupID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "dup"}, got.ImageIDs)
	assert.True(t, got.Valid())
}

func TestGroupRepoListOrder(t *testing.T) {
	ctx := context.Background()
	_, _, repo := newRepos()

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		g, err := domain.NewProductGroup("t1", []string{fmt.Sprintf("img-%d", i)}, "", "", 1, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		require.NoError(t, repo.Create(ctx, g))
		ids = append(ids, g.GroupID)
	}

	groups, err := repo.List(ctx, "t1", 3)
	require.NoError(t, err)
	require.Len(t, groups, 3)
	assert.Equal(t, ids[4], groups[0].GroupID)
	assert.Equal(t, ids[3], groups[1].GroupID)
	assert.Equal(t, ids[2], groups[2].GroupID)

	_, err = repo.Get(ctx, "t1", "pg_missing")
	assert.ErrorIs(t, err, e.ErrGroupNotFound)
}
