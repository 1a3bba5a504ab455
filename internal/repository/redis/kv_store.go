package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DRSN-tech/product-identity/pkg/clients"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/DRSN-tech/product-identity/pkg/kv"
	"github.com/DRSN-tech/product-identity/pkg/logger"
	"github.com/jimlawless/whereami"
	r "github.com/redis/go-redis/v9"
)

const scanChunk = 500

// KVStore реализует kv.Store поверх Redis.
//
// Запись хранится строкой kv:{pk}:item:<sk> (JSON-конверт со значением и сроком жизни,
// TTL ключа совпадает с ExpiresAt). Сортированное множество kv:{pk}:idx с нулевыми весами
// индексирует sk лексикографически для постраничного запроса; элементы истёкших записей
// удаляются из индекса при чтении. Условное обновление - WATCH/MULTI с повтором.
// Hash tag {pk} держит ключи одной партиции в одном слоте кластера.
type KVStore struct {
	client *clients.RedisClient
	logger logger.Logger
	now    func() time.Time
}

func NewKVStore(client *clients.RedisClient, logger logger.Logger) *KVStore {
	return &KVStore{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// envelope - сохраняемое представление записи.
type envelope struct {
	Value     []byte    `json:"v"`
	ExpiresAt time.Time `json:"exp,omitempty"`
}

func (s *KVStore) Put(ctx context.Context, item kv.Item) error {
	data, ttl, err := s.encode(item)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	_, err = s.client.Client.TxPipelined(ctx, func(pipe r.Pipeliner) error {
		s.write(ctx, pipe, item, data, ttl)
		return nil
	})
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

func (s *KVStore) Get(ctx context.Context, pk, sk string) (kv.Item, error) {
	data, err := s.client.Client.Get(ctx, itemKey(pk, sk)).Bytes()
	if errors.Is(err, r.Nil) {
		return kv.Item{}, kv.ErrNotFound
	}
	if err != nil {
		return kv.Item{}, e.Wrap(whereami.WhereAmI(), err)
	}

	item, err := s.decode(pk, sk, data)
	if err != nil {
		return kv.Item{}, e.Wrap(whereami.WhereAmI(), err)
	}
	if item.Expired(s.now()) {
		return kv.Item{}, kv.ErrNotFound
	}

	return item, nil
}

// Update применяет fn под WATCH ключа записи; при конкурентном изменении попытка повторяется.
func (s *KVStore) Update(ctx context.Context, pk, sk string, fn kv.UpdateFunc) (kv.UpdateResult, error) {
	key := itemKey(pk, sk)

	for attempt := 0; attempt < kv.MaxUpdateAttempts; attempt++ {
		var res kv.UpdateResult

		err := s.client.Client.Watch(ctx, func(tx *r.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, r.Nil) {
				return kv.ErrNotFound
			}
			if err != nil {
				return err
			}

			current, err := s.decode(pk, sk, data)
			if err != nil {
				return err
			}
			if current.Expired(s.now()) {
				return kv.ErrNotFound
			}

			next, result, apply, err := kv.ApplyUpdate(current, fn)
			if err != nil {
				return err
			}
			res = result
			if !apply {
				return nil
			}

			encoded, ttl, err := s.encode(next)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe r.Pipeliner) error {
				s.write(ctx, pipe, next, encoded, ttl)
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil:
			return res, nil
		case errors.Is(err, r.TxFailedErr):
			s.logger.Debugf("redis kv update conflict on %s, attempt %d", key, attempt+1)
			continue
		case errors.Is(err, kv.ErrNotFound):
			return kv.UpdateResult{}, kv.ErrNotFound
		default:
			return kv.UpdateResult{}, e.Wrap(whereami.WhereAmI(), err)
		}
	}

	return kv.UpdateResult{}, e.Wrap(whereami.WhereAmI(), kv.ErrTooManyConflicts)
}

// Query читает индекс партиции кусками и отбрасывает истёкшие записи.
func (s *KVStore) Query(ctx context.Context, pk string, opts kv.QueryOptions) (kv.Page, error) {
	idx := indexKey(pk)
	chunk := int64(scanChunk)
	if opts.Limit > 0 {
		chunk = int64(opts.Limit) + 1
	}

	bound := ""
	if opts.Cursor != "" {
		bound = "(" + opts.Cursor
	}

	now := s.now()
	items := make([]kv.Item, 0)

	for {
		members, err := s.rangeIndex(ctx, idx, bound, opts.Descending, chunk)
		if err != nil {
			return kv.Page{}, e.Wrap(whereami.WhereAmI(), err)
		}
		if len(members) == 0 {
			break
		}

		keys := make([]string, len(members))
		for i, m := range members {
			keys[i] = itemKey(pk, m)
		}

		values, err := s.client.Client.MGet(ctx, keys...).Result()
		if err != nil {
			return kv.Page{}, e.Wrap(whereami.WhereAmI(), err)
		}

		stale := make([]any, 0)
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				stale = append(stale, members[i])
				continue
			}

			item, err := s.decode(pk, members[i], []byte(raw))
			if err != nil {
				s.logger.Warnf("redis kv: undecodable item %s: %v", keys[i], err)
				continue
			}
			if item.Expired(now) {
				stale = append(stale, members[i])
				continue
			}
			items = append(items, item)
		}

		if len(stale) > 0 {
			if err := s.client.Client.ZRem(ctx, idx, stale...).Err(); err != nil {
				s.logger.Warnf("redis kv: failed to prune index %s: %v", idx, e.Wrap(whereami.WhereAmI(), err))
			}
		}

		if opts.Limit > 0 && len(items) > opts.Limit {
			break
		}
		if int64(len(members)) < chunk {
			break
		}
		bound = "(" + members[len(members)-1]
	}

	var page kv.Page
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
		page.Next = items[len(items)-1].SK
	}
	page.Items = items

	return page, nil
}

func (s *KVStore) rangeIndex(ctx context.Context, idx, bound string, desc bool, count int64) ([]string, error) {
	if desc {
		max := "+"
		if bound != "" {
			max = bound
		}
		return s.client.Client.ZRevRangeByLex(ctx, idx, &r.ZRangeBy{Min: "-", Max: max, Count: count}).Result()
	}

	min := "-"
	if bound != "" {
		min = bound
	}
	return s.client.Client.ZRangeByLex(ctx, idx, &r.ZRangeBy{Min: min, Max: "+", Count: count}).Result()
}

// write добавляет в pipeline запись значения и индекса. Уже истёкшая запись удаляется.
func (s *KVStore) write(ctx context.Context, pipe r.Pipeliner, item kv.Item, data []byte, ttl time.Duration) {
	key := itemKey(item.PK, item.SK)
	if ttl < 0 {
		pipe.Del(ctx, key)
		pipe.ZRem(ctx, indexKey(item.PK), item.SK)
		return
	}

	pipe.Set(ctx, key, data, ttl)
	pipe.ZAdd(ctx, indexKey(item.PK), r.Z{Score: 0, Member: item.SK})
}

// encode возвращает конверт и TTL ключа: 0 - бессрочно, <0 - запись уже истекла.
func (s *KVStore) encode(item kv.Item) ([]byte, time.Duration, error) {
	data, err := json.Marshal(envelope{Value: item.Value, ExpiresAt: item.ExpiresAt})
	if err != nil {
		return nil, 0, err
	}

	if item.ExpiresAt.IsZero() {
		return data, 0, nil
	}

	ttl := item.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return data, -1, nil
	}
	return data, ttl, nil
}

func (s *KVStore) decode(pk, sk string, data []byte) (kv.Item, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return kv.Item{}, fmt.Errorf("decode %s/%s: %w", pk, sk, err)
	}

	return kv.Item{PK: pk, SK: sk, Value: env.Value, ExpiresAt: env.ExpiresAt}, nil
}

func itemKey(pk, sk string) string {
	return fmt.Sprintf("kv:{%s}:item:%s", pk, sk)
}

func indexKey(pk string) string {
	return fmt.Sprintf("kv:{%s}:idx", pk)
}
