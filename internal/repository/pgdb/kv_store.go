package pgdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/DRSN-tech/product-identity/pkg/kv"
	"github.com/DRSN-tech/product-identity/pkg/logger"
	"github.com/DRSN-tech/product-identity/pkg/tr"
	transaction "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"
)

// KVStore реализует kv.Store поверх таблицы kv_items.
// Условное обновление выполняется в транзакции под SELECT ... FOR UPDATE.
type KVStore struct {
	pool   *pgxpool.Pool
	logger logger.Logger
	now    func() time.Time
}

func NewKVStore(pool *pgxpool.Pool, logger logger.Logger) *KVStore {
	return &KVStore{
		pool:   pool,
		logger: logger,
		now:    time.Now,
	}
}

func (s *KVStore) Put(ctx context.Context, item kv.Item) error {
	query := `
		INSERT INTO kv_items (pk, sk, value, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (pk, sk) DO UPDATE
		SET value = EXCLUDED.value,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = now();
	`

	q := tr.QuerierFromCtx(ctx, s.pool)
	if _, err := q.Exec(ctx, query, item.PK, item.SK, value(item.Value), expiresAt(item.ExpiresAt)); err != nil {
		return fmt.Errorf("%s: failed to put item %s/%s: %w", whereami.WhereAmI(), item.PK, item.SK, err)
	}

	return nil
}

func (s *KVStore) Get(ctx context.Context, pk, sk string) (kv.Item, error) {
	query := `
		SELECT value, expires_at
		FROM kv_items
		WHERE pk = $1 AND sk = $2 AND (expires_at IS NULL OR expires_at > $3);
	`

	q := tr.QuerierFromCtx(ctx, s.pool)
	item, err := scanItem(q.QueryRow(ctx, query, pk, sk, s.now()), pk, sk)
	if errors.Is(err, pgx.ErrNoRows) {
		return kv.Item{}, kv.ErrNotFound
	}
	if err != nil {
		return kv.Item{}, fmt.Errorf("%s: failed to get item %s/%s: %w", whereami.WhereAmI(), pk, sk, err)
	}

	return item, nil
}

// Update блокирует строку на время применения fn. Конкурентные обновления той же записи
// выполняются последовательно, поэтому повтор не нужен.
func (s *KVStore) Update(ctx context.Context, pk, sk string, fn kv.UpdateFunc) (res kv.UpdateResult, err error) {
	ctx, tx, err := transaction.NewTransaction(ctx, pgx.TxOptions{}, s.pool)
	if err != nil {
		return kv.UpdateResult{}, fmt.Errorf("%s: failed to begin transaction: %w", whereami.WhereAmI(), err)
	}
	defer func() {
		if err != nil && tx.IsActive() {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Warnf("kv update rollback failed: %v", rbErr)
			}
		}
	}()

	pgxTx, ok := tx.Transaction().(pgx.Tx)
	if !ok {
		return kv.UpdateResult{}, e.Wrap(whereami.WhereAmI(), e.ErrTransactionNotFound)
	}
	ctx = tr.WithTx(ctx, pgxTx)

	current, err := s.getForUpdate(ctx, pk, sk)
	if err != nil {
		return kv.UpdateResult{}, err
	}

	next, res, apply, err := kv.ApplyUpdate(current, fn)
	if err != nil {
		return kv.UpdateResult{}, err
	}

	if apply {
		if err = s.Put(ctx, next); err != nil {
			return kv.UpdateResult{}, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return kv.UpdateResult{}, fmt.Errorf("%s: failed to commit transaction: %w", whereami.WhereAmI(), err)
	}

	return res, nil
}

func (s *KVStore) getForUpdate(ctx context.Context, pk, sk string) (kv.Item, error) {
	tx, err := tr.TxFromCtx(ctx)
	if err != nil {
		return kv.Item{}, e.Wrap(whereami.WhereAmI(), err)
	}

	query := `
		SELECT value, expires_at
		FROM kv_items
		WHERE pk = $1 AND sk = $2 AND (expires_at IS NULL OR expires_at > $3)
		FOR UPDATE;
	`

	item, err := scanItem(tx.QueryRow(ctx, query, pk, sk, s.now()), pk, sk)
	if errors.Is(err, pgx.ErrNoRows) {
		return kv.Item{}, kv.ErrNotFound
	}
	if err != nil {
		return kv.Item{}, fmt.Errorf("%s: failed to lock item %s/%s: %w", whereami.WhereAmI(), pk, sk, err)
	}

	return item, nil
}

func (s *KVStore) Query(ctx context.Context, pk string, opts kv.QueryOptions) (kv.Page, error) {
	query := `SELECT sk, value, expires_at FROM kv_items WHERE pk = $1 AND (expires_at IS NULL OR expires_at > $2)`
	args := []any{pk, s.now()}

	if opts.Cursor != "" {
		args = append(args, opts.Cursor)
		if opts.Descending {
			query += fmt.Sprintf(" AND sk < $%d", len(args))
		} else {
			query += fmt.Sprintf(" AND sk > $%d", len(args))
		}
	}

	if opts.Descending {
		query += " ORDER BY sk DESC"
	} else {
		query += " ORDER BY sk ASC"
	}

	if opts.Limit > 0 {
		args = append(args, opts.Limit+1)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	q := tr.QuerierFromCtx(ctx, s.pool)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return kv.Page{}, fmt.Errorf("%s: failed to query partition %s: %w", whereami.WhereAmI(), pk, err)
	}
	defer rows.Close()

	items := make([]kv.Item, 0)
	for rows.Next() {
		var (
			item kv.Item
			exp  *time.Time
		)
		if err := rows.Scan(&item.SK, &item.Value, &exp); err != nil {
			return kv.Page{}, fmt.Errorf("%s: failed to scan item: %w", whereami.WhereAmI(), err)
		}
		item.PK = pk
		if exp != nil {
			item.ExpiresAt = *exp
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return kv.Page{}, fmt.Errorf("%s: rows iterator error: %w", whereami.WhereAmI(), err)
	}

	var page kv.Page
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
		page.Next = items[len(items)-1].SK
	}
	page.Items = items

	return page, nil
}

// PurgeExpired удаляет истёкшие записи. Чтения их и так не видят, это только сборка мусора.
func (s *KVStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM kv_items WHERE expires_at IS NOT NULL AND expires_at <= $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("%s: failed to purge expired items: %w", whereami.WhereAmI(), err)
	}

	return tag.RowsAffected(), nil
}

func scanItem(row pgx.Row, pk, sk string) (kv.Item, error) {
	var (
		val []byte
		exp *time.Time
	)
	if err := row.Scan(&val, &exp); err != nil {
		return kv.Item{}, err
	}

	item := kv.Item{PK: pk, SK: sk, Value: val}
	if exp != nil {
		item.ExpiresAt = *exp
	}
	return item, nil
}

func value(v []byte) []byte {
	if v == nil {
		return []byte{}
	}
	return v
}

func expiresAt(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
