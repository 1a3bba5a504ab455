// Package kv описывает контракт ключ-значение хранилища: put/get, условное обновление,
// постраничный запрос по ключу партиции и срок жизни записей.
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("kv: item not found")
	// ErrConditionFailed возвращается из UpdateFunc, если предикат ложен.
	// Store превращает её в UpdateResult.Conflict, а не в ошибку.
	ErrConditionFailed = errors.New("kv: condition failed")
	// ErrTooManyConflicts - запись не удалось обновить из-за постоянных конкурентных изменений.
	ErrTooManyConflicts = errors.New("kv: too many concurrent modifications")
)

// MaxUpdateAttempts ограничивает число повторов оптимистичного обновления.
const MaxUpdateAttempts = 16

// Item - запись хранилища. Пустой ExpiresAt означает бессрочную запись.
type Item struct {
	PK        string
	SK        string
	Value     []byte
	ExpiresAt time.Time
}

// Expired сообщает, истёк ли срок жизни записи к моменту now.
func (i Item) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// UpdateFunc получает текущее состояние записи и возвращает новое.
// ErrConditionFailed отменяет запись без ошибки.
type UpdateFunc func(current Item) (Item, error)

// UpdateResult - итог условного обновления. При Conflict запись не изменилась,
// а Item содержит её текущее состояние.
type UpdateResult struct {
	Item     Item
	Conflict bool
}

// QueryOptions - параметры постраничного запроса. Cursor - SK последней записи предыдущей
// страницы (не включается в ответ).
type QueryOptions struct {
	Limit      int
	Cursor     string
	Descending bool
}

// Page - страница результатов. Next пуст, если данных больше нет.
type Page struct {
	Items []Item
	Next  string
}

// Store - ключ-значение хранилище с партициями. Записи с истёкшим сроком жизни
// невидимы для Get, Update и Query.
type Store interface {
	Put(ctx context.Context, item Item) error
	Get(ctx context.Context, pk, sk string) (Item, error)
	// Update атомарно применяет fn к существующей записи. Отсутствующая запись - ErrNotFound.
	Update(ctx context.Context, pk, sk string, fn UpdateFunc) (UpdateResult, error)
	Query(ctx context.Context, pk string, opts QueryOptions) (Page, error)
}

// ApplyUpdate вызывает fn и приводит ErrConditionFailed к конфликту.
// apply=false означает, что записывать ничего не нужно.
func ApplyUpdate(current Item, fn UpdateFunc) (next Item, res UpdateResult, apply bool, err error) {
	next, err = fn(current)
	if errors.Is(err, ErrConditionFailed) {
		return Item{}, UpdateResult{Item: current, Conflict: true}, false, nil
	}
	if err != nil {
		return Item{}, UpdateResult{}, false, err
	}

	// ключ записи менять нельзя
	next.PK, next.SK = current.PK, current.SK
	return next, UpdateResult{Item: next}, true, nil
}
