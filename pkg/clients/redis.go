package clients

import (
	"context"
	"time"

	"github.com/DRSN-tech/product-identity/internal/cfg"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/DRSN-tech/product-identity/pkg/jitter"
	"github.com/jimlawless/whereami"
	r "github.com/redis/go-redis/v9"
)

const (
	redisClientName  = "product-identity"
	redisReadyTries  = 5
	redisBaseBackoff = 100 * time.Millisecond
	redisMaxBackoff  = 2 * time.Second
)

// RedisClient - клиент Redis, на котором построен kv.Store.
// Таймауты операций берутся из контекста вызова, а не только из конфигурации.
type RedisClient struct {
	Client *r.Client
}

func NewRedisClient(cfg *cfg.RedisCfg) *RedisClient {
	client := r.NewClient(&r.Options{
		Addr:                  cfg.Addr,
		ClientName:            redisClientName,
		Username:              cfg.User,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		MaxRetries:            cfg.MaxRetries,
		DialTimeout:           cfg.DialTimeout,
		ReadTimeout:           cfg.Timeout,
		WriteTimeout:          cfg.Timeout,
		ContextTimeoutEnabled: true,
	})

	return &RedisClient{Client: client}
}

// Close закрывает пул соединений.
func (c *RedisClient) Close() error {
	return c.Client.Close()
}

// Ping проверяет доступность сервера, повторяя попытку с джиттером, пока не истечёт ctx.
func (c *RedisClient) Ping(ctx context.Context) error {
	var err error
	for attempt := range redisReadyTries {
		if err = c.Client.Ping(ctx).Err(); err == nil {
			return nil
		}
		if attempt == redisReadyTries-1 {
			break
		}
		if sleepErr := jitter.Sleep(ctx, jitter.ExponentialBackoff(redisBaseBackoff, redisMaxBackoff, attempt, jitter.DefaultJitter)); sleepErr != nil {
			break
		}
	}

	return e.Storage(whereami.WhereAmI(), err)
}
