package kafka

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/DRSN-tech/product-identity/internal/cfg"
	"github.com/DRSN-tech/product-identity/internal/usecase"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/DRSN-tech/product-identity/pkg/jitter"
	"github.com/DRSN-tech/product-identity/pkg/logger"
	"github.com/segmentio/kafka-go"
)

const (
	drainTimeout     = 30 * time.Second
	refetchBackoff   = 2 * time.Second
	flushMaxAttempts = 3
	flushBaseBackoff = 200 * time.Millisecond
	flushMaxBackoff  = 5 * time.Second
)

// messageReader - подмножество *kafka.Reader, нужное консьюмеру.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// pendingBatch - накопленные загрузки одного тенанта.
type pendingBatch struct {
	uploads []usecase.UploadRef
	msgs    []kafka.Message
}

// UploadConsumer читает события загрузки изображений, копит их по тенантам и запускает
// пакетный пайплайн, когда набралось BatchSize загрузок или прошёл FlushInterval.
//
// Смещения коммитятся только когда все буферы пусты: коммит в Kafka сдвигает смещение
// партиции целиком, и ранний коммит одного тенанта потерял бы чужие незавершённые загрузки.
// Батч с временной ошибкой повторяется с backoff, а затем возвращается в буфер без коммита:
// после перезапуска сообщения будут прочитаны снова.
type UploadConsumer struct {
	reader  messageReader
	batchUC usecase.BatchUC
	cfg     *cfg.KafkaCfg
	logger  logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	buffers  map[string]*pendingBatch
	toCommit []kafka.Message

	retryBackoff time.Duration
}

func NewUploadConsumer(batchUC usecase.BatchUC, logger logger.Logger, cfg *cfg.KafkaCfg) *UploadConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.UploadTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	return newUploadConsumer(reader, batchUC, logger, cfg)
}

func newUploadConsumer(reader messageReader, batchUC usecase.BatchUC, logger logger.Logger, cfg *cfg.KafkaCfg) *UploadConsumer {
	return &UploadConsumer{
		reader:  reader,
		batchUC: batchUC,
		cfg:     cfg,
		logger:  logger,
		buffers: make(map[string]*pendingBatch),

		retryBackoff: flushBaseBackoff,
	}
}

func (c *UploadConsumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	msgCh := make(chan kafka.Message)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		defer close(msgCh)
		c.fetch(ctx, msgCh)
	}()

	go func() {
		defer c.wg.Done()
		c.run(ctx, msgCh)
	}()
}

// Stop останавливает чтение, обрабатывает накопленные загрузки и закрывает reader.
func (c *UploadConsumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	return c.reader.Close()
}

func (c *UploadConsumer) fetch(ctx context.Context, out chan<- kafka.Message) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if isRetryableError(err) {
				c.logger.Warnf("kafka fetch failed, retrying in %v: %v", refetchBackoff, err)
			} else {
				c.logger.Errorf(err, "kafka fetch failed")
			}

			select {
			case <-time.After(refetchBackoff):
				continue
			case <-ctx.Done():
				return
			}
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (c *UploadConsumer) run(ctx context.Context, in <-chan kafka.Message) {
	ticker := time.NewTicker(c.flushInterval())
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-in:
			if !ok {
				c.drain()
				return
			}
			if tenant, full := c.add(msg); full {
				c.flush(ctx, tenant)
			}

		case <-ticker.C:
			c.flushAll(ctx)

		case <-ctx.Done():
			c.drain()
			return
		}
	}
}

// add кладёт загрузку в буфер тенанта. Нераспознанное сообщение сразу уходит в коммит.
func (c *UploadConsumer) add(msg kafka.Message) (string, bool) {
	ev, err := decodeUploadEvent(msg.Value)
	if err != nil || ev.Tenant == "" || ev.ImageID == "" || ev.ObjectKey == "" {
		c.logger.Warnf("skipping malformed upload event at offset %d: %v", msg.Offset, err)
		c.toCommit = append(c.toCommit, msg)
		return "", false
	}

	batch, ok := c.buffers[ev.Tenant]
	if !ok {
		batch = &pendingBatch{}
		c.buffers[ev.Tenant] = batch
	}
	batch.uploads = append(batch.uploads, usecase.UploadRef{ImageID: ev.ImageID, ObjectKey: ev.ObjectKey})
	batch.msgs = append(batch.msgs, msg)

	return ev.Tenant, len(batch.uploads) >= c.batchSize()
}

func (c *UploadConsumer) flushAll(ctx context.Context) {
	tenants := make([]string, 0, len(c.buffers))
	for tenant := range c.buffers {
		tenants = append(tenants, tenant)
	}
	for _, tenant := range tenants {
		c.flush(ctx, tenant)
	}
	c.commit(ctx)
}

// drain обрабатывает остатки буферов после остановки.
func (c *UploadConsumer) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	c.flushAll(ctx)
}

func (c *UploadConsumer) flush(ctx context.Context, tenant string) {
	batch, ok := c.buffers[tenant]
	if !ok {
		return
	}
	delete(c.buffers, tenant)

	summary, err := c.process(ctx, tenant, batch)
	if err != nil {
		if isRetryableError(err) {
			// Без коммита: батч повторится при следующем сбросе или после перезапуска
			c.logger.Warnf("batch for tenant %s (%d uploads) failed, keeping it uncommitted: %v", tenant, len(batch.uploads), err)
			c.requeue(tenant, batch)
			return
		}
		c.logger.Errorf(err, "batch for tenant %s (%d uploads) failed, skipping", tenant, len(batch.uploads))
	}
	if summary != nil {
		c.logger.Infof("batch for tenant %s: processed=%d groups=%d ungrouped=%d failures=%d",
			tenant, summary.Processed, len(summary.Groups), len(summary.Ungrouped), len(summary.Failures))
	}

	c.toCommit = append(c.toCommit, batch.msgs...)
	if len(c.buffers) == 0 {
		c.commit(ctx)
	}
}

// process запускает пакетный пайплайн, повторяя его при временных ошибках.
func (c *UploadConsumer) process(ctx context.Context, tenant string, batch *pendingBatch) (*usecase.BatchSummary, error) {
	var (
		summary *usecase.BatchSummary
		err     error
	)
	for attempt := range flushMaxAttempts {
		if attempt > 0 {
			if sleepErr := jitter.Sleep(ctx, jitter.ExponentialBackoff(c.retryBackoff, flushMaxBackoff, attempt-1, jitter.DefaultJitter)); sleepErr != nil {
				return summary, errors.Join(err, sleepErr)
			}
		}

		summary, err = c.batchUC.ProcessUploads(ctx, usecase.NewUploadsReq(tenant, batch.uploads))
		if err == nil || !isRetryableError(err) {
			return summary, err
		}
		c.logger.Warnf("batch attempt %d for tenant %s failed: %v", attempt+1, tenant, err)
	}

	return summary, err
}

// requeue возвращает батч в начало буфера тенанта.
func (c *UploadConsumer) requeue(tenant string, batch *pendingBatch) {
	if newer, ok := c.buffers[tenant]; ok {
		batch.uploads = append(batch.uploads, newer.uploads...)
		batch.msgs = append(batch.msgs, newer.msgs...)
	}
	c.buffers[tenant] = batch
}

func (c *UploadConsumer) commit(ctx context.Context) {
	if len(c.buffers) > 0 || len(c.toCommit) == 0 {
		return
	}

	if err := c.reader.CommitMessages(ctx, c.toCommit...); err != nil {
		c.logger.Errorf(e.Wrap("UploadConsumer.commit", err), "failed to commit %d messages", len(c.toCommit))
		return
	}
	c.toCommit = c.toCommit[:0]
}

func (c *UploadConsumer) batchSize() int {
	if c.cfg.BatchSize <= 0 {
		return 1
	}
	return c.cfg.BatchSize
}

func (c *UploadConsumer) flushInterval() time.Duration {
	if c.cfg.FlushInterval <= 0 {
		return time.Second
	}
	return c.cfg.FlushInterval
}

// isRetryableError решает, можно ли повторить операцию: временные ошибки пайплайна,
// временные ошибки брокера и сетевые сбои.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if e.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var kafkaErr kafka.Error
	if errors.As(err, &kafkaErr) && kafkaErr.Temporary() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	retryablePhrases := []string{
		"connection refused",
		"i/o timeout",
		"network is unreachable",
		"broker not available",
		"connection reset",
		"broken pipe",
		"no such host",
	}
	for _, phrase := range retryablePhrases {
		if strings.Contains(errStr, phrase) {
			return true
		}
	}
	return false
}
