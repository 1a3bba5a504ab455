package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/DRSN-tech/product-identity/internal/cfg"
	v1Grpc "github.com/DRSN-tech/product-identity/internal/delivery/v1/grpc"
	v1Http "github.com/DRSN-tech/product-identity/internal/delivery/v1/http"
	"github.com/DRSN-tech/product-identity/internal/infrastructure/kafka"
	minioInfra "github.com/DRSN-tech/product-identity/internal/infrastructure/minio"
	ml_service "github.com/DRSN-tech/product-identity/internal/infrastructure/ml-service"
	"github.com/DRSN-tech/product-identity/internal/metrics"
	"github.com/DRSN-tech/product-identity/internal/repository/kvstore"
	s3Repo "github.com/DRSN-tech/product-identity/internal/repository/minio"
	"github.com/DRSN-tech/product-identity/internal/repository/pgdb"
	qdrantRepo "github.com/DRSN-tech/product-identity/internal/repository/qdrant"
	"github.com/DRSN-tech/product-identity/internal/repository/redis"
	"github.com/DRSN-tech/product-identity/internal/similarity"
	"github.com/DRSN-tech/product-identity/internal/usecase"
	"github.com/DRSN-tech/product-identity/pkg/clients"
	"github.com/DRSN-tech/product-identity/pkg/closer"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/DRSN-tech/product-identity/pkg/kv"
	"github.com/DRSN-tech/product-identity/pkg/logger"
	"github.com/DRSN-tech/product-identity/pkg/postgres"
	"github.com/go-chi/chi/v5"
	"github.com/jimlawless/whereami"
)

const (
	serviceName     = "product-identity"
	initTimeout     = 10 * time.Second
	shutdownTimeout = 15 * time.Second
	cleanupWait     = 5 * time.Second
	purgeInterval   = time.Hour
	topicTimeout    = 10 * time.Second
)

// App - собранное приложение: хранилища, клиенты внешних сервисов, use case'ы и серверы.
type App struct {
	cfg    *config.Config
	logger logger.Logger
	closer *closer.Closer

	httpSrv     *v1Http.Server
	grpcSrv     *v1Grpc.GRPCServer
	consumer    *kafka.UploadConsumer
	imagesInfra *minioInfra.MinioInfrastructure
	pgStore     *pgdb.KVStore

	// отменяется при завершении; фоновая очистка MinIO и janitor живут в нём
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

func NewApp(cfg *config.Config, log logger.Logger) (*App, error) {
	bgCtx, bgCancel := context.WithCancel(context.Background())
	a := &App{
		cfg:      cfg,
		logger:   log,
		closer:   closer.NewCloser(0),
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}

	if err := a.init(); err != nil {
		bgCancel()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := a.closer.Close(ctx); closeErr != nil {
			log.Warnf("failed to release resources after init error: %v", closeErr)
		}
		return nil, err
	}

	return a, nil
}

func (a *App) init() error {
	m := metrics.New(serviceName)

	store, err := a.initKVStore()
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	embeddingRepo, err := a.initEmbeddingRepo(store)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	groupRepo := kvstore.NewGroupRepo(store, a.cfg.Engine, a.logger)

	mlClient, err := ml_service.Dial(a.cfg.Ml)
	if err != nil {
		a.logger.Errorf(err, "failed to initialize ml-service client")
		return e.Wrap(whereami.WhereAmI(), err)
	}
	a.closer.AddFunc("ml-service", mlClient.Close)
	ml := ml_service.NewMLService(mlClient, a.cfg.Ml, a.logger)

	var images usecase.ImagesInfra
	if a.cfg.Minio.Enabled {
		if err := a.initMinio(); err != nil {
			return e.Wrap(whereami.WhereAmI(), err)
		}
		images = a.imagesInfra
	} else {
		a.logger.Warnf("MinIO is disabled: uploads are not stored, upload batches are rejected")
	}

	publisher, err := a.initPublisher()
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	engine := similarity.NewEngine(a.cfg.Engine.Thresholds, a.cfg.Engine.Weights, a.cfg.Engine.MultiSignal)

	groupUC := usecase.NewGroupUC(groupRepo, embeddingRepo, publisher, m, a.cfg.Engine, a.logger)
	imageUC := usecase.NewImageUC(embeddingRepo, ml, images, groupUC, engine, m, a.cfg.Engine, a.logger)
	batchUC := usecase.NewBatchUC(embeddingRepo, ml, ml, images, groupUC, engine, m, a.cfg.Engine, a.logger)

	if a.cfg.Kafka.Enabled && images != nil {
		a.consumer = kafka.NewUploadConsumer(batchUC, a.logger, a.cfg.Kafka)
	}

	a.grpcSrv = v1Grpc.NewGRPCServer(a.cfg.Grpc, a.logger)
	a.grpcSrv.RegisterServices(groupUC)

	r := chi.NewRouter()
	router := v1Http.NewRouter(r, a.logger)
	router.Init(imageUC, batchUC, groupUC, v1Http.Limits{
		MaxImageSize:   a.cfg.Engine.MaxImageSize,
		MaxBatchImages: a.cfg.Minio.UploadImagesLimit,
	}, a.cfg.Http.MetricsPath, m.Handler())
	a.httpSrv = v1Http.NewServer(r, a.cfg.Http)

	return nil
}

// initKVStore выбирает бэкенд key-value хранилища по STORE_BACKEND.
func (a *App) initKVStore() (kv.Store, error) {
	switch a.cfg.Store.Backend {
	case config.StoreBackendMemory:
		a.logger.Warnf("using in-memory store: data is lost on restart")
		return kv.NewMemoryStore(), nil

	case config.StoreBackendPostgres:
		db, err := initPGDB(a.logger, a.cfg)
		if err != nil {
			return nil, err
		}
		a.closer.AddFunc("postgres", func() error {
			db.Close()
			return nil
		})
		a.pgStore = pgdb.NewKVStore(db.Pool, a.logger)
		return a.pgStore, nil

	default:
		redisClient := clients.NewRedisClient(a.cfg.Redis)
		a.closer.AddFunc("redis", redisClient.Close)

		ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
		defer cancel()
		if err := redisClient.Ping(ctx); err != nil {
			a.logger.Errorf(err, "failed to connect to redis")
			return nil, err
		}
		return redis.NewKVStore(redisClient, a.logger), nil
	}
}

func (a *App) initEmbeddingRepo(store kv.Store) (usecase.EmbeddingRepository, error) {
	if a.cfg.Store.EmbeddingBackend != config.EmbeddingBackendQdrant {
		return kvstore.NewEmbeddingRepo(store, a.cfg.Engine, a.logger), nil
	}

	qdrantClient, err := clients.NewQdrantClient(a.cfg.Qdrant)
	if err != nil {
		a.logger.Errorf(err, "failed to initialize qdrant")
		return nil, err
	}
	a.closer.AddFunc("qdrant", qdrantClient.Close)

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := clients.EnsureCollection(ctx, qdrantClient); err != nil {
		a.logger.Errorf(err, "failed to initialize qdrant collection")
		return nil, err
	}

	return qdrantRepo.NewEmbeddingRepo(qdrantClient.Client, a.cfg.Qdrant, a.cfg.Engine, a.logger), nil
}

func (a *App) initMinio() error {
	minioClient, err := clients.NewMinIOClient(a.cfg.Minio)
	if err != nil {
		a.logger.Errorf(err, "failed to initialize minio client")
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := clients.EnsureBucket(ctx, minioClient, a.cfg.Minio.BucketName); err != nil {
		a.logger.Errorf(err, "failed to initialize MinIO bucket")
		return err
	}

	imageRepo := s3Repo.NewImageRepo(minioClient, a.cfg.Minio)
	a.imagesInfra = minioInfra.NewMinioInfrastructure(imageRepo, a.cfg.Minio, a.logger, a.bgCtx)
	return nil
}

func (a *App) initPublisher() (usecase.EventPublisher, error) {
	if !a.cfg.Kafka.Enabled {
		a.logger.Infof("Kafka is disabled: grouping events are not published")
		return kafka.NopPublisher{}, nil
	}

	for _, topic := range []string{a.cfg.Kafka.EventsTopic, a.cfg.Kafka.UploadTopic} {
		if err := kafka.EnsureTopic(a.cfg.Kafka, topic, topicTimeout); err != nil {
			a.logger.Errorf(err, "failed to ensure kafka topic %s", topic)
			return nil, err
		}
	}

	producer, err := kafka.NewProducer(a.logger, a.cfg.Kafka)
	if err != nil {
		a.logger.Errorf(err, "failed to initialize kafka producer")
		return nil, err
	}
	a.closer.AddFunc("kafka producer", producer.Close)

	return producer, nil
}

// Run запускает серверы и фоновые задачи и блокируется до сигнала завершения или ошибки сервера.
func (a *App) Run() error {
	grpcErrCh := make(chan error, 1)
	go func() {
		a.logger.Infof("gRPC server starting on %s:%s", a.cfg.Grpc.NetworkMode, a.cfg.Grpc.Port)
		if err := a.grpcSrv.Start(); err != nil {
			grpcErrCh <- err
		}
	}()

	httpErrCh := make(chan error, 1)
	go func() {
		a.logger.Infof("HTTP server started on port %s", a.cfg.Http.Port)
		if err := a.httpSrv.Run(); err != nil {
			httpErrCh <- err
		}
	}()

	if a.consumer != nil {
		a.logger.Infof("upload consumer started: topic=%s group=%s", a.cfg.Kafka.UploadTopic, a.cfg.Kafka.GroupID)
		a.consumer.Start(a.bgCtx)
	}

	if a.pgStore != nil {
		go a.purgeExpired()
	}

	// === Ожидание сигнала или ошибки ===
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	var appErr error
	select {
	case appErr = <-httpErrCh:
		a.logger.Errorf(appErr, "HTTP server fatal error")
	case appErr = <-grpcErrCh:
		a.logger.Errorf(appErr, "gRPC server fatal error")
	case <-shutdown:
		a.logger.Infof("Received shutdown signal, stopping gracefully...")
	}

	a.shutdown()

	a.logger.Infof("Application shutdown complete")
	return appErr
}

func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.httpSrv.Stop(ctx); err != nil {
		a.logger.Errorf(err, "HTTP server shutdown error")
	} else {
		a.logger.Infof("HTTP server stopped")
	}

	if err := a.grpcSrv.Stop(ctx); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			a.logger.Errorf(err, "gRPC server shutdown error")
		} else {
			a.logger.Warnf("gRPC server shutdown timeout")
		}
	}

	// Consumer дообрабатывает накопленные загрузки, поэтому останавливается до очистки MinIO
	if a.consumer != nil {
		if err := a.consumer.Stop(); err != nil {
			a.logger.Warnf("upload consumer stop error: %v", err)
		} else {
			a.logger.Infof("upload consumer stopped")
		}
	}

	if a.imagesInfra != nil {
		waitCtx, waitCancel := context.WithTimeout(ctx, cleanupWait)
		if err := a.imagesInfra.WaitForCleanup(waitCtx); err != nil {
			a.logger.Warnf("MinIO cleanup did not finish before shutdown, some orphaned objects may remain: %v", err)
		} else {
			a.logger.Infof("MinIO cleanup completed")
		}
		waitCancel()
	}

	a.bgCancel()

	if err := a.closer.Close(ctx); err != nil {
		a.logger.Warnf("resource close error: %v", err)
	}
}

// purgeExpired периодически удаляет истёкшие строки kv_items.
func (a *App) purgeExpired() {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.bgCtx.Done():
			return
		case <-ticker.C:
			n, err := a.pgStore.PurgeExpired(a.bgCtx)
			if err != nil {
				a.logger.Warnf("failed to purge expired items: %v", err)
				continue
			}
			if n > 0 {
				a.logger.Infof("purged %d expired items", n)
			}
		}
	}
}

func initPGDB(logger logger.Logger, cfg *config.Config) (*postgres.PgDatabase, error) {
	db, err := postgres.Connect(cfg.Db)
	if err != nil {
		logger.Errorf(err, "failed to connect to database")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	if err := db.RunMigrations(logger); err != nil {
		logger.Errorf(err, "failed to run migrations")
		db.Close()
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	if err := db.Ping(); err != nil {
		logger.Errorf(err, "failed to ping database")
		db.Close()
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return db, nil
}
