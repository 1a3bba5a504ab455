package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/DRSN-tech/product-identity/internal/similarity"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/DRSN-tech/product-identity/pkg/logger"
	"github.com/jimlawless/whereami"
	"github.com/joho/godotenv"
)

const (
	StoreBackendRedis    = "redis"
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"

	EmbeddingBackendKV     = "kv"
	EmbeddingBackendQdrant = "qdrant"
)

type Config struct {
	Engine *EngineCfg
	Store  *StoreCfg
	Log    *LogCfg
	Minio  *MinIOCfg
	Http   *HTTPConfig
	Grpc   *GRPCConfig
	Db     *PGDBCfg
	Qdrant *QdrantCfg
	Redis  *RedisCfg
	Ml     *MLServiceCfg
	Kafka  *KafkaCfg
}

// EngineCfg - параметры движка сопоставления изображений.
type EngineCfg struct {
	Thresholds       similarity.Thresholds
	ClusterThreshold float64
	MultiSignal      bool
	Weights          similarity.Weights
	MaxImageSize     int64
	EmbeddingTTL     time.Duration
	GroupTTL         time.Duration
	FetchLimit       int
	PageSize         int
	IncludeExisting  bool
	CallTimeout      time.Duration // таймаут одного обращения к хранилищу или ML-сервису
	BatchConcurrency int
	DefaultTenant    string
}

type StoreCfg struct {
	Backend          string // redis | postgres | memory
	EmbeddingBackend string // kv | qdrant
}

type LogCfg struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type KafkaCfg struct {
	Enabled           bool
	UploadTopic       string // события загрузки изображений
	EventsTopic       string // события группировки
	GroupID           string
	Brokers           []string
	NetworkMode       string
	Partitions        int
	ReplicationFactor int
	BatchSize         int           // сколько загрузок тенанта копить до запуска пайплайна
	FlushInterval     time.Duration // максимальное ожидание неполного батча
}

type MinIOCfg struct {
	Enabled           bool
	MinioEndpoint     string // Адрес конечной точки Minio
	BucketName        string // Название конкретного бакета в Minio
	MinioRootUser     string // Имя пользователя для доступа к Minio
	MinioRootPassword string // Пароль для доступа к Minio
	MinioUseSSL       bool
	UploadImagesLimit int // Лимит на макс кол-во изображений в одном батче
}

type HTTPConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MetricsPath  string
}

type GRPCConfig struct {
	Port        string
	NetworkMode string
}

type PGDBCfg struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MigrationsDir   string // пусто: встроенные миграции
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type QdrantCfg struct {
	Port                 int
	Host                 string
	ApiKey               string
	QdrantCollectionName string // имя коллекции в Qdrant
	UseTLS               bool
	VectorSize           uint64
}

type RedisCfg struct {
	Addr        string
	Password    string
	User        string
	DB          int
	MaxRetries  int
	DialTimeout time.Duration
	Timeout     time.Duration
}

type MLServiceCfg struct {
	Addr          string
	MaxConcurrent int
	MaxRetries    int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
}

// Load безопасно загружает конфигурацию и возвращает ошибку в случае неудачи.
// Если рядом лежит .env, его значения подставляются в окружение (уже заданные не перетираются).
func Load(log logger.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warnf("failed to read .env: %v", err)
	}

	engine, err := loadEngineCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	store, err := loadStoreCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	logCfg, err := loadLogCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	db, err := loadPGDBCfg(log, store.Backend == StoreBackendPostgres)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	http, err := loadHTTPConfig(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	redis, err := loadRedisCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	minio, err := loadMinIOCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	qdrant, err := loadQdrantCfg(log, store.EmbeddingBackend == EmbeddingBackendQdrant)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	kafka, err := loadKafkaCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	ml, err := loadMLServiceCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return &Config{
		Engine: engine,
		Store:  store,
		Log:    logCfg,
		Minio:  minio,
		Http:   http,
		Grpc:   loadGRPCConfig(),
		Db:     db,
		Qdrant: qdrant,
		Redis:  redis,
		Ml:     ml,
		Kafka:  kafka,
	}, nil
}

func loadEngineCfg(log logger.Logger) (*EngineCfg, error) {
	const (
		defaultMaxImageSize     = 20 * 1024 * 1024
		defaultEmbeddingTTL     = 30 * 24 * time.Hour
		defaultGroupTTL         = 90 * 24 * time.Hour
		defaultFetchLimit       = 10000
		defaultPageSize         = 1000
		defaultIncludeExisting  = true
		defaultMultiSignal      = false
		defaultCallTimeout      = 30 * time.Second
		defaultBatchConcurrency = 8
		defaultTenant           = "default"
	)

	def := similarity.DefaultThresholds()
	thresholds := similarity.Thresholds{}
	var err error

	if thresholds.SameProduct, err = parseFloatEnv("ENGINE_SAME_PRODUCT_THRESHOLD", def.SameProduct); err != nil {
		log.Errorf(err, "invalid ENGINE_SAME_PRODUCT_THRESHOLD")
		return nil, e.Wrap("ENGINE_SAME_PRODUCT_THRESHOLD", err)
	}
	if thresholds.LikelySame, err = parseFloatEnv("ENGINE_LIKELY_SAME_THRESHOLD", def.LikelySame); err != nil {
		log.Errorf(err, "invalid ENGINE_LIKELY_SAME_THRESHOLD")
		return nil, e.Wrap("ENGINE_LIKELY_SAME_THRESHOLD", err)
	}
	if thresholds.PossiblySame, err = parseFloatEnv("ENGINE_POSSIBLY_SAME_THRESHOLD", def.PossiblySame); err != nil {
		log.Errorf(err, "invalid ENGINE_POSSIBLY_SAME_THRESHOLD")
		return nil, e.Wrap("ENGINE_POSSIBLY_SAME_THRESHOLD", err)
	}
	if err := thresholds.Validate(); err != nil {
		log.Errorf(err, "invalid similarity thresholds: %+v", thresholds)
		return nil, e.Wrap("similarity thresholds", err)
	}

	clusterThreshold, err := parseFloatEnv("ENGINE_CLUSTER_THRESHOLD", thresholds.SameProduct)
	if err == nil && (clusterThreshold <= 0 || clusterThreshold > 1) {
		err = e.ErrIncorrectEnvVariable
	}
	if err != nil {
		log.Errorf(err, "invalid ENGINE_CLUSTER_THRESHOLD")
		return nil, e.Wrap("ENGINE_CLUSTER_THRESHOLD", err)
	}

	multiSignal, err := parseBoolEnv("ENGINE_MULTI_SIGNAL_ENABLED", defaultMultiSignal)
	if err != nil {
		log.Errorf(err, "invalid ENGINE_MULTI_SIGNAL_ENABLED")
		return nil, e.Wrap("ENGINE_MULTI_SIGNAL_ENABLED", err)
	}

	weights := similarity.DefaultWeights()
	if raw := getEnv("ENGINE_SIGNAL_WEIGHTS"); raw != "" {
		weights, err = similarity.ParseWeights(raw)
		if err != nil {
			log.Errorf(err, "invalid ENGINE_SIGNAL_WEIGHTS")
			return nil, e.Wrap("ENGINE_SIGNAL_WEIGHTS", err)
		}
	}

	maxImageSize, err := parseIntEnv("ENGINE_MAX_IMAGE_SIZE", defaultMaxImageSize)
	if err != nil {
		log.Errorf(err, "invalid ENGINE_MAX_IMAGE_SIZE")
		return nil, e.Wrap("ENGINE_MAX_IMAGE_SIZE", err)
	}

	embeddingTTL, err := parseDurationEnv("ENGINE_EMBEDDING_TTL", defaultEmbeddingTTL)
	if err != nil {
		log.Errorf(err, "invalid ENGINE_EMBEDDING_TTL")
		return nil, e.Wrap("ENGINE_EMBEDDING_TTL", err)
	}

	groupTTL, err := parseDurationEnv("ENGINE_GROUP_TTL", defaultGroupTTL)
	if err != nil {
		log.Errorf(err, "invalid ENGINE_GROUP_TTL")
		return nil, e.Wrap("ENGINE_GROUP_TTL", err)
	}

	fetchLimit, err := parseIntEnv("ENGINE_FETCH_LIMIT", defaultFetchLimit)
	if err != nil {
		log.Errorf(err, "invalid ENGINE_FETCH_LIMIT")
		return nil, e.Wrap("ENGINE_FETCH_LIMIT", err)
	}

	pageSize, err := parseIntEnv("ENGINE_PAGE_SIZE", defaultPageSize)
	if err != nil {
		log.Errorf(err, "invalid ENGINE_PAGE_SIZE")
		return nil, e.Wrap("ENGINE_PAGE_SIZE", err)
	}

	includeExisting, err := parseBoolEnv("ENGINE_INCLUDE_EXISTING", defaultIncludeExisting)
	if err != nil {
		log.Errorf(err, "invalid ENGINE_INCLUDE_EXISTING")
		return nil, e.Wrap("ENGINE_INCLUDE_EXISTING", err)
	}

	callTimeout, err := parseDurationEnv("ENGINE_CALL_TIMEOUT", defaultCallTimeout)
	if err != nil {
		log.Errorf(err, "invalid ENGINE_CALL_TIMEOUT")
		return nil, e.Wrap("ENGINE_CALL_TIMEOUT", err)
	}

	concurrency, err := parseIntEnv("ENGINE_BATCH_CONCURRENCY", defaultBatchConcurrency)
	if err != nil {
		log.Errorf(err, "invalid ENGINE_BATCH_CONCURRENCY")
		return nil, e.Wrap("ENGINE_BATCH_CONCURRENCY", err)
	}

	if fetchLimit <= 0 || pageSize <= 0 || concurrency <= 0 || maxImageSize <= 0 {
		err := fmt.Errorf("%w: engine limits must be positive", e.ErrIncorrectEnvVariable)
		log.Errorf(err, "invalid engine limits")
		return nil, err
	}

	return &EngineCfg{
		Thresholds:       thresholds,
		ClusterThreshold: clusterThreshold,
		MultiSignal:      multiSignal,
		Weights:          weights,
		MaxImageSize:     int64(maxImageSize),
		EmbeddingTTL:     embeddingTTL,
		GroupTTL:         groupTTL,
		FetchLimit:       fetchLimit,
		PageSize:         pageSize,
		IncludeExisting:  includeExisting,
		CallTimeout:      callTimeout,
		BatchConcurrency: concurrency,
		DefaultTenant:    getEnvOrDefault("ENGINE_DEFAULT_TENANT", defaultTenant),
	}, nil
}

func loadStoreCfg() (*StoreCfg, error) {
	const (
		defaultBackend          = StoreBackendRedis
		defaultEmbeddingBackend = EmbeddingBackendKV
	)

	backend := strings.ToLower(getEnvOrDefault("STORE_BACKEND", defaultBackend))
	switch backend {
	case StoreBackendRedis, StoreBackendPostgres, StoreBackendMemory:
	default:
		return nil, fmt.Errorf("%w: STORE_BACKEND=%q", e.ErrIncorrectEnvVariable, backend)
	}

	embeddingBackend := strings.ToLower(getEnvOrDefault("EMBEDDING_BACKEND", defaultEmbeddingBackend))
	switch embeddingBackend {
	case EmbeddingBackendKV, EmbeddingBackendQdrant:
	default:
		return nil, fmt.Errorf("%w: EMBEDDING_BACKEND=%q", e.ErrIncorrectEnvVariable, embeddingBackend)
	}

	return &StoreCfg{
		Backend:          backend,
		EmbeddingBackend: embeddingBackend,
	}, nil
}

func loadLogCfg() (*LogCfg, error) {
	const (
		defaultLevel      = "info"
		defaultMaxSizeMB  = 100
		defaultMaxBackups = 5
		defaultMaxAgeDays = 28
	)

	maxSize, err := parseIntEnv("LOG_MAX_SIZE_MB", defaultMaxSizeMB)
	if err != nil {
		return nil, e.Wrap("LOG_MAX_SIZE_MB", err)
	}

	maxBackups, err := parseIntEnv("LOG_MAX_BACKUPS", defaultMaxBackups)
	if err != nil {
		return nil, e.Wrap("LOG_MAX_BACKUPS", err)
	}

	maxAge, err := parseIntEnv("LOG_MAX_AGE_DAYS", defaultMaxAgeDays)
	if err != nil {
		return nil, e.Wrap("LOG_MAX_AGE_DAYS", err)
	}

	return &LogCfg{
		Level:      getEnvOrDefault("LOG_LEVEL", defaultLevel),
		File:       getEnv("LOG_FILE"),
		MaxSizeMB:  maxSize,
		MaxBackups: maxBackups,
		MaxAgeDays: maxAge,
	}, nil
}

func loadKafkaCfg() (*KafkaCfg, error) {
	const (
		defaultPartitions        = 3
		defaultReplicationFactor = 1
		defaultNetworkMode       = "tcp"
		defaultUploadTopic       = "image.uploaded"
		defaultEventsTopic       = "product-identity.events"
		defaultGroupID           = "product-identity"
		defaultBatchSize         = 20
		defaultFlushInterval     = 5 * time.Second
	)

	brokerStr := getEnv("KAFKA_BROKERS")
	if brokerStr == "" {
		return &KafkaCfg{Enabled: false}, nil
	}
	brokers := strings.Split(brokerStr, ",")

	partitions, err := parseIntEnv("KAFKA_PARTITIONS", defaultPartitions)
	if err != nil {
		return nil, e.Wrap("KAFKA_PARTITIONS", err)
	}

	replicationFactor, err := parseIntEnv("REPLICATION_FACTOR", defaultReplicationFactor)
	if err != nil {
		return nil, e.Wrap("REPLICATION_FACTOR", err)
	}

	batchSize, err := parseIntEnv("KAFKA_BATCH_SIZE", defaultBatchSize)
	if err != nil {
		return nil, e.Wrap("KAFKA_BATCH_SIZE", err)
	}

	flushInterval, err := parseDurationEnv("KAFKA_FLUSH_INTERVAL", defaultFlushInterval)
	if err != nil {
		return nil, e.Wrap("KAFKA_FLUSH_INTERVAL", err)
	}

	return &KafkaCfg{
		Enabled:           true,
		Brokers:           brokers,
		UploadTopic:       getEnvOrDefault("KAFKA_UPLOAD_TOPIC", defaultUploadTopic),
		EventsTopic:       getEnvOrDefault("KAFKA_EVENTS_TOPIC", defaultEventsTopic),
		GroupID:           getEnvOrDefault("KAFKA_GROUP_ID", defaultGroupID),
		Partitions:        partitions,
		ReplicationFactor: replicationFactor,
		NetworkMode:       getEnvOrDefault("KAFKA_NETWORK_MODE", defaultNetworkMode),
		BatchSize:         batchSize,
		FlushInterval:     flushInterval,
	}, nil
}

func loadMinIOCfg(log logger.Logger) (*MinIOCfg, error) {
	const (
		defaultEnabled     = true
		defaultUseSSL      = false
		defaultEndpoint    = "minio:9000"
		defaultBucket      = "product-images"
		defaultUploadLimit = 50
	)

	enabled, err := parseBoolEnv("MINIO_ENABLED", defaultEnabled)
	if err != nil {
		return nil, e.Wrap("MINIO_ENABLED", err)
	}

	useSSL, err := parseBoolEnv("MINIO_USE_SSL", defaultUseSSL)
	if err != nil {
		log.Errorf(err, "invalid MINIO_USE_SSL")
		return nil, err
	}

	uploadLimit, err := parseIntEnv("UPLOAD_IMAGES_LIMIT", defaultUploadLimit)
	if err != nil {
		return nil, e.Wrap("UPLOAD_IMAGES_LIMIT", err)
	}

	return &MinIOCfg{
		Enabled:           enabled,
		MinioEndpoint:     getEnvOrDefault("MINIO_ENDPOINT", defaultEndpoint),
		BucketName:        getEnvOrDefault("BUCKET_NAME", defaultBucket),
		MinioRootUser:     getEnv("MINIO_ROOT_USER"),
		MinioRootPassword: getEnv("MINIO_ROOT_PASSWORD"),
		MinioUseSSL:       useSSL,
		UploadImagesLimit: uploadLimit,
	}, nil
}

func loadHTTPConfig(log logger.Logger) (*HTTPConfig, error) {
	const (
		defaultPort         = "8080"
		defaultReadTimeout  = 30 * time.Second
		defaultWriteTimeout = 120 * time.Second
		defaultIdleTimeout  = 60 * time.Second
		defaultMetricsPath  = "/metrics"
	)

	port := getEnvOrDefault("HTTP_PORT", defaultPort)

	readTimeout, err := parseDurationEnv("HTTP_READ_TIMEOUT", defaultReadTimeout)
	if err != nil {
		log.Errorf(err, "invalid HTTP_READ_TIMEOUT")
		return nil, err
	}

	writeTimeout, err := parseDurationEnv("HTTP_WRITE_TIMEOUT", defaultWriteTimeout)
	if err != nil {
		log.Errorf(err, "invalid HTTP_WRITE_TIMEOUT")
		return nil, err
	}

	idleTimeout, err := parseDurationEnv("KEEP_ALIVE", defaultIdleTimeout)
	if err != nil {
		log.Errorf(err, "invalid KEEP_ALIVE")
		return nil, err
	}

	return &HTTPConfig{
		Port:         port,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
		MetricsPath:  getEnvOrDefault("METRICS_PATH", defaultMetricsPath),
	}, nil
}

func loadGRPCConfig() *GRPCConfig {
	const (
		defaultPort        = "8091"
		defaultNetworkMode = "tcp"
	)

	return &GRPCConfig{
		Port:        getEnvOrDefault("GRPC_PORT", defaultPort),
		NetworkMode: getEnvOrDefault("GRPC_NETWORK_MODE", defaultNetworkMode),
	}
}

// loadPGDBCfg читает параметры PostgreSQL; учётные данные обязательны только для postgres-бэкенда.
func loadPGDBCfg(log logger.Logger, required bool) (*PGDBCfg, error) {
	const (
		defaultHost            = "localhost"
		defaultPort            = "5432"
		defaultSSLMode         = "disable"
		defaultMaxConns        = 10
		defaultMinConns        = 0
		defaultMaxConnLifetime = time.Hour
	)

	maxConns, err := parseIntEnv("POSTGRES_MAX_CONNS", defaultMaxConns)
	if err != nil || maxConns < 0 {
		err = e.Wrap("POSTGRES_MAX_CONNS", e.ErrIncorrectEnvVariable)
		log.Errorf(err, "invalid POSTGRES_MAX_CONNS")
		return nil, err
	}

	minConns, err := parseIntEnv("POSTGRES_MIN_CONNS", defaultMinConns)
	if err != nil || minConns < 0 || (maxConns > 0 && minConns > maxConns) {
		err = e.Wrap("POSTGRES_MIN_CONNS", e.ErrIncorrectEnvVariable)
		log.Errorf(err, "invalid POSTGRES_MIN_CONNS")
		return nil, err
	}

	lifetime, err := parseDurationEnv("POSTGRES_MAX_CONN_LIFETIME", defaultMaxConnLifetime)
	if err != nil {
		log.Errorf(err, "invalid POSTGRES_MAX_CONN_LIFETIME")
		return nil, err
	}

	cfg := &PGDBCfg{
		Host:            getEnvOrDefault("POSTGRES_HOST", defaultHost),
		Port:            getEnvOrDefault("POSTGRES_PORT", defaultPort),
		User:            getEnv("POSTGRES_USER"),
		Password:        getEnv("POSTGRES_PASSWORD"),
		DBName:          getEnv("POSTGRES_DB"),
		SSLMode:         getEnvOrDefault("SSL_MODE", defaultSSLMode),
		MigrationsDir:   getEnv("MIGRATIONS_DIR"),
		MaxConns:        int32(maxConns),
		MinConns:        int32(minConns),
		MaxConnLifetime: lifetime,
	}

	if !required {
		return cfg, nil
	}

	for key, v := range map[string]string{
		"POSTGRES_USER":     cfg.User,
		"POSTGRES_PASSWORD": cfg.Password,
		"POSTGRES_DB":       cfg.DBName,
	} {
		if v == "" {
			err := fmt.Errorf("%s is required", key)
			log.Errorf(err, "missing %s", key)
			return nil, err
		}
	}

	return cfg, nil
}

func loadQdrantCfg(logger logger.Logger, required bool) (*QdrantCfg, error) {
	const (
		defaultQdrantGRPCPort = "6334"
		defaultHost           = "localhost"
		defaultUseTLS         = false
		defaultVectorSize     = "1024"
		defaultCollection     = "image_embeddings"
	)

	strPort := getEnvOrDefault("QDRANT_GRPC_PORT", defaultQdrantGRPCPort)
	port, err := strconv.Atoi(strPort)
	if err != nil {
		logger.Errorf(err, "invalid QDRANT_PORT")
		return nil, err
	}

	useTLS, err := parseBoolEnv("QDRANT_USE_TLS", defaultUseTLS)
	if err != nil {
		logger.Errorf(err, "invalid QDRANT_USE_TLS")
		return nil, err
	}

	strVectorSize := getEnvOrDefault("VECTOR_SIZE", defaultVectorSize)
	vectorSize, err := strconv.ParseUint(strVectorSize, 10, 64)
	if err != nil {
		logger.Errorf(err, "invalid VECTOR_SIZE")
		return nil, err
	}

	host := getEnvOrDefault("QDRANT_HOST", defaultHost)
	if required && getEnv("QDRANT_HOST") == "" {
		logger.Warnf("QDRANT_HOST is not set, using %s", defaultHost)
	}

	return &QdrantCfg{
		Host:                 host,
		Port:                 port,
		ApiKey:               getEnv("QDRANT__SERVICE__API_KEY"),
		QdrantCollectionName: getEnvOrDefault("COLLECTION_NAME", defaultCollection),
		UseTLS:               useTLS,
		VectorSize:           vectorSize,
	}, nil
}

func loadRedisCfg(log logger.Logger) (*RedisCfg, error) {
	const (
		defaultAddr         = "localhost:6379"
		defaultDB           = 0
		defaultMaxRetries   = 3
		defaultDialTimeout  = 5 * time.Second
		defaultReadTimeout  = 3 * time.Second
		defaultWriteTimeout = 3 * time.Second
	)

	addr := getEnvOrDefault("REDIS_ADDR", defaultAddr)
	password := getEnv("REDIS_PASSWORD")
	user := getEnv("REDIS_USER")

	db, err := parseIntEnv("REDIS_DB_ID", defaultDB)
	if err != nil {
		log.Errorf(err, "invalid REDIS_DB_ID")
		return nil, err
	}

	maxRetries, err := parseIntEnv("MAX_RETRIES", defaultMaxRetries)
	if err != nil {
		log.Errorf(err, "invalid MAX_RETRIES")
		return nil, err
	}

	dialTimeout, err := parseDurationEnv("DIAL_TIMEOUT", defaultDialTimeout)
	if err != nil {
		log.Errorf(err, "invalid DIAL_TIMEOUT")
		return nil, err
	}

	readTimeout, err := parseDurationEnv("READ_TIMEOUT", defaultReadTimeout)
	if err != nil {
		log.Errorf(err, "invalid READ_TIMEOUT")
		return nil, err
	}

	writeTimeout, err := parseDurationEnv("WRITE_TIMEOUT", defaultWriteTimeout)
	if err != nil {
		log.Errorf(err, "invalid WRITE_TIMEOUT")
		return nil, err
	}

	timeout := readTimeout
	if writeTimeout > timeout {
		timeout = writeTimeout
	}

	return &RedisCfg{
		Addr:        addr,
		Password:    password,
		User:        user,
		DB:          db,
		MaxRetries:  maxRetries,
		DialTimeout: dialTimeout,
		Timeout:     timeout,
	}, nil
}

func loadMLServiceCfg() (*MLServiceCfg, error) {
	const (
		defaultHost          = "ml-service"
		defaultPort          = "50051"
		defaultMaxConcurrent = 8
		defaultMaxRetries    = 3
		defaultBaseBackoff   = 200 * time.Millisecond
		defaultMaxBackoff    = 5 * time.Second
	)

	host := getEnvOrDefault("ML_HOST", defaultHost)
	port := getEnvOrDefault("ML_PORT", defaultPort)

	maxConcurrent, err := parseIntEnv("ML_MAX_CONCURRENT", defaultMaxConcurrent)
	if err != nil {
		return nil, e.Wrap("ML_MAX_CONCURRENT", err)
	}

	maxRetries, err := parseIntEnv("ML_MAX_RETRIES", defaultMaxRetries)
	if err != nil {
		return nil, e.Wrap("ML_MAX_RETRIES", err)
	}

	baseBackoff, err := parseDurationEnv("ML_BASE_BACKOFF", defaultBaseBackoff)
	if err != nil {
		return nil, e.Wrap("ML_BASE_BACKOFF", err)
	}

	maxBackoff, err := parseDurationEnv("ML_MAX_BACKOFF", defaultMaxBackoff)
	if err != nil {
		return nil, e.Wrap("ML_MAX_BACKOFF", err)
	}

	return &MLServiceCfg{
		Addr:          host + ":" + port,
		MaxConcurrent: maxConcurrent,
		MaxRetries:    maxRetries,
		BaseBackoff:   baseBackoff,
		MaxBackoff:    maxBackoff,
	}, nil
}

// getEnv возвращает значение переменной окружения.
// Возвращает пустую строку, если переменная не задана.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// parseDurationEnv считывает длительность или возвращает значение по умолчанию.
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue, fmt.Errorf("%w: %w", e.ErrIncorrectEnvVariable, err)
	}

	return d, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}

	intValue, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue, e.ErrIncorrectEnvVariable
	}

	return intValue, nil
}

func parseFloatEnv(key string, defaultValue float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue, e.ErrIncorrectEnvVariable
	}

	return f, nil
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue, e.ErrIncorrectEnvVariable
	}

	return b, nil
}
