package di

import (
	"context"
	"fmt"
	"time"

	domrepo "AgentFlow/internal/domain/repository"
	domsvc "AgentFlow/internal/domain/service"
	"AgentFlow/internal/handler/api"
	"AgentFlow/internal/handler/ws"
	mid "AgentFlow/internal/middleware"
	internalrepo "AgentFlow/internal/repository"
	"AgentFlow/internal/service/ledger"
	"AgentFlow/internal/service/registry"
	"AgentFlow/internal/services/agents"
	"AgentFlow/internal/services/broker"
	"AgentFlow/internal/services/notify"
	"AgentFlow/internal/services/signalfeed"
	"AgentFlow/internal/usecase"
	"AgentFlow/pkg/cache"
	pkgch "AgentFlow/pkg/clickhouse"
	"AgentFlow/pkg/config"
	xhttp "AgentFlow/pkg/http"
	pkgkafka "AgentFlow/pkg/kafka"
	applogger "AgentFlow/pkg/logger"
	"AgentFlow/pkg/metrics"
	"AgentFlow/pkg/queue"
	"AgentFlow/pkg/server"

	"github.com/redis/go-redis/v9"
)

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger builds the application logger. With logging.collect set and
// Kafka enabled, repeated log lines are aggregated and shipped to logs_topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Logging.Collect && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Logging.FlushInterval,
			CountThreshold: cfg.Logging.FlushCount,
			Topic:          cfg.Kafka.LogsTopic,
			Publisher:      producer,
		})
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

// ProvideRedisClient connects to Redis, or returns nil when Redis is disabled.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// ProvideCache returns the shared lease and counter store.
func ProvideCache(cfg *config.Config, client *redis.Client) cache.Service {
	if client != nil {
		return cache.NewRedisCacheFromClient(client, cfg.Redis.Prefix)
	}
	return cache.NewMemoryCache()
}

// ProvideClickHouseClient creates a ClickHouse client and its schema, or nil when disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	schema := append(append([]string{}, internalrepo.ExecutionSchema...), internalrepo.CandleSchema...)
	if err := client.InitSchema(ctx, schema); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideExecutionStore selects the execution store from storage.execution.
func ProvideExecutionStore(cfg *config.Config, ch *pkgch.Client) domrepo.ExecutionStore {
	if cfg.Storage.Execution == "clickhouse" && ch != nil {
		return internalrepo.NewCHExecutionStore(ch)
	}
	return internalrepo.NewMemoryExecutionStore()
}

// ProvideCatalog selects the pipeline and scanner store from storage.catalog.
func ProvideCatalog(cfg *config.Config, client *redis.Client) domrepo.CatalogStore {
	if cfg.Storage.Catalog == "redis" && client != nil {
		return internalrepo.NewRedisCatalog(client, cfg.Redis.Prefix)
	}
	return internalrepo.NewMemoryCatalog()
}

// ProvideFeatureStore returns the candle store, or a nil interface without ClickHouse.
func ProvideFeatureStore(ch *pkgch.Client, l *applogger.Logger) domrepo.FeatureStore {
	if ch == nil {
		return nil
	}
	return internalrepo.NewCHFeatureStore(ch, l)
}

func ProvideRegistry(cfg *config.Config, catalog domrepo.CatalogStore, l *applogger.Logger) *registry.Registry {
	return registry.New(catalog, l, cfg.Registry.RefreshInterval)
}

// ProvideLedger creates the cost ledger, persisting entries to ClickHouse when available.
func ProvideLedger(m domrepo.Metrics, l *applogger.Logger, ch *pkgch.Client) *ledger.Ledger {
	if ch == nil {
		return ledger.New(m, l)
	}
	sink := internalrepo.NewCHCostSink(ch)
	return ledger.New(m, l, ledger.WithSink(sink), ledger.WithReader(sink))
}

// ProvideBrokers resolves the live broker (when configured) and the paper broker.
func ProvideBrokers(cfg *config.Config, fs domrepo.FeatureStore) *broker.Resolver {
	var live domsvc.Broker
	if cfg.Broker.LiveURL != "" {
		live = broker.NewHTTPBroker("live", cfg.Broker.LiveURL, cfg.Broker.APIKey, cfg.Broker.Timeout)
	}
	return broker.NewResolver(live, broker.NewPaperBroker(fs))
}

// ProvideAgents registers the built-in agents and, with agents.service_url set,
// the remote bias and strategy agents.
func ProvideAgents(cfg *config.Config, fs domrepo.FeatureStore, brokers *broker.Resolver) *agents.Registry {
	reg := agents.NewRegistry(
		agents.NewMarketDataAgent(fs),
		agents.NewRiskManager(),
		agents.NewTradeManager(brokers),
	)
	if cfg.Agents.ServiceURL != "" {
		base := agents.NewHTTPServiceBase(cfg.Agents.ServiceURL, cfg.Agents.Timeout, cfg.Agents.MaxRetries+1)
		reg.Register(agents.NewBiasAgent(base))
		reg.Register(agents.NewStrategyAgent(base))
	}
	return reg
}

func ProvideExecutionStream(l *applogger.Logger) *ws.ExecutionStream {
	return ws.NewExecutionStream(l)
}

// ProvideEventPublisher fans execution events out to WebSocket clients and Kafka.
func ProvideEventPublisher(cfg *config.Config, stream *ws.ExecutionStream, producer *pkgkafka.Producer, m domrepo.Metrics) domrepo.EventPublisher {
	fan := internalrepo.EventFanout{stream}
	if producer != nil {
		fan = append(fan, internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.EventsTopic, m))
	}
	return fan
}

// ProvideNotifiers returns the approval channels: always the log channel, plus
// Kafka when a producer exists.
func ProvideNotifiers(cfg *config.Config, producer *pkgkafka.Producer, l *applogger.Logger) []domsvc.ApprovalNotifier {
	ns := []domsvc.ApprovalNotifier{notify.NewLogNotifier(l)}
	if producer != nil {
		ns = append(ns, notify.NewKafkaNotifier(producer, cfg.Kafka.ApprovalsTopic))
	}
	return ns
}

func ProvideEngine(
	cfg *config.Config,
	store domrepo.ExecutionStore,
	catalog domrepo.CatalogStore,
	agentReg *agents.Registry,
	costs *ledger.Ledger,
	locks cache.Service,
	events domrepo.EventPublisher,
	m domrepo.Metrics,
	l *applogger.Logger,
	notifiers []domsvc.ApprovalNotifier,
	reg *registry.Registry,
) *usecase.Engine {
	return usecase.NewEngine(store, catalog, agentReg, costs, locks, events, m, l, usecase.EngineConfig{
		MaxConcurrent:           cfg.Engine.MaxConcurrent,
		LeaseTTL:                cfg.Engine.LeaseTTL,
		NodeTimeout:             cfg.Engine.NodeTimeout,
		PollInterval:            cfg.Monitor.PollInterval,
		SweepInterval:           cfg.Engine.SweepInterval,
		ApprovalChannels:        cfg.Engine.ApprovalChannels,
		DeactivateAfterFailures: cfg.Engine.DeactivateAfterFailures,
	}, usecase.WithNotifiers(notifiers...), usecase.WithInvalidator(reg))
}

func ProvideExecutionJob(engine *usecase.Engine, l *applogger.Logger) *usecase.ExecutionJob {
	return usecase.NewExecutionJob(engine, l)
}

// ProvideJobQueue builds the execution request queue: per-process channels or Redis lists.
func ProvideJobQueue(cfg *config.Config, l *applogger.Logger, client *redis.Client, job *usecase.ExecutionJob) queue.Queue {
	qc := &queue.QueueConfig{
		Shards:     cfg.Queue.Shards,
		Capacity:   cfg.Queue.Capacity,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	}
	if cfg.Queue.Type == "redis" && client != nil {
		rq := queue.NewRedisQueue(l, qc, client, queue.ModeProducerConsumer, queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"))
		rq.RegisterJob(job)
		return rq
	}
	return queue.NewMemoryQueue(l, qc, job)
}

func ProvideRequestQueue(q queue.Queue, m domrepo.Metrics) domrepo.RequestQueue {
	return internalrepo.NewRequestQueue(q, m)
}

func ProvideMonitor(cfg *config.Config, engine *usecase.Engine, brokers *broker.Resolver, l *applogger.Logger) *usecase.Monitor {
	return usecase.NewMonitor(engine, brokers, usecase.MonitorConfig{
		PollInterval: cfg.Monitor.PollInterval,
		RetryMax:     cfg.Monitor.RetryMax,
		BackoffMin:   cfg.Monitor.BackoffMin,
		BackoffMax:   cfg.Monitor.BackoffMax,
		ErrorDelay:   cfg.Monitor.ErrorDelay,
	}, l)
}

// ProvideDispatcher keeps in-process signal dedup markers in their own cache so
// a burst of signals cannot crowd execution leases out of the shared one.
func ProvideDispatcher(cfg *config.Config, reg *registry.Registry, rq domrepo.RequestQueue, locks cache.Service, m domrepo.Metrics, l *applogger.Logger) *usecase.Dispatcher {
	seen := locks
	if _, inProcess := locks.(*cache.MemoryCache); inProcess {
		seen = cache.NewMemoryCache()
	}
	return usecase.NewDispatcher(reg, rq, seen, m, l, usecase.DispatcherConfig{
		BatchWindow:    cfg.Dispatcher.BatchWindow,
		MaxBatchWait:   cfg.Dispatcher.MaxBatchWait,
		DedupKey:       cfg.Dispatcher.DedupKey,
		SignalDedupTTL: cfg.Dispatcher.SignalDedupTTL,
	})
}

// ProvideScheduler returns nil when the periodic scheduler is disabled.
func ProvideScheduler(cfg *config.Config, reg *registry.Registry, rq domrepo.RequestQueue, locks cache.Service, m domrepo.Metrics, l *applogger.Logger) *usecase.Scheduler {
	if !cfg.Scheduler.Enabled {
		return nil
	}
	return usecase.NewScheduler(reg, rq, locks, m, l, cfg.Scheduler.Tick)
}

// ProvideSignalProcessor publishes gated signals to Kafka when enabled, else
// hands them straight to the dispatcher.
func ProvideSignalProcessor(cfg *config.Config, producer *pkgkafka.Producer, dispatcher *usecase.Dispatcher, m domrepo.Metrics) *usecase.SignalProcessor {
	if producer == nil {
		return usecase.NewSignalProcessor(nil, dispatcher, m, usecase.BackendDirect)
	}
	pub := internalrepo.NewKafkaSignalPublisher(producer, cfg.Kafka.SignalsTopic, m)
	return usecase.NewSignalProcessor(pub, dispatcher, m, usecase.BackendKafka)
}

func ProvideSignalGate(cfg *config.Config, proc *usecase.SignalProcessor, l *applogger.Logger) *mid.SignalGate {
	return mid.NewSignalGate(proc, l, mid.WithMaxRPS(cfg.Feed.MaxRPS, cfg.Feed.Burst))
}

// ProvideKafkaConsumer creates the signal consumer, or nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.TracingHook(), pkgkafka.ValidatingHook()))
	return consumer, nil
}

// ProvideKafkaSignalsHandler feeds consumed signals to the dispatcher.
func ProvideKafkaSignalsHandler(cfg *config.Config, dispatcher *usecase.Dispatcher, l *applogger.Logger) *usecase.KafkaSignalsHandler {
	return usecase.NewKafkaSignalsHandler(cfg.Kafka.SignalsTopic, dispatcher, l)
}

// ProvideSignalCollector returns nil when the upstream feed is disabled.
func ProvideSignalCollector(cfg *config.Config, gate *mid.SignalGate, l *applogger.Logger) *usecase.SignalCollector {
	if !cfg.Feed.Enabled {
		return nil
	}
	stream := signalfeed.New(cfg.Feed.APIKey, cfg.Feed.WebSocketURL, nil, cfg.Feed.ReconnectDelay, cfg.Feed.PingInterval, l)
	return usecase.NewSignalCollector(stream, gate, l, cfg.Feed.ReconnectDelay)
}

// ProvideHandlers builds every HTTP and WebSocket route group.
func ProvideHandlers(
	cfg *config.Config,
	l *applogger.Logger,
	store domrepo.ExecutionStore,
	catalog domrepo.CatalogStore,
	fs domrepo.FeatureStore,
	agentReg *agents.Registry,
	rq domrepo.RequestQueue,
	locks cache.Service,
	reg *registry.Registry,
	m domrepo.Metrics,
	costs *ledger.Ledger,
	engine *usecase.Engine,
	dispatcher *usecase.Dispatcher,
	gate *mid.SignalGate,
	stream *ws.ExecutionStream,
) []xhttp.Handler {
	handlers := []xhttp.Handler{
		api.NewExecutionsHandler(l, usecase.NewExecutionsUseCase(store, engine)),
		api.NewPipelinesHandler(l, usecase.NewPipelinesUseCase(catalog, agentReg, rq, locks, reg, m, l)),
		api.NewScannersHandler(l, usecase.NewScannersUseCase(catalog, reg, l, cfg.Registry.StaleAfter)),
		api.NewSignalsHandler(l, gate, dispatcher),
		api.NewCostsHandler(l, costs),
		stream,
	}
	if fs != nil {
		handlers = append(handlers, api.NewMarketHandler(l, usecase.NewMarketUseCase(fs)))
	}
	return handlers
}

// ProvideApp assembles the application lifecycle.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	handlers []xhttp.Handler,
	reg *registry.Registry,
	engine *usecase.Engine,
	jobs queue.Queue,
	monitor *usecase.Monitor,
	scheduler *usecase.Scheduler,
	dispatcher *usecase.Dispatcher,
	gate *mid.SignalGate,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaSignalsHandler,
	collector *usecase.SignalCollector,
	producer *pkgkafka.Producer,
	ch *pkgch.Client,
	stream *ws.ExecutionStream,
) *server.App {
	components := server.Components{
		Registry:   reg,
		Engine:     engine,
		Queue:      jobs,
		Monitor:    monitor,
		Dispatcher: dispatcher,
		Gate:       gate,
		Stream:     stream,
	}
	if scheduler != nil {
		components.Scheduler = scheduler
	}
	if consumer != nil {
		components.Consumer = consumer
		components.SignalsHandler = kh
	}
	if collector != nil {
		components.Collector = collector
	}
	if producer != nil {
		components.Producer = producer
	}
	if ch != nil {
		components.ClickHouse = ch
	}
	return server.New(cfg, l, handlers, components)
}
