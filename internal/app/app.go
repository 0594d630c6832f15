// Package app wires configuration into the batcher and worker pipelines. It
// owns every long-lived client it opens and releases them in Close.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	gcsclient "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/ccextract/internal/batcher"
	"github.com/JakeFAU/ccextract/internal/catalog/postgres"
	"github.com/JakeFAU/ccextract/internal/config"
	"github.com/JakeFAU/ccextract/internal/consumer"
	"github.com/JakeFAU/ccextract/internal/dispatcher"
	"github.com/JakeFAU/ccextract/internal/downloader"
	"github.com/JakeFAU/ccextract/internal/extract"
	"github.com/JakeFAU/ccextract/internal/index"
	"github.com/JakeFAU/ccextract/internal/metrics"
	"github.com/JakeFAU/ccextract/internal/pipeline"
	"github.com/JakeFAU/ccextract/internal/publisher"
	"github.com/JakeFAU/ccextract/internal/queue"
	amqpqueue "github.com/JakeFAU/ccextract/internal/queue/amqp"
	memoryqueue "github.com/JakeFAU/ccextract/internal/queue/memory"
	pubsubqueue "github.com/JakeFAU/ccextract/internal/queue/pubsub"
	redisqueue "github.com/JakeFAU/ccextract/internal/queue/redis"
	"github.com/JakeFAU/ccextract/internal/ratelimit"
	"github.com/JakeFAU/ccextract/internal/server"
	"github.com/JakeFAU/ccextract/internal/storage"
	gcsstorage "github.com/JakeFAU/ccextract/internal/storage/gcs"
	localstorage "github.com/JakeFAU/ccextract/internal/storage/local"
	memorystorage "github.com/JakeFAU/ccextract/internal/storage/memory"
	miniostorage "github.com/JakeFAU/ccextract/internal/storage/minio"
	s3storage "github.com/JakeFAU/ccextract/internal/storage/s3"
	"github.com/JakeFAU/ccextract/internal/worker"
)

// App holds the configuration and the shared, long-lived services.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	progress io.Writer

	mu       sync.Mutex
	limiter  *ratelimit.Limiter
	memQueue *memoryqueue.Queue
	store    storage.Store
	closers  []func() error
}

// Option customises an App.
type Option func(*App)

// WithStore replaces the configured content store.
func WithStore(s storage.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMemoryQueue supplies the queue used by the memory driver.
func WithMemoryQueue(q *memoryqueue.Queue) Option {
	return func(a *App) { a.memQueue = q }
}

// WithRegistry replaces the Prometheus registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(a *App) { a.registry = reg }
}

// WithProgressOutput redirects the batcher progress bar.
func WithProgressOutput(w io.Writer) Option {
	return func(a *App) { a.progress = w }
}

// New creates an App. Nothing is dialed until a Run method is called.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, progress: os.Stderr}
	for _, opt := range opts {
		opt(a)
	}
	if a.registry == nil {
		a.registry = metrics.NewRegistry()
	}
	return a
}

// Registry exposes the registry collectors are registered on.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// RunBatch streams the cluster index at indexPath into the queue.
func (a *App) RunBatch(ctx context.Context, indexPath string) (batcher.Stats, error) {
	idx, err := index.Open(indexPath)
	if err != nil {
		return batcher.Stats{}, fmt.Errorf("open index: %w", err)
	}
	defer idx.Close() //nolint:errcheck // read-only file

	channel, err := a.openChannel(ctx)
	if err != nil {
		return batcher.Stats{}, err
	}

	stopServer := a.serveMetrics(ctx, a.cfg.Metrics.BatcherAddr)
	defer stopServer()

	observers := pipeline.MultiBatchObserver{metrics.NewBatchMetrics(a.registry)}
	var bar *metrics.ProgressBar
	if a.cfg.Batcher.ProgressBar {
		bar = metrics.NewProgressBar(a.progress)
		observers = append(observers, bar)
		defer bar.Finish()
	}

	pub := publisher.New(channel, publisher.RetryPolicy{
		MaxAttempts:    a.cfg.Publish.Retries,
		InitialBackoff: a.cfg.Publish.InitialBackoff(),
		MaxBackoff:     a.cfg.Publish.MaxBackoff(),
		Multiplier:     a.cfg.Publish.Multiplier,
	}, publisher.WithObserver(observers), publisher.WithLogger(a.logger.Named("publisher")))

	fetcher := a.newDownloader(a.cfg.Archive.IndexBaseURL(), "index_downloader")
	b := batcher.New(fetcher, pub, batcher.Config{
		BatchSize: a.cfg.Batcher.BatchSize,
		Filter:    batcher.Filter{Language: a.cfg.Batcher.Language, Status: a.cfg.Batcher.Status},
	}, observers, a.logger.Named("batcher"))

	a.logger.Info("batching started",
		zap.String("index", indexPath),
		zap.Int("chunks", idx.Len()),
		zap.Int("batch_size", a.cfg.Batcher.BatchSize),
		zap.String("queue_driver", a.cfg.Queue.Driver),
	)
	stats, err := b.Run(ctx, idx)
	if err != nil {
		return stats, fmt.Errorf("batcher: %w", err)
	}
	a.logger.Info("batching finished",
		zap.Int("chunks", stats.Chunks),
		zap.Int("records", stats.Records),
		zap.Int("filtered", stats.Filtered),
		zap.Int("batches", stats.Batches),
	)
	return stats, nil
}

// RunWork consumes batches until ctx is canceled or every source closes.
func (a *App) RunWork(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}

	var catalog pipeline.DocumentCatalog
	if a.cfg.Catalog.DSN != "" {
		docs, err := postgres.New(ctx, postgres.Config{DSN: a.cfg.Catalog.DSN, Table: a.cfg.Catalog.Table})
		if err != nil {
			return fmt.Errorf("document catalog: %w", err)
		}
		a.addCloser(func() error { docs.Close(); return nil })
		if err := docs.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("document catalog schema: %w", err)
		}
		catalog = docs
		a.logger.Info("document catalog enabled", zap.String("table", a.cfg.Catalog.Table))
	}

	sources, err := a.openSources(ctx, a.cfg.Worker.Concurrency)
	if err != nil {
		return err
	}

	stopServer := a.serveMetrics(ctx, a.cfg.Metrics.WorkerAddr)
	defer stopServer()

	observer := metrics.NewWorkMetrics(a.registry)
	handler := worker.New(
		a.newDownloader(a.cfg.Archive.BaseURL, "archive_downloader"),
		store,
		extract.Readability{MinLength: a.cfg.Worker.MinTextLength},
		catalog,
		observer,
		worker.Config{
			ContentType: a.cfg.Storage.ContentType,
			KeyScheme:   worker.KeyScheme(a.cfg.Worker.KeyScheme),
		},
		a.logger.Named("worker"),
	)

	runners := make([]dispatcher.Runner, 0, len(sources))
	for i, src := range sources {
		runners = append(runners, consumer.New(src, handler, consumer.Config{},
			a.logger.Named("consumer").With(zap.Int("index", i))))
	}
	a.logger.Info("worker started",
		zap.Int("concurrency", len(runners)),
		zap.String("queue_driver", a.cfg.Queue.Driver),
		zap.String("storage_driver", a.cfg.Storage.Driver),
	)
	if err := dispatcher.New(runners...).Run(ctx); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	a.logger.Info("worker stopped")
	return nil
}

// RunAll batches indexPath and consumes the result in one process. With the
// memory driver the queue is closed once batching ends, so the workers drain
// it and return.
func (a *App) RunAll(ctx context.Context, indexPath string) (batcher.Stats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workDone := make(chan error, 1)
	go func() {
		workDone <- a.RunWork(ctx)
	}()

	stats, err := a.RunBatch(ctx, indexPath)
	if err != nil {
		cancel()
		<-workDone
		return stats, err
	}
	if a.cfg.Queue.Driver == config.QueueMemory {
		a.memoryQueue().Close()
	}
	if err := <-workDone; err != nil {
		return stats, err
	}
	return stats, nil
}

// Close releases every client in reverse order of creation.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close app: %w", err)
	}
	return nil
}

func (a *App) addCloser(fn func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

func (a *App) newDownloader(baseURL, name string) *downloader.Downloader {
	cfg := downloader.Config{
		BaseURL:    baseURL,
		Timeout:    a.cfg.Archive.Timeout(),
		MaxRetries: a.cfg.Archive.MaxRetries,
		UserAgent:  a.cfg.Archive.UserAgent,
	}
	if l := a.archiveLimiter(); l != nil {
		cfg.Limiter = l
	}
	return downloader.New(cfg, a.logger.Named(name))
}

// archiveLimiter is shared by every downloader of the App, so the index and
// segment fetches of "run" draw from the same per-host budget.
func (a *App) archiveLimiter() *ratelimit.Limiter {
	if a.cfg.Archive.RequestsPerSecond <= 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.limiter == nil {
		a.limiter = ratelimit.New(ratelimit.Config{
			RPS:   a.cfg.Archive.RequestsPerSecond,
			Burst: a.cfg.Archive.Burst,
		})
		a.limiter.OnDelay = metrics.NewFetchMetrics(a.registry).RateLimitDelay
	}
	return a.limiter
}

func (a *App) memoryQueue() *memoryqueue.Queue {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.memQueue == nil {
		a.memQueue = memoryqueue.NewQueue(a.cfg.Queue.Capacity)
	}
	return a.memQueue
}

func (a *App) openChannel(ctx context.Context) (queue.Channel, error) {
	q := a.cfg.Queue
	switch q.Driver {
	case config.QueueAMQP:
		client, err := amqpqueue.New(amqpqueue.Config{URL: q.URL, Queue: q.Name, Prefetch: q.Prefetch},
			a.logger.Named("amqp"))
		if err != nil {
			return nil, fmt.Errorf("amqp channel: %w", err)
		}
		a.addCloser(client.Close)
		return client, nil
	case config.QueuePubSub:
		client, err := pubsubqueue.New(ctx, pubsubqueue.Config{ProjectID: q.ProjectID, Topic: q.Topic},
			a.logger.Named("pubsub"))
		if err != nil {
			return nil, fmt.Errorf("pubsub channel: %w", err)
		}
		a.addCloser(client.Close)
		return client, nil
	case config.QueueRedis:
		client, err := redisqueue.New(ctx, a.redisConfig(q.ConsumerID), a.logger.Named("redis"))
		if err != nil {
			return nil, fmt.Errorf("redis channel: %w", err)
		}
		a.addCloser(client.Close)
		return client, nil
	case config.QueueMemory:
		return a.memoryQueue(), nil
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", q.Driver)
	}
}

// openSources opens n independent sources so that every consumer loop holds
// at most one unacknowledged batch.
func (a *App) openSources(ctx context.Context, n int) ([]queue.Source, error) {
	if n <= 0 {
		n = 1
	}
	q := a.cfg.Queue
	sources := make([]queue.Source, 0, n)
	for i := 0; i < n; i++ {
		switch q.Driver {
		case config.QueueAMQP:
			client, err := amqpqueue.New(amqpqueue.Config{
				URL:         q.URL,
				Queue:       q.Name,
				Prefetch:    1,
				ConsumerTag: fmt.Sprintf("ccextract-worker-%d", i),
			}, a.logger.Named("amqp"))
			if err != nil {
				return nil, fmt.Errorf("amqp source: %w", err)
			}
			a.addCloser(client.Close)
			if err := client.Connect(); err != nil {
				return nil, fmt.Errorf("amqp connect: %w", err)
			}
			sources = append(sources, client)
		case config.QueuePubSub:
			client, err := pubsubqueue.New(ctx, pubsubqueue.Config{ProjectID: q.ProjectID, Subscription: q.Subscription},
				a.logger.Named("pubsub"))
			if err != nil {
				return nil, fmt.Errorf("pubsub source: %w", err)
			}
			a.addCloser(client.Close)
			sources = append(sources, client)
		case config.QueueRedis:
			client, err := redisqueue.New(ctx, a.redisConfig(fmt.Sprintf("%s-%d", a.consumerID(), i)), a.logger.Named("redis"))
			if err != nil {
				return nil, fmt.Errorf("redis source: %w", err)
			}
			a.addCloser(client.Close)
			recovered, err := client.RecoverPending(ctx)
			if err != nil {
				return nil, fmt.Errorf("redis recover pending: %w", err)
			}
			if recovered > 0 {
				a.logger.Warn("requeued unacknowledged batches", zap.Int("count", recovered))
			}
			sources = append(sources, client)
		case config.QueueMemory:
			sources = append(sources, a.memoryQueue())
		default:
			return nil, fmt.Errorf("unsupported queue driver %q", q.Driver)
		}
	}
	return sources, nil
}

func (a *App) redisConfig(consumerID string) redisqueue.Config {
	return redisqueue.Config{
		Addr:       a.cfg.Queue.RedisAddr,
		Password:   a.cfg.Queue.Password,
		DB:         a.cfg.Queue.RedisDB,
		Queue:      a.cfg.Queue.Name,
		ConsumerID: consumerID,
	}
}

func (a *App) consumerID() string {
	if a.cfg.Queue.ConsumerID != "" {
		return a.cfg.Queue.ConsumerID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "worker"
	}
	return host
}

func (a *App) openStore(ctx context.Context) (storage.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	s := a.cfg.Storage
	var (
		store storage.Store
		err   error
	)
	switch s.Driver {
	case config.StorageMinIO:
		store, err = miniostorage.New(miniostorage.Config{
			Endpoint:  s.Endpoint,
			AccessKey: s.AccessKey,
			SecretKey: s.SecretKey,
			Bucket:    s.Bucket,
			Region:    s.Region,
			UseSSL:    s.UseSSL,
		})
	case config.StorageS3:
		store, err = s3storage.New(ctx, s3storage.Config{
			Bucket:    s.Bucket,
			Region:    s.Region,
			AccessKey: s.AccessKey,
			SecretKey: s.SecretKey,
			Endpoint:  s3Endpoint(s),
		})
	case config.StorageGCS:
		var client *gcsclient.Client
		client, err = gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.addCloser(client.Close)
		store, err = gcsstorage.New(client, gcsstorage.Config{Bucket: s.Bucket, ProjectID: s.ProjectID})
	case config.StorageLocal:
		store, err = localstorage.New(localstorage.Config{BaseDir: s.BaseDir, Bucket: s.Bucket})
	case config.StorageMemory:
		store = memorystorage.NewBlobStore(s.Bucket)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", s.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("%s store init failed: %w", s.Driver, err)
	}
	a.store = store
	a.logger.Info("content store ready", zap.String("driver", s.Driver), zap.String("bucket", s.Bucket))
	return store, nil
}

// s3Endpoint turns a host:port endpoint into the URL form the AWS SDK expects.
func s3Endpoint(s config.StorageConfig) string {
	if s.Endpoint == "" || hasScheme(s.Endpoint) {
		return s.Endpoint
	}
	if s.UseSSL {
		return "https://" + s.Endpoint
	}
	return "http://" + s.Endpoint
}

func hasScheme(endpoint string) bool {
	return strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://")
}

// serveMetrics starts the side-channel server when enabled and returns a
// function that stops it and waits for it to exit.
func (a *App) serveMetrics(ctx context.Context, addr string) func() {
	if !a.cfg.Metrics.Enabled || addr == "" {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	srv := server.New(server.Config{
		Addr:     addr,
		Gatherer: a.registry,
		HTTP:     metrics.NewHTTPMetrics(prometheus.WrapRegistererWith(prometheus.Labels{"addr": addr}, a.registry)),
		Logger:   a.logger.Named("http"),
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Run(ctx); err != nil {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
