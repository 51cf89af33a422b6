package container

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/jinford/novelforge/internal/interface/gateway"
	engineopenai "github.com/jinford/novelforge/internal/module/engine/adapter/openai"
	"github.com/jinford/novelforge/internal/module/engine/adapter/synthetic"
	engineapp "github.com/jinford/novelforge/internal/module/engine/application"
	enginedomain "github.com/jinford/novelforge/internal/module/engine/domain"
	jobmemory "github.com/jinford/novelforge/internal/module/job/adapter/memory"
	jobapp "github.com/jinford/novelforge/internal/module/job/application"
	jobdomain "github.com/jinford/novelforge/internal/module/job/domain"
	queuememory "github.com/jinford/novelforge/internal/module/queue/adapter/memory"
	queuepg "github.com/jinford/novelforge/internal/module/queue/adapter/pg"
	queueapp "github.com/jinford/novelforge/internal/module/queue/application"
	queuedomain "github.com/jinford/novelforge/internal/module/queue/domain"
	"github.com/jinford/novelforge/internal/module/realtime/adapter/local"
	"github.com/jinford/novelforge/internal/module/realtime/adapter/pgnotify"
	rtapp "github.com/jinford/novelforge/internal/module/realtime/application"
	"github.com/jinford/novelforge/internal/platform/config"
	"github.com/jinford/novelforge/internal/platform/database"
)

// Container はアプリケーションの依存関係を保持します
type Container struct {
	Config *config.Config
	Logger zerolog.Logger

	// DB はインメモリ構成では nil です
	DB *database.DB

	Backend   jobdomain.Backend
	Queue     queuedomain.Queue
	Publisher jobdomain.Publisher
	Generator jobdomain.Generator
	Processor *jobapp.Processor
	Submitter *queueapp.Submitter

	source  rtapp.Source
	closers []func(ctx context.Context) error
}

type options struct {
	client    enginedomain.LLMClient
	publisher jobdomain.Publisher
	now       func() time.Time
}

// Option は Container 構築時のオプションです
type Option func(*options)

// WithLLMClient は LLM クライアントを差し替えます
func WithLLMClient(client enginedomain.LLMClient) Option {
	return func(o *options) {
		o.client = client
	}
}

// WithPublisher はリアルタイム配信先を差し替えます
func WithPublisher(publisher jobdomain.Publisher) Option {
	return func(o *options) {
		o.publisher = publisher
	}
}

// WithClock は時刻の取得元を差し替えます
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New は PostgreSQL を使うコンテナを構築します
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Container, error) {
	o := applyOptions(opts)

	dbOpts := database.DefaultOptions()
	dbOpts.Logger = logger
	db, err := database.New(ctx, cfg.Database.ConnString(), dbOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	c := &Container{Config: cfg, Logger: logger, DB: db}
	c.closers = append(c.closers, func(context.Context) error {
		db.Close()
		return nil
	})

	txProvider := database.NewTransactionProvider(db.Pool)
	queue := queuepg.NewQueueRepository(db.Pool)
	c.Backend = txProvider
	c.Queue = queue

	c.Publisher = o.publisher
	if c.Publisher == nil && cfg.Realtime.Enabled {
		b := pgnotify.NewBroadcaster(cfg.Database.ConnString(), cfg.Realtime.Channel, logger)
		c.Publisher = b
		c.closers = append(c.closers, b.Close)
	}

	scope := func(ctx context.Context, fn func(queuedomain.Queue, jobdomain.EventLog) error) error {
		_, err := database.Transact(ctx, txProvider, func(a *database.Adapter) (struct{}, error) {
			return struct{}{}, fn(a.Queue, a.Stores.Events)
		})
		return err
	}

	if err := c.wire(o, scope); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	return c, nil
}

// NewInMemory はデータベースを使わないコンテナを構築します
// リアルタイム配信はプロセス内のバスで行います
func NewInMemory(cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Container, error) {
	o := applyOptions(opts)

	backend := jobmemory.NewBackend(jobmemory.WithClock(o.now))
	queue := queuememory.NewQueue(o.now)
	c := &Container{Config: cfg, Logger: logger, Backend: backend, Queue: queue}

	c.Publisher = o.publisher
	if c.Publisher == nil && cfg.Realtime.Enabled {
		bus := local.NewBus(logger)
		c.Publisher = bus
		c.source = bus
	}

	if err := c.wire(o, queueapp.DirectScope(queue, backend.Stores().Events)); err != nil {
		return nil, err
	}
	return c, nil
}

func applyOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (c *Container) wire(o options, scope queueapp.SubmitScope) error {
	generator, err := c.newGenerator(o.client)
	if err != nil {
		return err
	}
	c.Generator = generator

	procOpts := []jobapp.ProcessorOption{
		jobapp.WithLogger(c.Logger),
		jobapp.WithClock(o.now),
	}
	if c.Publisher != nil {
		procOpts = append(procOpts, jobapp.WithPublisher(c.Publisher))
	}
	c.Processor = jobapp.NewProcessor(c.Backend, generator, procOpts...)

	subOpts := []queueapp.SubmitterOption{queueapp.WithSubmitClock(o.now)}
	if c.Publisher != nil {
		subOpts = append(subOpts, queueapp.WithSubmitPublisher(c.Publisher))
	}
	c.Submitter = queueapp.NewSubmitter(scope, c.Config.Worker.Queue, subOpts...)
	return nil
}

// newGenerator は APIキーがあれば OpenAI、なければ合成クライアントでパイプラインを構築します
func (c *Container) newGenerator(client enginedomain.LLMClient) (jobdomain.Generator, error) {
	cfg := c.Config.OpenAI
	pricing, err := loadPricing(cfg.PricingFile)
	if err != nil {
		c.Logger.Warn().Err(err).Msg("container: pricing table unavailable, costs will be reported as zero")
	}

	var opts []engineapp.PipelineOption
	switch {
	case client != nil:
	case cfg.APIKey == "":
		c.Logger.Info().Msg("container: OPENAI_API_KEY is not set, using the synthetic engine")
		client = synthetic.NewClient()
	default:
		oc, err := engineopenai.NewClient(cfg.APIKey, engineopenai.WithModel(cfg.Model))
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		client = oc
	}

	counter, err := engineopenai.NewTokenCounter()
	if err != nil {
		c.Logger.Warn().Err(err).Msg("container: token counter unavailable")
	} else {
		opts = append(opts, engineapp.WithTokenCounter(counter))
	}

	return engineapp.NewPipeline(client, pricing, opts...), nil
}

func loadPricing(path string) (enginedomain.PricingTable, error) {
	if path == "" {
		path = engineopenai.DefaultPricingPath
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return builtinPricing(), nil
		}
	}
	return engineopenai.LoadPricing(path)
}

// builtinPricing は価格表ファイルがない場合の最小限の価格表です
func builtinPricing() enginedomain.PricingTable {
	return enginedomain.PricingTable{
		DefaultModel: synthetic.ModelName,
		Models: map[string]enginedomain.ModelPricing{
			synthetic.ModelName: {InputPricePer1kTokens: 0.001, OutputPricePer1kTokens: 0.002, Provider: "local"},
		},
	}
}

// NewWorker はキューワーカーを作成します
func (c *Container) NewWorker(workerID string) *queueapp.Worker {
	w := c.Config.Worker
	return queueapp.NewWorker(c.Queue, c.Processor, queueapp.Config{
		QueueName:    w.Queue,
		WorkerID:     workerID,
		Concurrency:  w.Concurrency,
		PollInterval: w.PollInterval,
		Lease:        w.Lease,
		Retry: queuedomain.RetryPolicy{
			MaxAttempts: w.MaxAttempts,
			BaseBackoff: w.BaseBackoff,
			MaxBackoff:  w.MaxBackoff,
		},
	}, queueapp.WithLogger(c.Logger))
}

// NewHub はリアルタイム購読の Hub を作成します
// リアルタイム配信が無効な場合は nil を返します
func (c *Container) NewHub() (*rtapp.Hub, error) {
	if !c.Config.Realtime.Enabled {
		return nil, nil
	}

	source := c.source
	if source == nil {
		if c.DB == nil {
			return nil, fmt.Errorf("realtime source is not configured")
		}
		ls, err := pgnotify.NewListenerSource(c.Config.Database.ConnString(), c.Config.Realtime.Channel, c.Logger)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func(context.Context) error { return ls.Close() })
		source = ls
	}
	return rtapp.NewHub(source, rtapp.WithHubLogger(c.Logger)), nil
}

// NewGateway はゲートウェイを作成します。hub が nil の場合ストリームは無効として振る舞います
func (c *Container) NewGateway(hub *rtapp.Hub) *gateway.Server {
	deps := gateway.Deps{
		Events:       c.Backend.Stores().Events,
		Jobs:         c.Backend.Stores().Jobs,
		Metrics:      c.Backend.Stores().Metrics,
		CatchupLimit: c.Config.Realtime.CatchupLimit,
		Logger:       c.Logger,
	}
	if hub != nil {
		deps.Subscriber = hub
	}
	return gateway.NewServer(deps)
}

// Close は保持しているリソースを逆順に解放します
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
