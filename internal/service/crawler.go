package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"telemirror/internal/constants"
	"telemirror/internal/features"
	"telemirror/internal/models"
	"telemirror/pkg/circuitbreaker"
	"telemirror/pkg/telegram/types"
)

// CrawlerService is the ingestion pipeline's composition root. It owns
// the queue, writer, resolver, listener and both schedulers, and drives
// the staged startup and shutdown sequence.
type CrawlerService struct {
	cfg      *models.Config
	client   types.Client
	store    Store
	notifier Notifier
	logger   *logrus.Logger

	breaker   *circuitbreaker.CircuitBreaker
	sink      *DeadLetterSink
	queue     *IngestionQueue
	writer    *BatchWriter
	resolver  *Resolver
	listener  *LiveListener
	backfill  *BackfillScheduler
	gapfill   *GapFillScheduler
	replay    *ReplayService
	penalties *penaltyTracker

	mu            sync.Mutex
	running       bool
	startedAt     time.Time
	cancelProduce context.CancelFunc
	producerWG    sync.WaitGroup
	writerDone    chan struct{}
	listenerErr   error
}

func NewCrawlerService(cfg *models.Config, client types.Client, store Store, notifier Notifier, logger *logrus.Logger) *CrawlerService {
	breaker := circuitbreaker.New(
		"persistence",
		cfg.Breaker.FailureThreshold,
		time.Duration(cfg.Breaker.WindowSec)*time.Second,
		time.Duration(cfg.Breaker.CooldownSec)*time.Second,
		logger,
	)
	sink := NewDeadLetterSink(store, cfg.DeadLetter.FallbackFile, logger)
	queue := NewIngestionQueue(
		cfg.Queue.Capacity,
		cfg.Queue.BatchSize,
		time.Duration(cfg.Queue.BatchWindowSec)*time.Second,
		time.Duration(cfg.Queue.FirstItemWaitSec)*time.Second,
		sink,
		logger,
	)
	writer := NewBatchWriter(queue, store, breaker, notifier, sink, logger)
	resolver := NewResolver(client, store, logger)
	listener := NewLiveListener(client, queue, store, resolver, notifier, logger)
	listener.reconnectDelay = time.Duration(cfg.Listener.ReconnectDelaySec) * time.Second
	listener.maxReconnects = cfg.Listener.MaxReconnectAttempts

	penalties := newPenaltyTracker()
	backfill := NewBackfillScheduler(client, store, resolver, queue, penalties, cfg.Backfill, logger)
	gapfill := NewGapFillScheduler(backfill, store, resolver, cfg.GapFill, logger)
	replay := NewReplayService(store, queue, logger)

	return &CrawlerService{
		cfg:       cfg,
		client:    client,
		store:     store,
		notifier:  notifier,
		logger:    logger,
		breaker:   breaker,
		sink:      sink,
		queue:     queue,
		writer:    writer,
		resolver:  resolver,
		listener:  listener,
		backfill:  backfill,
		gapfill:   gapfill,
		replay:    replay,
		penalties: penalties,
	}
}

// Start brings the pipeline up: warm the resolver cache, start the
// writer, then the producers (listener, backfill, gap-fill).
func (c *CrawlerService) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("crawler already running")
	}

	if err := c.client.Health(ctx); err != nil {
		return fmt.Errorf("gateway health check failed: %w", err)
	}

	c.resolver.WarmFromStore(ctx)

	// A previous Stop closed the queue for good, so a restart gets a
	// fresh queue and writer wired back into the producers.
	if c.writerDone != nil {
		c.queue = NewIngestionQueue(
			c.cfg.Queue.Capacity,
			c.cfg.Queue.BatchSize,
			time.Duration(c.cfg.Queue.BatchWindowSec)*time.Second,
			time.Duration(c.cfg.Queue.FirstItemWaitSec)*time.Second,
			c.sink,
			c.logger,
		)
		c.writer = NewBatchWriter(c.queue, c.store, c.breaker, c.notifier, c.sink, c.logger)
		c.listener.queue = c.queue
		c.backfill.queue = c.queue
		c.replay.queue = c.queue
	}

	base := context.WithValue(context.Background(), VerboseContextKey, IsVerboseLogging(ctx))
	produceCtx, cancel := context.WithCancel(base)
	c.cancelProduce = cancel
	c.writerDone = make(chan struct{})
	c.listenerErr = nil

	// The writer outlives the producer context: it exits only once the
	// queue is closed and drained.
	go func() {
		defer close(c.writerDone)
		c.writer.Run(context.Background())
	}()

	c.producerWG.Add(3)
	go func() {
		defer c.producerWG.Done()
		if err := c.listener.Run(produceCtx); err != nil {
			c.mu.Lock()
			c.listenerErr = err
			c.mu.Unlock()
			c.logger.WithError(err).Error("Live listener stopped with terminal error")
		}
	}()
	go func() {
		defer c.producerWG.Done()
		if features.IsEnabled(features.FlagInitialBackfill) {
			c.backfill.RunInitial(produceCtx)
		}
		if features.IsEnabled(features.FlagSourceDiscovery) {
			c.backfill.RunDiscoveryLoop(produceCtx)
		}
	}()
	go func() {
		defer c.producerWG.Done()
		if features.IsEnabled(features.FlagGapFill) {
			c.gapfill.Run(produceCtx)
		}
	}()

	c.running = true
	c.startedAt = time.Now()
	c.logger.Info("Crawler started")
	return nil
}

// Stop performs the staged drain: stop producers, allow in-flight
// enqueues a grace window, close the queue, then wait for the writer
// to flush the remainder with a bounded timeout.
func (c *CrawlerService) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel := c.cancelProduce
	writerDone := c.writerDone
	c.mu.Unlock()

	c.logger.Info("Crawler stopping")
	cancel()

	producersDone := make(chan struct{})
	go func() {
		c.producerWG.Wait()
		close(producersDone)
	}()
	grace := time.Duration(constants.DefaultEnqueueGraceSec) * time.Second
	select {
	case <-producersDone:
	case <-time.After(grace):
		c.logger.Warn("Producers did not stop within grace window")
	}

	c.queue.Close()

	drainTimeout := time.Duration(constants.DefaultDrainTimeoutSec) * time.Second
	select {
	case <-writerDone:
		c.logger.Info("Crawler stopped")
		return nil
	case <-time.After(drainTimeout):
		return fmt.Errorf("batch writer did not drain within %s", drainTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RestartListener tears the whole pipeline down and brings it back up.
// This is the operator remedy for a listener that exhausted its
// reconnect budget.
func (c *CrawlerService) RestartListener(ctx context.Context) error {
	if err := c.Stop(ctx); err != nil {
		return err
	}
	return c.Start(ctx)
}

// ForceBackfill triggers a non-scheduled backfill pass for one source,
// bypassing the already-populated skip.
func (c *CrawlerService) ForceBackfill(ctx context.Context, sourceID int64) error {
	return c.backfill.BackfillSource(ctx, sourceID, true)
}

// Replay re-ingests one dead-letter entry.
func (c *CrawlerService) Replay(ctx context.Context, id int64) error {
	return c.replay.Replay(ctx, id)
}

// Status is the operator-facing snapshot of the pipeline.
type Status struct {
	Running        bool                 `json:"running"`
	UptimeSeconds  int64                `json:"uptime_seconds"`
	QueueDepth     int                  `json:"queue_depth"`
	QueueCapacity  int                  `json:"queue_capacity"`
	ListenerState  string               `json:"listener_state"`
	ListenerError  string               `json:"listener_error,omitempty"`
	Breaker        circuitbreaker.Stats `json:"circuit_breaker"`
	ResolverCached int                  `json:"resolver_cached"`
}

func (c *CrawlerService) Status() Status {
	c.mu.Lock()
	running := c.running
	startedAt := c.startedAt
	listenerErr := c.listenerErr
	queue := c.queue
	c.mu.Unlock()

	s := Status{
		Running:        running,
		QueueDepth:     queue.Len(),
		QueueCapacity:  c.cfg.Queue.Capacity,
		ListenerState:  c.listener.State().String(),
		Breaker:        c.breaker.GetStats(),
		ResolverCached: c.resolver.CacheSize(),
	}
	if running {
		s.UptimeSeconds = int64(time.Since(startedAt).Seconds())
	}
	if listenerErr != nil {
		s.ListenerError = listenerErr.Error()
	}
	return s
}
