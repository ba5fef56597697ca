package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker delivers queued job events; *rabbitmq.Client satisfies it
type Broker interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Broker            Broker
	Processor         *Processor
	WorkerID          string
	Concurrency       int
	MaxJobs           int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
}

// Worker consumes job events and grants credits for paid orders
type Worker struct {
	logger            *slog.Logger
	broker            Broker
	processor         *Processor
	workerID          string
	concurrency       int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration

	jobsChan chan amqp.Delivery
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once

	acked    atomic.Int64
	requeued atomic.Int64
	dropped  atomic.Int64
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := max(cfg.Concurrency, 1)
	buffer := max(cfg.MaxJobs, concurrency)

	return &Worker{
		logger:            cfg.Logger,
		broker:            cfg.Broker,
		processor:         cfg.Processor,
		workerID:          cfg.WorkerID,
		concurrency:       concurrency,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		jobsChan:          make(chan amqp.Delivery, buffer),
		stopChan:          make(chan struct{}),
	}
}

// Start consumes until ctx is canceled or the broker closes the delivery
// channel. In-flight messages finish before Start returns.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	if w.heartbeatInterval > 0 {
		w.wg.Add(1)
		go w.reportStats(ctx)
	}

	w.startMessageDispatcher(ctx, deliveries)

	// workers drain what was already dispatched
	close(w.jobsChan)
	w.Stop()

	w.logger.Info("Worker stopped consuming",
		slog.Int64("acked", w.acked.Load()),
		slog.Int64("requeued", w.requeued.Load()),
		slog.Int64("dropped", w.dropped.Load()),
	)
	return nil
}

// Stop signals background loops to exit and waits for them
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
	})
	w.wg.Wait()
}

// reportStats logs message counters every heartbeat interval
func (w *Worker) reportStats(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.logger.Info("Worker heartbeat",
				slog.String("worker_id", w.workerID),
				slog.Int("queued", len(w.jobsChan)),
				slog.Int64("acked", w.acked.Load()),
				slog.Int64("requeued", w.requeued.Load()),
				slog.Int64("dropped", w.dropped.Load()),
			)
		}
	}
}

func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	deliveries, err := w.broker.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
	)
	return deliveries, nil
}
