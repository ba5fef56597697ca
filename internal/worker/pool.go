package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/roomflow/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop processes dispatched deliveries until jobsChan is closed
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for delivery := range w.jobsChan {
		w.handleDelivery(ctx, workerName, delivery)
	}

	w.logger.Debug("Worker goroutine stopping - jobsChan closed",
		slog.String("worker_name", workerName),
	)
}

// handleDelivery processes one message and settles it with the broker
func (w *Worker) handleDelivery(ctx context.Context, workerName string, delivery amqp.Delivery) {
	// settle against a live context even while shutting down
	jobCtx := context.WithoutCancel(ctx)
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, w.jobTimeout)
		defer cancel()
	}

	err := w.processor.Process(jobCtx, delivery.Body)
	if err == nil {
		if ackErr := delivery.Ack(false); ackErr != nil {
			w.logger.Error("Failed to ACK message",
				slog.String("worker_name", workerName),
				slog.String("error", ackErr.Error()),
			)
			return
		}
		w.acked.Add(1)
		return
	}

	requeue := shouldRequeue(err)
	w.logger.Error("Event processing failed",
		slog.String("worker_name", workerName),
		slog.String("message_id", delivery.MessageId),
		slog.Bool("requeue", requeue),
		slog.String("error", err.Error()),
	)

	if nackErr := delivery.Nack(false, requeue); nackErr != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("worker_name", workerName),
			slog.String("error", nackErr.Error()),
		)
		return
	}
	if requeue {
		w.requeued.Add(1)
	} else {
		w.dropped.Add(1)
	}
}

// shouldRequeue sends transient failures back to the queue. Malformed
// events and unknown plans go to the dead-letter exchange instead.
func shouldRequeue(err error) bool {
	if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrUnknownPlan) {
		return false
	}
	return domain.IsRetryable(err)
}
