package service

import (
	"context"
	"sync"

	"chatfunnel/internal/models"

	"github.com/sirupsen/logrus"
)

// WorkerPool fans webhook events out to a fixed number of goroutines so
// the HTTP handler can acknowledge immediately. Submission never blocks
// the caller longer than a channel send; a full queue drops the event
// with a log line rather than stalling the gateway's webhook delivery.
type WorkerPool struct {
	pipeline *Pipeline
	logger   *logrus.Logger
	jobs     chan *models.GatewayEvent
	wg       sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewWorkerPool creates a pool with the given number of workers. The job
// queue holds twice the worker count to absorb bursts.
func NewWorkerPool(pipeline *Pipeline, workers int, logger *logrus.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	return &WorkerPool{
		pipeline: pipeline,
		logger:   logger,
		jobs:     make(chan *models.GatewayEvent, workers*2),
	}
}

// Start launches the workers. They run until Stop is called or the
// context is cancelled.
func (wp *WorkerPool) Start(ctx context.Context) {
	workers := cap(wp.jobs) / 2
	for i := 0; i < workers; i++ {
		wp.wg.Add(1)
		go wp.run(ctx)
	}
}

func (wp *WorkerPool) run(ctx context.Context) {
	defer wp.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-wp.jobs:
			if !ok {
				return
			}
			wp.process(ctx, event)
		}
	}
}

func (wp *WorkerPool) process(ctx context.Context, event *models.GatewayEvent) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.WithField("panic", r).Error("Recovered panic in webhook worker")
		}
	}()
	wp.pipeline.ProcessEvent(ctx, event)
}

// Submit hands an event to the pool. Returns false when the queue is
// full or the pool is stopped; callers have already acked the webhook,
// so a rejected event is gone.
func (wp *WorkerPool) Submit(event *models.GatewayEvent) bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.closed {
		return false
	}
	select {
	case wp.jobs <- event:
		return true
	default:
		wp.logger.Warn("Worker queue full, dropping event")
		return false
	}
}

// Stop closes the queue and waits for in-flight work to finish.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.closed {
		wp.closed = true
		close(wp.jobs)
	}
	wp.mu.Unlock()
	wp.wg.Wait()
}
