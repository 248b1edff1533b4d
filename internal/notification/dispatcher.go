// Package notification delivers alerts to users. Delivery is best effort:
// failures are logged and counted, never retried and never reported back
// to the ingestion path.
package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/guard"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/metrics"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Sender delivers one alert to a user. The bool reports whether anything received it.
type Sender interface {
	Send(ctx context.Context, userID string, alert *model.Alert) (bool, error)
}

// SenderFunc adapts a function to Sender
type SenderFunc func(ctx context.Context, userID string, alert *model.Alert) (bool, error)

// Send calls f
func (f SenderFunc) Send(ctx context.Context, userID string, alert *model.Alert) (bool, error) {
	return f(ctx, userID, alert)
}

// Fanout sends to every Sender. Delivered if any delivered.
type Fanout []Sender

// Send delivers to all senders and joins their errors
func (f Fanout) Send(ctx context.Context, userID string, alert *model.Alert) (bool, error) {
	var (
		delivered bool
		errs      []error
	)
	for _, s := range f {
		ok, err := s.Send(ctx, userID, alert)
		if err != nil {
			errs = append(errs, err)
		}
		delivered = delivered || ok
	}
	return delivered, errors.Join(errs...)
}

// DispatcherConfig tunes the asynchronous dispatcher
type DispatcherConfig struct {
	QueueSize int
	Workers   int
	// PerUserRate is notifications per second per user; 0 disables throttling
	PerUserRate  float64
	PerUserBurst int
	SendTimeout  time.Duration
}

type job struct {
	userID string
	alert  model.Alert
}

// Dispatcher queues alerts and delivers them from a worker pool.
// Dispatch never blocks: when the queue is full the alert is dropped.
type Dispatcher struct {
	sender  Sender
	cfg     DispatcherConfig
	queue   chan job
	logger  *zap.Logger
	metrics *metrics.Collector

	limiter *guard.KeyedLimiter

	stateMu sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a new Dispatcher. Call Start before dispatching.
func NewDispatcher(sender Sender, cfg DispatcherConfig, collector *metrics.Collector, logger *zap.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PerUserBurst <= 0 {
		cfg.PerUserBurst = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}

	return &Dispatcher{
		sender:  sender,
		cfg:     cfg,
		queue:   make(chan job, cfg.QueueSize),
		logger:  logger,
		metrics: collector,
		limiter: guard.NewKeyedLimiter(rate.Limit(cfg.PerUserRate), cfg.PerUserBurst),
	}
}

// Start launches the workers
func (d *Dispatcher) Start() {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	d.logger.Info("notification dispatcher started",
		zap.Int("workers", d.cfg.Workers),
		zap.Int("queue_size", d.cfg.QueueSize),
	)
}

// Dispatch enqueues alert for userID. It reports whether the alert was queued.
func (d *Dispatcher) Dispatch(userID string, alert *model.Alert) bool {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	if d.closed {
		return false
	}

	select {
	case d.queue <- job{userID: userID, alert: *alert}:
		d.metrics.DispatchQueueDepth(len(d.queue))
		return true
	default:
		d.logger.Warn("notification queue full, dropping alert",
			zap.String("user_id", userID),
			zap.String("alert_id", alert.ID),
		)
		d.metrics.Notification("dropped")
		return false
	}
}

// Stop closes the queue and waits for queued alerts to drain or ctx to end
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stateMu.Lock()
	if d.closed {
		d.stateMu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.stateMu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("notification dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		d.metrics.DispatchQueueDepth(len(d.queue))
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	if !d.allow(j.userID) {
		d.logger.Warn("notification throttled",
			zap.String("user_id", j.userID),
			zap.String("alert_id", j.alert.ID),
		)
		d.metrics.Notification("throttled")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
	defer cancel()

	delivered, err := d.sender.Send(ctx, j.userID, &j.alert)
	if err != nil {
		dispatchErr := &model.DispatchError{UserID: j.userID, AlertID: j.alert.ID, Err: err}
		d.logger.Warn("notification dispatch failed", zap.Error(dispatchErr))
		d.metrics.Notification("failed")
		return
	}
	if !delivered {
		d.logger.Info("notification not delivered",
			zap.String("user_id", j.userID),
			zap.String("alert_id", j.alert.ID),
		)
		d.metrics.Notification("undelivered")
		return
	}

	d.metrics.Notification("delivered")
}

func (d *Dispatcher) allow(userID string) bool {
	if d.cfg.PerUserRate <= 0 {
		return true
	}

	return d.limiter.Allow(userID)
}
