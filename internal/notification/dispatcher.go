package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/notifyd/notifyd/internal/telemetry"
)

// Dispatcher periodically claims due outbox rows and fans them out to a
// worker pool. Multiple dispatcher processes may run against the same
// database; SKIP LOCKED claims keep them from stepping on each other.
type Dispatcher struct {
	store     Store
	processor *Processor
	cfg       Config
	logger    *telemetry.Logger

	jobs   chan uuid.UUID
	kick   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	active bool
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(store Store, processor *Processor, cfg Config, logger *telemetry.Logger) *Dispatcher {
	if logger == nil {
		logger = telemetry.GetGlobalLogger()
	}
	return &Dispatcher{
		store:     store,
		processor: processor,
		cfg:       cfg,
		logger:    logger,
		jobs:      make(chan uuid.UUID, cfg.BatchSize),
		kick:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the claim loop and the worker pool. Safe to call once.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active {
		return
	}
	d.active = true

	d.wg.Add(1)
	go d.claimLoop()

	for i := 0; i < d.cfg.Concurrency; i++ {
		d.wg.Add(1)
		go d.processLoop(i)
	}

	d.logger.WithField("concurrency", d.cfg.Concurrency).Info("dispatcher started")
}

// Stop shuts the dispatcher down and waits for in-flight work. Claimed
// but undispatched rows stay ENQUEUED; the stale-lease reclaim recovers
// them on the next run.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return
	}
	d.active = false
	close(d.stopCh)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

// Kick requests an immediate claim pass ahead of the next tick.
// Non-blocking; coalesces with a pass already requested.
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) claimLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.claimBatch()
		case <-d.kick:
			d.claimBatch()
		}
	}
}

func (d *Dispatcher) claimBatch() {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.TickInterval)
	defer cancel()

	ids, err := d.store.ClaimPendingBatch(ctx, d.cfg.BatchSize, d.cfg.StaleLease)
	if err != nil {
		d.logger.WithError(err).Error("failed to claim outbox batch")
		return
	}
	if len(ids) == 0 {
		return
	}
	d.logger.WithField("claimed", len(ids)).Debug("claimed outbox batch")

	for _, id := range ids {
		select {
		case d.jobs <- id:
		case <-d.stopCh:
			return
		}
	}
}

func (d *Dispatcher) processLoop(worker int) {
	defer d.wg.Done()

	log := d.logger.WithField("worker", worker)
	for {
		select {
		case <-d.stopCh:
			return
		case id := <-d.jobs:
			ctx := telemetry.WithCorrelationID(context.Background(), telemetry.NewCorrelationID())
			outcome, err := d.processor.Process(ctx, id)
			if err != nil {
				log.WithError(err).WithField("outbox_id", id).Error("failed to process outbox message")
				continue
			}
			log.WithFields(map[string]interface{}{
				"outbox_id": id,
				"outcome":   outcome,
			}).Debug("processed outbox message")
		}
	}
}
