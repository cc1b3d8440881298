package kvbridge

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rzpsarthak13/kvbridge/internal/core"
)

const maxRetryBackoff = 30 * time.Second

// Drainer handles background replay of the change feed.
// It reads changes from the WriteBackQueue and applies them through the
// executor at a controlled rate to protect the mirror database.
type Drainer struct {
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	name     string
	queue    core.WriteBackQueue
	executor WriteBackExecutor
	config   DrainerConfig

	// limiters is only touched by the run goroutine.
	limiters map[string]*rate.Limiter

	stats DrainerStats
}

// WriteBackExecutor applies one committed change. The MySQL mirror
// implements it.
type WriteBackExecutor interface {
	ExecuteWriteOperation(ctx context.Context, operation *core.WriteOperation) error
}

// DrainerConfig contains configuration for the drainer.
type DrainerConfig struct {
	// DrainRate is the maximum number of writes per second per table.
	// Example: DrainRate=100 means 100 writes per second (1 write every 10ms).
	DrainRate int

	// BatchSize is how many changes to dequeue at once.
	BatchSize int

	// PollInterval is how often to check for new changes when the queue is empty.
	PollInterval time.Duration

	// MaxRetries is the maximum number of retries for a failed change.
	MaxRetries int

	// RetryBackoff is the base duration for exponential backoff retries.
	RetryBackoff time.Duration

	// TableRate returns the drain rate of one table. Zero or a nil func
	// falls back to DrainRate.
	TableRate func(table string) int
}

// DrainerStats counts what a drainer did since it was created.
type DrainerStats struct {
	Applied   int64 `json:"applied" yaml:"applied"`
	Retried   int64 `json:"retried" yaml:"retried"`
	Dropped   int64 `json:"dropped" yaml:"dropped"`
	QueueSize int   `json:"queue_size" yaml:"queue_size"`
	Running   bool  `json:"running" yaml:"running"`
}

// DefaultDrainerConfig returns sensible defaults for the drainer.
func DefaultDrainerConfig() DrainerConfig {
	return DrainerConfig{
		DrainRate:    50, // 50 DB writes per second
		BatchSize:    100,
		PollInterval: 100 * time.Millisecond,
		MaxRetries:   5,
		RetryBackoff: 1 * time.Second,
	}
}

// NewDrainer creates a new drainer instance.
func NewDrainer(name string, queue core.WriteBackQueue, executor WriteBackExecutor, config DrainerConfig) *Drainer {
	defaults := DefaultDrainerConfig()
	if config.DrainRate <= 0 {
		config.DrainRate = defaults.DrainRate
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	return &Drainer{
		name:     name,
		queue:    queue,
		executor: executor,
		config:   config,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Start begins the drainer goroutine. Call Stop to shut it down.
func (d *Drainer) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		log.Printf("[DRAINER:%s] Already running", d.name)
		return nil
	}
	d.running = true
	// Reset channels for restart capability
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.mu.Unlock()

	go d.run(ctx)
	log.Printf("[DRAINER:%s] Started with drain rate: %d ops/sec", d.name, d.config.DrainRate)
	return nil
}

// Stop gracefully stops the drainer.
// It waits for the current batch to complete before returning.
func (d *Drainer) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	log.Printf("[DRAINER:%s] Stopping...", d.name)
	close(d.stopCh)
	<-d.doneCh
	log.Printf("[DRAINER:%s] Stopped", d.name)
	return nil
}

// IsRunning returns whether the drainer is currently running.
func (d *Drainer) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// QueueSize returns the current size of the queue.
func (d *Drainer) QueueSize() int {
	if d.queue == nil {
		return 0
	}
	return d.queue.Size()
}

// Stats returns a snapshot of the drainer's counters.
func (d *Drainer) Stats() DrainerStats {
	d.mu.RLock()
	s := d.stats
	s.Running = d.running
	d.mu.RUnlock()
	s.QueueSize = d.QueueSize()
	return s
}

// GetConfig returns the drainer configuration.
func (d *Drainer) GetConfig() DrainerConfig {
	return d.config
}

func (d *Drainer) count(field *int64) {
	d.mu.Lock()
	*field++
	d.mu.Unlock()
}

// limiter returns the rate limiter of a table.
func (d *Drainer) limiter(table string) *rate.Limiter {
	if l, ok := d.limiters[table]; ok {
		return l
	}
	r := d.config.DrainRate
	if d.config.TableRate != nil {
		if tr := d.config.TableRate(table); tr > 0 {
			r = tr
		}
	}
	l := rate.NewLimiter(rate.Limit(r), 1)
	d.limiters[table] = l
	return l
}

// wait sleeps for dur unless the drainer is stopped first.
func (d *Drainer) wait(ctx context.Context, dur time.Duration) bool {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-d.stopCh:
		return false
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// run is the main drainer loop.
func (d *Drainer) run(ctx context.Context) {
	d.mu.RLock()
	done := d.doneCh
	d.mu.RUnlock()
	defer close(done)
	// A cancelled context ends the loop without Stop; clear running so
	// Start can launch it again.
	defer func() {
		d.mu.Lock()
		if d.doneCh == done {
			d.running = false
		}
		d.mu.Unlock()
	}()

	log.Printf("[DRAINER:%s] Worker started - Rate: %d ops/sec, Poll interval: %v",
		d.name, d.config.DrainRate, d.config.PollInterval)

	operationCount := 0
	startTime := time.Now()

	for {
		select {
		case <-d.stopCh:
			log.Printf("[DRAINER:%s] Received stop signal, processed %d operations in %v",
				d.name, operationCount, time.Since(startTime))
			return
		case <-ctx.Done():
			log.Printf("[DRAINER:%s] Context cancelled, processed %d operations in %v",
				d.name, operationCount, time.Since(startTime))
			return
		default:
		}

		// Size is approximate for Kafka, so always ask the queue.
		operations, err := d.queue.Dequeue(ctx, d.config.BatchSize)
		if err != nil {
			log.Printf("[DRAINER:%s] Dequeue error: %v", d.name, err)
			if !d.wait(ctx, d.config.PollInterval) {
				return
			}
			continue
		}
		if len(operations) == 0 {
			if !d.wait(ctx, d.config.PollInterval) {
				return
			}
			continue
		}

		for i, op := range operations {
			if op == nil {
				continue
			}
			if err := d.limiter(op.Table).Wait(ctx); err != nil {
				d.requeue(operations[i:])
				return
			}
			operationCount++
			if !d.apply(ctx, op) {
				d.requeue(operations[i:])
				return
			}
		}
	}
}

// apply executes one change, retrying with exponential backoff. It
// returns false when the drainer was stopped before the change settled.
func (d *Drainer) apply(ctx context.Context, op *core.WriteOperation) bool {
	for {
		writeStart := time.Now()
		err := d.executor.ExecuteWriteOperation(ctx, op)
		if err == nil {
			d.count(&d.stats.Applied)
			return true
		}
		if op.RetryCount >= d.config.MaxRetries {
			log.Printf("[DRAINER:%s] ERROR: Dropping %s of row %s on %s after %d retries: %v",
				d.name, op.Operation, op.RowID, op.Table, op.RetryCount, err)
			d.count(&d.stats.Dropped)
			return true
		}

		op.RetryCount++
		backoff := d.config.RetryBackoff << (op.RetryCount - 1)
		if backoff <= 0 || backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
		log.Printf("[DRAINER:%s] ERROR: Failed to write %s on %s: %v (duration: %v), retry %d/%d in %v",
			d.name, op.Operation, op.Table, err, time.Since(writeStart), op.RetryCount, d.config.MaxRetries, backoff)
		d.count(&d.stats.Retried)
		if !d.wait(ctx, backoff) {
			return false
		}
	}
}

// requeue puts unapplied changes back so a later run picks them up.
func (d *Drainer) requeue(ops []*core.WriteOperation) {
	for _, op := range ops {
		if op == nil {
			continue
		}
		if err := d.queue.Enqueue(context.Background(), op); err != nil {
			log.Printf("[DRAINER:%s] ERROR: Lost %s of row %s on %s while stopping: %v",
				d.name, op.Operation, op.RowID, op.Table, err)
			d.count(&d.stats.Dropped)
		}
	}
}

// DrainerManager manages multiple drainers (one per queue).
type DrainerManager struct {
	mu       sync.RWMutex
	drainers map[string]*Drainer
	config   DrainerConfig
}

// NewDrainerManager creates a new drainer manager.
func NewDrainerManager(config DrainerConfig) *DrainerManager {
	return &DrainerManager{
		drainers: make(map[string]*Drainer),
		config:   config,
	}
}

// AddDrainer adds a drainer over queue.
func (dm *DrainerManager) AddDrainer(name string, queue core.WriteBackQueue, executor WriteBackExecutor) *Drainer {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if existing, ok := dm.drainers[name]; ok {
		return existing
	}

	drainer := NewDrainer(name, queue, executor, dm.config)
	dm.drainers[name] = drainer
	return drainer
}

// GetDrainer returns the named drainer.
func (dm *DrainerManager) GetDrainer(name string) *Drainer {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.drainers[name]
}

// StartAll starts all drainers.
func (dm *DrainerManager) StartAll(ctx context.Context) error {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	for _, drainer := range dm.drainers {
		if err := drainer.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops all drainers.
func (dm *DrainerManager) StopAll() error {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	var errs []error
	for _, drainer := range dm.drainers {
		errs = append(errs, drainer.Stop())
	}
	return errors.Join(errs...)
}

// RemoveDrainer removes and stops a drainer.
func (dm *DrainerManager) RemoveDrainer(name string) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	drainer, ok := dm.drainers[name]
	if !ok {
		return nil
	}

	if err := drainer.Stop(); err != nil {
		return err
	}

	delete(dm.drainers, name)
	return nil
}

// Count returns the number of drainers.
func (dm *DrainerManager) Count() int {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return len(dm.drainers)
}
