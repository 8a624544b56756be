// Package shardqueue provides a small sharded work queue that keeps FIFO order
// per key while running different keys in parallel.
//
// Callers must not invoke Submit concurrently for the same key; FIFO ordering
// relies on that external serialisation.
package shardqueue

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// Job is a unit of work. Returning an error whose Irrecoverable method reports
// true stops further attempts.
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc adapts a function to a Job.
type JobFunc func(ctx context.Context) error

func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }

type queuedJob struct {
	ctx context.Context
	job Job
}

// ShardExecutor executes Jobs on worker goroutines partitioned by a stable hash
// of the key (the subject ID for telemetry).
type ShardExecutor struct {
	cfg     Config
	queues  []chan queuedJob
	metrics []shardMetrics

	done   chan struct{}
	closed uint32

	wg sync.WaitGroup
}

// NewShardExecutor constructs the executor and starts its shard workers.
func NewShardExecutor(cfg Config) *ShardExecutor {
	if cfg.Shards <= 0 {
		cfg.Shards = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 100 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 20 * time.Second
	}

	p := &ShardExecutor{
		cfg:     cfg,
		queues:  make([]chan queuedJob, cfg.Shards),
		metrics: make([]shardMetrics, cfg.Shards),
		done:    make(chan struct{}),
	}
	for i := 0; i < cfg.Shards; i++ {
		ch := make(chan queuedJob, cfg.QueueSize)
		p.queues[i] = ch
		p.metrics[i] = metricsFor(i)
		p.wg.Add(1)
		go p.runWorker(i, ch)
	}
	return p
}

// Submit enqueues job for the shard derived from key.
//
//   - Returns nil on success.
//   - Returns ErrExecutorClosed if the executor is stopped.
//   - Returns *QueueFullError if the shard is still full after EnqueueTimeout.
//   - Returns ctx.Err() if ctx is cancelled first.
func (p *ShardExecutor) Submit(ctx context.Context, key string, job Job) error {
	if atomic.LoadUint32(&p.closed) == 1 {
		return ErrExecutorClosed
	}
	select {
	case <-p.done:
		return ErrExecutorClosed
	default:
	}

	qj := queuedJob{ctx: ctx, job: job}
	shard := p.shardFor(key)
	ch := p.queues[shard]

	timer := time.NewTimer(p.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case ch <- qj:
		p.metrics[shard].submitted.Inc()
		return nil
	case <-p.done:
		return ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		p.metrics[shard].full.Inc()
		return &QueueFullError{Shard: shard, Length: len(ch), Capacity: cap(ch)}
	}
}

// Barrier enqueues a no-op job on the shard for key and waits until it runs,
// so every job previously submitted for key has completed.
func (p *ShardExecutor) Barrier(ctx context.Context, key string) error {
	done := make(chan struct{})
	j := JobFunc(func(context.Context) error {
		close(done)
		return nil
	})
	if err := p.Submit(ctx, key, j); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Stop signals every worker to drain its queue and waits for them to exit.
// It is idempotent and safe for concurrent use.
func (p *ShardExecutor) Stop() {
	if !atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		return
	}
	p.cfg.Logger.Debug().Int("shards", p.cfg.Shards).Msg("shardqueue: stopping executor")
	close(p.done)
	p.wg.Wait()
	p.cfg.Logger.Debug().Msg("shardqueue: executor stopped")
}

// Close lets ShardExecutor satisfy io.Closer.
func (p *ShardExecutor) Close() error {
	p.Stop()
	return nil
}

func (p *ShardExecutor) runWorker(idx int, ch <-chan queuedJob) {
	defer p.wg.Done()
	m := p.metrics[idx]

	for {
		select {
		case qj := <-ch:
			if qj.job != nil && !p.runWithRetry(idx, qj) {
				p.drain(idx, ch)
				return
			}
			m.depth.Set(float64(len(ch)))

		case <-p.done:
			p.drain(idx, ch)
			return
		}
	}
}

// drain runs what is left in ch in FIFO order with a single attempt each.
func (p *ShardExecutor) drain(idx int, ch <-chan queuedJob) {
	drained := 0
	for {
		select {
		case qj := <-ch:
			if qj.job != nil {
				if err := p.runOnce(idx, qj); err != nil {
					p.fail(idx, err)
				}
				drained++
			}
		default:
			if drained > 0 {
				p.cfg.Logger.Debug().Int("shard", idx).Int("jobs", drained).Msg("shardqueue: drained")
			}
			p.metrics[idx].depth.Set(0)
			return
		}
	}
}

// runWithRetry runs qj until it succeeds, fails permanently, or exhausts
// MaxAttempts. It returns false when the executor stopped mid-backoff.
func (p *ShardExecutor) runWithRetry(idx int, qj queuedJob) bool {
	select {
	case <-qj.ctx.Done():
		p.fail(idx, qj.ctx.Err())
		return true
	default:
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.cfg.BaseBackoff
	exp.Multiplier = 2
	exp.MaxInterval = p.cfg.MaxInterval
	exp.MaxElapsedTime = 0
	exp.Reset()

	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			p.metrics[idx].retried.Inc()
		}
		err := p.runOnce(idx, qj)
		if err == nil {
			return true
		}
		if isPermanent(err) || attempt >= p.cfg.MaxAttempts {
			p.fail(idx, err)
			return true
		}
		select {
		case <-time.After(exp.NextBackOff()):
		case <-p.done:
			p.fail(idx, err)
			return false
		case <-qj.ctx.Done():
			p.fail(idx, qj.ctx.Err())
			return true
		}
	}
}

// runOnce executes a single attempt, converting a panic into an error so one
// bad job never takes its shard down.
func (p *ShardExecutor) runOnce(idx int, qj queuedJob) (err error) {
	start := time.Now()
	defer func() {
		p.metrics[idx].run.Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			err = fmt.Errorf("shardqueue: job panic: %v", r)
		}
	}()
	return qj.job.Run(qj.ctx)
}

func (p *ShardExecutor) fail(idx int, err error) {
	p.metrics[idx].failed.Inc()
	p.safeHandleError(err)
}

func (p *ShardExecutor) safeHandleError(err error) {
	if err == nil || p.cfg.ErrorHandler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.cfg.Logger.Error().Interface("panic", r).Msg("shardqueue: error handler panic")
		}
	}()
	p.cfg.ErrorHandler(err)
}

func (p *ShardExecutor) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.cfg.Shards))
}
