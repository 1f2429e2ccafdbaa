package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kwikpesa/gateway/internal/logging"
	"github.com/kwikpesa/gateway/internal/metrics"
	"golang.org/x/sync/errgroup"
)

var (
	ErrQueueFull = errors.New("worker queue is full")
	ErrStopped   = errors.New("worker pool is stopped")
)

// Submitter accepts detached background work
type Submitter interface {
	Submit(job Job) error
}

// Scheduler also accepts jobs that must wait before they are queued.
// A waiting job holds no worker.
type Scheduler interface {
	Submitter
	SubmitAfter(d time.Duration, job Job)
}

// Job is a unit of detached background work
type Job struct {
	Kind string
	Ref  string
	Run  func(ctx context.Context) error

	// Rejected is called when a delayed job cannot be queued once its wait is over
	Rejected func(err error)
}

// Pool runs jobs on a fixed set of workers fed by a bounded queue
type Pool struct {
	name   string
	jobs   chan Job
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	stopped bool
	timers  map[*time.Timer]struct{}
}

func NewPool(name string, workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	p := &Pool{
		name:   name,
		jobs:   make(chan Job, queueSize),
		group:  group,
		ctx:    gctx,
		cancel: cancel,
		timers: make(map[*time.Timer]struct{}),
	}

	for i := 0; i < workers; i++ {
		group.Go(p.loop)
	}
	return p
}

// Submit enqueues a job without blocking
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrStopped
	}

	select {
	case p.jobs <- job:
		metrics.WorkerQueueDepth.WithLabelValues(p.name).Set(float64(len(p.jobs)))
		return nil
	default:
		metrics.WorkerJobs.WithLabelValues(job.Kind, "rejected").Inc()
		logging.LOGGER.Errorf("[WORKER] %s queue full, dropping %s job for %s", p.name, job.Kind, job.Ref)
		return ErrQueueFull
	}
}

// SubmitAfter queues job once d has passed. The wait happens on a timer, not a worker.
func (p *Pool) SubmitAfter(d time.Duration, job Job) {
	if !p.schedule(d, job) {
		p.reject(job, ErrStopped)
		return
	}
	metrics.WorkerJobs.WithLabelValues(job.Kind, "scheduled").Inc()
}

func (p *Pool) schedule(d time.Duration, job Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return false
	}

	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		p.mu.Lock()
		delete(p.timers, timer)
		p.mu.Unlock()

		if err := p.Submit(job); err != nil {
			p.reject(job, err)
		}
	})
	p.timers[timer] = struct{}{}
	return true
}

// Pending returns the number of delayed jobs still waiting
func (p *Pool) Pending() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.timers)
}

func (p *Pool) reject(job Job, err error) {
	if job.Rejected != nil {
		job.Rejected(err)
	}
}

// Shutdown stops intake, cancels delayed jobs that are still waiting and waits for
// queued jobs to drain, or ctx to expire
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.jobs)
	}
	for timer := range p.timers {
		if timer.Stop() {
			metrics.WorkerJobs.WithLabelValues("delayed", "cancelled").Inc()
		}
		delete(p.timers, timer)
	}
	p.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- p.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

func (p *Pool) loop() error {
	for job := range p.jobs {
		metrics.WorkerQueueDepth.WithLabelValues(p.name).Set(float64(len(p.jobs)))
		p.run(job)
	}
	return nil
}

func (p *Pool) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			metrics.WorkerJobs.WithLabelValues(job.Kind, "panic").Inc()
			logging.LOGGER.Criticalf("[WORKER] %s job for %s panicked: %v", job.Kind, job.Ref, r)
		}
	}()

	if err := job.Run(p.ctx); err != nil {
		metrics.WorkerJobs.WithLabelValues(job.Kind, "error").Inc()
		logging.LOGGER.Errorf("[WORKER] %s job for %s failed: %v", job.Kind, job.Ref, err)
		return
	}
	metrics.WorkerJobs.WithLabelValues(job.Kind, "ok").Inc()
}
