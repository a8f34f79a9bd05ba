package ingest

import (
	"log/slog"
	"sync"

	"trackcore/internal/observability"
)

// Pool is a fixed-size worker pool with a bounded queue. Submit never blocks;
// a full queue drops the job so a flood of frames cannot wedge the listeners.
type Pool struct {
	jobs    chan func()
	wg      sync.WaitGroup
	metrics *observability.Metrics
	log     *slog.Logger

	closeOnce sync.Once
}

func NewPool(workers, queueSize int, metrics *observability.Metrics, log *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}

	p := &Pool{
		jobs:    make(chan func(), queueSize),
		metrics: metrics,
		log:     log.With("component", "worker_pool"),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.metrics.QueueDepth.Dec()
		job()
	}
}

// Submit queues a job. Returns false when the queue is full and the job was
// dropped.
func (p *Pool) Submit(job func()) bool {
	select {
	case p.jobs <- job:
		p.metrics.QueueDepth.Inc()
		return true
	default:
		p.metrics.QueueRejects.Inc()
		p.log.Warn("worker queue full, dropping frame")
		return false
	}
}

// Close stops accepting jobs and waits for in-flight ones to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.jobs)
	})
	p.wg.Wait()
}
