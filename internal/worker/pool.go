// Package worker runs transcription tasks on a bounded pool. The pool size
// caps how many jobs run in parallel; within one job all work is sequential.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Job is a unit of work. Execute must honor ctx: the dispatcher applies a
// hard wall-clock ceiling to every run so a stuck provider call cannot
// occupy a worker forever.
type Job interface {
	ID() string
	Execute(ctx context.Context) error
}

// Worker pulls jobs from its own channel after registering it with the
// shared pool.
type Worker struct {
	id         int
	workerPool chan chan Job
	jobChannel chan Job
	quit       chan struct{}
	wg         *sync.WaitGroup
	maxRuntime time.Duration
	log        *logrus.Logger
}

func newWorker(id int, workerPool chan chan Job, wg *sync.WaitGroup, maxRuntime time.Duration, log *logrus.Logger) *Worker {
	return &Worker{
		id:         id,
		workerPool: workerPool,
		jobChannel: make(chan Job),
		quit:       make(chan struct{}),
		wg:         wg,
		maxRuntime: maxRuntime,
		log:        log,
	}
}

func (w *Worker) start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			// Re-register for the next job.
			w.workerPool <- w.jobChannel

			select {
			case job := <-w.jobChannel:
				w.run(job)
			case <-w.quit:
				w.log.WithField("worker", w.id).Info("Worker stopping")
				return
			}
		}
	}()
}

func (w *Worker) run(job Job) {
	jlog := w.log.WithFields(logrus.Fields{"worker": w.id, "job_id": job.ID()})
	jlog.Info("Worker started job")

	ctx, cancel := context.WithTimeout(context.Background(), w.maxRuntime)
	defer cancel()

	started := time.Now()
	if err := job.Execute(ctx); err != nil {
		jlog.WithError(err).WithField("elapsed_seconds", time.Since(started).Seconds()).Error("Job failed")
		return
	}
	jlog.WithField("elapsed_seconds", time.Since(started).Seconds()).Info("Worker finished job")
}

func (w *Worker) stop() {
	close(w.quit)
}

// Dispatcher owns the worker pool and the buffered job queue.
type Dispatcher struct {
	maxWorkers int
	workerPool chan chan Job
	jobQueue   chan Job
	workers    []*Worker
	wg         sync.WaitGroup
	quit       chan struct{}
	maxRuntime time.Duration
	log        *logrus.Logger
}

// NewDispatcher builds a dispatcher with a fixed pool size, queue capacity
// and per-job wall-clock ceiling.
func NewDispatcher(maxWorkers, queueSize int, maxRuntime time.Duration, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		maxWorkers: maxWorkers,
		workerPool: make(chan chan Job, maxWorkers),
		jobQueue:   make(chan Job, queueSize),
		quit:       make(chan struct{}),
		maxRuntime: maxRuntime,
		log:        log,
	}
}

// Run starts the workers and the dispatch loop.
func (d *Dispatcher) Run() {
	d.log.WithField("workers", d.maxWorkers).Info("Dispatcher starting")
	for i := 1; i <= d.maxWorkers; i++ {
		w := newWorker(i, d.workerPool, &d.wg, d.maxRuntime, d.log)
		d.workers = append(d.workers, w)
		w.start()
	}
	go d.dispatch()
}

func (d *Dispatcher) dispatch() {
	for {
		select {
		case job := <-d.jobQueue:
			go func(job Job) {
				jobChannel := <-d.workerPool
				jobChannel <- job
			}(job)
		case <-d.quit:
			return
		}
	}
}

// Submit queues a job without blocking. It reports false when the queue is
// full; the caller decides whether that is an error worth surfacing.
func (d *Dispatcher) Submit(job Job) bool {
	select {
	case d.jobQueue <- job:
		d.log.WithField("job_id", job.ID()).Info("Job queued")
		return true
	default:
		d.log.WithField("job_id", job.ID()).Error("Job queue full, submission rejected")
		return false
	}
}

// Stop shuts the dispatch loop down and waits for in-flight jobs to finish.
func (d *Dispatcher) Stop() {
	d.log.Info("Dispatcher shutting down")
	close(d.quit)
	for _, w := range d.workers {
		w.stop()
	}
	d.wg.Wait()
	d.log.Info("Dispatcher stopped")
}
