package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobmill/jobmill/pkg/observability/logger"
	"github.com/jobmill/jobmill/pkg/queue"
)

const (
	DefaultPollInterval  = 5 * time.Second
	DefaultMaxConcurrent = 5
	DefaultStopTimeout   = 30 * time.Second
)

// Engine is the slice of the queue service the pool needs: claim a job,
// resolve it as this worker. The pool never mutates jobs it does not own.
type Engine interface {
	ClaimNext(ctx context.Context, workerID string) (*queue.Job, error)
	Complete(ctx context.Context, id, workerID string, result json.RawMessage) (*queue.Job, error)
	Fail(ctx context.Context, id, workerID, message string) (*queue.Job, error)
}

// Handler executes one job. The returned payload becomes the job's result;
// a returned error becomes the failure message fed to the retry policy.
type Handler func(ctx context.Context, job *queue.Job) (json.RawMessage, error)

// Config controls the poll/dispatch loop.
type Config struct {
	// WorkerID identifies this worker in claims; generated when empty.
	WorkerID string
	// PollInterval is the wait between poll attempts when idle or at
	// capacity.
	PollInterval time.Duration
	// MaxConcurrent caps simultaneously in-flight jobs for this worker.
	MaxConcurrent int
	// StopTimeout bounds the drain during Stop.
	StopTimeout time.Duration
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.WorkerID) == "" {
		c.WorkerID = "worker-" + uuid.NewString()[:8]
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
}

// Pool drives the claim/execute/resolve cycle for one worker process. A
// single poller goroutine claims jobs and fans execution out to tracked
// goroutines, bounded by MaxConcurrent.
type Pool struct {
	engine Engine
	log    logger.Logger
	config Config

	mu       sync.RWMutex
	handlers map[string]Handler

	lifecycleMu sync.Mutex
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewPool creates a worker pool bound to an engine.
func NewPool(engine Engine, log logger.Logger, cfg Config) (*Pool, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg.normalize()

	return &Pool{
		engine:   engine,
		log:      log,
		config:   cfg,
		handlers: map[string]Handler{},
		inflight: map[string]struct{}{},
	}, nil
}

// WorkerID returns the identity this pool claims jobs under.
func (p *Pool) WorkerID() string {
	return p.config.WorkerID
}

// Register binds a handler to a job type. Jobs of unregistered types fail at
// execution time rather than blocking the queue.
func (p *Pool) Register(jobType string, handler Handler) error {
	jobType = strings.TrimSpace(jobType)
	if jobType == "" {
		return errors.New("job type is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[jobType] = handler
	return nil
}

// Start launches the poll loop and blocks until ctx is cancelled, then
// drains in-flight jobs bounded by StopTimeout.
func (p *Pool) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	p.lifecycleMu.Lock()
	if p.running {
		p.lifecycleMu.Unlock()
		return errors.New("worker pool already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.lifecycleMu.Unlock()

	p.log.Info("worker pool started",
		"worker_id", p.config.WorkerID,
		"poll_interval", p.config.PollInterval,
		"max_concurrent", p.config.MaxConcurrent,
	)

	p.wg.Add(1)
	go p.pollLoop(runCtx)

	<-runCtx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), p.config.StopTimeout)
	defer stopCancel()
	return p.Stop(stopCtx)
}

// Stop ends polling immediately and waits for in-flight jobs to finish.
// In-progress handlers are never preempted.
func (p *Pool) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	p.lifecycleMu.Lock()
	if !p.running {
		p.lifecycleMu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.cancel = nil
	p.running = false
	p.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
	}

	waitCh := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("worker pool drain timed out with %d jobs in flight: %w", p.inflightCount(), ctx.Err())
	case <-waitCh:
		p.log.Info("worker pool stopped", "worker_id", p.config.WorkerID)
		return nil
	}
}

// pollLoop is the single logical poller: one claim attempt per iteration,
// execution fanned out without blocking further polls.
func (p *Pool) pollLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		if p.inflightCount() >= p.config.MaxConcurrent {
			if !p.sleep(ctx) {
				return
			}
			continue
		}

		job, err := p.engine.ClaimNext(ctx, p.config.WorkerID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			// A failed claim is "no job available" for this cycle; the next
			// poll retries.
			p.log.Warn("claim attempt failed", "worker_id", p.config.WorkerID, "error", err)
			if !p.sleep(ctx) {
				return
			}
			continue
		}
		if job == nil {
			if !p.sleep(ctx) {
				return
			}
			continue
		}

		p.track(job.ID)
		p.wg.Add(1)
		go p.process(ctx, job)
	}
}

func (p *Pool) process(ctx context.Context, job *queue.Job) {
	defer p.wg.Done()
	defer p.untrack(job.ID)

	jobCtx := logger.ContextWithJobID(ctx, job.ID)
	log := p.log.WithContext(jobCtx).With("worker_id", p.config.WorkerID, "job_type", job.Type)

	result, err := p.execute(jobCtx, job)
	if err != nil {
		// Resolution must survive loop shutdown; the claim is already ours.
		if _, failErr := p.engine.Fail(context.WithoutCancel(ctx), job.ID, p.config.WorkerID, err.Error()); failErr != nil {
			log.Error("failed to record job failure", "error", failErr)
			return
		}
		recordJobExecuted(p.config.WorkerID, "failure")
		log.Warn("job failed", "error", err)
		return
	}

	if _, completeErr := p.engine.Complete(context.WithoutCancel(ctx), job.ID, p.config.WorkerID, result); completeErr != nil {
		log.Error("failed to record job completion", "error", completeErr)
		return
	}
	recordJobExecuted(p.config.WorkerID, "success")
	log.Info("job completed")
}

// execute looks up and runs the handler, converting panics into failures so
// a bad handler never crashes the pool.
func (p *Pool) execute(ctx context.Context, job *queue.Job) (result json.RawMessage, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while handling job: %v; stack=%s", rec, string(debug.Stack()))
		}
	}()

	handler, ok := p.lookupHandler(job.Type)
	if !ok {
		return nil, fmt.Errorf("no handler registered for job type %q", job.Type)
	}
	return handler(ctx, job)
}

func (p *Pool) lookupHandler(jobType string) (Handler, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	handler, ok := p.handlers[strings.TrimSpace(jobType)]
	return handler, ok
}

func (p *Pool) track(jobID string) {
	p.inflightMu.Lock()
	p.inflight[jobID] = struct{}{}
	p.inflightMu.Unlock()
	setJobsInFlight(p.config.WorkerID, p.inflightCount())
}

func (p *Pool) untrack(jobID string) {
	p.inflightMu.Lock()
	delete(p.inflight, jobID)
	p.inflightMu.Unlock()
	setJobsInFlight(p.config.WorkerID, p.inflightCount())
}

func (p *Pool) inflightCount() int {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()
	return len(p.inflight)
}

// sleep waits one poll interval; false means the context ended.
func (p *Pool) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(p.config.PollInterval):
		return true
	}
}
