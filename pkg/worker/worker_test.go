package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jobmill/jobmill/pkg/observability/logger"
	"github.com/jobmill/jobmill/pkg/queue"
)

type testLogger struct{}

func (l *testLogger) Debug(msg string, args ...any) {}
func (l *testLogger) Info(msg string, args ...any)  {}
func (l *testLogger) Warn(msg string, args ...any)  {}
func (l *testLogger) Error(msg string, args ...any) {}

func (l *testLogger) With(args ...any) logger.Logger { return l }

func (l *testLogger) WithContext(ctx context.Context) logger.Logger { return l }

// resolution records how a job ended up at the engine.
type resolution struct {
	jobID    string
	workerID string
	outcome  string
	result   json.RawMessage
	message  string
}

// fakeEngine feeds a fixed backlog of jobs to the pool and records
// resolutions.
type fakeEngine struct {
	mu          sync.Mutex
	backlog     []*queue.Job
	claimErr    error
	resolutions []resolution
	claims      int
}

func (e *fakeEngine) ClaimNext(ctx context.Context, workerID string) (*queue.Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.claims++
	if e.claimErr != nil {
		return nil, e.claimErr
	}
	if len(e.backlog) == 0 {
		return nil, nil
	}
	job := e.backlog[0]
	e.backlog = e.backlog[1:]
	job.Status = queue.StatusProcessing
	job.WorkerID = &workerID
	return job, nil
}

func (e *fakeEngine) Complete(ctx context.Context, id, workerID string, result json.RawMessage) (*queue.Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resolutions = append(e.resolutions, resolution{
		jobID: id, workerID: workerID, outcome: "complete", result: result,
	})
	return &queue.Job{ID: id, Status: queue.StatusCompleted}, nil
}

func (e *fakeEngine) Fail(ctx context.Context, id, workerID, message string) (*queue.Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resolutions = append(e.resolutions, resolution{
		jobID: id, workerID: workerID, outcome: "fail", message: message,
	})
	return &queue.Job{ID: id, Status: queue.StatusFailed}, nil
}

func (e *fakeEngine) resolved() []resolution {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]resolution, len(e.resolutions))
	copy(out, e.resolutions)
	return out
}

func (e *fakeEngine) claimCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.claims
}

func backlogJob(id, jobType string) *queue.Job {
	return &queue.Job{
		ID:          id,
		Type:        jobType,
		Payload:     json.RawMessage(`{}`),
		Status:      queue.StatusPending,
		MaxAttempts: 3,
		CreatedAt:   time.Now(),
		CreatedBy:   "user-1",
	}
}

func newTestPool(t *testing.T, engine Engine, cfg Config) *Pool {
	t.Helper()
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker-test"
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	pool, err := NewPool(engine, &testLogger{}, cfg)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	return pool
}

// runPool starts the pool and returns after all expected resolutions arrive
// or the deadline passes.
func runPool(t *testing.T, pool *Pool, engine *fakeEngine, wantResolutions int) []resolution {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- pool.Start(ctx)
	}()

	deadline := time.After(3 * time.Second)
	for {
		if len(engine.resolved()) >= wantResolutions {
			break
		}
		select {
		case <-deadline:
			cancel()
			<-done
			t.Fatalf("timed out with %d resolutions, want %d", len(engine.resolved()), wantResolutions)
		case <-time.After(2 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	return engine.resolved()
}

func TestNewPool_Validation(t *testing.T) {
	if _, err := NewPool(nil, &testLogger{}, Config{}); err == nil {
		t.Error("NewPool accepted a nil engine")
	}
	if _, err := NewPool(&fakeEngine{}, nil, Config{}); err == nil {
		t.Error("NewPool accepted a nil logger")
	}

	pool, err := NewPool(&fakeEngine{}, &testLogger{}, Config{})
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	if !strings.HasPrefix(pool.WorkerID(), "worker-") {
		t.Errorf("generated worker id = %q", pool.WorkerID())
	}
}

func TestPool_RegisterValidation(t *testing.T) {
	pool := newTestPool(t, &fakeEngine{}, Config{})

	if err := pool.Register("", func(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
		return nil, nil
	}); err == nil {
		t.Error("Register accepted an empty job type")
	}
	if err := pool.Register("work", nil); err == nil {
		t.Error("Register accepted a nil handler")
	}
	if err := pool.Register("work", func(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
		return nil, nil
	}); err != nil {
		t.Errorf("Register failed: %v", err)
	}
}

func TestPool_CompletesSuccessfulJobs(t *testing.T) {
	engine := &fakeEngine{backlog: []*queue.Job{
		backlogJob("job-1", "email:send"),
		backlogJob("job-2", "email:send"),
	}}
	pool := newTestPool(t, engine, Config{})

	if err := pool.Register("email:send", func(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
		return json.RawMessage(`{"sent":true}`), nil
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	resolutions := runPool(t, pool, engine, 2)
	for _, res := range resolutions {
		if res.outcome != "complete" {
			t.Errorf("job %s outcome = %s, want complete", res.jobID, res.outcome)
		}
		if res.workerID != "worker-test" {
			t.Errorf("job %s resolved by %q", res.jobID, res.workerID)
		}
		if string(res.result) != `{"sent":true}` {
			t.Errorf("job %s result = %s", res.jobID, res.result)
		}
	}
}

func TestPool_FailsOnHandlerError(t *testing.T) {
	engine := &fakeEngine{backlog: []*queue.Job{backlogJob("job-1", "flaky")}}
	pool := newTestPool(t, engine, Config{})

	if err := pool.Register("flaky", func(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
		return nil, errors.New("smtp timeout")
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	resolutions := runPool(t, pool, engine, 1)
	if resolutions[0].outcome != "fail" || resolutions[0].message != "smtp timeout" {
		t.Fatalf("resolution = %+v", resolutions[0])
	}
}

func TestPool_FailsOnMissingHandler(t *testing.T) {
	engine := &fakeEngine{backlog: []*queue.Job{backlogJob("job-1", "unknown:type")}}
	pool := newTestPool(t, engine, Config{})

	resolutions := runPool(t, pool, engine, 1)
	if resolutions[0].outcome != "fail" {
		t.Fatalf("resolution = %+v", resolutions[0])
	}
	if !strings.Contains(resolutions[0].message, "no handler registered") {
		t.Errorf("failure message = %q", resolutions[0].message)
	}
}

func TestPool_RecoversHandlerPanic(t *testing.T) {
	engine := &fakeEngine{backlog: []*queue.Job{backlogJob("job-1", "panicky")}}
	pool := newTestPool(t, engine, Config{})

	if err := pool.Register("panicky", func(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
		panic("nil map write")
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	resolutions := runPool(t, pool, engine, 1)
	if resolutions[0].outcome != "fail" {
		t.Fatalf("resolution = %+v", resolutions[0])
	}
	if !strings.Contains(resolutions[0].message, "panic while handling job") {
		t.Errorf("failure message = %q", resolutions[0].message)
	}
}

func TestPool_HonorsMaxConcurrent(t *testing.T) {
	const jobs = 8
	const limit = 2

	backlog := make([]*queue.Job, 0, jobs)
	for i := 0; i < jobs; i++ {
		backlog = append(backlog, backlogJob("job-"+string(rune('a'+i)), "slow"))
	}
	engine := &fakeEngine{backlog: backlog}
	pool := newTestPool(t, engine, Config{MaxConcurrent: limit})

	var mu sync.Mutex
	var current, peak int
	if err := pool.Register("slow", func(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()
		return nil, nil
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	runPool(t, pool, engine, jobs)

	mu.Lock()
	defer mu.Unlock()
	if peak > limit {
		t.Fatalf("peak concurrency = %d, exceeds limit %d", peak, limit)
	}
	if peak == 0 {
		t.Fatal("no handler ever ran")
	}
}

func TestPool_ClaimErrorsAreRetried(t *testing.T) {
	engine := &fakeEngine{claimErr: errors.New("connection refused")}
	pool := newTestPool(t, engine, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- pool.Start(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for engine.claimCount() < 3 {
		select {
		case <-deadline:
			cancel()
			<-done
			t.Fatalf("only %d claim attempts before deadline", engine.claimCount())
		case <-time.After(2 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
}

func TestPool_StopDrainsInFlightJobs(t *testing.T) {
	engine := &fakeEngine{backlog: []*queue.Job{backlogJob("job-1", "slow")}}
	pool := newTestPool(t, engine, Config{StopTimeout: time.Second})

	started := make(chan struct{})
	if err := pool.Register("slow", func(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return json.RawMessage(`{}`), nil
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- pool.Start(ctx)
	}()

	<-started
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	resolutions := engine.resolved()
	if len(resolutions) != 1 || resolutions[0].outcome != "complete" {
		t.Fatalf("in-flight job not drained: %+v", resolutions)
	}
}

func TestPool_StartTwiceFails(t *testing.T) {
	pool := newTestPool(t, &fakeEngine{}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- pool.Start(ctx)
	}()

	// Wait for the first Start to take the running flag.
	for {
		pool.lifecycleMu.Lock()
		running := pool.running
		pool.lifecycleMu.Unlock()
		if running {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if err := pool.Start(context.Background()); err == nil {
		t.Error("second Start succeeded, want error")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
}

func TestPool_StopWithoutStartIsNoOp(t *testing.T) {
	pool := newTestPool(t, &fakeEngine{}, Config{})
	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("Stop on idle pool failed: %v", err)
	}
}
