package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"smsrelay/internal/observability"
	"smsrelay/internal/worker"
)

// DrainJobID names the periodic queue drain.
const DrainJobID = "SMS_RECEIVER_TASK"

// MinInterval is the shortest period a job may be registered with.
const MinInterval = 15 * time.Minute

// Result is what a task reports back to the registry after each run.
type Result int

const (
	ResultSuccess Result = iota
	ResultFailed
)

func (r Result) String() string {
	if r == ResultSuccess {
		return "success"
	}
	return "failed"
}

type Task func(ctx context.Context) Result

// Registry owns the periodic jobs of the process, keyed by id.
type Registry struct {
	MinInterval time.Duration

	mu   sync.Mutex
	jobs map[string]*Scheduler
}

func NewRegistry() *Registry {
	return &Registry{MinInterval: MinInterval, jobs: make(map[string]*Scheduler)}
}

// Register starts task every interval under id. Registering an id that is
// already present returns the existing job untouched.
func (r *Registry) Register(id string, interval time.Duration, task Task) (*Scheduler, error) {
	if id == "" {
		return nil, fmt.Errorf("job id must not be empty")
	}
	if task == nil {
		return nil, fmt.Errorf("job %s: task must not be nil", id)
	}
	if interval < r.MinInterval {
		return nil, fmt.Errorf("job %s: interval %s below minimum %s", id, interval, r.MinInterval)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.jobs == nil {
		r.jobs = make(map[string]*Scheduler)
	}
	if s, ok := r.jobs[id]; ok {
		slog.Info("job already registered", "job", id, "interval", s.Interval().String())
		return s, nil
	}

	s, err := New(interval, func(ctx context.Context) {
		res := task(ctx)
		observability.ScheduledRuns.WithLabelValues(id, res.String()).Inc()
		if res == ResultFailed {
			slog.Warn("scheduled job failed", "job", id)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}
	r.jobs[id] = s
	s.Start()
	slog.Info("job registered", "job", id, "interval", interval.String())
	return s, nil
}

// Unregister stops and forgets the job. It reports whether id was registered.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	s, ok := r.jobs[id]
	delete(r.jobs, id)
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.Stop()
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// StopAll stops every registered job and empties the registry.
func (r *Registry) StopAll() {
	r.mu.Lock()
	jobs := r.jobs
	r.jobs = make(map[string]*Scheduler)
	r.mu.Unlock()

	for _, s := range jobs {
		s.Stop()
	}
}

type Drainer interface {
	Drain(ctx context.Context, trigger string) (worker.DrainStats, error)
}

// DrainTask runs one scheduled drain. It fails only when the drain itself
// returned an error, which is reserved for storage faults.
func DrainTask(d Drainer) Task {
	return func(ctx context.Context) Result {
		if _, err := d.Drain(ctx, "scheduled"); err != nil {
			slog.Error("scheduled queue drain failed", "err", err)
			return ResultFailed
		}
		return ResultSuccess
	}
}
