// Package dispatch owns the process-local asynchrony primitives: a
// bounded runner for fire-and-forget tasks, and a debounce scheduler
// holding one cancellable delayed task. Both are injected into their
// consumers; nothing here is reachable through ambient globals.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nexocrm/mailsync/pkg/utils"
)

// Task is a unit of fire-and-forget work. Its failure is reported on
// the runner's own log channel and affects nothing else.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Runner executes submitted tasks on a single background goroutine.
// Submission never blocks: when the queue is full the task is dropped
// and the drop is logged, which is an acceptable trade for work whose
// outcome the caller explicitly does not depend on.
type Runner struct {
	tasks  chan Task
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewRunner(logger *slog.Logger, buffer int) *Runner {
	if buffer <= 0 {
		buffer = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		tasks:  make(chan Task, buffer),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker goroutine. Safe to call once.
func (r *Runner) Start() {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.loop()
	})
}

func (r *Runner) loop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case task := <-r.tasks:
			if err := task.Run(r.ctx); err != nil {
				r.logger.Error("Background task failed",
					slog.String("task", task.Name),
					slog.Any("error", utils.WrapError(err)))
				continue
			}
			r.logger.Info("Background task completed", slog.String("task", task.Name))
		}
	}
}

// Submit enqueues a task. Returns false when the runner is stopped or
// its queue is full.
func (r *Runner) Submit(task Task) bool {
	select {
	case <-r.ctx.Done():
		return false
	default:
	}
	select {
	case r.tasks <- task:
		return true
	default:
		r.logger.Warn("Background task dropped, queue full", slog.String("task", task.Name))
		return false
	}
}

// Stop cancels the worker and waits for the in-flight task to return.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.cancel()
		r.wg.Wait()
	})
}

// Scheduler coalesces bursts of trigger requests into a single delayed
// execution. Each Schedule call resets the pending timer; only the last
// request within a burst fires.
type Scheduler struct {
	delay  time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
}

func NewScheduler(delay time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{delay: delay, logger: logger}
}

// Schedule arms (or re-arms) the delayed task.
func (s *Scheduler) Schedule(name string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.logger.Info("Scheduled delayed task",
		slog.String("task", name),
		slog.Duration("delay", s.delay))
	s.timer = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		s.timer = nil
		s.mu.Unlock()
		fn()
	})
}

// Cancel stops any pending task. Reports whether one was pending.
func (s *Scheduler) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer == nil {
		return false
	}
	stopped := s.timer.Stop()
	s.timer = nil
	return stopped
}
