package vault

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// TaskStatus classifies how a supervised run ended.
type TaskStatus string

const (
	// TaskOK means the task returned cleanly.
	TaskOK TaskStatus = "ok"
	// TaskCrashed means the task returned an error or panicked.
	TaskCrashed TaskStatus = "crashed"
)

// TaskResult is the typed completion report of one supervised run.
type TaskResult struct {
	Name   string
	Status TaskStatus
	Reason string
}

// SupervisorOptions configures a Supervisor. Zero values select
// defaults.
type SupervisorOptions struct {
	// Audit is the audit log for restart and escalation entries.
	// Required.
	Audit *AuditLog
	// PollInterval is the liveness backstop interval. Defaults to 30s.
	PollInterval time.Duration
	// BaseBackoff is the delay before the first restart; it doubles per
	// consecutive crash. Defaults to 2s.
	BaseBackoff time.Duration
	// MaxBackoff caps the restart delay. Defaults to 60s.
	MaxBackoff time.Duration
	// MaxRestarts caps how many times one task is restarted before the
	// supervisor escalates and leaves it down. Defaults to 8.
	MaxRestarts int
}

// Supervisor runs continuous watcher tasks and restarts the ones that
// crash. Each run reports a typed result through a channel; panics are
// recovered into a crashed result, and a periodic liveness poll restarts
// any task found dead without a scheduled restart, as a backstop for the
// result path. A crash never propagates: the supervisor itself only
// stops when its context is canceled.
type Supervisor struct {
	audit       *AuditLog
	poll        time.Duration
	baseBackoff time.Duration
	maxBackoff  time.Duration
	maxRestarts int

	tasks     map[string]*supervisedTask
	order     []string
	results   chan TaskResult
	restartCh chan string
	wg        sync.WaitGroup
}

type supervisedTask struct {
	name           string
	run            func(ctx context.Context) error
	restarts       int
	alive          bool
	pendingRestart bool
	down           bool
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(opts SupervisorOptions) (*Supervisor, error) {
	if opts.Audit == nil {
		return nil, fmt.Errorf("%w: audit log is required", ErrInvalidInput)
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultSupervisionInterval
	}
	baseBackoff := opts.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = 2 * time.Second
	}
	maxBackoff := opts.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 60 * time.Second
	}
	maxRestarts := opts.MaxRestarts
	if maxRestarts <= 0 {
		maxRestarts = 8
	}
	return &Supervisor{
		audit:       opts.Audit,
		poll:        poll,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
		maxRestarts: maxRestarts,
		tasks:       map[string]*supervisedTask{},
	}, nil
}

// Supervise registers a task. All tasks must be registered before Run is
// called.
func (s *Supervisor) Supervise(name string, run func(ctx context.Context) error) error {
	if name == "" || run == nil {
		return fmt.Errorf("%w: supervised task needs a name and a function", ErrInvalidInput)
	}
	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("%w: task %s already supervised", ErrInvalidInput, name)
	}
	s.tasks[name] = &supervisedTask{name: name, run: run}
	s.order = append(s.order, name)
	return nil
}

// Run launches every registered task and supervises them until ctx is
// canceled, then waits for them to stop. Task state is only touched from
// this goroutine.
func (s *Supervisor) Run(ctx context.Context) error {
	s.results = make(chan TaskResult, len(s.tasks)+1)
	s.restartCh = make(chan string, len(s.tasks)+1)

	for _, name := range s.order {
		s.launch(ctx, s.tasks[name])
	}

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return nil
		case res := <-s.results:
			s.handleResult(ctx, res)
		case name := <-s.restartCh:
			task := s.tasks[name]
			task.pendingRestart = false
			if ctx.Err() == nil && !task.down && !task.alive {
				s.launch(ctx, task)
			}
		case <-ticker.C:
			s.pollLiveness(ctx)
		}
	}
}

func (s *Supervisor) launch(ctx context.Context, task *supervisedTask) {
	task.alive = true
	log.Printf("supervisor: starting %s", task.name)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res := TaskResult{Name: task.name, Status: TaskOK}
		defer func() {
			if r := recover(); r != nil {
				res = TaskResult{Name: task.name, Status: TaskCrashed, Reason: fmt.Sprintf("panic: %v", r)}
			}
			s.results <- res
		}()
		if err := task.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			res = TaskResult{Name: task.name, Status: TaskCrashed, Reason: err.Error()}
		}
	}()
}

func (s *Supervisor) handleResult(ctx context.Context, res TaskResult) {
	task, ok := s.tasks[res.Name]
	if !ok {
		return
	}
	task.alive = false
	if ctx.Err() != nil {
		return
	}
	if res.Status == TaskOK {
		// Continuous tasks only finish cleanly at shutdown; a clean
		// finish with a live context means the task chose to stop.
		log.Printf("supervisor: %s finished", task.name)
		task.down = true
		return
	}
	s.scheduleRestart(ctx, task, res.Reason)
}

func (s *Supervisor) scheduleRestart(ctx context.Context, task *supervisedTask, reason string) {
	if task.restarts >= s.maxRestarts {
		task.down = true
		details := fmt.Sprintf("%s exceeded %d restarts, staying down: %s", task.name, s.maxRestarts, reason)
		log.Printf("supervisor: %s", details)
		s.append("watcher_escalation", details, ResultError)
		return
	}
	task.restarts++
	backoff := s.backoffFor(task.restarts)
	task.pendingRestart = true
	details := fmt.Sprintf("restarting %s after crash: %s (restart %d, backoff %s)", task.name, reason, task.restarts, backoff)
	log.Printf("supervisor: %s", details)
	s.append("watcher_restart", details, ResultWarning)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := sleepContext(ctx, backoff); err != nil {
			return
		}
		s.restartCh <- task.name
	}()
}

func (s *Supervisor) pollLiveness(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	for _, name := range s.order {
		task := s.tasks[name]
		if task.alive || task.down || task.pendingRestart {
			continue
		}
		// A dead task with no scheduled restart means its result got
		// lost; the poll is the backstop that brings it back.
		details := fmt.Sprintf("liveness poll restarting %s", task.name)
		log.Printf("supervisor: %s", details)
		s.append("watcher_restart", details, ResultWarning)
		s.launch(ctx, task)
	}
}

func (s *Supervisor) backoffFor(restart int) time.Duration {
	backoff := s.baseBackoff
	for i := 1; i < restart; i++ {
		backoff *= 2
		if backoff >= s.maxBackoff {
			return s.maxBackoff
		}
	}
	if backoff > s.maxBackoff {
		return s.maxBackoff
	}
	return backoff
}

func (s *Supervisor) append(actionType, details, result string) {
	if err := s.audit.Append(actionType, "supervisor", details, result); err != nil {
		log.Printf("supervisor: audit append failed: %v", err)
	}
}
