package vault

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

// Default watcher intervals.
const (
	DefaultInboxInterval       = 120 * time.Second
	DefaultApprovalInterval    = 15 * time.Minute
	DefaultDashboardInterval   = 10 * time.Minute
	DefaultSupervisionInterval = 30 * time.Second
)

// OrchestratorOptions wires the components of one vault deployment. The
// watcher fields are optional: a watcher whose configuration is absent
// is simply not passed in, and the rest of the system runs without it.
type OrchestratorOptions struct {
	// Store is the vault store. Required.
	Store *Store
	// Audit is the audit log. Required.
	Audit *AuditLog
	// Tracker is the shared dedup tracker. Required.
	Tracker *Tracker

	DropFolder *DropFolderWatcher
	Inbox      *InboxWatcher
	Approval   *ApprovalWatcher
	Aggregator *Aggregator

	// Supervisor overrides the default supervisor for continuous
	// watchers.
	Supervisor *Supervisor

	InboxInterval     time.Duration
	ApprovalInterval  time.Duration
	DashboardInterval time.Duration
}

// Orchestrator runs the whole system: the drop-folder watcher under the
// supervisor, the periodic watchers and the status aggregator on the
// scheduler. All lifecycle flows through the context handed to Run;
// nothing global is touched.
type Orchestrator struct {
	store  *Store
	audit  *AuditLog
	runner *Runner

	dropFolder *DropFolderWatcher
	inbox      *InboxWatcher
	approval   *ApprovalWatcher
	aggregator *Aggregator

	supervisor *Supervisor
	scheduler  *Scheduler

	inboxInterval     time.Duration
	approvalInterval  time.Duration
	dashboardInterval time.Duration
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if opts.Audit == nil {
		return nil, fmt.Errorf("%w: audit log is required", ErrInvalidInput)
	}
	if opts.Tracker == nil {
		return nil, fmt.Errorf("%w: tracker is required", ErrInvalidInput)
	}
	supervisor := opts.Supervisor
	if supervisor == nil {
		var err error
		supervisor, err = NewSupervisor(SupervisorOptions{Audit: opts.Audit})
		if err != nil {
			return nil, err
		}
	}
	inboxInterval := opts.InboxInterval
	if inboxInterval <= 0 {
		inboxInterval = DefaultInboxInterval
	}
	approvalInterval := opts.ApprovalInterval
	if approvalInterval <= 0 {
		approvalInterval = DefaultApprovalInterval
	}
	dashboardInterval := opts.DashboardInterval
	if dashboardInterval <= 0 {
		dashboardInterval = DefaultDashboardInterval
	}
	return &Orchestrator{
		store:             opts.Store,
		audit:             opts.Audit,
		runner:            &Runner{Tracker: opts.Tracker, Audit: opts.Audit},
		dropFolder:        opts.DropFolder,
		inbox:             opts.Inbox,
		approval:          opts.Approval,
		aggregator:        opts.Aggregator,
		supervisor:        supervisor,
		scheduler:         NewScheduler(),
		inboxInterval:     inboxInterval,
		approvalInterval:  approvalInterval,
		dashboardInterval: dashboardInterval,
	}, nil
}

// Runner exposes the cycle runner, mainly so the serve command can drive
// one-off cycles in tests and tooling.
func (o *Orchestrator) Runner() *Runner {
	return o.runner
}

// Run starts everything and blocks until ctx is canceled, then waits for
// in-flight cycles to drain.
func (o *Orchestrator) Run(ctx context.Context) error {
	var active []string

	if o.dropFolder != nil {
		w := o.dropFolder
		if err := o.supervisor.Supervise(w.Name(), func(ctx context.Context) error {
			return w.Run(ctx, o.runner)
		}); err != nil {
			return err
		}
		active = append(active, w.Name())
	}
	if o.inbox != nil {
		if err := o.addWatcherJob(ctx, o.inbox, o.inboxInterval); err != nil {
			return err
		}
		active = append(active, o.inbox.Name())
	}
	if o.approval != nil {
		if err := o.addWatcherJob(ctx, o.approval, o.approvalInterval); err != nil {
			return err
		}
		active = append(active, o.approval.Name())
	}
	if o.aggregator != nil {
		if err := o.scheduler.AddJob("dashboard", o.dashboardInterval, func() {
			if ctx.Err() != nil {
				return
			}
			if err := o.aggregator.Refresh(); err != nil {
				log.Printf("dashboard: refresh failed: %v", err)
			}
		}); err != nil {
			return err
		}
		active = append(active, "dashboard")
	}

	o.appendAudit("system_start", fmt.Sprintf("orchestrator running: %s", strings.Join(active, ", ")), ResultSuccess)

	// One immediate pass before the schedule takes over, so a fresh
	// start converges without waiting out a full interval.
	if o.inbox != nil {
		o.cycle(ctx, o.inbox)
	}
	if o.approval != nil {
		o.cycle(ctx, o.approval)
	}
	if o.aggregator != nil {
		if err := o.aggregator.Refresh(); err != nil {
			log.Printf("dashboard: refresh failed: %v", err)
		}
	}

	o.scheduler.Start()
	err := o.supervisor.Run(ctx)
	<-o.scheduler.Stop().Done()
	o.appendAudit("system_stop", "orchestrator stopped", ResultSuccess)
	return err
}

func (o *Orchestrator) addWatcherJob(ctx context.Context, w Watcher, interval time.Duration) error {
	return o.scheduler.AddJob(w.Name(), interval, func() {
		o.cycle(ctx, w)
	})
}

func (o *Orchestrator) cycle(ctx context.Context, w Watcher) {
	if ctx.Err() != nil {
		return
	}
	if err := o.runner.Cycle(ctx, w); err != nil {
		log.Printf("%s: cycle failed: %v", w.Name(), err)
	}
}

func (o *Orchestrator) appendAudit(actionType, details, result string) {
	if err := o.audit.Append(actionType, "system", details, result); err != nil {
		log.Printf("orchestrator: audit append failed: %v", err)
	}
}
