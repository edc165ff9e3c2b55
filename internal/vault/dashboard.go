package vault

import (
	"fmt"
	"strings"
	"time"
)

// defaultLogTail is how many recent audit entries the dashboard shows.
const defaultLogTail = 5

// Snapshot is the aggregate status of the vault at one instant.
type Snapshot struct {
	GeneratedAt string        `json:"generated_at"`
	Counts      map[Stage]int `json:"counts"`
	RecentLog   []Entry       `json:"recent_log"`
}

// AggregatorOptions configures an Aggregator. Zero values select
// defaults.
type AggregatorOptions struct {
	// Store is the vault store. Required.
	Store *Store
	// Audit is the audit log. Required.
	Audit *AuditLog
	// Clock overrides the time source. Defaults to time.Now.
	Clock func() time.Time
	// LogTail is how many recent entries to include. Defaults to 5.
	LogTail int
}

// Aggregator derives the vault's aggregate status from store state and
// the audit log. It holds no state of its own, so a refresh under
// concurrent watcher writes is merely a point-in-time view, never a
// corruption.
type Aggregator struct {
	store *Store
	audit *AuditLog
	now   func() time.Time
	tail  int
}

// NewAggregator creates an Aggregator.
func NewAggregator(opts AggregatorOptions) (*Aggregator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if opts.Audit == nil {
		return nil, fmt.Errorf("%w: audit log is required", ErrInvalidInput)
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	tail := opts.LogTail
	if tail <= 0 {
		tail = defaultLogTail
	}
	return &Aggregator{store: opts.Store, audit: opts.Audit, now: now, tail: tail}, nil
}

// Snapshot computes the current per-stage counts and recent audit tail.
func (a *Aggregator) Snapshot() (*Snapshot, error) {
	counts, err := a.store.Counts()
	if err != nil {
		return nil, err
	}
	entries, err := a.audit.Tail(a.tail)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		GeneratedAt: a.now().UTC().Format(time.RFC3339),
		Counts:      counts,
		RecentLog:   entries,
	}, nil
}

// Refresh renders the current snapshot and atomically replaces the
// dashboard artifact. Readers always see either the previous or the new
// dashboard, never a partial one.
func (a *Aggregator) Refresh() error {
	snap, err := a.Snapshot()
	if err != nil {
		return err
	}
	return a.store.ReplaceDashboard(renderDashboard(snap))
}

func renderDashboard(snap *Snapshot) []byte {
	var b strings.Builder
	b.WriteString("# AI Employee Dashboard\n\n")
	updated := snap.GeneratedAt
	if t, err := time.Parse(time.RFC3339, snap.GeneratedAt); err == nil {
		updated = t.UTC().Format("2006-01-02 15:04:05") + " UTC"
	}
	fmt.Fprintf(&b, "Updated: %s\n\n", updated)

	b.WriteString("## Pipeline\n\n")
	b.WriteString("| Stage | Items |\n")
	b.WriteString("|---|---:|\n")
	for _, stage := range Stages {
		fmt.Fprintf(&b, "| %s | %d |\n", stage, snap.Counts[stage])
	}
	b.WriteString("\n## Recent activity\n\n")
	if len(snap.RecentLog) == 0 {
		b.WriteString("No activity recorded today.\n")
		return []byte(b.String())
	}
	for _, entry := range snap.RecentLog {
		ts := entry.Timestamp
		if t, err := time.Parse(time.RFC3339, entry.Timestamp); err == nil {
			ts = t.UTC().Format("15:04:05")
		}
		fmt.Fprintf(&b, "- %s [%s] %s (%s): %s\n", ts, entry.Result, entry.ActionType, entry.Actor, entry.Details)
	}
	return []byte(b.String())
}
