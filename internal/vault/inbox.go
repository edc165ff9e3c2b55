package vault

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

// InboxWatcherName is the actor name the inbox watcher uses in audit
// entries and dedup state.
const InboxWatcherName = "email_watcher"

// defaultInboxPageCap bounds how many messages one cycle pulls; a flooded
// inbox drains over successive cycles instead of one giant batch.
const defaultInboxPageCap = 20

// InboxWatcherOptions configures an InboxWatcher. Zero values select
// defaults.
type InboxWatcherOptions struct {
	// Store is the vault store. Required.
	Store *Store
	// Audit is the audit log. Required.
	Audit *AuditLog
	// Source is the inbox boundary. Required.
	Source MailSource
	// Clock overrides the time source. Defaults to time.Now.
	Clock func() time.Time
	// MaxPerCycle caps messages per cycle. Defaults to 20.
	MaxPerCycle int
}

// InboxWatcher is the periodic watcher over an email inbox. Each cycle
// pulls a bounded page of unread important messages and turns each into
// an action record.
type InboxWatcher struct {
	store  *Store
	audit  *AuditLog
	source MailSource
	now    func() time.Time
	max    int
}

// NewInboxWatcher creates an inbox watcher.
func NewInboxWatcher(opts InboxWatcherOptions) (*InboxWatcher, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if opts.Audit == nil {
		return nil, fmt.Errorf("%w: audit log is required", ErrInvalidInput)
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("%w: mail source is required", ErrInvalidInput)
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	max := opts.MaxPerCycle
	if max <= 0 {
		max = defaultInboxPageCap
	}
	return &InboxWatcher{
		store:  opts.Store,
		audit:  opts.Audit,
		source: opts.Source,
		now:    now,
		max:    max,
	}, nil
}

// Name implements Watcher.
func (w *InboxWatcher) Name() string {
	return InboxWatcherName
}

// Detect implements Watcher: one bounded page of unread important
// messages, keyed by message id.
func (w *InboxWatcher) Detect(ctx context.Context) ([]Event, error) {
	msgs, err := w.source.ListUnreadImportant(ctx, w.max)
	if err != nil {
		return nil, fmt.Errorf("list unread important: %w", err)
	}
	events := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		events = append(events, Event{Key: msg.ID, Payload: msg})
	}
	return events, nil
}

// Materialize implements Watcher: it writes the action record for one
// message, then marks the message read at the source. The read flag is
// the authoritative guard against reprocessing; if the mark fails the
// record still counts as materialized and the persisted dedup set takes
// over as the second guard, so the message is never recorded twice.
func (w *InboxWatcher) Materialize(ctx context.Context, ev Event) (*Record, error) {
	msg, ok := ev.Payload.(MailMessage)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected payload for message %s", ErrInvalidInput, ev.Key)
	}

	ts := w.now()
	recordName := RecordFileName(PrefixEmail, idFragment(msg.ID), ts)
	meta := Metadata{
		Type:     KindEmail,
		Source:   "email_inbox",
		Status:   StatusPending,
		Priority: PriorityHigh,
		EmailID:  msg.ID,
		Subject:  msg.Subject,
		From:     msg.From,
		To:       msg.To,
		ThreadID: msg.ThreadID,
		Date:     msg.Date.UTC().Format(time.RFC3339),
		Received: ts.UTC().Format(time.RFC3339),
		Created:  ts.UTC().Format(time.RFC3339),
	}
	body := fmt.Sprintf(`# Email: %s

An important unread email needs attention.

- From: %s
- Date: %s

## Snippet

%s

## Suggested actions

- [ ] Read the full message
- [ ] Draft a reply
`, msg.Subject, msg.From, msg.Date.UTC().Format(time.RFC3339), strings.TrimSpace(msg.Snippet))

	if err := w.store.WriteRecord(StageNeedsAction, recordName, meta, body); err != nil {
		return nil, err
	}
	if err := w.source.MarkRead(ctx, msg.ID); err != nil {
		log.Printf("%s: mark read %s failed: %v", InboxWatcherName, msg.ID, err)
		w.appendAudit("email_mark_read", fmt.Sprintf("mark read failed for %s: %v", msg.ID, err), ResultWarning)
	}
	w.appendAudit("email_processed", fmt.Sprintf("%s from %s", msg.Subject, msg.From), ResultSuccess)
	return &Record{Name: recordName, Stage: StageNeedsAction, Meta: meta, Body: body}, nil
}

func (w *InboxWatcher) appendAudit(actionType, details, result string) {
	if err := w.audit.Append(actionType, InboxWatcherName, details, result); err != nil {
		log.Printf("%s: audit append failed: %v", InboxWatcherName, err)
	}
}

// idFragment shortens an opaque message id for use in a file name.
func idFragment(id string) string {
	id = sanitizeNameComponent(id)
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
