package vault

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

// ApprovalWatcherName is the actor name the approval watcher uses in
// audit entries and dedup state.
const ApprovalWatcherName = "approval_watcher"

// EffectOutcome describes how an approved record's effect concluded.
type EffectOutcome struct {
	// Status is the terminal record status (posted, succeeded,
	// skipped_empty_body).
	Status string
	// Action is the audit action_type for the outcome.
	Action string
	// Details is the human-readable audit line.
	Details string
}

// Effector executes the irreversible action of one approved record kind.
// Execute runs at most once per record; an error return means the action
// is considered failed and is never retried automatically.
type Effector interface {
	Kind() string
	Execute(ctx context.Context, rec *Record) (EffectOutcome, error)
}

// EffectorRegistry maps record kinds to their effectors. Kinds without a
// registered effector are left untouched in Approved, visible in the
// stage counts until an operator intervenes.
type EffectorRegistry struct {
	mu     sync.RWMutex
	byKind map[string]Effector
}

// NewEffectorRegistry creates an empty registry.
func NewEffectorRegistry() *EffectorRegistry {
	return &EffectorRegistry{byKind: map[string]Effector{}}
}

// Register adds an effector; registering the same kind again replaces it.
func (r *EffectorRegistry) Register(e Effector) {
	if e == nil || strings.TrimSpace(e.Kind()) == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKind[e.Kind()] = e
}

// Lookup returns the effector for a kind.
func (r *EffectorRegistry) Lookup(kind string) (Effector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byKind[kind]
	return e, ok
}

// Kinds returns the registered kinds, sorted.
func (r *EffectorRegistry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.byKind))
	for kind := range r.byKind {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// SocialPostEffector publishes approved social records through a
// Publisher.
type SocialPostEffector struct {
	Publisher Publisher
}

// Kind implements Effector.
func (e *SocialPostEffector) Kind() string {
	return KindSocialPost
}

// Execute publishes the record's post content. A record without content
// is skipped terminally rather than published empty.
func (e *SocialPostEffector) Execute(ctx context.Context, rec *Record) (EffectOutcome, error) {
	body := ExtractSection(rec.Body, "Post Content", "Content", "Post Body")
	if strings.TrimSpace(body) == "" {
		return EffectOutcome{
			Status:  StatusSkippedEmpty,
			Action:  "post_skipped",
			Details: fmt.Sprintf("%s has no post content", rec.Name),
		}, nil
	}
	if err := e.Publisher.Publish(ctx, Post{Title: rec.Meta.Subject, Body: body}); err != nil {
		return EffectOutcome{}, fmt.Errorf("publish post: %w", err)
	}
	return EffectOutcome{
		Status:  StatusPosted,
		Action:  "post_published",
		Details: summarize(body, 80),
	}, nil
}

// MailSendEffector sends approved outbound mail records through a
// MailSender.
type MailSendEffector struct {
	Sender MailSender
}

// Kind implements Effector.
func (e *MailSendEffector) Kind() string {
	return KindEmailSend
}

// Execute sends the record's mail. A missing recipient is a terminal
// failure; the human fixes the content and re-creates the request.
func (e *MailSendEffector) Execute(ctx context.Context, rec *Record) (EffectOutcome, error) {
	to := strings.TrimSpace(rec.Meta.To)
	if to == "" {
		return EffectOutcome{}, fmt.Errorf("%w: record %s has no recipient", ErrInvalidInput, rec.Name)
	}
	body := ExtractSection(rec.Body, "Email Body", "Content", "Body")
	if strings.TrimSpace(body) == "" {
		body = strings.TrimSpace(rec.Body)
	}
	mail := OutboundMail{To: to, CC: rec.Meta.CC, Subject: rec.Meta.Subject, Body: body}
	if err := e.Sender.Send(ctx, mail); err != nil {
		return EffectOutcome{}, fmt.Errorf("send mail: %w", err)
	}
	return EffectOutcome{
		Status:  StatusSucceeded,
		Action:  "email_sent",
		Details: fmt.Sprintf("%s to %s", rec.Meta.Subject, to),
	}, nil
}

// ApprovalWatcherOptions configures an ApprovalWatcher. Zero values
// select defaults.
type ApprovalWatcherOptions struct {
	// Store is the vault store. Required.
	Store *Store
	// Audit is the audit log. Required.
	Audit *AuditLog
	// Effectors maps record kinds to their effects. Required.
	Effectors *EffectorRegistry
	// Clock overrides the time source. Defaults to time.Now.
	Clock func() time.Time
}

// ApprovalWatcher is the execute side of the approval gate. Presence in
// Approved or Rejected is the detected event: the human move out of
// Pending_Approval is the authorization, and this watcher turns it into
// the terminal outcome.
type ApprovalWatcher struct {
	store     *Store
	audit     *AuditLog
	effectors *EffectorRegistry
	now       func() time.Time
}

// NewApprovalWatcher creates an approval watcher.
func NewApprovalWatcher(opts ApprovalWatcherOptions) (*ApprovalWatcher, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if opts.Audit == nil {
		return nil, fmt.Errorf("%w: audit log is required", ErrInvalidInput)
	}
	if opts.Effectors == nil {
		return nil, fmt.Errorf("%w: effector registry is required", ErrInvalidInput)
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &ApprovalWatcher{
		store:     opts.Store,
		audit:     opts.Audit,
		effectors: opts.Effectors,
		now:       now,
	}, nil
}

// Name implements Watcher.
func (w *ApprovalWatcher) Name() string {
	return ApprovalWatcherName
}

// Detect implements Watcher: records of effector-registered kinds
// sitting in Approved or Rejected.
func (w *ApprovalWatcher) Detect(ctx context.Context) ([]Event, error) {
	var events []Event
	for _, stage := range []Stage{StageApproved, StageRejected} {
		records, err := w.store.ListRecords(stage)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if _, ok := w.effectors.Lookup(rec.Meta.Type); !ok {
				continue
			}
			events = append(events, Event{Key: strings.ToLower(string(stage)) + "/" + rec.Name, Payload: rec})
		}
	}
	return events, nil
}

// Materialize implements Watcher: it resolves one approval outcome,
// execute-and-archive for Approved, archive-as-rejected for Rejected.
func (w *ApprovalWatcher) Materialize(ctx context.Context, ev Event) (*Record, error) {
	rec, ok := ev.Payload.(*Record)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected payload for %s", ErrInvalidInput, ev.Key)
	}
	switch rec.Stage {
	case StageApproved:
		return w.execute(ctx, rec)
	case StageRejected:
		archived, err := w.store.ArchiveRecord(rec.Name, StageRejected, StatusRejected)
		if err != nil {
			return nil, err
		}
		w.appendAudit("approval_rejected", fmt.Sprintf("%s archived as rejected", rec.Name), ResultSuccess)
		rec.Name, rec.Stage, rec.Meta.Status = archived, StageDone, StatusRejected
		return rec, nil
	default:
		return nil, fmt.Errorf("%w: record %s in unexpected stage %s", ErrInvalidInput, rec.Name, rec.Stage)
	}
}

// execute runs the effect for one approved record and archives it with
// its terminal status in the same pass. Once the effect has run, this
// method never returns an error: a failed archival is reported loudly
// but the record must still count as processed, otherwise a later cycle
// would execute the irreversible action a second time.
func (w *ApprovalWatcher) execute(ctx context.Context, rec *Record) (*Record, error) {
	eff, ok := w.effectors.Lookup(rec.Meta.Type)
	if !ok {
		return nil, fmt.Errorf("%w: no effector registered for kind %s", ErrInvalidInput, rec.Meta.Type)
	}

	outcome, execErr := eff.Execute(ctx, rec)
	status := outcome.Status
	if execErr != nil {
		status = StatusFailed
	}

	archived, archErr := w.store.ArchiveRecord(rec.Name, StageApproved, status)
	if archErr != nil {
		log.Printf("%s: archive %s as %s failed: %v", ApprovalWatcherName, rec.Name, status, archErr)
		w.appendAudit("approval_archive", fmt.Sprintf("archive %s as %s failed: %v", rec.Name, status, archErr), ResultError)
		archived = rec.Name
	}

	switch {
	case execErr != nil:
		w.appendAudit("approval_execute", fmt.Sprintf("%s failed: %v", rec.Name, execErr), ResultError)
	case status == StatusSkippedEmpty:
		w.appendAudit(outcome.Action, outcome.Details, ResultWarning)
	default:
		w.appendAudit(outcome.Action, outcome.Details, ResultSuccess)
	}

	rec.Name, rec.Stage, rec.Meta.Status = archived, StageDone, status
	return rec, nil
}

func (w *ApprovalWatcher) appendAudit(actionType, details, result string) {
	if err := w.audit.Append(actionType, ApprovalWatcherName, details, result); err != nil {
		log.Printf("%s: audit append failed: %v", ApprovalWatcherName, err)
	}
}

// ApprovalRequest is the input for creating a gated record.
type ApprovalRequest struct {
	// Kind is the gated record kind (email_send or linkedin_post).
	Kind string
	// Title becomes the record subject.
	Title string
	// To and CC apply to email_send requests.
	To string
	CC string
	// Body is the full outbound content, embedded verbatim so the human
	// reviews exactly what will leave the system.
	Body string
	// Source names the requesting actor. Defaults to "agent".
	Source string
}

// Gate is the write side of the approval workflow: it creates gated
// requests in Pending_Approval and performs the human approve/reject
// moves.
type Gate struct {
	store *Store
	audit *AuditLog
	now   func() time.Time
}

// NewGate creates a Gate. A nil clock defaults to time.Now.
func NewGate(store *Store, audit *AuditLog, clock func() time.Time) (*Gate, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if audit == nil {
		return nil, fmt.Errorf("%w: audit log is required", ErrInvalidInput)
	}
	if clock == nil {
		clock = time.Now
	}
	return &Gate{store: store, audit: audit, now: clock}, nil
}

// CreateRequest writes a gated record into Pending_Approval with the
// outbound content embedded and an expiry at the end of the creation
// day.
func (g *Gate) CreateRequest(req ApprovalRequest) (*Record, error) {
	prefix, err := prefixForKind(req.Kind)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Body) == "" && req.Kind == KindEmailSend {
		return nil, fmt.Errorf("%w: email_send request needs a body", ErrInvalidInput)
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = "agent"
	}

	ts := g.now()
	name := RecordFileName(prefix, NewRecordID(), ts)
	meta := Metadata{
		Type:     req.Kind,
		Action:   "approve_or_reject",
		Source:   source,
		Status:   StatusPending,
		Priority: PriorityHigh,
		Subject:  req.Title,
		To:       req.To,
		CC:       req.CC,
		Created:  ts.UTC().Format(time.RFC3339),
		Expires:  endOfDay(ts).Format(time.RFC3339),
	}

	var body string
	switch req.Kind {
	case KindSocialPost:
		body = fmt.Sprintf(`# LinkedIn post request: %s

Review the content below, then move this file to Approved to publish it
or to Rejected to discard it.

## Post Content

%s
`, req.Title, strings.TrimSpace(req.Body))
	case KindEmailSend:
		body = fmt.Sprintf(`# Email send request: %s

- To: %s

Review the content below, then move this file to Approved to send it or
to Rejected to discard it.

## Email Body

%s
`, req.Title, req.To, strings.TrimSpace(req.Body))
	}

	if err := g.store.WriteRecord(StagePendingApproval, name, meta, body); err != nil {
		return nil, err
	}
	g.append("approval_requested", source, fmt.Sprintf("%s: %s", req.Kind, req.Title), ResultSuccess)
	return &Record{Name: name, Stage: StagePendingApproval, Meta: meta, Body: body}, nil
}

// Approve performs the human move Pending_Approval -> Approved.
func (g *Gate) Approve(name string) error {
	if err := g.store.MoveRecord(name, StagePendingApproval, StageApproved); err != nil {
		return err
	}
	g.append("request_approved", "human", name, ResultSuccess)
	return nil
}

// Reject performs the human move Pending_Approval -> Rejected.
func (g *Gate) Reject(name string) error {
	if err := g.store.MoveRecord(name, StagePendingApproval, StageRejected); err != nil {
		return err
	}
	g.append("request_rejected", "human", name, ResultSuccess)
	return nil
}

func (g *Gate) append(actionType, actor, details, result string) {
	if err := g.audit.Append(actionType, actor, details, result); err != nil {
		log.Printf("approval gate: audit append failed: %v", err)
	}
}

func prefixForKind(kind string) (string, error) {
	switch kind {
	case KindEmailSend:
		return PrefixEmailSend, nil
	case KindSocialPost:
		return PrefixSocialPost, nil
	default:
		return "", fmt.Errorf("%w: kind %q cannot be gated", ErrInvalidInput, kind)
	}
}

func endOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, time.UTC)
}

// ExtractSection returns the text of the first body section whose "## "
// heading matches one of titles (case-insensitive), up to the next
// heading of the same level.
func ExtractSection(body string, titles ...string) string {
	want := make(map[string]bool, len(titles))
	for _, title := range titles {
		want[strings.ToLower(strings.TrimSpace(title))] = true
	}
	lines := strings.Split(body, "\n")
	start := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "## ") {
			continue
		}
		if start >= 0 {
			return strings.TrimSpace(strings.Join(lines[start:i], "\n"))
		}
		if want[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(trimmed, "## ")))] {
			start = i + 1
		}
	}
	if start < 0 {
		return ""
	}
	return strings.TrimSpace(strings.Join(lines[start:], "\n"))
}

func summarize(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
