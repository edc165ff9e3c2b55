package vault

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Audit entry results.
const (
	ResultSuccess = "success"
	ResultWarning = "warning"
	ResultError   = "error"
)

const auditDayLayout = "2006-01-02"

// Entry is one audit log line. Every externally visible action the system
// takes produces exactly one entry.
type Entry struct {
	Timestamp  string `json:"timestamp"`
	ActionType string `json:"action_type"`
	Actor      string `json:"actor"`
	Details    string `json:"details"`
	Result     string `json:"result"`
}

// AuditLogOptions configures an AuditLog. Zero values select defaults.
type AuditLogOptions struct {
	// Dir is the log directory. Required.
	Dir string
	// Clock overrides the time source. Defaults to time.Now.
	Clock func() time.Time
}

// AuditLog is an append-only JSON-lines log, one file per UTC day.
// Append order within a day is causal order. Appends are serialized
// in-process; the file is opened in append mode so external readers
// always observe whole lines.
type AuditLog struct {
	dir string
	now func() time.Time

	mu sync.Mutex

	subMu   sync.Mutex
	subs    map[int]chan Entry
	nextSub int
}

// NewAuditLog creates an AuditLog writing under dir with default options.
func NewAuditLog(dir string) (*AuditLog, error) {
	return NewAuditLogWithOptions(AuditLogOptions{Dir: dir})
}

// NewAuditLogWithOptions creates an AuditLog from explicit options.
func NewAuditLogWithOptions(opts AuditLogOptions) (*AuditLog, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, fmt.Errorf("%w: audit log dir is required", ErrInvalidInput)
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &AuditLog{dir: opts.Dir, now: now}, nil
}

// Append writes one entry to the current UTC day's file and fans it out
// to live subscribers.
func (a *AuditLog) Append(actionType, actor, details, result string) error {
	entry := Entry{
		Timestamp:  a.now().UTC().Format(time.RFC3339),
		ActionType: actionType,
		Actor:      actor,
		Details:    details,
		Result:     result,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}

	a.mu.Lock()
	err = a.appendLine(line)
	a.mu.Unlock()
	if err != nil {
		return err
	}

	a.notify(entry)
	return nil
}

func (a *AuditLog) appendLine(line []byte) error {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	path := a.dayPath(a.now())
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log %s: %w", path, err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("append audit entry: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close audit log %s: %w", path, err)
	}
	return nil
}

// Tail returns the last n entries of the current UTC day in chronological
// order. A day with no log file yields an empty slice. Lines that fail to
// decode are skipped; a torn final line must not hide the valid ones.
func (a *AuditLog) Tail(n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	data, err := os.ReadFile(a.dayPath(a.now()))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	var entries []Entry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

// Subscribe registers a live feed of appended entries. The returned cancel
// function must be called to release the subscription. A subscriber that
// falls behind its buffer misses entries rather than blocking appends.
func (a *AuditLog) Subscribe(buffer int) (<-chan Entry, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Entry, buffer)

	a.subMu.Lock()
	if a.subs == nil {
		a.subs = make(map[int]chan Entry)
	}
	id := a.nextSub
	a.nextSub++
	a.subs[id] = ch
	a.subMu.Unlock()

	cancel := func() {
		a.subMu.Lock()
		if sub, ok := a.subs[id]; ok {
			delete(a.subs, id)
			close(sub)
		}
		a.subMu.Unlock()
	}
	return ch, cancel
}

func (a *AuditLog) notify(entry Entry) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	for _, ch := range a.subs {
		select {
		case ch <- entry:
		default:
		}
	}
}

func (a *AuditLog) dayPath(t time.Time) string {
	return filepath.Join(a.dir, t.UTC().Format(auditDayLayout)+".json")
}
