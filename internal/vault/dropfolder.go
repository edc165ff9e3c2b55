package vault

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DropFolderWatcherName is the actor name the drop-folder watcher uses in
// audit entries and dedup state.
const DropFolderWatcherName = "file_watcher"

const defaultDropQueueCapacity = 256

// DropFolderWatcherOptions configures a DropFolderWatcher. Zero values
// select defaults.
type DropFolderWatcherOptions struct {
	// Store is the vault store. Required.
	Store *Store
	// Audit is the audit log. Required.
	Audit *AuditLog
	// Clock overrides the time source. Defaults to time.Now.
	Clock func() time.Time
	// QueueCapacity bounds the pending-notification queue. Defaults to
	// 256.
	QueueCapacity int
}

// DropFolderWatcher is the continuous watcher over Drop_Folder. A
// notification goroutine feeds new file names into a bounded pending
// queue; Detect drains the queue, so a cycle costs O(new files) and
// never rescans the whole directory. One reconcile scan at startup
// catches files that arrived while the process was down.
type DropFolderWatcher struct {
	store *Store
	audit *AuditLog
	now   func() time.Time

	pending chan string
	wake    chan struct{}
}

// NewDropFolderWatcher creates a drop-folder watcher.
func NewDropFolderWatcher(opts DropFolderWatcherOptions) (*DropFolderWatcher, error) {
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
	capacity := opts.QueueCapacity
	if capacity <= 0 {
		capacity = defaultDropQueueCapacity
	}
	return &DropFolderWatcher{
		store:   opts.Store,
		audit:   opts.Audit,
		now:     now,
		pending: make(chan string, capacity),
		wake:    make(chan struct{}, 1),
	}, nil
}

// Name implements Watcher.
func (w *DropFolderWatcher) Name() string {
	return DropFolderWatcherName
}

// Run watches Drop_Folder until ctx is canceled, driving one cycle per
// burst of notifications. It is the supervised task for this watcher; an
// error return means the watcher crashed and should be restarted.
func (w *DropFolderWatcher) Run(ctx context.Context, runner *Runner) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create filesystem watcher: %w", err)
	}
	defer fsw.Close()

	dir := w.store.Dir(StageDropFolder)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	go w.forward(ctx, fsw)

	if err := w.Reconcile(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.wake:
			if err := runner.Cycle(ctx, w); err != nil {
				log.Printf("%s: cycle failed: %v", DropFolderWatcherName, err)
			}
		}
	}
}

// Reconcile enqueues every file already present in Drop_Folder. The
// dedup tracker weeds out the ones processed before the last shutdown.
func (w *DropFolderWatcher) Reconcile() error {
	names, err := w.store.ListStage(StageDropFolder)
	if err != nil {
		return fmt.Errorf("scan drop folder: %w", err)
	}
	for _, name := range names {
		w.enqueue(name)
	}
	return nil
}

// forward moves create notifications into the pending queue until the
// watcher's event channel closes or ctx is canceled.
func (w *DropFolderWatcher) forward(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Base(ev.Name)
			if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
				continue
			}
			w.enqueue(name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Printf("%s: notification error: %v", DropFolderWatcherName, err)
		case <-ctx.Done():
			return
		}
	}
}

func (w *DropFolderWatcher) enqueue(name string) {
	select {
	case w.pending <- name:
	default:
		// Queue full: the file stays in Drop_Folder and is picked up by
		// the reconcile scan after the next restart.
		log.Printf("%s: pending queue full, deferring %s", DropFolderWatcherName, name)
		return
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Detect implements Watcher by draining the pending queue. Entries whose
// file has vanished since notification are dropped.
func (w *DropFolderWatcher) Detect(ctx context.Context) ([]Event, error) {
	var events []Event
	for {
		select {
		case name := <-w.pending:
			fi, err := os.Stat(filepath.Join(w.store.Dir(StageDropFolder), name))
			if err != nil || fi.IsDir() {
				continue
			}
			events = append(events, Event{Key: name})
		default:
			return events, nil
		}
	}
}

// Materialize implements Watcher: it copies the dropped file into
// Needs_Action under a generated id and writes the sidecar task record
// describing it. The original stays in Drop_Folder; the dedup tracker
// keeps it from being processed twice.
func (w *DropFolderWatcher) Materialize(ctx context.Context, ev Event) (*Record, error) {
	srcPath := filepath.Join(w.store.Dir(StageDropFolder), ev.Key)
	fi, err := os.Stat(srcPath)
	if err != nil {
		return nil, fmt.Errorf("stat dropped file %s: %w", ev.Key, err)
	}

	id := NewRecordID()
	ts := w.now()
	category := CategoryForFile(ev.Key)
	size := HumanSize(fi.Size())
	stored := fmt.Sprintf("%s_%s_%s", PrefixFileDrop, id, sanitizeNameComponent(ev.Key))
	if err := w.store.CopyIn(srcPath, StageNeedsAction, stored); err != nil {
		return nil, err
	}

	recordName := RecordFileName(PrefixFileDrop, id, ts)
	meta := Metadata{
		Type:         KindFileDrop,
		Source:       "drop_folder",
		Status:       StatusPending,
		Priority:     PriorityMedium,
		OriginalName: ev.Key,
		StoredAs:     stored,
		FileType:     category,
		SizeBytes:    fi.Size(),
		Size:         size,
		Received:     ts.UTC().Format(time.RFC3339),
		Created:      ts.UTC().Format(time.RFC3339),
	}
	body := fmt.Sprintf(`# New file: %s

A new %s landed in the drop folder and needs review.

- Original name: %s
- Category: %s
- Size: %s
- Stored as: %s

## Suggested actions

- [ ] Review the file contents
- [ ] Decide the follow-up action
`, ev.Key, category, ev.Key, category, size, stored)

	if err := w.store.WriteRecord(StageNeedsAction, recordName, meta, body); err != nil {
		return nil, err
	}
	if err := w.audit.Append("file_processed", DropFolderWatcherName, fmt.Sprintf("%s (%s, %s)", ev.Key, category, size), ResultSuccess); err != nil {
		log.Printf("%s: audit append failed: %v", DropFolderWatcherName, err)
	}
	return &Record{Name: recordName, Stage: StageNeedsAction, Meta: meta, Body: body}, nil
}
