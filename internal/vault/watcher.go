package vault

import (
	"context"
	"fmt"
	"log"
)

// Event is one detected external occurrence. Key is the natural
// deduplication key, stable across repeated detections of the same
// occurrence; Payload is watcher-defined and only lives until the event
// is materialized.
type Event struct {
	Key     string
	Payload any
}

// Watcher detects external events and materializes them into durable
// records. Detect must be cheap enough to call on every poll and must
// never mutate external state; Materialize persists exactly one record
// per event and writes that record's audit entry. Neither is called
// concurrently for the same watcher.
type Watcher interface {
	Name() string
	Detect(ctx context.Context) ([]Event, error)
	Materialize(ctx context.Context, ev Event) (*Record, error)
}

// Runner drives watcher cycles against the shared deduplication tracker
// and audit log.
//
// A cycle is: detect, filter already-processed keys, materialize the
// remaining events strictly in detection order, mark each materialized
// key, flush the tracker once per batch. Failures follow a fixed
// taxonomy: a detect error yields a warning entry and an empty batch
// (the next cycle retries); a materialize error yields an error entry
// and leaves the key unmarked (that event retries, the rest of the
// batch continues); only a tracker flush failure is returned to the
// caller.
type Runner struct {
	Tracker *Tracker
	Audit   *AuditLog
}

// Cycle runs one detect/materialize pass for w.
func (r *Runner) Cycle(ctx context.Context, w Watcher) error {
	events, err := w.Detect(ctx)
	if err != nil {
		log.Printf("watcher %s: detect failed: %v", w.Name(), err)
		r.append("watcher_detect", w.Name(), fmt.Sprintf("detect failed: %v", err), ResultWarning)
		return nil
	}

	marked := 0
	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}
		if r.Tracker.Seen(w.Name(), ev.Key) {
			continue
		}
		if _, err := w.Materialize(ctx, ev); err != nil {
			log.Printf("watcher %s: materialize %s failed: %v", w.Name(), ev.Key, err)
			r.append("watcher_materialize", w.Name(), fmt.Sprintf("materialize %s failed: %v", ev.Key, err), ResultError)
			continue
		}
		r.Tracker.Mark(w.Name(), ev.Key)
		marked++
	}

	if marked > 0 {
		if err := r.Tracker.Flush(); err != nil {
			log.Printf("watcher %s: state flush failed: %v", w.Name(), err)
			r.append("watcher_state", w.Name(), fmt.Sprintf("state flush failed: %v", err), ResultError)
			return err
		}
	}
	return nil
}

func (r *Runner) append(actionType, actor, details, result string) {
	if r.Audit == nil {
		return
	}
	if err := r.Audit.Append(actionType, actor, details, result); err != nil {
		log.Printf("watcher %s: audit append failed: %v", actor, err)
	}
}
