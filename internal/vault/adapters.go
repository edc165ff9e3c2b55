package vault

import (
	"context"
	"time"
)

// MailMessage is one inbox message as seen through a MailSource.
type MailMessage struct {
	ID       string    `json:"id"`
	ThreadID string    `json:"thread_id,omitempty"`
	From     string    `json:"from"`
	To       string    `json:"to,omitempty"`
	Subject  string    `json:"subject"`
	Date     time.Time `json:"date"`
	Snippet  string    `json:"snippet,omitempty"`
}

// MailSource exposes the unread important slice of an inbox. Marking a
// message read is the source-side idempotency flag the inbox watcher
// relies on.
type MailSource interface {
	// ListUnreadImportant returns at most max unread important messages,
	// oldest first.
	ListUnreadImportant(ctx context.Context, max int) ([]MailMessage, error)
	// MarkRead flips the read flag on one message.
	MarkRead(ctx context.Context, id string) error
}

// OutboundMail is a message to send through a MailSender.
type OutboundMail struct {
	To      string `json:"to"`
	CC      string `json:"cc,omitempty"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// MailSender executes an outbound send. Sends are irreversible and only
// ever reached through the approval gate.
type MailSender interface {
	Send(ctx context.Context, mail OutboundMail) error
}

// Draft is a saved-but-unsent mail draft.
type Draft struct {
	ID      string    `json:"id,omitempty"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Created time.Time `json:"created,omitempty"`
}

// DraftStore creates and lists mail drafts. Draft creation is reversible
// on the provider side, so it bypasses the approval gate.
type DraftStore interface {
	CreateDraft(ctx context.Context, draft Draft) (Draft, error)
	ListDrafts(ctx context.Context, max int) ([]Draft, error)
}

// Post is outbound social content.
type Post struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
}

// Publisher publishes a post to a social destination. Publishing is
// irreversible and only ever reached through the approval gate.
type Publisher interface {
	Publish(ctx context.Context, post Post) error
}
