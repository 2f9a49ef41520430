package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no routing target exists for a key.
var ErrNotFound = errors.New("routing target not found")

// Member references a person known to the user directory.
type Member struct {
	Name  string `db:"name"`
	Email string `db:"email"`
}

// RoutingTarget is a mailing list: a named distribution group with
// subscribers, an optional sender allow-list, and an outgoing sender
// identity. An empty Senders set means the list is open and anybody
// may post.
type RoutingTarget struct {
	Key           string
	Name          string
	SenderAddress string
	SenderName    string
	Subscribers   []Member
	Senders       []Member
}

// MessageRecord is an archived redistributed message.
type MessageRecord struct {
	ID          string
	ListKey     string
	Subject     string
	Sender      string
	Body        string
	Received    time.Time
	Attachments []AttachmentRecord
}

// AttachmentRecord is a persisted child file of an archived message.
type AttachmentRecord struct {
	ID       string
	Filename string
	MimeType string
	Content  []byte
}

// ListDirectory resolves routing targets by grouping key.
type ListDirectory interface {
	FindByKey(ctx context.Context, key string) (*RoutingTarget, error)
}

// UserDirectory maps members to their primary email addresses.
// Duplicates are removed by address string, insertion order preserved.
type UserDirectory interface {
	PrimaryEmails(ctx context.Context, members []Member) ([]string, error)
}

// Archive persists redistributed messages and their attachments,
// appending them to the owning list's message archive.
type Archive interface {
	StoreMessage(ctx context.Context, record *MessageRecord) error
}

// DedupEmails removes duplicate addresses preserving first-seen
// order. Comparison is by exact string, not case-normalized.
func DedupEmails(members []Member) []string {
	seen := make(map[string]struct{}, len(members))
	emails := make([]string, 0, len(members))

	for _, member := range members {
		if member.Email == "" {
			continue
		}
		if _, ok := seen[member.Email]; ok {
			continue
		}
		seen[member.Email] = struct{}{}
		emails = append(emails, member.Email)
	}

	return emails
}
