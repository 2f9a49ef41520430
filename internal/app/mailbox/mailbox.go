package mailbox

import (
	"context"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
)

// GroupKind classifies a message group before distribution.
type GroupKind int

const (
	// GroupOther marks traffic that matched no known routing pattern.
	GroupOther GroupKind = iota
	// GroupMailingList marks traffic addressed to a mailing list via
	// a bracketed subject token.
	GroupMailingList
)

// RawMessage is a mailbox-resident message. Body holds the full RFC822
// source, so validation and decoding stay pure functions of content;
// the message itself is owned by the mailbox until moved.
type RawMessage struct {
	UID      imap.UID
	Subject  string
	From     string
	Received time.Time
	Body     []byte
}

// Group is a set of messages sharing one grouping key. Identifier
// keeps the subject token exactly as it appeared, for literal
// stripping on redistribution.
type Group struct {
	Key        string
	Identifier string
	Kind       GroupKind
	Messages   []*RawMessage
}

// Batch is the grouped result of one mailbox fetch.
type Batch struct {
	Groups map[string]*Group
}

func (b *Batch) Empty() bool {
	return b == nil || len(b.Groups) == 0
}

// Credentials holds the account settings read per poll cycle.
type Credentials struct {
	Host     string
	Account  string
	Password string
	Protocol string
}

// Remote opens authenticated mailbox sessions.
type Remote interface {
	Login(ctx context.Context, creds Credentials) (Client, error)
}

// Client is a single-owner mailbox session. It is opened and closed
// within one poll cycle and never shared across cycles.
type Client interface {
	FetchGrouped(ctx context.Context) (*Batch, error)
	Move(ctx context.Context, msg *RawMessage, folder string) error
	Logout() error
}

// ListToken extracts the first bracketed token from a subject line,
// e.g. "[Kayak Club] Trip on Saturday" yields "[Kayak Club]". The
// second result is the canonicalized grouping key.
func ListToken(subject string) (identifier, key string, ok bool) {
	start := strings.Index(subject, "[")
	if start < 0 {
		return "", "", false
	}
	end := strings.Index(subject[start:], "]")
	if end < 0 {
		return "", "", false
	}
	identifier = subject[start : start+end+1]

	key = CanonicalKey(identifier[1 : len(identifier)-1])
	if key == "" {
		return "", "", false
	}
	return identifier, key, true
}

// CanonicalKey lowercases a list name and collapses whitespace runs to
// single dashes, matching the keys routing targets are stored under.
func CanonicalKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}

// GroupMessages builds a batch from fetched messages, keyed by subject
// token. Messages without a token are collected under an empty key as
// non-list traffic.
func GroupMessages(messages []*RawMessage) *Batch {
	batch := &Batch{Groups: make(map[string]*Group)}

	for _, msg := range messages {
		identifier, key, ok := ListToken(msg.Subject)
		kind := GroupMailingList
		if !ok {
			identifier, key, kind = "", "", GroupOther
		}

		group, exists := batch.Groups[key]
		if !exists {
			group = &Group{Key: key, Identifier: identifier, Kind: kind}
			batch.Groups[key] = group
		}
		group.Messages = append(group.Messages, msg)
	}

	return batch
}
