package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "listbridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteListRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	list := &RoutingTarget{
		Key:           "kayak-club",
		Name:          "Kayak Club",
		SenderAddress: "kayak-club@example.org",
		SenderName:    "Kayak Club",
		Subscribers: []Member{
			{Name: "Alice", Email: "alice@example.org"},
			{Name: "Bob", Email: "bob@example.org"},
		},
		Senders: []Member{
			{Name: "Alice", Email: "alice@example.org"},
		},
	}
	require.NoError(t, s.UpsertList(ctx, list))

	found, err := s.FindByKey(ctx, "kayak-club")
	require.NoError(t, err)
	assert.Equal(t, list.Name, found.Name)
	assert.Equal(t, list.SenderAddress, found.SenderAddress)
	assert.Equal(t, list.Subscribers, found.Subscribers)
	assert.Equal(t, list.Senders, found.Senders)

	_, err = s.FindByKey(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteUpsertReplacesMembers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	list := &RoutingTarget{
		Key:           "chess",
		Name:          "Chess",
		SenderAddress: "chess@example.org",
		Subscribers:   []Member{{Email: "old@example.org"}},
	}
	require.NoError(t, s.UpsertList(ctx, list))

	list.Subscribers = []Member{{Email: "new@example.org"}}
	require.NoError(t, s.UpsertList(ctx, list))

	found, err := s.FindByKey(ctx, "chess")
	require.NoError(t, err)
	assert.Equal(t, []Member{{Email: "new@example.org"}}, found.Subscribers)
}

func TestSQLiteStoreMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record := &MessageRecord{
		ListKey:  "kayak-club",
		Subject:  "Trip",
		Sender:   "kayak-club@example.org",
		Body:     "<p>Saturday 9am</p>",
		Received: time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC),
		Attachments: []AttachmentRecord{
			{Filename: "map.pdf", MimeType: "application/pdf", Content: []byte("pdf bytes")},
		},
	}
	require.NoError(t, s.StoreMessage(ctx, record))
	require.NotEmpty(t, record.ID)

	found, err := s.Message(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.Subject, found.Subject)
	assert.Equal(t, record.Body, found.Body)
	require.Len(t, found.Attachments, 1)
	assert.Equal(t, "map.pdf", found.Attachments[0].Filename)
	assert.Equal(t, []byte("pdf bytes"), found.Attachments[0].Content)
}

func TestDedupEmails(t *testing.T) {
	emails := DedupEmails([]Member{
		{Email: "a@example.org"},
		{Email: "b@example.org"},
		{Email: "a@example.org"},
		{Email: ""},
		{Email: "B@example.org"}, // not case-normalized on purpose
	})

	assert.Equal(t, []string{"a@example.org", "b@example.org", "B@example.org"}, emails)
}
