package sender

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSender() *SMTPSender {
	s := NewSMTPSender("", "", slog.New(slog.DiscardHandler))
	s.now = func() time.Time {
		return time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	}
	return s
}

func TestComposeMessage(t *testing.T) {
	source, err := newTestSender().compose(Message{
		FromAddress: "kayak-club@example.org",
		FromName:    "Kayak Club",
		ToAddress:   "alice@example.org",
		Subject:     "Trip on Saturday",
		HTMLBody:    "<p>Meet at the <b>dock</b> at 9am</p>",
		Attachments: map[string][]byte{
			"map.pdf": []byte("pdf bytes"),
		},
	})
	require.NoError(t, err)

	mr, err := mail.CreateReader(bytes.NewReader(source))
	require.NoError(t, err)
	defer mr.Close()

	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Trip on Saturday", subject)

	from, err := mr.Header.AddressList("From")
	require.NoError(t, err)
	require.Len(t, from, 1)
	assert.Equal(t, "kayak-club@example.org", from[0].Address)
	assert.Equal(t, "Kayak Club", from[0].Name)

	var sawPlain, sawHTML, sawAttachment bool
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)

		content, err := io.ReadAll(part.Body)
		require.NoError(t, err)

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, _, err := header.ContentType()
			require.NoError(t, err)
			switch mediaType {
			case "text/plain":
				sawPlain = true
				// Derived from the HTML body, not empty.
				assert.Contains(t, string(content), "dock")
			case "text/html":
				sawHTML = true
				assert.Equal(t, "<p>Meet at the <b>dock</b> at 9am</p>", string(content))
			}
		case *mail.AttachmentHeader:
			sawAttachment = true
			filename, err := header.Filename()
			require.NoError(t, err)
			assert.Equal(t, "map.pdf", filename)
			assert.Equal(t, []byte("pdf bytes"), content)
		}
	}

	assert.True(t, sawPlain, "missing text/plain alternative")
	assert.True(t, sawHTML, "missing text/html part")
	assert.True(t, sawAttachment, "missing attachment part")
}

func TestSendWithoutRelayHost(t *testing.T) {
	err := newTestSender().Send(t.Context(), Message{ToAddress: "alice@example.org"})
	assert.Error(t, err)
}

func TestMimeTypeByFilename(t *testing.T) {
	assert.Equal(t, "application/pdf", MimeTypeByFilename("report.pdf"))
	assert.Equal(t, "application/octet-stream", MimeTypeByFilename("noext"))
}
