package mailbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// ImapDialer abstracts the TLS dial step so sessions can be faked in tests.
type ImapDialer interface {
	DialTLS(address string, options *imapclient.Options) (*imapclient.Client, error)
}

type ImapDialerFunc func(string, *imapclient.Options) (*imapclient.Client, error)

func (f ImapDialerFunc) DialTLS(address string, options *imapclient.Options) (*imapclient.Client, error) {
	return f(address, options)
}

type imapRemote struct {
	dialer ImapDialer
	logger *slog.Logger
}

// NewIMAPRemote creates a Remote that opens IMAP sessions against the
// shared mailbox.
func NewIMAPRemote(dialer ImapDialer, logger *slog.Logger) Remote {
	return &imapRemote{
		dialer: dialer,
		logger: logger,
	}
}

func (r *imapRemote) Login(ctx context.Context, creds Credentials) (Client, error) {
	switch strings.ToLower(creds.Protocol) {
	case "imap", "imaps":
	default:
		return nil, fmt.Errorf("unsupported mail protocol %q", creds.Protocol)
	}

	address := creds.Host
	if !strings.Contains(address, ":") {
		address += ":993"
	}

	c, err := r.dialer.DialTLS(address, &imapclient.Options{
		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	if err = c.Login(creds.Account, creds.Password).Wait(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("login as %s: %w", creds.Account, err)
	}

	selection, err := c.Select("INBOX", nil).Wait()
	if err != nil {
		_ = c.Logout().Wait()
		return nil, fmt.Errorf("select inbox: %w", err)
	}

	return &imapSession{client: c, logger: r.logger, numMessages: selection.NumMessages}, nil
}

type imapSession struct {
	client      *imapclient.Client
	logger      *slog.Logger
	numMessages uint32
}

// FetchGrouped retrieves every inbox message with its full source and
// groups the result by subject token.
func (s *imapSession) FetchGrouped(ctx context.Context) (*Batch, error) {
	messages, err := s.fetchAll(ctx)
	if err != nil {
		return nil, err
	}
	return GroupMessages(messages), nil
}

func (s *imapSession) fetchAll(ctx context.Context) (_ []*RawMessage, err error) {
	// An empty sequence set is rejected by strict servers; with
	// nothing selected there is nothing to fetch.
	if s.numMessages == 0 {
		return nil, nil
	}

	// Whole inbox: grouping and junk diversion happen client-side.
	seqSet := imap.SeqSet{imap.SeqRange{Start: 1}}

	fetchCmd := s.client.Fetch(seqSet, fetchOptions)
	defer func() {
		err = errors.Join(err, fetchCmd.Close())
	}()

	var messages []*RawMessage
	for {
		if err := ctx.Err(); err != nil {
			return messages, err
		}

		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		raw, err := collectMessage(msg)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping unreadable message", slog.Any("error", err))
			continue
		}
		messages = append(messages, raw)
	}

	return messages, err
}

// collectMessage drains one fetch response into a RawMessage, copying
// the message source fully into memory.
func collectMessage(msg *imapclient.FetchMessageData) (*RawMessage, error) {
	raw := &RawMessage{}

	for {
		item := msg.Next()
		if item == nil {
			break
		}

		switch data := item.(type) {
		case imapclient.FetchItemDataUID:
			raw.UID = data.UID
		case imapclient.FetchItemDataInternalDate:
			raw.Received = data.Time
		case imapclient.FetchItemDataBodySection:
			body, err := io.ReadAll(data.Literal)
			if err != nil {
				return nil, fmt.Errorf("read message source: %w", err)
			}
			raw.Body = body
		}
	}

	if raw.UID == 0 {
		return nil, errors.New("fetch response carried no UID")
	}
	if len(raw.Body) == 0 {
		return nil, errors.New("fetch response carried no body section")
	}

	fillEnvelopeFields(raw)
	return raw, nil
}

// fillEnvelopeFields reads subject, sender and a received-time
// fallback out of the message header.
func fillEnvelopeFields(raw *RawMessage) {
	mr, err := mail.CreateReader(bytes.NewReader(raw.Body))
	if err != nil {
		return
	}
	defer func() {
		_ = mr.Close()
	}()

	raw.Subject, _ = mr.Header.Text("Subject")

	if addrs, err := mr.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		raw.From = addrs[0].Address
	}

	if raw.Received.IsZero() {
		if date, err := mr.Header.Date(); err == nil {
			raw.Received = date
		} else {
			raw.Received = time.Now()
		}
	}
}

// Move relocates the message out of the inbox. Exactly-once movement
// of processed messages depends on this; a missing destination folder
// is created on first use.
func (s *imapSession) Move(ctx context.Context, msg *RawMessage, folder string) error {
	if folder == "" {
		return errors.New("destination folder is empty")
	}

	uids := imap.UIDSetNum(msg.UID)
	if _, err := s.client.Move(uids, folder).Wait(); err == nil {
		return nil
	}

	if err := s.client.Create(folder, nil).Wait(); err != nil {
		s.logger.DebugContext(ctx, "folder creation failed", slog.String("folder", folder), slog.Any("error", err))
	}
	if _, err := s.client.Move(uids, folder).Wait(); err != nil {
		return fmt.Errorf("move message %d to %q: %w", msg.UID, folder, err)
	}
	return nil
}

func (s *imapSession) Logout() error {
	return s.client.Logout().Wait()
}

var fetchOptions = &imap.FetchOptions{
	Envelope:     true,
	Flags:        true,
	InternalDate: true,
	RFC822Size:   true,
	UID:          true,
	BodySection:  []*imap.FetchItemBodySection{{Peek: true}},
}
