package sender

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"jaytaylor.com/html2text"
)

// Message is one outgoing redistributed mail for a single recipient.
type Message struct {
	FromAddress string
	FromName    string
	ToAddress   string
	Subject     string
	HTMLBody    string
	RelayHost   string
	Attachments map[string][]byte
}

// Transport delivers composed messages. Sending is fire-and-forget
// per recipient; callers log failures and move on.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender composes MIME messages and relays them through the
// configured outbound mail server.
type SMTPSender struct {
	username string
	password string
	logger   *slog.Logger
	now      func() time.Time
}

func NewSMTPSender(username, password string, logger *slog.Logger) *SMTPSender {
	return &SMTPSender{
		username: username,
		password: password,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if msg.RelayHost == "" {
		return fmt.Errorf("no relay host for message to %s", msg.ToAddress)
	}

	source, err := s.compose(msg)
	if err != nil {
		return fmt.Errorf("compose message: %w", err)
	}

	address := msg.RelayHost
	if !strings.Contains(address, ":") {
		address += ":25"
	}

	var auth sasl.Client
	if s.username != "" {
		auth = sasl.NewPlainClient("", s.username, s.password)
	}

	s.logger.DebugContext(ctx, "sending message",
		slog.String("to", msg.ToAddress),
		slog.String("relay", address),
	)

	if err := smtp.SendMail(address, auth, msg.FromAddress, []string{msg.ToAddress}, bytes.NewReader(source)); err != nil {
		return fmt.Errorf("send to %s via %s: %w", msg.ToAddress, address, err)
	}
	return nil
}

// compose renders the outgoing message: a multipart/alternative body
// with a text/plain part derived from the HTML, plus one attachment
// part per file.
func (s *SMTPSender) compose(msg Message) ([]byte, error) {
	var header mail.Header
	header.SetDate(s.now())
	header.SetAddressList("From", []*mail.Address{{Name: msg.FromName, Address: msg.FromAddress}})
	header.SetAddressList("To", []*mail.Address{{Address: msg.ToAddress}})
	header.SetSubject(msg.Subject)

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, header)
	if err != nil {
		return nil, fmt.Errorf("create writer: %w", err)
	}

	if err := s.writeBody(mw, msg.HTMLBody); err != nil {
		return nil, err
	}

	// Deterministic attachment order.
	names := make([]string, 0, len(msg.Attachments))
	for name := range msg.Attachments {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := writeAttachment(mw, name, msg.Attachments[name]); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *SMTPSender) writeBody(mw *mail.Writer, htmlBody string) error {
	iw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("create inline part: %w", err)
	}

	plain, err := html2text.FromString(htmlBody)
	if err != nil {
		s.logger.Warn("plain text conversion failed", slog.Any("error", err))
		plain = htmlBody
	}

	var plainHeader mail.InlineHeader
	plainHeader.Set("Content-Type", "text/plain; charset=utf-8")
	pw, err := iw.CreatePart(plainHeader)
	if err != nil {
		return fmt.Errorf("create text part: %w", err)
	}
	if _, err = io.WriteString(pw, plain); err != nil {
		return fmt.Errorf("write text part: %w", err)
	}
	if err = pw.Close(); err != nil {
		return fmt.Errorf("close text part: %w", err)
	}

	var htmlHeader mail.InlineHeader
	htmlHeader.Set("Content-Type", "text/html; charset=utf-8")
	hw, err := iw.CreatePart(htmlHeader)
	if err != nil {
		return fmt.Errorf("create html part: %w", err)
	}
	if _, err = io.WriteString(hw, htmlBody); err != nil {
		return fmt.Errorf("write html part: %w", err)
	}
	if err = hw.Close(); err != nil {
		return fmt.Errorf("close html part: %w", err)
	}

	return iw.Close()
}

func writeAttachment(mw *mail.Writer, name string, content []byte) error {
	var header mail.AttachmentHeader
	header.Set("Content-Type", MimeTypeByFilename(name))
	header.SetFilename(name)

	aw, err := mw.CreateAttachment(header)
	if err != nil {
		return fmt.Errorf("create attachment %q: %w", name, err)
	}
	if _, err = aw.Write(content); err != nil {
		return fmt.Errorf("write attachment %q: %w", name, err)
	}
	if err = aw.Close(); err != nil {
		return fmt.Errorf("close attachment %q: %w", name, err)
	}
	return nil
}

// MimeTypeByFilename resolves a MIME type from the filename extension.
func MimeTypeByFilename(name string) string {
	if mimeType := mime.TypeByExtension(filepath.Ext(name)); mimeType != "" {
		return mimeType
	}
	return "application/octet-stream"
}
