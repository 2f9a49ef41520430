package parser

import (
	"bytes"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"listbridge/internal/app/mailbox"
)

// Headers distinguishing machine-generated mail.
const (
	headerAutoSubmitted = "Auto-Submitted"
	headerPrecedence    = "Precedence"
)

const autoReplyToken = "[autoreply]"

// Validator decides whether a message is worth decoding: not
// auto-generated, not an auto-reply, not a delivery report, and
// carrying readable content.
type Validator struct {
	logger *slog.Logger
}

func NewValidator(logger *slog.Logger) *Validator {
	return &Validator{logger: logger}
}

// Valid never fails: any inability to read a header or the content
// counts as "unknown" rather than an error.
func (v *Validator) Valid(msg *mailbox.RawMessage) bool {
	entity, err := readEntity(bytes.NewReader(msg.Body))
	if err != nil {
		v.logger.Warn("message is unreadable, marking it invalid", slog.Any("error", err))
		return false
	}

	hdr := mail.Header{Header: entity.Header}
	subject, _ := hdr.Subject()

	// List software sets both Auto-Submitted and Precedence: bulk;
	// only reject when bulk precedence is absent.
	if hasHeaderValue(entity.Header, headerAutoSubmitted, "auto-generated") &&
		!hasHeaderValue(entity.Header, headerPrecedence, "bulk") {
		v.logger.Warn("message is auto generated, skipping it", slog.String("subject", subject))
		return false
	}

	if strings.Contains(strings.ToLower(subject), autoReplyToken) {
		v.logger.Warn("message is a result of auto reply, skipping it", slog.String("subject", subject))
		return false
	}

	if mediaType, _, err := entity.Header.ContentType(); err == nil && mediaType == "multipart/report" {
		v.logger.Warn("message is a report, skipping it", slog.String("subject", subject))
		return false
	}

	if !entity.Header.Has("Subject") {
		if _, err := io.Copy(io.Discard, entity.Body); err != nil {
			v.logger.Warn("message has no subject and unreadable content, skipping it", slog.Any("error", err))
			return false
		}
	}

	return true
}

func hasHeaderValue(h message.Header, key, value string) bool {
	fields := h.FieldsByKey(key)
	for fields.Next() {
		if fields.Value() == value {
			return true
		}
	}
	return false
}
