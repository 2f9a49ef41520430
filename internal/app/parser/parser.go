package parser

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"mime"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"listbridge/internal/app/mailbox"
)

// ErrUnsupportedContent is returned when no decoder branch matches the
// message's declared content type. The caller must still move the
// message out of the inbox.
var ErrUnsupportedContent = errors.New("no content decoder for media type")

// FallbackAttachmentName is used when an attachment carries no
// resolvable filename.
const FallbackAttachmentName = "UnknownFile"

// DecodedMessage is the canonical body/attachment representation of
// one mail message. Body is HTML-safe display text; attachment keys
// are decoded filenames, deduplicated by name.
type DecodedMessage struct {
	Subject     string
	Body        string
	FromAddress string
	SenderName  string
	Attachments map[string][]byte
}

type decodeFunc func(*message.Entity) (string, map[string][]byte, error)

// Decoder normalizes arbitrarily nested MIME structures into one body
// string plus a named attachment set. Decoding is a pure function of
// the message content: no I/O beyond in-memory stream copies.
type Decoder struct {
	logger   *slog.Logger
	dispatch map[string]decodeFunc
}

func NewDecoder(logger *slog.Logger) *Decoder {
	d := &Decoder{logger: logger}
	d.dispatch = map[string]decodeFunc{
		"text/plain":            d.decodePlain,
		"text/html":             d.decodeHTML,
		"multipart/mixed":       d.decodeMixed,
		"multipart/alternative": d.decodeAlternative,
		"multipart/related":     d.decodeRelatedEntry,
		"message/rfc822":        d.decodeNested,
		"multipart/signed":      d.decodeSigned,
		"multipart/report":      d.decodeMixed,
	}
	return d
}

// Decode turns a raw message into its decoded form. It returns
// ErrUnsupportedContent when the message's content type has no
// decoder branch.
func (d *Decoder) Decode(msg *mailbox.RawMessage) (*DecodedMessage, error) {
	entity, err := readEntity(bytes.NewReader(msg.Body))
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}

	hdr := mail.Header{Header: entity.Header}
	subject, _ := hdr.Subject()
	fromAddress, senderName := fromHeader(hdr)

	body, attachments, err := d.decodeEntity(entity)
	if err != nil {
		return nil, err
	}
	if attachments == nil {
		attachments = make(map[string][]byte)
	}

	return &DecodedMessage{
		Subject:     subject,
		Body:        body,
		FromAddress: fromAddress,
		SenderName:  senderName,
		Attachments: attachments,
	}, nil
}

// FromAddress extracts the first structured From address of a
// message. Both results are empty when no structured address exists.
func FromAddress(msg *mailbox.RawMessage) (address, name string) {
	entity, err := readEntity(bytes.NewReader(msg.Body))
	if err != nil {
		return "", ""
	}
	return fromHeader(mail.Header{Header: entity.Header})
}

func fromHeader(hdr mail.Header) (address, name string) {
	addrs, err := hdr.AddressList("From")
	if err != nil || len(addrs) == 0 {
		return "", ""
	}
	return addrs[0].Address, addrs[0].Name
}

func (d *Decoder) decodeEntity(e *message.Entity) (string, map[string][]byte, error) {
	mediaType, _, err := e.Header.ContentType()
	if err != nil {
		return "", nil, fmt.Errorf("%w: unparseable content type", ErrUnsupportedContent)
	}

	decode, ok := d.dispatch[mediaType]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedContent, mediaType)
	}
	return decode(e)
}

func (d *Decoder) decodePlain(e *message.Entity) (string, map[string][]byte, error) {
	content, err := io.ReadAll(e.Body)
	if err != nil {
		return "", nil, fmt.Errorf("read text part: %w", err)
	}
	return escapePlainText(string(content)), nil, nil
}

// HTML bodies pass through verbatim: they are assumed to already be
// safe for display.
func (d *Decoder) decodeHTML(e *message.Entity) (string, map[string][]byte, error) {
	content, err := io.ReadAll(e.Body)
	if err != nil {
		return "", nil, fmt.Errorf("read html part: %w", err)
	}
	return string(content), nil, nil
}

// decodeMixed walks a multipart/mixed container: parts with an
// attachment or inline disposition become attachments, textual parts
// accumulate into the body, and nested containers are merged
// recursively.
func (d *Decoder) decodeMixed(e *message.Entity) (string, map[string][]byte, error) {
	mr := e.MultipartReader()
	if mr == nil {
		return "", nil, errors.New("multipart container without parts")
	}

	var body strings.Builder
	attachments := make(map[string][]byte)

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return body.String(), attachments, fmt.Errorf("read mixed part: %w", err)
		}

		mediaType, _, _ := part.Header.ContentType()
		disposition, _, _ := part.Header.ContentDisposition()

		attached := disposition == "attachment" || disposition == "inline"
		if attached && mediaType != "message/rfc822" {
			content, err := io.ReadAll(part.Body)
			if err != nil {
				return body.String(), attachments, fmt.Errorf("copy attachment: %w", err)
			}
			attachments[d.attachmentName(part.Header)] = content
			continue
		}

		switch mediaType {
		case "text/html":
			content, err := io.ReadAll(part.Body)
			if err != nil {
				return body.String(), attachments, fmt.Errorf("read html part: %w", err)
			}
			body.Write(content)

		case "text/plain":
			content, err := io.ReadAll(part.Body)
			if err != nil {
				return body.String(), attachments, fmt.Errorf("read text part: %w", err)
			}
			body.WriteString(escapePlainText(string(content)))

		case "multipart/alternative":
			text, nested, err := d.decodeAlternative(part)
			if err != nil {
				return body.String(), attachments, err
			}
			body.WriteString(text)
			mergeAttachments(attachments, nested)

		case "multipart/related":
			text, err := d.decodeRelated(part)
			if err != nil {
				return body.String(), attachments, err
			}
			body.WriteString(text)

		case "message/rfc822":
			text, nested, err := d.decodeNested(part)
			if errors.Is(err, ErrUnsupportedContent) {
				d.logger.Warn("embedded message has unsupported content", slog.Any("error", err))
				continue
			}
			if err != nil {
				return body.String(), attachments, err
			}
			body.WriteString(text)
			mergeAttachments(attachments, nested)

		default:
			// Undisposed binary or unknown containers contribute nothing.
		}
	}

	return body.String(), attachments, nil
}

// decodeAlternative concatenates the decoded text of HTML, plain-text
// and nested mixed parts in order of encounter. Alternative selection
// is best-effort enrichment, not a strict pick-one.
func (d *Decoder) decodeAlternative(e *message.Entity) (string, map[string][]byte, error) {
	mr := e.MultipartReader()
	if mr == nil {
		return "", nil, errors.New("multipart container without parts")
	}

	var body strings.Builder
	attachments := make(map[string][]byte)

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return body.String(), attachments, fmt.Errorf("read alternative part: %w", err)
		}

		mediaType, _, _ := part.Header.ContentType()
		switch mediaType {
		case "text/html":
			content, err := io.ReadAll(part.Body)
			if err != nil {
				return body.String(), attachments, fmt.Errorf("read html part: %w", err)
			}
			body.Write(content)

		case "text/plain":
			content, err := io.ReadAll(part.Body)
			if err != nil {
				return body.String(), attachments, fmt.Errorf("read text part: %w", err)
			}
			body.WriteString(escapePlainText(string(content)))

		case "multipart/mixed":
			text, nested, err := d.decodeMixed(part)
			if err != nil {
				return body.String(), attachments, err
			}
			body.WriteString(text)
			mergeAttachments(attachments, nested)
		}
	}

	return body.String(), attachments, nil
}

func (d *Decoder) decodeRelatedEntry(e *message.Entity) (string, map[string][]byte, error) {
	body, err := d.decodeRelated(e)
	return body, nil, err
}

// decodeRelated searches depth-first for the first HTML part and
// returns it immediately. When no HTML part exists at this level, it
// recurses into nested multipart children and concatenates whatever
// text is found.
func (d *Decoder) decodeRelated(e *message.Entity) (string, error) {
	mr := e.MultipartReader()
	if mr == nil {
		return "", errors.New("multipart container without parts")
	}

	var all strings.Builder

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return all.String(), fmt.Errorf("read related part: %w", err)
		}

		mediaType, _, _ := part.Header.ContentType()
		switch {
		case mediaType == "text/html":
			content, err := io.ReadAll(part.Body)
			if err != nil {
				return all.String(), fmt.Errorf("read html part: %w", err)
			}
			return string(content), nil

		case strings.HasPrefix(mediaType, "multipart/"):
			text, err := d.decodeRelated(part)
			if err != nil {
				return all.String(), err
			}
			all.WriteString(text)

		default:
			d.logger.Warn("unhandled content in related container", slog.String("media_type", mediaType))
		}
	}

	return all.String(), nil
}

// decodeNested unwraps an embedded message/rfc822 part and recurses
// with the same dispatch table.
func (d *Decoder) decodeNested(e *message.Entity) (string, map[string][]byte, error) {
	inner, err := readEntity(e.Body)
	if err != nil {
		return "", nil, fmt.Errorf("read embedded message: %w", err)
	}
	return d.decodeEntity(inner)
}

// decodeSigned treats signed containers as mixed. Signature
// verification is out of scope, so parsing may be incomplete.
func (d *Decoder) decodeSigned(e *message.Entity) (string, map[string][]byte, error) {
	d.logger.Warn("message is signed, parsing may be incorrect")
	return d.decodeMixed(e)
}

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// attachmentName resolves the attachment filename: Content-Disposition
// filename parameter first, then the Content-Type name parameter, then
// the non-standard name*= continuation form some clients emit, and
// finally a fixed fallback.
func (d *Decoder) attachmentName(h message.Header) string {
	if _, params, err := h.ContentDisposition(); err == nil {
		if name := params["filename"]; name != "" {
			return decodeEncodedWord(name)
		}
	}

	if _, params, err := h.ContentType(); err == nil {
		if name := params["name"]; name != "" {
			return decodeEncodedWord(name)
		}
	}

	// Broken name*= continuations are not exposed as parameters; fish
	// the value out of the raw field and decode what we can.
	if raw := h.Get("Content-Type"); strings.Contains(raw, "name*=") {
		name := raw[strings.Index(raw, "name*=")+len("name*="):]
		if i := strings.IndexByte(name, ';'); i >= 0 {
			name = name[:i]
		}
		if name = strings.Trim(name, `" `); name != "" {
			return decodeEncodedWord(name)
		}
	}

	return FallbackAttachmentName
}

func decodeEncodedWord(name string) string {
	decoded, err := wordDecoder.DecodeHeader(name)
	if err != nil {
		return name
	}
	return decoded
}

// escapePlainText HTML-escapes special characters and turns newlines
// into line breaks so plain text renders correctly as HTML.
func escapePlainText(text string) string {
	escaped := html.EscapeString(strings.ReplaceAll(text, "\r\n", "\n"))
	return strings.ReplaceAll(escaped, "\n", "<br/>")
}

func mergeAttachments(dst, src map[string][]byte) {
	for name, content := range src {
		dst[name] = content
	}
}

// readEntity parses a message, tolerating unknown charsets: the
// entity is still usable with the raw undecoded text.
func readEntity(r io.Reader) (*message.Entity, error) {
	entity, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, err
	}
	if entity == nil {
		return nil, errors.New("empty message")
	}
	return entity, nil
}
