package distributor

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"listbridge/internal/app/config"
	"listbridge/internal/app/mailbox"
	"listbridge/internal/app/parser"
	"listbridge/internal/app/sender"
	"listbridge/internal/app/store"
	"listbridge/internal/pkg/logger"
)

// senderGraceWindow is how long a message from an unauthorized sender
// stays in the inbox before being diverted to junk. Recently arrived
// messages are left in place so an admin can extend the allow-list
// without losing fast bursts.
const senderGraceWindow = 24 * time.Hour

type Decoder interface {
	Decode(*mailbox.RawMessage) (*parser.DecodedMessage, error)
}

type Validator interface {
	Valid(*mailbox.RawMessage) bool
}

type SettingsSource interface {
	Get(key, fallback string) string
}

// Distributor matches decoded messages to mailing lists, enforces the
// sender allow-list, and performs the per-message side effects:
// persist, forward to every subscriber, and move the source message
// out of the inbox exactly once.
type Distributor struct {
	validator Validator
	decoder   Decoder
	lists     store.ListDirectory
	users     store.UserDirectory
	archive   store.Archive
	transport sender.Transport
	settings  SettingsSource
	logger    *slog.Logger
	now       func() time.Time
}

func New(
	validator Validator,
	decoder Decoder,
	lists store.ListDirectory,
	users store.UserDirectory,
	archive store.Archive,
	transport sender.Transport,
	settings SettingsSource,
	log *slog.Logger,
) *Distributor {
	return &Distributor{
		validator: validator,
		decoder:   decoder,
		lists:     lists,
		users:     users,
		archive:   archive,
		transport: transport,
		settings:  settings,
		logger:    log,
		now:       time.Now,
	}
}

// Distribute routes every redistribution-tagged group of the batch.
// Failures are isolated at group and message granularity: one group's
// error never aborts its siblings.
func (d *Distributor) Distribute(ctx context.Context, session mailbox.Client, batch *mailbox.Batch) {
	if batch.Empty() {
		return
	}

	for key, group := range batch.Groups {
		if group.Kind != mailbox.GroupMailingList {
			continue
		}

		ctx := logger.WithAttrs(ctx, slog.String("list", key))
		d.distributeGroup(ctx, session, group)
	}
}

func (d *Distributor) distributeGroup(ctx context.Context, session mailbox.Client, group *mailbox.Group) {
	list, err := d.lists.FindByKey(ctx, group.Key)
	if err != nil {
		d.logger.WarnContext(ctx, "unable to resolve mailing list for messages", slog.Any("error", err))
		return
	}

	if list.SenderAddress == "" {
		d.logger.WarnContext(ctx, "mailing list doesn't have sender address, messages were not sent")
		return
	}

	relayHost := d.settings.Get(config.PropSMTPRelayHost, "")
	if relayHost == "" {
		d.logger.WarnContext(ctx, "there is no mail server defined to send emails through")
		return
	}

	if len(list.Subscribers) == 0 {
		d.logger.WarnContext(ctx, "mailing list doesn't have subscribers, messages were not sent")
		return
	}

	recipients, err := d.users.PrimaryEmails(ctx, list.Subscribers)
	if err != nil || len(recipients) == 0 {
		d.logger.WarnContext(ctx, "no emails were found for subscribers", slog.Any("error", err))
		return
	}

	allowedSenders := d.allowedSenders(ctx, list)
	if allowedSenders == nil {
		d.logger.WarnContext(ctx, "there are no senders set for mailing list, anybody can post to it")
	}

	senderName := list.SenderName
	if senderName == "" {
		senderName = list.SenderAddress
	}

	for _, msg := range group.Messages {
		d.relayMessage(ctx, session, group, list, msg, relayReceivers{
			recipients:     recipients,
			allowedSenders: allowedSenders,
			relayHost:      relayHost,
			senderName:     senderName,
		})
	}
}

type relayReceivers struct {
	recipients     []string
	allowedSenders []string
	relayHost      string
	senderName     string
}

func (d *Distributor) relayMessage(
	ctx context.Context,
	session mailbox.Client,
	group *mailbox.Group,
	list *store.RoutingTarget,
	msg *mailbox.RawMessage,
	recv relayReceivers,
) {
	ctx = logger.WithAttrs(ctx, slog.Uint64("uid", uint64(msg.UID)))
	processedFolder := d.settings.Get(config.PropMailProcessedFolder, config.DefaultProcessedFolder)

	if !d.validator.Valid(msg) {
		d.moveMessage(ctx, session, msg, processedFolder)
		return
	}

	fromAddress, _ := parser.FromAddress(msg)
	if !d.canPost(fromAddress, recv.allowedSenders) {
		d.logger.InfoContext(ctx, "message sender is not allowed to post to mailing list",
			slog.String("from", fromAddress))

		// Old enough means the allow-list is not catching up; junk it.
		// Anything newer stays in place until the next pass.
		if msg.Received.Before(d.now().Add(-senderGraceWindow)) {
			junkFolder := d.settings.Get(config.PropMailJunkFolder, config.DefaultJunkFolder)
			d.moveMessage(ctx, session, msg, junkFolder)
			d.logger.InfoContext(ctx, "message was moved to junk folder", slog.String("subject", msg.Subject))
		}
		return
	}

	decoded, err := d.decodeAndFile(ctx, session, msg, processedFolder)
	if err != nil {
		d.logger.WarnContext(ctx, "error decoding message", slog.Any("error", err))
		return
	}

	subject := strings.TrimSpace(strings.ReplaceAll(decoded.Subject, group.Identifier, ""))

	record := &store.MessageRecord{
		ListKey:  list.Key,
		Subject:  subject,
		Sender:   list.SenderAddress,
		Body:     decoded.Body,
		Received: msg.Received,
	}
	for name, content := range decoded.Attachments {
		record.Attachments = append(record.Attachments, store.AttachmentRecord{
			Filename: name,
			MimeType: sender.MimeTypeByFilename(name),
			Content:  content,
		})
	}
	if err := d.archive.StoreMessage(ctx, record); err != nil {
		d.logger.WarnContext(ctx, "error archiving message", slog.Any("error", err))
	}

	for _, recipient := range recv.recipients {
		err := d.transport.Send(ctx, sender.Message{
			FromAddress: list.SenderAddress,
			FromName:    recv.senderName,
			ToAddress:   recipient,
			Subject:     subject,
			HTMLBody:    decoded.Body,
			RelayHost:   recv.relayHost,
			Attachments: decoded.Attachments,
		})
		if err != nil {
			d.logger.WarnContext(ctx, "error sending message",
				slog.String("to", recipient), slog.Any("error", err))
		}
	}
}

// decodeAndFile decodes the message and moves it out of the inbox
// exactly once, whatever the decode outcome.
func (d *Distributor) decodeAndFile(
	ctx context.Context,
	session mailbox.Client,
	msg *mailbox.RawMessage,
	folder string,
) (decoded *parser.DecodedMessage, err error) {
	defer d.moveMessage(ctx, session, msg, folder)
	return d.decoder.Decode(msg)
}

func (d *Distributor) moveMessage(ctx context.Context, session mailbox.Client, msg *mailbox.RawMessage, folder string) {
	if err := session.Move(ctx, msg, folder); err != nil {
		d.logger.WarnContext(ctx, "error moving message",
			slog.String("folder", folder), slog.Any("error", err))
	}
}

// canPost reports whether fromAddress may post. A nil allow-list means
// the list is open.
func (d *Distributor) canPost(fromAddress string, allowedSenders []string) bool {
	if allowedSenders == nil {
		return true
	}
	if fromAddress == "" {
		return false
	}
	return slices.Contains(allowedSenders, fromAddress)
}

// allowedSenders resolves the list's configured senders to addresses.
// Nil means no senders are configured at all.
func (d *Distributor) allowedSenders(ctx context.Context, list *store.RoutingTarget) []string {
	if len(list.Senders) == 0 {
		return nil
	}

	emails, err := d.users.PrimaryEmails(ctx, list.Senders)
	if err != nil {
		d.logger.WarnContext(ctx, "error resolving emails for list senders", slog.Any("error", err))
		return nil
	}
	if len(emails) == 0 {
		return nil
	}
	return emails
}
