package poller

import (
	"context"
	"log/slog"
	"sync"

	"listbridge/internal/app/config"
	"listbridge/internal/app/mailbox"
)

type Distributor interface {
	Distribute(ctx context.Context, session mailbox.Client, batch *mailbox.Batch)
}

type SettingsSource interface {
	Get(key, fallback string) string
}

// Poller performs one inbox pass: connect, fetch and group the
// pending messages, hand them to the distributor, disconnect.
// Concurrent runs are collapsed into one; a tick firing while the
// previous pass is still working is dropped rather than queued.
type Poller struct {
	remote      mailbox.Remote
	distributor Distributor
	settings    SettingsSource
	logger      *slog.Logger

	running sync.Mutex
}

func New(remote mailbox.Remote, distributor Distributor, settings SettingsSource, logger *slog.Logger) *Poller {
	return &Poller{
		remote:      remote,
		distributor: distributor,
		settings:    settings,
		logger:      logger,
	}
}

// Run executes a single polling pass. Settings are re-read on every
// pass so credential changes take effect without a restart. Returns
// immediately if a previous pass is still in flight.
func (p *Poller) Run(ctx context.Context) {
	if !p.running.TryLock() {
		p.logger.DebugContext(ctx, "previous polling pass still in progress, skipping")
		return
	}
	defer p.running.Unlock()

	creds := mailbox.Credentials{
		Host:     p.settings.Get(config.PropMailHost, ""),
		Account:  p.settings.Get(config.PropMailAccount, ""),
		Password: p.settings.Get(config.PropMailPassword, ""),
		Protocol: p.settings.Get(config.PropMailProtocol, ""),
	}
	if creds.Host == "" || creds.Account == "" || creds.Password == "" || creds.Protocol == "" {
		p.logger.WarnContext(ctx, "mailbox account settings are incomplete, polling pass skipped")
		return
	}

	session, err := p.remote.Login(ctx, creds)
	if err != nil {
		p.logger.ErrorContext(ctx, "unable to connect to mail server",
			slog.String("host", creds.Host), slog.Any("error", err))
		return
	}
	defer func() {
		if err := session.Logout(); err != nil {
			p.logger.WarnContext(ctx, "error closing mail session", slog.Any("error", err))
		}
	}()

	batch, err := session.FetchGrouped(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "error fetching messages", slog.Any("error", err))
		return
	}
	if batch.Empty() {
		p.logger.DebugContext(ctx, "no new messages")
		return
	}

	p.distributor.Distribute(ctx, session, batch)
}
