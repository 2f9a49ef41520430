package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/emersion/go-imap/v2/imapclient"

	"listbridge/internal/app/config"
	"listbridge/internal/app/daemon"
	"listbridge/internal/app/distributor"
	"listbridge/internal/app/mailbox"
	"listbridge/internal/app/parser"
	"listbridge/internal/app/poller"
	"listbridge/internal/app/sender"
	"listbridge/internal/app/store"
	"listbridge/internal/pkg/logger"
)

var (
	configFilepath = flag.String("config", "./config.yaml", "Filepath to configuration file. Default is './config.yaml'")
	envFilepath    = flag.String("env-file", "./.env", "Filepath to environment variables file. Default is '.env'")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFilepath, *envFilepath)
	if err != nil {
		log.Fatalf("failed to load configuration: %s", err)
	}

	slogger := slog.New(logger.NewContextHandler(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:       slog.Level(cfg.LogLevel),
		ReplaceAttr: logger.ReplaceAttr,
	})))

	lists, users, archive, closeStore, err := newStore(cfg.Storage)
	if err != nil {
		log.Fatalf("failed to open storage: %s", err)
	}
	defer closeStore()

	settings := cfg.Properties

	dist := distributor.New(
		parser.NewValidator(slogger.With(slog.String("module", "validator"))),
		parser.NewDecoder(slogger.With(slog.String("module", "decoder"))),
		lists,
		users,
		archive,
		sender.NewSMTPSender(
			settings.Get(config.PropSMTPUsername, ""),
			settings.Get(config.PropSMTPPassword, ""),
			slogger.With(slog.String("module", "sender")),
		),
		settings,
		slogger.With(slog.String("module", "distributor")),
	)

	inboxPoller := poller.New(
		mailbox.NewIMAPRemote(
			mailbox.ImapDialerFunc(imapclient.DialTLS),
			slogger.With(slog.String("module", "mailbox")),
		),
		dist,
		settings,
		slogger.With(slog.String("module", "poller")),
	)

	bridge := daemon.NewDaemon(
		cfg,
		&daemon.Scheduler{},
		inboxPoller,
		slogger.With(slog.String("module", "daemon")),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer cancel()

	if err = bridge.Start(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			slogger.Error(fmt.Sprintf("Application exited with error: %s", err), slog.String("module", "main"))
			cancel()
			//nolint:gocritic
			os.Exit(1)
		}
	}

	cancel()
}

func newStore(cfg config.StorageConfig) (store.ListDirectory, store.UserDirectory, store.Archive, func(), error) {
	switch cfg.Driver {
	case "", "memory":
		s := store.NewMemoryStore()
		return s, s, s, func() {}, nil
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return s, s, s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
