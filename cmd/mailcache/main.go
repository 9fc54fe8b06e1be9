package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/nhle/mailcache/internal/account"
	"github.com/nhle/mailcache/internal/app"
	"github.com/nhle/mailcache/internal/credential"
	"github.com/nhle/mailcache/internal/model"
	"github.com/nhle/mailcache/internal/source"
	"github.com/nhle/mailcache/internal/source/email"
	"github.com/nhle/mailcache/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mailcache:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.StringP("config", "c", model.DefaultConfigPath(), "path to the config file")
	pflag.Parse()

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if cfg.IMAP.Host == "" {
		return fmt.Errorf("no IMAP server configured: set imap.host in %s or MAILCACHE_IMAP_HOST", *configPath)
	}

	logger, closeLog, err := openLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	mailboxes, err := store.NewSQLiteMailboxInfoStore(cfg.MailboxInfoPath(), logger)
	if err != nil {
		return err
	}
	defer mailboxes.Close()

	contacts, err := store.NewSQLiteContactStore(cfg.ContactsPath(), logger)
	if err != nil {
		return err
	}
	defer contacts.Close()

	ring, err := credential.OpenKeyring(filepath.Join(cfg.DataDir, "credentials"))
	if err != nil {
		return err
	}
	tokens := credential.NewStore(ring)
	defer tokens.Close()

	accounts := account.NewManager(tokens,
		account.WithLogger(logger),
		account.WithMailboxPurger(mailboxes),
	)
	if _, err := accounts.ReloadTokensAndAccounts(context.Background()); err != nil {
		// Start signed out rather than refusing to run.
		logger.Error("restoring account", "error", err)
	}

	var program *tea.Program
	deps := app.Deps{
		Config:    cfg,
		Mailboxes: mailboxes,
		Contacts:  contacts,
		NewClient: func(token model.Token) source.MailClient {
			return email.NewClient(cfg.IMAP, token, logger)
		},
		Reporter: app.ProgramReporter(func(msg tea.Msg) { program.Send(msg) }),
		Logger:   logger,
	}

	program = tea.NewProgram(app.New(deps, accounts), tea.WithAltScreen())
	final, err := program.Run()
	if m, ok := final.(app.Model); ok {
		if cerr := m.Close(); cerr != nil {
			logger.Warn("closing session", "error", cerr)
		}
	}
	if err != nil {
		return fmt.Errorf("running UI: %w", err)
	}
	return nil
}

// openLogger writes structured logs to the configured file; the terminal
// belongs to the UI.
func openLogger(cfg model.LogConfig) (*slog.Logger, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
		level = slog.LevelInfo
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, func() { _ = f.Close() }, nil
}
