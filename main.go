package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fho/imap-attachments/internal/charset"
	"github.com/fho/imap-attachments/internal/config"
	"github.com/fho/imap-attachments/internal/extract"
	"github.com/fho/imap-attachments/internal/httpapi"
	"github.com/fho/imap-attachments/internal/imapclt"
	"github.com/fho/imap-attachments/internal/mimeword"
	"github.com/fho/imap-attachments/internal/neterr"
	"github.com/fho/imap-attachments/internal/retry"

	flag "github.com/spf13/pflag"
)

var (
	version = "version-undefined"
	commit  = "commit-undefined"
)

const credentialsDirEnv = "CREDENTIALS_DIRECTORY"

var connectRetryIntervals = []time.Duration{
	time.Second, 5 * time.Second, 30 * time.Second, 60 * time.Second,
}

type flags struct {
	cfgPath      string
	printVersion bool
	dryRun       bool
	serve        bool
}

func mustParseFlags() *flags {
	var result flags

	flag.StringVar(&result.cfgPath, "cfg-file", "/etc/imap-attachments/config.toml",
		"Path to the imap-attachments config file")
	flag.BoolVar(&result.printVersion, "version", false,
		"print the version and exit")
	flag.BoolVarP(&result.dryRun, "dry-run", "n", false,
		"list the attachments of all messages in the mailbox, do not save them",
	)
	flag.BoolVar(&result.serve, "serve", false,
		"serve the attachments via HTTP until the process is terminated",
	)

	flag.Parse()

	if result.dryRun && result.serve {
		fmt.Fprintln(os.Stderr, "--dry-run and --serve can not be combined")
		os.Exit(2)
	}

	return &result
}

func configureLogger() *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			// do not log timestamp, imap-attachments is normally run
			// as systemd service, journald already adds timestamps
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})

	return slog.New(h)
}

func mustLoadConfig(path string, logger *slog.Logger) *config.Config {
	cfg, err := config.FromFile(path)
	if err != nil {
		logger.Error("loading config failed", "error", err)
		os.Exit(1)
	}

	if dir := os.Getenv(credentialsDirEnv); dir != "" {
		if err := cfg.LoadCredentialsFromDirectory(dir); err != nil {
			logger.Error("loading credentials failed", "error", err)
			os.Exit(1)
		}
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	return cfg
}

func newDecoder(cfg *config.Config, logger *slog.Logger) (*mimeword.Decoder, error) {
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	return mimeword.NewDecoder(&mimeword.Config{
		Charset: cfg.Charset,
		Converter: charset.NewConverter(&charset.Config{
			Policy: policy,
			Logger: logger,
		}),
	}), nil
}

// connect establishes the IMAP connection, connection attempts that fail
// with a temporary network error are retried.
func connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*imapclt.Client, error) {
	var clt *imapclt.Client

	r := retry.Runner{
		Fn: func() error {
			var err error
			clt, err = imapclt.Connect(&imapclt.Config{
				Address:     cfg.ImapAddr,
				User:        cfg.ImapUser,
				Password:    cfg.ImapPassword,
				LogIMAPData: cfg.LogIMAPData,
				Logger:      logger,
			})
			return err
		},
		IsRetryable:         neterr.IsRetryableError,
		MaxRetriesSameError: 10,
		RetryIntervals:      connectRetryIntervals,
		Logger:              logger,
	}

	if err := r.Run(ctx); err != nil {
		return nil, err
	}

	return clt, nil
}

func runExtract(ctx context.Context, cfg *config.Config, flags *flags, logger *slog.Logger, clt *imapclt.Client, dec *mimeword.Decoder) error {
	extractClt, err := extract.NewClient(&extract.Config{
		Mailbox:       cfg.Mailbox,
		OutputDir:     cfg.OutputDir,
		DryRun:        flags.dryRun,
		Decoder:       dec,
		SubjectLength: cfg.SubjectNameLength,
		Logger:        logger,
		IMAPClient:    clt,
	})
	if err != nil {
		return fmt.Errorf("creating extract client failed: %w", err)
	}

	result, err := extractClt.Run(ctx)
	if result != nil && flags.dryRun {
		for _, e := range result.Entries {
			fmt.Printf("%d\t%s\t%s\t%s\n", e.UID, e.PartID, e.MIMEType, e.Filename)
		}
	}

	return err
}

func runServer(ctx context.Context, cfg *config.Config, logger *slog.Logger, clt *imapclt.Client, dec *mimeword.Decoder) error {
	srv, err := httpapi.New(&httpapi.Config{
		Decoder:       dec,
		SubjectLength: cfg.SubjectNameLength,
		Logger:        logger,
		IMAPClient:    clt,
	})
	if err != nil {
		return fmt.Errorf("creating http api server failed: %w", err)
	}

	return srv.ListenAndServe(ctx, cfg.HTTPListenAddr)
}

func main() {
	flags := mustParseFlags()
	if flags.printVersion {
		fmt.Printf("imap-attachments %s (%s)\n", version, commit)
		os.Exit(0)
	}

	logger := configureLogger()
	cfg := mustLoadConfig(flags.cfgPath, logger)
	fmt.Print(cfg.String())

	if flags.serve && cfg.HTTPListenAddr == "" {
		logger.Error("--serve requires HTTPListenAddr to be set")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	dec, err := newDecoder(cfg, logger)
	if err != nil {
		logger.Error("creating header decoder failed", "error", err)
		os.Exit(1)
	}

	clt, err := connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("connecting to imap server failed", "error", err)
		os.Exit(1)
	}
	defer clt.Close()

	if flags.serve {
		err = runServer(ctx, cfg, logger, clt, dec)
	} else {
		err = runExtract(ctx, cfg, flags, logger, clt, dec)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(err.Error())
		_ = clt.Close()
		stop()
		os.Exit(1)
	}

	logger.Info("terminating")
}
