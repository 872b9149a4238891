// Package main is the entry point of smtp-dispatch, which sends one email
// through the configured channel provider.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/shineum/smtp-dispatch/internal/config"
	"github.com/shineum/smtp-dispatch/internal/dispatch"
	"github.com/shineum/smtp-dispatch/internal/email"
	"github.com/shineum/smtp-dispatch/internal/provider"
	"github.com/shineum/smtp-dispatch/internal/provider/ses"
	smtpprovider "github.com/shineum/smtp-dispatch/internal/provider/smtp"
	"github.com/shineum/smtp-dispatch/internal/provider/stdout"
)

// listFlag collects a repeatable or comma-separated flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

// options are the parsed command-line flags.
type options struct {
	configPath string
	envFile    string
	provider   string

	from    string
	to      listFlag
	cc      listFlag
	bcc     listFlag
	replyTo listFlag
	subject string
	text    string
	html    string
	attach  listFlag
}

func parseFlags(args []string) (*options, error) {
	opts := &options{}
	fset := flag.NewFlagSet("smtp-dispatch", flag.ContinueOnError)
	fset.SetOutput(io.Discard)

	fset.StringVar(&opts.configPath, "config", "", "path to YAML configuration file (optional)")
	fset.StringVar(&opts.envFile, "env", ".env", "path to a .env file loaded when present")
	fset.StringVar(&opts.provider, "provider", "", "provider to use: smtp, ses or stdout (overrides PROVIDER)")
	fset.StringVar(&opts.from, "from", "", "sender address")
	fset.Var(&opts.to, "to", "recipient address (repeatable, comma-separated)")
	fset.Var(&opts.cc, "cc", "carbon copy address (repeatable, comma-separated)")
	fset.Var(&opts.bcc, "bcc", "blind carbon copy address (repeatable, comma-separated)")
	fset.Var(&opts.replyTo, "reply-to", "reply-to address (repeatable, comma-separated)")
	fset.StringVar(&opts.subject, "subject", "", "message subject")
	fset.StringVar(&opts.text, "text", "", "plain text body")
	fset.StringVar(&opts.html, "html", "", "HTML body")
	fset.Var(&opts.attach, "attach", "file to attach (repeatable)")

	if err := fset.Parse(args); err != nil {
		return nil, err
	}
	if opts.from == "" {
		return nil, errors.New("-from is required")
	}
	if len(opts.to) == 0 {
		return nil, errors.New("at least one -to is required")
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "smtp-dispatch: %v\n", err)
		os.Exit(2)
	}

	if err := loadEnvFile(opts.envFile); err != nil {
		slog.Error("failed to load env file", "path", opts.envFile, "error", err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if opts.provider != "" {
		cfg.Provider = strings.ToLower(opts.provider)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg, opts); err != nil {
		slog.Error("dispatch failed", "error", err)
		os.Exit(1)
	}
}

// run dispatches the email described by opts through the selected provider.
func run(ctx context.Context, cfg *config.Config, opts *options) error {
	reg, err := newRegistry(cfg, slog.Default())
	if err != nil {
		return err
	}

	id := cfg.SelectedProvider()
	prov, err := reg.Resolve(ctx, id)
	if err != nil {
		return err
	}

	msg, closeAttachments, err := buildEmail(opts)
	if err != nil {
		return err
	}
	defer closeAttachments()

	slog.Info("dispatching email",
		"provider", prov.Name(),
		"to", strings.Join(opts.to, ","),
		"attachments", len(msg.Attachments),
	)

	cc := &dispatch.CommunicationContext{
		ChannelID:         provider.ChannelEmail,
		ChannelProviderID: id,
		Reports:           dispatch.NewLogReporter(slog.Default()),
	}
	results, err := prov.Dispatch(ctx, msg, cc)
	if err != nil {
		return err
	}
	if dispatch.Failed(results) {
		return errors.New("provider reported a failed delivery")
	}
	return nil
}

// newRegistry registers every provider this binary knows about. Only the
// resolved one is constructed.
func newRegistry(cfg *config.Config, logger *slog.Logger) (*provider.Registry, error) {
	reg := provider.NewRegistry()

	transportOpts, err := cfg.TransportOptions(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure SMTP TLS: %w", err)
	}
	if err := smtpprovider.Register(reg, cfg.SMTPOptions(), "",
		smtpprovider.WithTransportOptions(transportOpts),
		smtpprovider.WithLogger(logger),
	); err != nil {
		return nil, err
	}
	if err := ses.Register(reg, cfg.SESProviderConfig(), ""); err != nil {
		return nil, err
	}
	if err := stdout.Register(reg, os.Stdout, ""); err != nil {
		return nil, err
	}
	return reg, nil
}

// buildEmail assembles the email from flags, opening attachment files. The
// returned func closes them.
func buildEmail(opts *options) (*email.Email, func(), error) {
	msg := &email.Email{
		From:     email.NewAddress(opts.from),
		To:       addresses(opts.to),
		Cc:       addresses(opts.cc),
		Bcc:      addresses(opts.bcc),
		ReplyTo:  addresses(opts.replyTo),
		Subject:  opts.subject,
		TextBody: opts.text,
		HTMLBody: opts.html,
	}

	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	for _, path := range opts.attach {
		f, err := os.Open(path)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("failed to open attachment: %w", err)
		}
		files = append(files, f)
		msg.Attachments = append(msg.Attachments, email.Attachment{
			Name:        filepath.Base(path),
			ContentType: mime.TypeByExtension(filepath.Ext(path)),
			Content:     f,
		})
	}

	return msg, closeAll, nil
}

func addresses(values []string) []email.Address {
	if len(values) == 0 {
		return nil
	}
	out := make([]email.Address, 0, len(values))
	for _, v := range values {
		out = append(out, email.NewAddress(v))
	}
	return out
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output on stderr
// and the specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
