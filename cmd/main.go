package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/charleschow/futures-trading/internal/adapters/binance_auth"
	"github.com/charleschow/futures-trading/internal/adapters/outbound/binance_http"
	"github.com/charleschow/futures-trading/internal/config"
	"github.com/charleschow/futures-trading/internal/core/display"
	"github.com/charleschow/futures-trading/internal/core/execution"
	"github.com/charleschow/futures-trading/internal/core/tracking"
	"github.com/charleschow/futures-trading/internal/telemetry"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// usageError is a malformed command line. An empty msg means the flag
// package already reported it.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// app is the wiring shared by every command.
type app struct {
	cfg     *config.Config
	svc     *execution.Service
	signer  *binance_auth.Signer
	clock   *binance_auth.Clock
	journal *tracking.Store

	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("futures-trading", flag.ContinueOnError)
	global.SetOutput(stderr)

	var o config.Overrides
	global.StringVar(&o.LogLevel, "log-level", "", "log verbosity: DEBUG, INFO, WARNING or ERROR (default INFO)")
	global.StringVar(&o.APIKey, "api-key", "", "API key, overrides BINANCE_TESTNET_API_KEY")
	global.StringVar(&o.APISecret, "api-secret", "", "API secret, overrides BINANCE_TESTNET_API_SECRET")
	global.StringVar(&o.BaseURL, "base-url", "", "REST base URL (default "+config.DefaultBaseURL+")")
	global.StringVar(&o.EnvFile, "env-file", "", "env file to load instead of ./.env")
	global.Usage = func() { printUsage(stderr, global) }

	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	rest := global.Args()
	if len(rest) == 0 {
		printUsage(stderr, global)
		return exitUsage
	}
	cmd, ok := lookup(rest[0])
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", rest[0])
		printUsage(stderr, global)
		return exitUsage
	}

	cfg, err := config.Load(o)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	var logFile *os.File
	if cfg.LogDir != "" {
		if logFile, err = telemetry.OpenLogFile(cfg.LogDir, time.Now()); err == nil {
			defer logFile.Close()
		}
	}
	if logFile != nil {
		telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel), logFile)
	} else {
		telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel))
		if err != nil {
			telemetry.Warnf("File logging disabled: %v", err)
		}
	}

	if cmd.signed {
		if err := cfg.RequireCredentials(); err != nil {
			fmt.Fprintf(stderr, "%v\nSet BINANCE_TESTNET_API_KEY and BINANCE_TESTNET_API_SECRET or pass --api-key and --api-secret.\n", err)
			return exitUsage
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, cmd, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	defer a.close()

	err = cmd.run(ctx, a, rest[1:])
	telemetry.Debugf("exit  %s", telemetry.Summary())

	var uerr *usageError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.As(err, &uerr):
		if uerr.msg != "" {
			fmt.Fprintf(stderr, "%s: %s\n", cmd.name, uerr.msg)
		}
		return exitUsage
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(stderr, "interrupted")
		return exitError
	default:
		display.Error(stderr, err)
		return exitError
	}
}

func newApp(ctx context.Context, cfg *config.Config, cmd command, in io.Reader, out, errOut io.Writer) (*app, error) {
	client, err := binance_http.NewClient(cfg.BaseURL, cfg.Credentials.APIKey, cfg.ClientOptions())
	if err != nil {
		return nil, fmt.Errorf("build client: %w", err)
	}
	telemetry.L().Debug("config", "base_url", cfg.BaseURL, "credentials", cfg.Credentials,
		"recv_window_ms", cfg.RecvWindowMs, "time_sync", cfg.TimeSync)

	a := &app{cfg: cfg, in: in, out: out, errOut: errOut}

	a.clock = binance_auth.NewClock(time.Now)
	signerOpts := []binance_auth.SignerOption{
		binance_auth.WithRecvWindow(time.Duration(cfg.RecvWindowMs) * time.Millisecond),
	}
	if cfg.TimeSync {
		signerOpts = append(signerOpts, binance_auth.WithClock(a.clock.Now))
	}
	a.signer = binance_auth.NewSigner(cfg.Credentials.APISecret.Reveal(), signerOpts...)

	var opts []execution.Option
	if cfg.ClientOrderIDs {
		opts = append(opts, execution.WithClientIDs(uuid.NewString))
	}
	if cmd.journal && cfg.JournalPath != "" {
		store, err := tracking.OpenStore(cfg.JournalPath)
		if err != nil {
			telemetry.Warnf("Order journal disabled: %v", err)
		} else {
			a.journal = store
			opts = append(opts, execution.WithJournal(store))
		}
	}
	a.svc = execution.NewService(client, a.signer, opts...)

	if cmd.signed && cfg.TimeSync {
		if _, err := a.svc.SyncClock(ctx, a.clock); err != nil {
			telemetry.Warnf("Clock sync failed, signing with local time: %v", err)
		}
	}
	return a, nil
}

func (a *app) close() {
	a.signer.Wipe()
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			telemetry.Warnf("Close journal: %v", err)
		}
	}
}

func printUsage(w io.Writer, global *flag.FlagSet) {
	fmt.Fprintf(w, "Usage: futures-trading [global flags] <command> [command flags]\n\nCommands:\n")
	for _, c := range commandTable() {
		fmt.Fprintf(w, "  %-14s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(w, "\nGlobal flags:\n")
	global.PrintDefaults()
}
