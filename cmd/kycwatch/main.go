// kycwatch follows one KYC session from the command line, polling the status
// endpoint on the same tiered schedule as the desktop QR page, and exits once
// the session reaches a terminal status.
//
// Exit status is 0 for a completed session, 2 for a failed or expired one
// and 1 for usage or transport errors.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"ampel/internal/platform/logger"
	"ampel/pkg/kyc/poller"
)

const exitNotVerified = 2

type watchConfig struct {
	baseURL      string
	accessToken  string
	sessionToken string
	timeout      time.Duration
	logLevel     string
}

func main() {
	cfg, err := parseFlags(os.Args[1:], os.Getenv)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	status, err := watch(ctx, cfg, os.Stdout, logger.NewWithWriter(os.Stderr, "development", cfg.logLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if !status.Completed {
		os.Exit(exitNotVerified)
	}
}

func parseFlags(args []string, getenv func(string) string) (watchConfig, error) {
	var cfg watchConfig
	flagSet := pflag.NewFlagSet("kycwatch", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.baseURL, "base-url", "http://localhost:8080", "ampel base URL")
	flagSet.StringVar(&cfg.accessToken, "access-token", getenv("AMPEL_ACCESS_TOKEN"), "bearer access token (default $AMPEL_ACCESS_TOKEN)")
	flagSet.StringVarP(&cfg.sessionToken, "session", "s", "", "session token shown on the QR page")
	flagSet.DurationVar(&cfg.timeout, "timeout", 30*time.Minute, "give up after this long")
	flagSet.StringVar(&cfg.logLevel, "log-level", "warn", "log level")

	if err := flagSet.Parse(args); err != nil {
		return watchConfig{}, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return watchConfig{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if cfg.sessionToken == "" {
		return watchConfig{}, errors.New("--session is required")
	}
	if cfg.timeout <= 0 {
		return watchConfig{}, errors.New("--timeout must be positive")
	}
	return cfg, nil
}

// watch polls until a terminal status arrives or ctx ends, printing every
// status it sees to out.
func watch(ctx context.Context, cfg watchConfig, out io.Writer, log *slog.Logger, opts ...poller.Option) (poller.Status, error) {
	done := make(chan poller.Status, 1)
	onStatus := func(s poller.Status) {
		fmt.Fprintf(out, "%s\n", s.Status)
		if s.IsTerminal() {
			done <- s
		}
	}
	opts = append([]poller.Option{
		poller.WithLogger(log),
		poller.OnError(func(err error) { log.Warn("status poll failed", "error", err) }),
	}, opts...)

	p := poller.New(poller.NewHTTPFetcher(cfg.baseURL, cfg.accessToken, nil), cfg.sessionToken, onStatus, opts...)
	if !p.Start(ctx) {
		return poller.Status{}, errors.New("poller did not start")
	}
	defer p.Stop()

	select {
	case s := <-done:
		return s, nil
	case <-ctx.Done():
		return poller.Status{}, fmt.Errorf("waiting for session: %w", ctx.Err())
	}
}
