// Command wsloop opens a display surface and a WebSocket session side by side,
// sends "Hello, world!" plus a small binary frame once per second and shows how
// many messages came back. Start examples/ws/echo/server first.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/qntx/wsloop/app"
	"github.com/qntx/wsloop/config"
	"github.com/qntx/wsloop/display"
	"github.com/qntx/wsloop/journal"
	"github.com/qntx/wsloop/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "wsloop: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	surface, out, cleanup, err := openSurface(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	l, err := newLogger(cfg, out)
	if err != nil {
		return err
	}

	opts := []app.Option{
		app.WithEndpoint(cfg.URL),
		app.WithSendInterval(cfg.SendInterval),
		app.WithFrameInterval(cfg.FrameInterval),
		app.WithCloseCode(cfg.CloseCode),
		app.WithStrict(cfg.Strict),
		app.WithSurface(surface),
		app.WithLogger(l),
	}

	if cfg.JournalFile != "" {
		j, err := journal.Create(cfg.JournalFile)
		if err != nil {
			return err
		}
		defer j.Close()

		opts = append(opts, app.WithJournal(j))
	}

	a, err := app.New(opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wsOpts, err := cfg.ClientOptions(out)
	if err != nil {
		return err
	}

	client, err := a.Dial(ctx, wsOpts...)
	if err != nil {
		return err
	}
	defer client.Close()

	finished := make(chan struct{})
	defer close(finished)

	// First signal: graceful shutdown through the run loop. Second signal: default handling.
	go func() {
		select {
		case <-ctx.Done():
			stop()
			a.Post(app.Event{Kind: app.EventShutdown})
		case <-finished:
		}
	}()

	return a.Run(context.Background())
}

// openSurface creates the configured surface and picks where logs go: the
// terminal surface owns the screen, so logs are redirected to a file.
func openSurface(cfg *config.Config) (display.Surface, io.Writer, func(), error) {
	if cfg.Display == config.DisplayHeadless {
		h := display.NewHeadless()

		return h, os.Stdout, func() { _ = h.Close() }, nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	t, err := display.NewTerminal()
	if err != nil {
		_ = f.Close()

		return nil, nil, nil, err
	}

	return t, f, func() {
		_ = t.Close()
		_ = f.Close()
	}, nil
}

func newLogger(cfg *config.Config, out io.Writer) (logger.Interface, error) {
	if cfg.Display == config.DisplayHeadless {
		return logger.New(cfg.LogLevel, out)
	}

	return logger.NewJSON(cfg.LogLevel, out)
}
