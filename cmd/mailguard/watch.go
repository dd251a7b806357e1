package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/ajramos/mailguard/internal/background"
	"github.com/ajramos/mailguard/internal/detector"
	"github.com/ajramos/mailguard/internal/page"
	"github.com/ajramos/mailguard/internal/trust"
	"github.com/ajramos/mailguard/internal/version"
)

var watchCommand = &cli.Command{
	Name:  "watch",
	Usage: "Attach to the webmail tab and keep a verdict banner on every opened message",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "debugger-url",
			Usage: "DevTools websocket of a running browser (default: launch one)",
		},
		&cli.BoolFlag{
			Name:  "headless",
			Usage: "Launch the browser without a window",
		},
		&cli.BoolFlag{
			Name:  "serve",
			Usage: "Also answer other clients on the configured server address",
		},
	},
	Action: withApp(appOptions{indicator: os.Stderr}, watchAction),
}

func watchAction(ctx context.Context, cmd *cli.Command, a *app) error {
	cfg := a.cfg
	opts := page.BrowserOptions{
		DebuggerURL: cfg.Browser.DebuggerURL,
		Bin:         cfg.Browser.Bin,
		Headless:    cfg.Browser.Headless || cmd.Bool("headless"),
		MailURL:     cfg.Browser.MailURL,
	}
	if u := cmd.String("debugger-url"); u != "" {
		opts.DebuggerURL = u
	}

	tab, detach, err := page.Attach(ctx, opts, a.logger)
	if err != nil {
		return fmt.Errorf("failed to reach the mail tab: %w", err)
	}
	defer detach()

	lists, err := a.client.TrustedLists(ctx)
	if err != nil {
		a.logger.Printf("Warning: could not load trusted senders: %v", err)
		lists = trust.Lists{}
	}

	live := page.NewLive(tab, cfg.GetEventPoll(), a.logger)
	orch := detector.New(live, a.client, detector.Options{
		Selectors:    detector.Selectors(cfg.Detector.Selectors),
		Debounce:     cfg.GetDebounce(),
		PollInterval: cfg.GetPollInterval(),
		BodyTimeout:  cfg.GetBodyTimeout(),
		Language:     cfg.Language,
		Trust:        lists,
	}, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	notices, err := a.client.Notices(gctx)
	if err != nil {
		a.logger.Printf("Warning: settings changes will not reach this tab: %v", err)
		notices = nil
	}

	g.Go(func() error { return live.Run(gctx) })
	g.Go(func() error { return orch.Run(gctx, notices) })

	if a.router != nil {
		if err := a.manager.Watch(gctx); err == nil {
			defer a.manager.StopWatching()
		}
		if cmd.Bool("serve") {
			srv := background.NewServer(a.router, a.hub, version.GetVersion(), a.logger)
			g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Server.Addr) })
		}
	}

	a.logger.Printf("Watch: client %s attached to %s", a.client.ID(), cfg.Browser.MailURL)
	fmt.Fprintf(os.Stderr, "Watching %s (Ctrl+C to stop)\n", cfg.Browser.MailURL)
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
