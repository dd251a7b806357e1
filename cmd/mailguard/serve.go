package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/ajramos/mailguard/internal/background"
	"github.com/ajramos/mailguard/internal/version"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Run the background services on a local HTTP address",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "addr",
			Usage: "Listen address (default: server.addr from the config)",
		},
	},
	Action: withApp(appOptions{indicator: os.Stderr}, serveAction),
}

func serveAction(ctx context.Context, cmd *cli.Command, a *app) error {
	if a.router == nil {
		return fmt.Errorf("serve runs the services itself; drop --remote")
	}
	addr := a.cfg.Server.Addr
	if v := cmd.String("addr"); v != "" {
		addr = v
	}

	if err := a.manager.Watch(ctx); err != nil {
		a.logger.Printf("Warning: config changes will need a restart: %v", err)
	} else {
		defer a.manager.StopWatching()
	}

	g, gctx := errgroup.WithContext(ctx)
	srv := background.NewServer(a.router, a.hub, version.GetVersion(), a.logger)
	g.Go(func() error { return srv.ListenAndServe(gctx, addr) })

	fmt.Fprintf(os.Stderr, "%s listening on http://%s\n", version.GetVersionString(), addr)
	return g.Wait()
}
