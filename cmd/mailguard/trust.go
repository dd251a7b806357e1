package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/ajramos/mailguard/internal/trust"
)

var domainFlag = &cli.BoolFlag{
	Name:    "domain",
	Aliases: []string{"d"},
	Usage:   "Treat the argument as a domain",
}

var trustCommand = &cli.Command{
	Name:  "trust",
	Usage: "Manage trusted senders and domains",
	Commands: []*cli.Command{
		{
			Name:   "list",
			Usage:  "Show trusted senders and domains",
			Action: withApp(appOptions{}, trustListAction),
		},
		{
			Name:      "add",
			Usage:     "Trust a sender address, or a domain with --domain",
			ArgsUsage: "<address|domain>",
			Flags:     []cli.Flag{domainFlag},
			Action: withApp(appOptions{}, func(ctx context.Context, cmd *cli.Command, a *app) error {
				return trustChange(ctx, cmd, a, a.client.AddTrustedSender, a.client.AddTrustedDomain)
			}),
		},
		{
			Name:      "remove",
			Usage:     "Stop trusting a sender address, or a domain with --domain",
			ArgsUsage: "<address|domain>",
			Flags:     []cli.Flag{domainFlag},
			Action: withApp(appOptions{}, func(ctx context.Context, cmd *cli.Command, a *app) error {
				return trustChange(ctx, cmd, a, a.client.RemoveTrustedSender, a.client.RemoveTrustedDomain)
			}),
		},
	},
}

type trustFunc func(ctx context.Context, value string) (trust.Lists, error)

func trustChange(ctx context.Context, cmd *cli.Command, _ *app, sender, domain trustFunc) error {
	value := strings.TrimSpace(cmd.Args().First())
	if value == "" {
		return fmt.Errorf("missing address or domain")
	}
	fn := sender
	if cmd.Bool("domain") {
		fn = domain
	}
	lists, err := fn(ctx, value)
	if err != nil {
		return err
	}
	printLists(lists)
	return nil
}

func trustListAction(ctx context.Context, _ *cli.Command, a *app) error {
	lists, err := a.client.TrustedLists(ctx)
	if err != nil {
		return err
	}
	printLists(lists)
	return nil
}

func printLists(l trust.Lists) {
	fmt.Println("Trusted senders:")
	if len(l.Senders) == 0 {
		fmt.Println("  (none)")
	}
	for _, s := range l.Senders {
		fmt.Printf("  %s\n", s)
	}
	fmt.Println("Trusted domains:")
	if len(l.Domains) == 0 {
		fmt.Println("  (none)")
	}
	for _, d := range l.Domains {
		fmt.Printf("  %s\n", d)
	}
}
