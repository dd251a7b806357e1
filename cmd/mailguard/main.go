package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/ajramos/mailguard/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().Run(ctx, os.Args); err != nil {
		stop()
		log.Fatal(err)
	}
}

func rootCommand() *cli.Command {
	cli.VersionPrinter = func(*cli.Command) {
		fmt.Println(version.GetDetailedVersionString())
	}

	return &cli.Command{
		Name:    "mailguard",
		Usage:   "Phishing detection for the open webmail message",
		Version: version.GetVersionString(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to JSON configuration file (default: ~/.config/mailguard/config.json)",
			},
			&cli.BoolFlag{
				Name:  "remote",
				Usage: "Talk to a running 'mailguard serve' instead of starting the services in process",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Copy the log to stderr",
			},
		},
		Commands: []*cli.Command{
			watchCommand,
			serveCommand,
			loginCommand,
			registerCommand,
			logoutCommand,
			statusCommand,
			extendCommand,
			trustCommand,
			analyzeCommand,
			inspectCommand,
			healthCommand,
			languageCommand,
			setupCommand,
		},
	}
}
