package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/ajramos/mailguard/internal/analysis"
	"github.com/ajramos/mailguard/internal/detector"
	"github.com/ajramos/mailguard/internal/eml"
	"github.com/ajramos/mailguard/internal/i18n"
	"github.com/ajramos/mailguard/internal/page"
	"github.com/ajramos/mailguard/internal/render"
	"github.com/ajramos/mailguard/internal/services"
	"github.com/ajramos/mailguard/internal/trust"
)

var languageFlag = &cli.StringFlag{
	Name:    "language",
	Aliases: []string{"l"},
	Usage:   "Language of the verdict (default: the configured language)",
}

var analyzeCommand = &cli.Command{
	Name:      "analyze",
	Usage:     "Analyze a saved message (.eml)",
	ArgsUsage: "<file.eml>",
	Flags: []cli.Flag{
		languageFlag,
		&cli.BoolFlag{
			Name:  "preview",
			Usage: "Print the message text before the verdict",
		},
	},
	Action: withApp(appOptions{}, analyzeAction),
}

var inspectCommand = &cli.Command{
	Name:      "inspect",
	Usage:     "Read a saved webmail page the way the watcher does and analyze the open message",
	ArgsUsage: "<page.html>",
	Flags: []cli.Flag{
		languageFlag,
		&cli.StringFlag{
			Name:  "fragment",
			Usage: "URL fragment of the saved page, e.g. #inbox/FMfcg...",
			Value: "#inbox/saved",
		},
		&cli.StringFlag{
			Name:  "out",
			Usage: "Write the page with the banner injected to this file",
		},
	},
	Action: withApp(appOptions{}, inspectAction),
}

func terminalWidth() (int, bool) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 80, false
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return 80, true
	}
	return w, true
}

// verdict analyzes text and applies the trusted-sender overlay
func verdict(ctx context.Context, a *app, tr *i18n.Translator, text, sender, language string) (*analysis.Result, error) {
	res, err := a.client.AnalyzeText(ctx, text, language)
	if err != nil {
		return nil, err
	}
	lists, err := a.client.TrustedLists(ctx)
	if err != nil {
		a.logger.Printf("Warning: could not load trusted senders: %v", err)
	} else if trust.New(lists).Trusts(sender) {
		res.OverlayTrusted(tr.T("risk_trusted"))
	}
	return res, nil
}

func translator(ctx context.Context, a *app, language string) *i18n.Translator {
	tr := i18n.New(language)
	remote, err := a.client.GetTranslations(ctx, language)
	if err != nil {
		a.logger.Printf("Warning: using bundled translations: %v", err)
	}
	tr.Load(language, remote)
	return tr
}

func analyzeAction(ctx context.Context, cmd *cli.Command, a *app) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("missing message file")
	}
	msg, err := eml.ParseFile(path)
	if err != nil {
		return err
	}

	language := a.language(cmd)
	tr := translator(ctx, a, language)
	width, color := terminalWidth()

	if cmd.Bool("preview") {
		fmt.Printf("From: %s\nSubject: %s\n\n", msg.Sender, msg.Subject)
		fmt.Println(render.FormatMessageForTerminal(msg.Text, msg.HTML, width))
		for _, att := range msg.Attachments {
			fmt.Printf("[attachment] %s (%s, %d bytes)\n", att.Filename, att.MIMEType, att.Size)
		}
		fmt.Println()
	}

	banners := render.NewBannerRenderer(tr)
	fmt.Fprint(os.Stderr, banners.LoadingText())

	text := detector.ComposeText(msg.Sender, msg.Subject, msg.Text, msg.HTML)
	res, err := verdict(ctx, a, tr, text, msg.Sender, language)
	if err != nil {
		a.logger.Printf("analysis of %s failed: %v", path, err)
		return analysisFailure(tr, err)
	}
	fmt.Print(banners.Text(res, msg.Sender, render.TextOptions{Width: width, Color: color}))
	return nil
}

// exitTempFail tells scripts that running the command again may succeed
const exitTempFail = 75

// analysisFailure turns a failed analysis into the localized message with an
// exit code that separates retryable failures from the rest
func analysisFailure(tr *i18n.Translator, err error) cli.ExitCoder {
	msg := detector.FailureMessage(tr, err)
	if services.IsRetryableError(err) {
		return cli.Exit(msg, exitTempFail)
	}
	return cli.Exit(msg, 1)
}

func inspectAction(ctx context.Context, cmd *cli.Command, a *app) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("missing page file")
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open page: %w", err)
	}
	defer f.Close()

	snap, err := page.NewSnapshot(f, cmd.String("fragment"))
	if err != nil {
		return err
	}
	defer snap.Close()

	cfg := a.cfg
	resolver := detector.NewResolver(snap, detector.Selectors(cfg.Detector.Selectors), cfg.GetPollInterval(), cfg.GetBodyTimeout())
	body, err := resolver.WaitForBody(ctx)
	if err != nil {
		return fmt.Errorf("no open message in %s: %w", path, err)
	}
	sender, err := resolver.Sender(ctx)
	if err != nil {
		return err
	}
	subject, err := resolver.Subject(ctx)
	if err != nil {
		return err
	}

	language := a.language(cmd)
	tr := translator(ctx, a, language)
	banners := render.NewBannerRenderer(tr)

	fmt.Fprint(os.Stderr, banners.LoadingText())
	text := detector.ComposeText(sender, subject, body.Text, body.HTML)
	res, err := verdict(ctx, a, tr, text, sender, language)
	var markup string
	if err != nil {
		a.logger.Printf("analysis of %s failed: %v", path, err)
		markup = banners.Error(detector.FailureMessage(tr, err))
		fmt.Print(banners.ErrorText(detector.FailureMessage(tr, err)))
	} else {
		markup = banners.Result(res, sender)
		width, color := terminalWidth()
		fmt.Print(banners.Text(res, sender, render.TextOptions{Width: width, Color: color}))
	}

	out := cmd.String("out")
	if out == "" {
		return nil
	}
	if err := detector.NewBannerSlot(snap, resolver).Show(ctx, markup); err != nil {
		return err
	}
	html, err := snap.HTML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, []byte(html), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	fmt.Fprintf(os.Stderr, "Page with banner written to %s\n", out)
	return nil
}
