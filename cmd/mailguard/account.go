package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/ajramos/mailguard/internal/badge"
)

var credentialFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "email",
		Aliases: []string{"e"},
		Usage:   "Account email",
	},
	&cli.StringFlag{
		Name:    "password",
		Aliases: []string{"p"},
		Usage:   "Account password (not recommended, use the interactive prompt)",
	},
}

var loginCommand = &cli.Command{
	Name:   "login",
	Usage:  "Sign in to the analysis service",
	Flags:  credentialFlags,
	Action: withApp(appOptions{}, loginAction),
}

var registerCommand = &cli.Command{
	Name:   "register",
	Usage:  "Create an account and sign in",
	Flags:  credentialFlags,
	Action: withApp(appOptions{}, registerAction),
}

var logoutCommand = &cli.Command{
	Name:  "logout",
	Usage: "Sign out and forget the session",
	Action: withApp(appOptions{}, func(ctx context.Context, _ *cli.Command, a *app) error {
		if err := a.client.SignOut(ctx); err != nil {
			return fmt.Errorf("sign out failed: %w", err)
		}
		fmt.Println("✓ Signed out")
		return nil
	}),
}

var statusCommand = &cli.Command{
	Name:   "status",
	Usage:  "Show the signed-in account and today's usage",
	Action: withApp(appOptions{}, statusAction),
}

var extendCommand = &cli.Command{
	Name:  "extend",
	Usage: "Add more analyses to today's limit",
	Action: withApp(appOptions{}, func(ctx context.Context, _ *cli.Command, a *app) error {
		usage, err := a.client.AddMoreAnalyses(ctx)
		if err != nil {
			return fmt.Errorf("could not extend the limit: %w", err)
		}
		fmt.Printf("✓ Limit raised to %d\n  Usage: %s\n", usage.Limit, badge.Render(usage.Count, usage.Limit))
		return nil
	}),
}

func promptInput(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func readCredentials(cmd *cli.Command, confirm bool) (string, string, error) {
	email := cmd.String("email")
	if email == "" {
		var err error
		if email, err = promptInput("Email: "); err != nil {
			return "", "", fmt.Errorf("failed to read email: %w", err)
		}
	}
	password := cmd.String("password")
	if password == "" {
		var err error
		if password, err = promptPassword("Password: "); err != nil {
			return "", "", fmt.Errorf("failed to read password: %w", err)
		}
		if confirm {
			again, err := promptPassword("Repeat password: ")
			if err != nil {
				return "", "", fmt.Errorf("failed to read password: %w", err)
			}
			if again != password {
				return "", "", fmt.Errorf("passwords do not match")
			}
		}
	}
	return email, password, nil
}

func loginAction(ctx context.Context, cmd *cli.Command, a *app) error {
	if user, err := a.client.GetUser(ctx); err == nil && user.LoggedIn {
		fmt.Printf("✓ Already signed in as %s\n", user.Email)
		return nil
	}
	email, password, err := readCredentials(cmd, false)
	if err != nil {
		return err
	}
	fmt.Println("Signing in...")
	user, err := a.client.SignIn(ctx, email, password)
	if err != nil {
		return fmt.Errorf("sign in failed: %w", err)
	}
	fmt.Printf("\n✓ Signed in as %s\n", user.Email)
	return nil
}

func registerAction(ctx context.Context, cmd *cli.Command, a *app) error {
	email, password, err := readCredentials(cmd, true)
	if err != nil {
		return err
	}
	user, err := a.client.SignUp(ctx, email, password)
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	fmt.Printf("\n✓ Account created, signed in as %s\n", user.Email)
	return nil
}

func statusAction(ctx context.Context, _ *cli.Command, a *app) error {
	user, err := a.client.GetUser(ctx)
	if err != nil {
		return fmt.Errorf("could not read the session: %w", err)
	}
	if !user.LoggedIn {
		fmt.Println("✗ Not signed in. Run 'mailguard login'.")
		return nil
	}
	fmt.Printf("✓ Signed in as %s\n", user.Email)

	usage, err := a.client.GetDailyUsage(ctx)
	if err != nil {
		fmt.Printf("  Usage: unavailable (%v)\n", err)
		return nil
	}
	fmt.Printf("  Usage: %s", badge.Render(usage.Count, usage.Limit))
	if usage.Limit > usage.Base {
		fmt.Printf("  (base %d, extended)", usage.Base)
	}
	fmt.Println()
	return nil
}
