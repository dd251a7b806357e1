package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/ajramos/mailguard/internal/config"
)

var healthCommand = &cli.Command{
	Name:  "health",
	Usage: "Check that the analysis service answers",
	Action: withApp(appOptions{}, func(ctx context.Context, _ *cli.Command, a *app) error {
		status, err := a.client.HealthCheck(ctx)
		if err != nil {
			return fmt.Errorf("analysis service unreachable: %w", err)
		}
		out, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}),
}

var languageCommand = &cli.Command{
	Name:      "language",
	Usage:     "Show or change the language of verdicts and banners",
	ArgsUsage: "[code]",
	Action: withApp(appOptions{}, func(ctx context.Context, cmd *cli.Command, a *app) error {
		code := strings.TrimSpace(cmd.Args().First())
		if code == "" {
			fmt.Println(a.cfg.Language)
			return nil
		}
		if err := a.client.UpdateSettings(ctx, code); err != nil {
			return fmt.Errorf("could not change the language: %w", err)
		}
		if a.router != nil && a.manager.ConfigPath() == "" {
			if err := a.manager.SaveToFile(getConfigPath(cmd.String("config"))); err != nil {
				return err
			}
		}
		fmt.Printf("✓ Language set to %s\n", code)
		return nil
	}),
}

var setupCommand = &cli.Command{
	Name:  "setup",
	Usage: "Create the default configuration and show what is missing",
	Action: func(_ context.Context, cmd *cli.Command) error {
		return runSetupWizard(getConfigPath(cmd.String("config")))
	},
}

// runSetupWizard checks the configuration and offers to create it
func runSetupWizard(path string) error {
	fmt.Println("MailGuard Setup")
	fmt.Println("===============")
	fmt.Println()

	exists := false
	if _, err := os.Stat(path); err == nil {
		exists = true
		fmt.Printf("✓ Configuration file already exists: %s\n", path)
	} else {
		fmt.Printf("  Will create configuration file: %s\n", path)
	}

	if !exists {
		fmt.Print("\nCreate default configuration file? [Y/n]: ")
		var response string
		_, _ = fmt.Scanln(&response) // empty input means yes

		response = strings.ToLower(strings.TrimSpace(response))
		if response != "" && response != "y" && response != "yes" {
			fmt.Println("Nothing written.")
			return nil
		}
		manager := config.NewManager()
		if err := manager.LoadFromDefaults(); err != nil {
			return err
		}
		if key, err := promptInput("Identity API key (leave empty to fill in later): "); err == nil && key != "" {
			cfg := manager.GetConfig()
			cfg.Identity.APIKey = key
			if err := manager.UpdateConfig(cfg); err != nil {
				return err
			}
		}
		if err := manager.SaveToFile(path); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		fmt.Printf("✓ Created configuration file: %s\n", manager.ConfigPath())
	}

	manager := config.NewManager()
	if err := manager.LoadFromFile(path); err != nil {
		return fmt.Errorf("configuration is not usable: %w", err)
	}
	cfg := manager.GetConfig()
	if cfg.Identity.APIKey == "" {
		fmt.Println("! identity.api_key is empty: sign-in will fail until it is set")
	}
	if cfg.Identity.ProjectID == "" {
		fmt.Println("  identity.project_id is empty: daily limits stay on this machine")
	}

	fmt.Println()
	fmt.Println("Setup complete. Next steps:")
	fmt.Printf("   %s login\n", os.Args[0])
	fmt.Printf("   %s watch\n", os.Args[0])
	fmt.Println()
	fmt.Println("Tips:")
	fmt.Println("• MAILGUARD_CONFIG selects another configuration file")
	fmt.Println("• Run with -h to see all commands")
	return nil
}
