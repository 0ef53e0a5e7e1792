package main

import (
	"fmt"
	"os"
	"os/exec"

	"askbot/internal/audit"
	"askbot/internal/auth"
	"askbot/internal/config"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your askbot installation",
		Long: `Verifies that askbot's configuration, credentials, allow-list,
inference backend, and audit log are correctly set up. Reports pass/fail
for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("askbot doctor v%s\n\n", version)

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config", err.Error())
				failed++
				fmt.Printf("\nRun 'askbot init' to create a default configuration.\n")
				return nil
			}
			printPass("Config", cfgPath)
			passed++

			// 2. Slack credentials present (env wins over file)
			if err := config.ApplyEnv(cfg); err != nil {
				printFail("Credentials", err.Error())
				failed++
			} else if cfg.Channels.Slack.BotToken == "" || cfg.Channels.Slack.AppToken == "" {
				printFail("Credentials", "SLACK_BOT_TOKEN / SLACK_APP_TOKEN not set")
				failed++
			} else {
				printPass("Credentials", "bot and app tokens present")
				passed++
			}

			// 3. Allow-list file
			if _, err := os.Stat(cfg.Auth.AllowlistPath); err != nil {
				printWarn("Allow-list", fmt.Sprintf("not found at %s (gate will be empty, nothing is authorized)", cfg.Auth.AllowlistPath))
				warned++
			} else {
				gate := auth.Load(cfg.Auth.AllowlistPath, logger)
				if gate.Size() == 0 {
					printWarn("Allow-list", "file present but contains no identities")
					warned++
				} else {
					printPass("Allow-list", fmt.Sprintf("%d identities", gate.Size()))
					passed++
				}
			}

			// 4. Inference backend resolvable
			if path, err := exec.LookPath(cfg.Backend.Command); err != nil {
				printFail("Backend", fmt.Sprintf("%s not found on PATH (the gateway treats an unspawnable backend as fatal)", cfg.Backend.Command))
				failed++
			} else {
				printPass("Backend", path)
				passed++
			}

			// 5. Audit log writable
			if log, err := audit.Open(cfg.Audit.Path, func(error) {}, logger); err != nil {
				printFail("Audit log", err.Error())
				failed++
			} else {
				_ = log.Close()
				printPass("Audit log", cfg.Audit.Path)
				passed++
			}

			fmt.Printf("\n%d passed, %d warned, %d failed\n", passed, warned, failed)
			return nil
		},
	}
}

func printPass(name, detail string) {
	fmt.Printf("%s %-12s %s\n", color.GreenString("✓"), name, detail)
}

func printWarn(name, detail string) {
	fmt.Printf("%s %-12s %s\n", color.YellowString("!"), name, detail)
}

func printFail(name, detail string) {
	fmt.Printf("%s %-12s %s\n", color.RedString("✗"), name, detail)
}
