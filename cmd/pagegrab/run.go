package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/v0xg/pagegrab/internal/crawler"
	"github.com/v0xg/pagegrab/internal/executor"
	"github.com/v0xg/pagegrab/internal/observability"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	var (
		delayMs     int
		stopOnError bool
	)

	cmd := &cobra.Command{
		Use:   "run <url> <actions.json>",
		Short: "Execute an action script against a page",
		Long: `run opens a page and executes a JSON action script against it.

Example actions.json:
  [
    {"action": "type", "selector": "#q", "text": "lamp"},
    {"action": "click", "selector": "button[type=submit]"},
    {"action": "wait", "selector": ".results"},
    {"action": "capture", "selector": ".results", "key": "results"}
  ]`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(v)
			if err != nil {
				return err
			}
			defer observability.Sync(logger)

			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("failed to read actions: %w", err)
			}
			actions, err := executor.ParseActions(data)
			if err != nil {
				return err
			}

			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Shutdown()

			fmt.Printf("→ Opening %s... ", args[0])
			browser, err := crawler.Launch(crawler.OptionsFrom(cfg.Browser), logger)
			if err != nil {
				fmt.Println("failed")
				return err
			}
			defer browser.Close()

			page, err := browser.Open(cmd.Context(), args[0])
			if err != nil {
				fmt.Println("failed")
				return err
			}
			defer page.Close()
			fmt.Println("done")

			exec := executor.New(page, store, executor.Options{
				Delay:       time.Duration(delayMs) * time.Millisecond,
				StopOnError: stopOnError,
			}, logger)

			failed := 0
			for i, res := range exec.Run(cmd.Context(), actions) {
				switch {
				case !res.Succeeded:
					failed++
					fmt.Printf("  [%d/%d] %s ✗ (%s)\n", i+1, len(actions), res.Action, res.ErrorDetail)
				case res.ArtifactKey != "":
					fmt.Printf("  [%d/%d] %s ✓ → %s\n", i+1, len(actions), res.Action, res.ArtifactKey)
				case res.Data != "":
					fmt.Printf("  [%d/%d] %s ✓ %q\n", i+1, len(actions), res.Action, res.Data)
				default:
					fmt.Printf("  [%d/%d] %s ✓\n", i+1, len(actions), res.Action)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d actions failed", failed, len(actions))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&delayMs, "delay", 0, "Delay between actions (ms)")
	cmd.Flags().BoolVar(&stopOnError, "stop-on-error", false, "Stop at the first failed action")
	return cmd
}
