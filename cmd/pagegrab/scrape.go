package main

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/v0xg/pagegrab/internal/crawler"
	"github.com/v0xg/pagegrab/internal/observability"
	"github.com/v0xg/pagegrab/internal/scraper"
	"github.com/v0xg/pagegrab/internal/session"
)

// report is the JSON written by --output.
type report struct {
	Outcomes  []*scraper.Outcome `json:"outcomes"`
	Stats     scraper.Stats      `json:"stats"`
	Artifacts []string           `json:"artifacts"`
	Duration  time.Duration      `json:"duration"`
}

func newScrapeCmd(v *viper.Viper) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "scrape <url> [url...]",
		Short: "Scrape one or more pages as a session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrape(cmd, v, args, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write a JSON report to this file")
	cmd.Flags().String("depth", "standard", "Scrape depth: quick, standard, deep")
	cmd.Flags().Int("max-elements", 500, "Maximum elements kept per page")
	cmd.Flags().Int("concurrency", 1, "Pages scraped at once")
	cmd.Flags().Bool("no-cache", false, "Disable the result cache")
	cmd.Flags().Bool("no-artifacts", false, "Skip screenshot capture")

	_ = v.BindPFlag("scraper.depth", cmd.Flags().Lookup("depth"))
	_ = v.BindPFlag("scraper.max_elements", cmd.Flags().Lookup("max-elements"))
	_ = v.BindPFlag("session.concurrency", cmd.Flags().Lookup("concurrency"))
	return cmd
}

func runScrape(cmd *cobra.Command, v *viper.Viper, urls []string, output string) error {
	cfg, logger, err := setup(v)
	if err != nil {
		return err
	}
	defer observability.Sync(logger)

	if noCache, _ := cmd.Flags().GetBool("no-cache"); noCache {
		cfg.Scraper.CacheEnabled = false
	}
	if noArtifacts, _ := cmd.Flags().GetBool("no-artifacts"); noArtifacts {
		cfg.Scraper.CaptureArtifacts = false
	}
	scrCfg, err := scraper.ConfigFrom(cfg.Scraper)
	if err != nil {
		return err
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Shutdown()

	fmt.Printf("→ Launching browser... ")
	browser, err := crawler.Launch(crawler.OptionsFrom(cfg.Browser), logger)
	if err != nil {
		fmt.Println("failed")
		return err
	}
	defer browser.Close()
	fmt.Println("done")

	scr := scraper.New(browser, logger,
		scraper.WithConfig(scrCfg),
		scraper.WithScreenshotSource(browser),
		scraper.WithArtifactStore(store))

	sp := spinner.New(spinner.CharSets[9], 100*time.Millisecond)
	sp.Suffix = fmt.Sprintf(" [0/%d] starting", len(urls))
	sess := session.New(scr, logger,
		session.WithConcurrency(cfg.Session.Concurrency),
		session.WithProgress(func(completed, total int, page string) {
			sp.Lock()
			sp.Suffix = fmt.Sprintf(" [%d/%d] %s", completed, total, page)
			sp.Unlock()
		}))
	sess.AddPages(urls)

	sp.Start()
	sess.Start()
	outcomes := sess.RunAll(cmd.Context(), scrCfg.Depth)
	sess.End()
	sp.Stop()

	for _, out := range outcomes {
		if out.Succeeded {
			fmt.Printf("✓ %s: %d elements, %d interactive, %d artifacts (%s)\n",
				out.PageURL, out.TotalCount, out.InteractiveCount, out.ArtifactCount(), out.Elapsed.Round(time.Millisecond))
		} else {
			fmt.Printf("✗ %s: %s\n", out.PageURL, out.ErrorDetail)
		}
	}
	stats := scr.Stats()
	fmt.Printf("→ %d pages in %s, %d elements, %d artifacts (%d bytes), avg %s\n",
		len(outcomes), sess.FinalDuration().Round(time.Millisecond),
		stats.TotalElementsDiscovered, stats.TotalArtifactsCaptured, store.TotalSize(),
		stats.AverageScrapeLatency.Round(time.Millisecond))

	if output == "" {
		return nil
	}
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(report{
		Outcomes:  outcomes,
		Stats:     stats,
		Artifacts: store.ListKeys(),
		Duration:  sess.FinalDuration(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	fmt.Printf("✓ Report written to %s\n", output)
	return nil
}
