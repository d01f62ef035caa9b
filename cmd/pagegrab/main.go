package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/v0xg/pagegrab/internal/artifact"
	"github.com/v0xg/pagegrab/internal/config"
	"github.com/v0xg/pagegrab/internal/observability"
)

var (
	configFile string
	verbose    bool
)

func main() {
	// Load .env file if present (silently ignore if not found)
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	v := viper.New()
	rootCmd := &cobra.Command{
		Use:   "pagegrab",
		Short: "Discover interactive elements on web pages and capture them",
		Long: `pagegrab loads pages in a headless browser, discovers their interactive
elements at a chosen depth, and captures a screenshot artifact of each one.

Examples:
  pagegrab scrape https://example.com https://example.com/pricing --depth deep
  pagegrab run https://example.com actions.json`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default ./pagegrab.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show debug logs")
	rootCmd.PersistentFlags().String("store", "", "Artifact location: :memory: or a directory")
	_ = v.BindPFlag("store.location", rootCmd.PersistentFlags().Lookup("store"))

	rootCmd.AddCommand(newScrapeCmd(v), newRunCmd(v))

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger.
func setup(v *viper.Viper) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.Logger.Level = "debug"
	}
	return cfg, observability.NewLogger(cfg.Logger, zapcore.Lock(os.Stderr)), nil
}

// openStore builds the artifact store described by cfg.
func openStore(cfg *config.Config, logger *zap.Logger) (*artifact.Store, error) {
	store, err := artifact.Open(cfg.Store.Location, logger,
		artifact.WithCodec(artifact.NewImageCodec()),
		artifact.WithMaxSize(cfg.Store.MaxSize))
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}
	return store, nil
}
