package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

const appName = "pricewatch-engine"

type rootFlags struct {
	DataDir       string
	ConfigPath    string
	DefaultConfig string
	Verbose       bool
}

func newRootCmd() *cobra.Command {
	var f rootFlags
	root := &cobra.Command{
		Use:           appName,
		Short:         "Competitor price monitoring engine",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if f.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.DataDir, "data-dir", "", "data directory (default $PRICEWATCH_DATA_DIR or .)")
	pf.StringVar(&f.ConfigPath, "config", "", "engine config file (default <data-dir>/config.yml)")
	pf.StringVar(&f.DefaultConfig, "default-config", "config/config.yml", "config copied into the data dir on first start")
	pf.BoolVarP(&f.Verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newServeCmd(&f),
		newCrawlCmd(&f),
		newSearchCmd(&f),
		newDropsCmd(&f),
		newWebsitesCmd(&f),
		newSeedCmd(&f),
	)
	return root
}
