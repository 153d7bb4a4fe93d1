package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pricewatch-engine/internal/crawl"
	"pricewatch-engine/internal/domain"
	"pricewatch-engine/internal/search"
	"pricewatch-engine/internal/store"
)

func newCrawlCmd(f *rootFlags) *cobra.Command {
	var opts crawl.Options
	cmd := &cobra.Command{
		Use:   "crawl <website-id|name>",
		Short: "Crawl one website now and print the run log entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, f, true)
			if err != nil {
				return err
			}
			defer a.close()

			site, err := a.websiteArg(ctx, args[0])
			if err != nil {
				return err
			}
			opts.TriggeredBy = "cli"
			run, err := a.crawl.Run(ctx, site.ID, opts)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), run); err != nil {
				return err
			}
			if run.Status == domain.RunFailed {
				return fmt.Errorf("run %s failed", run.ID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.FullScrape, "full", false, "ignore sitemap lastmod and crawl everything")
	cmd.Flags().IntVar(&opts.MaxPages, "max-pages", 0, "page budget (0 = strategy default)")
	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "continue from the cursor of a stopped run")
	return cmd
}

func newSearchCmd(f *rootFlags) *cobra.Command {
	var (
		q        search.Query
		minScore float64
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the catalog across websites",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, f, false)
			if err != nil {
				return err
			}
			defer a.close()

			q.Text = strings.Join(args, " ")
			if cmd.Flags().Changed("min-score") {
				q.MinScore = &minScore
			}
			res, err := a.search.Search(ctx, q)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&q.Brand, "brand", "", "only this brand")
	cmd.Flags().BoolVar(&q.InStockOnly, "in-stock", false, "only in-stock listings")
	cmd.Flags().Int64SliceVar(&q.WebsiteIDs, "website", nil, "only these website ids")
	cmd.Flags().Float64Var(&minScore, "min-score", search.DefaultMinScore, "minimum match score")
	cmd.Flags().IntVar(&q.Limit, "limit", search.DefaultLimit, "results per page")
	cmd.Flags().IntVar(&q.Page, "page", 1, "result page")
	return cmd
}

func newDropsCmd(f *rootFlags) *cobra.Command {
	var (
		window int
		q      store.DropQuery
	)
	cmd := &cobra.Command{
		Use:   "drops",
		Short: "List recent price drops",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, f, false)
			if err != nil {
				return err
			}
			defer a.close()

			if !cmd.Flags().Changed("window-hours") {
				window = a.cfg.Drops.WindowHours
			}
			if !cmd.Flags().Changed("min-pct") {
				q.MinPercentage = a.cfg.Drops.MinPercentage
			}
			if !cmd.Flags().Changed("limit") {
				q.Limit = a.cfg.Drops.Limit
			}
			q.Since = time.Now().Add(-time.Duration(window) * time.Hour)
			drops, err := store.PriceDrops(ctx, a.db.Pool, q)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), drops)
		},
	}
	cmd.Flags().IntVar(&window, "window-hours", 24, "look-back window")
	cmd.Flags().Float64Var(&q.MinPercentage, "min-pct", 5, "minimum drop percentage")
	cmd.Flags().Int64Var(&q.WebsiteID, "website", 0, "only this website id")
	cmd.Flags().IntVar(&q.Limit, "limit", 50, "maximum drops")
	return cmd
}

func newWebsitesCmd(f *rootFlags) *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "websites",
		Short: "List monitored websites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, f, false)
			if err != nil {
				return err
			}
			defer a.close()

			sites, err := store.ListWebsites(ctx, a.db.Pool, activeOnly)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, s := range sites {
				last := "never"
				if s.LastScrapedAt != nil {
					last = s.LastScrapedAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(w, "%4d  %-24s %-8s active=%-5t products=%-6d last=%s  %s\n",
					s.ID, s.Name, s.ScraperType, s.IsActive, s.TotalProducts, last, s.BaseURL)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active websites")
	return cmd
}

func newSeedCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Apply the sites file (websites and scraper configs) to the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, f, true)
			if err != nil {
				return err
			}
			defer a.close()

			rep, err := a.seedSites(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created=%d updated=%d configs_changed=%d\n", rep.Created, rep.Updated, rep.ConfigsChanged)
			return nil
		},
	}
}
