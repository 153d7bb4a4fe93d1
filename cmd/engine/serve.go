package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pricewatch-engine/internal/config"
	"pricewatch-engine/internal/httpapi"
	"pricewatch-engine/internal/scheduler"
)

func newServeCmd(f *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine API, crawl orchestrator and housekeeping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, f, addr, stop)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default app.host:app.port from config)")
	return cmd
}

func serve(ctx context.Context, f *rootFlags, addr string, stop context.CancelFunc) error {
	a, err := openApp(ctx, f, true)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.seedSites(ctx); err != nil {
		return fmt.Errorf("sites file: %w", err)
	}

	retention := func() time.Duration { return a.liveConfig().RunLogRetention() }
	go scheduler.Every(ctx, a.cfg.PruneInterval(), "run-log-retention", a.log,
		scheduler.PruneRunLog(a.db.Pool, retention, nil, a.log))

	api := httpapi.NewRouter(httpapi.Deps{
		DB:          a.db.Pool,
		Hub:         a.hub,
		CfgVal:      a.cfgVal,
		UserCfgPath: a.cfgPath,
		LoadCfg:     func() (config.Config, error) { return config.Load(a.cfgPath) },
		OnConfigChange: func(_, next config.Config, r config.Reload) {
			a.configChanged(ctx, next, r)
		},
		Crawl:    a.crawl,
		Resolver: a.resolver,
		Search:   a.search,
		Logger:   a.log,
	})

	token, err := randomToken(16)
	if err != nil {
		return err
	}
	tokenPath := filepath.Join(a.dataDir, "engine.token")
	if err := os.WriteFile(tokenPath, []byte(token), 0o600); err != nil {
		return err
	}
	defer os.Remove(tokenPath)

	mux := http.NewServeMux()
	mux.Handle("/", api)
	mux.HandleFunc("/shutdown", shutdownHandler(token, stop))

	if addr == "" {
		addr = net.JoinHostPort(a.cfg.App.Host, strconv.Itoa(a.cfg.App.Port))
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	a.log.Info("engine listening", "url", "http://"+ln.Addr().String(), "data_dir", a.dataDir)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// SSE streams never finish on their own; Shutdown gives up on them at the deadline
	if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		a.log.Warn("http shutdown", "err", err)
	}
	return nil
}
