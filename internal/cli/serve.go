package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AbdurrudbA/snl-data-dictionaries/internal/api"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/catalog"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/events"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/history"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/logging"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/metrics"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/storage"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/storage/local"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/watch"
	"github.com/AbdurrudbA/snl-data-dictionaries/pkg/manifest"
)

func (a *app) newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the catalog, its files and bundles over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runServe(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.String("listen-addr", ":8080", "HTTP listen address")
	f.String("metrics-addr", ":9090", "Prometheus metrics listen address")
	f.Duration("reload-interval", 30*time.Second, "how often the published manifest is re-read (0 disables)")
	f.Bool("watch", false, "rebuild and republish the catalog when the content root changes")
	f.Duration("watch-interval", watch.DefaultInterval, "content root polling period for --watch")
	f.Int("bundle-concurrency", 4, "simultaneous file reads per bundle")
	f.Int("bundle-requests-per-min", 0, "bundle requests allowed per session per minute (0 = unlimited)")
	f.String("history-driver", "", "build history database: sqlite or postgres")
	f.String("history-dsn", "", "history database DSN")
	return cmd
}

// contentBackend returns where catalog files are read from: the mirror
// bucket when publishing to S3, otherwise the content root itself.
func (a *app) contentBackend(output storage.Backend) (storage.Backend, error) {
	if output.Type() == "s3" {
		return output, nil
	}
	if a.cfg.OutputRoot() == a.cfg.ContentRoot {
		return output, nil
	}
	return local.New(local.Config{RootPath: a.cfg.ContentRoot})
}

func (a *app) runServe(ctx context.Context) error {
	cfg := a.cfg
	logging.Info("datadict server starting",
		zap.String("version", a.version),
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := signalContext(ctx)
	defer cancel()

	output, err := a.outputBackend(ctx)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer output.Close()

	content, err := a.contentBackend(output)
	if err != nil {
		return fmt.Errorf("open content root: %w", err)
	}

	var hist *history.Store
	if cfg.HistoryDriver != "" {
		hist, err = history.Open(ctx, cfg.HistoryDriver, cfg.HistoryDSN)
		if err != nil {
			return fmt.Errorf("open build history: %w", err)
		}
		defer hist.Close()
		logging.Info("build history enabled", zap.String("driver", hist.Driver()))
	}

	srv := api.NewServer(api.Options{
		Manifests:      output,
		ManifestKey:    cfg.ManifestKey,
		Content:        content,
		Concurrency:    cfg.BundleConcurrency,
		RequestsPerMin: cfg.BundleRequestsPerMin,
		Broadcaster:    events.NewBroadcaster(),
		History:        hist,
	})
	if err := srv.Init(ctx); err != nil {
		return err
	}
	go srv.RunReloader(ctx, cfg.ReloadInterval)
	if cfg.Watch {
		go a.newWatcher(output, srv).Run(ctx)
	}

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logging.Info("shutting down...")
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		httpServer.Shutdown(shutdownCtx)
		metricsServer.Close()
	}()

	logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// newWatcher republishes the catalog to output whenever the content root
// changes, then reloads srv so subscribers get the update without waiting
// for the next reload tick.
func (a *app) newWatcher(output storage.Backend, srv *api.Server) *watch.Watcher {
	builder := &catalog.Builder{
		Root:   a.cfg.ContentRoot,
		Logger: logging.Named("catalog"),
	}
	return watch.New(builder, a.cfg.WatchInterval, func(ctx context.Context, m *manifest.Manifest, report *catalog.BuildReport, _ catalog.Changes) error {
		if _, err := a.publishCatalog(ctx, io.Discard, output, m, report); err != nil {
			return err
		}
		_, err := srv.Reload(ctx)
		return err
	})
}
