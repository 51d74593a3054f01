package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AbdurrudbA/snl-data-dictionaries/internal/catalog"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/history"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/logging"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/storage"
	"github.com/AbdurrudbA/snl-data-dictionaries/pkg/manifest"
)

func (a *app) newBuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Walk the content root and publish manifest.json",
		Long: `build scans every category folder under the content root, lists the
eligible data dictionary files and publishes the manifest. Unreadable entries
are skipped and reported; a missing content root fails the build.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBuild(cmd.Context(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("history-driver", "", "record the build in a history database: sqlite or postgres")
	cmd.Flags().String("history-dsn", "", "history database DSN")
	return cmd
}

func (a *app) runBuild(ctx context.Context, out io.Writer) error {
	builder := &catalog.Builder{
		Root:   a.cfg.ContentRoot,
		Logger: logging.Named("catalog"),
	}
	m, report, err := builder.Build(ctx)
	if err != nil {
		return err
	}

	backend, err := a.outputBackend(ctx)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer backend.Close()

	published, err := a.publishCatalog(ctx, out, backend, m, report)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Published %s: %d categories, %d files", a.cfg.ManifestKey, len(published.Categories), published.FileCount())
	if n := len(report.Skipped); n > 0 {
		fmt.Fprintf(out, " (%d skipped)", n)
	}
	fmt.Fprintln(out)
	for _, p := range report.SortedSkipped() {
		fmt.Fprintf(out, "  skipped %s\n", p)
	}
	return nil
}

// publishCatalog writes a freshly built manifest to backend and returns what
// was published. For S3 the listed files are mirrored first and any that fail
// to upload are left out, so the manifest never names a missing object. The
// build is recorded in the history database when one is set.
func (a *app) publishCatalog(ctx context.Context, out io.Writer, backend storage.Backend, m *manifest.Manifest, report *catalog.BuildReport) (*manifest.Manifest, error) {
	prev, _, err := catalog.Load(ctx, backend, a.cfg.ManifestKey)
	switch {
	case err == nil:
		changes := catalog.Compare(prev, m)
		logging.Info("catalog changes since last build",
			zap.Int("added", len(changes.Added)),
			zap.Int("removed", len(changes.Removed)),
			zap.Int("changed", len(changes.Changed)))
	case storage.IsNotFound(err):
		logging.Info("no previous manifest, first build")
	default:
		logging.Warn("previous manifest unreadable", zap.Error(err))
	}

	if backend.Type() == "s3" {
		mr, err := catalog.Mirror(ctx, os.DirFS(a.cfg.ContentRoot), backend, m)
		if err != nil {
			return nil, fmt.Errorf("mirror content: %w", err)
		}
		fmt.Fprintf(out, "Mirrored %d files (%d already current, %d failed)\n",
			mr.Uploaded, mr.Current, len(mr.Failed))
		for _, f := range mr.Failed {
			fmt.Fprintf(out, "  not published %s: %v\n", f.Path, f.Err)
		}
		m = mr.Prune(m)
	}

	data, err := catalog.Publish(ctx, backend, a.cfg.ManifestKey, m)
	if err != nil {
		return nil, err
	}

	if a.cfg.HistoryDriver != "" {
		a.recordBuild(ctx, history.Build{
			GeneratedAt:  m.GeneratedAt,
			Categories:   len(m.Categories),
			Files:        m.FileCount(),
			Skipped:      len(report.Skipped),
			DurationMS:   report.Duration.Milliseconds(),
			ManifestHash: catalog.Hash(data),
		})
	}
	return m, nil
}

// recordBuild stores b in the history database. History is auxiliary, so
// failures are logged and the build still succeeds.
func (a *app) recordBuild(ctx context.Context, b history.Build) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	store, err := history.Open(ctx, a.cfg.HistoryDriver, a.cfg.HistoryDSN)
	if err != nil {
		logging.Warn("build history unavailable", zap.Error(err))
		return
	}
	defer store.Close()

	id, err := store.Record(ctx, b)
	if err != nil {
		logging.Warn("record build failed", zap.Error(err))
		return
	}
	logging.Debug("build recorded", zap.Int64("id", id), zap.String("driver", store.Driver()))
}
