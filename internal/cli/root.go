// Package cli implements the datadict command tree.
package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AbdurrudbA/snl-data-dictionaries/internal/config"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/logging"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/storage"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/storage/factory"
	s3backend "github.com/AbdurrudbA/snl-data-dictionaries/internal/storage/s3"
)

// app carries state shared by subcommands once the root has loaded config.
type app struct {
	version string
	cfgFile string
	cfg     *config.Config
}

// NewRootCommand builds the datadict command tree.
func NewRootCommand(version string) *cobra.Command {
	a := &app{version: version}

	root := &cobra.Command{
		Use:   "datadict",
		Short: "Catalog and bundle SNL data dictionaries",
		Long: `datadict builds a manifest of the data dictionary files under a content
root, serves the catalog over HTTP, and assembles selected files into a single
zip archive.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			a.cfg = cfg
			return logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logging.Sync()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default ./datadict.yaml when present)")
	pf.String("content-root", "public", "directory holding the category folders")
	pf.String("output-backend", "local", "where the manifest is published: local or s3")
	pf.String("output-path", "", "local output directory (defaults to the content root)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "json", "log format: json or console")

	root.AddCommand(
		a.newBuildCommand(),
		a.newServeCommand(),
		a.newBundleCommand(),
		a.newInspectCommand(),
		a.newDiffCommand(),
		a.newVersionCommand(),
	)
	return root
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context, version string) error {
	return NewRootCommand(version).ExecuteContext(ctx)
}

func (a *app) s3Config() s3backend.Config {
	return s3backend.Config{
		Endpoint:  a.cfg.S3Endpoint,
		Bucket:    a.cfg.S3Bucket,
		AccessKey: a.cfg.S3AccessKey,
		SecretKey: a.cfg.S3SecretKey,
		Region:    a.cfg.S3Region,
		UseSSL:    a.cfg.S3UseSSL,
		Prefix:    a.cfg.S3Prefix,
	}
}

// outputBackend opens the backend the manifest is published to.
func (a *app) outputBackend(ctx context.Context) (storage.Backend, error) {
	b, err := factory.New(ctx, factory.Options{
		Type:       a.cfg.OutputBackend,
		LocalRoot:  a.cfg.OutputRoot(),
		CreateDirs: true,
		S3:         a.s3Config(),
	})
	if err != nil {
		return nil, err
	}
	logging.Debug("output backend ready", zap.String("type", b.Type()))
	return b, nil
}
