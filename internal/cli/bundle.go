package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/AbdurrudbA/snl-data-dictionaries/internal/bundle"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/logging"
	"github.com/AbdurrudbA/snl-data-dictionaries/pkg/client"
	"github.com/AbdurrudbA/snl-data-dictionaries/pkg/manifest"
	"github.com/AbdurrudbA/snl-data-dictionaries/pkg/retry"
)

// errNothingToDeliver is reported when no archive could be produced.
var errNothingToDeliver = errors.New("nothing to deliver")

func (a *app) newBundleCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "bundle PATH...",
		Short: "Download selected catalog files as one zip archive",
		Long: `bundle fetches the manifest from a datadict server, downloads the selected
paths and writes them to data-dictionaries.zip. Files that fail to download are
left out and listed; the command fails only when nothing could be delivered.`,
		Example: `  datadict bundle --base-url https://dicts.example.com /Equities/AAPL.csv /Bonds/notes.txt`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBundle(cmd.Context(), cmd.OutOrStdout(), output, args)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&output, "output", "o", bundle.Name, "archive path")
	f.String("base-url", "http://localhost:8080", "datadict server URL")
	f.Duration("fetch-timeout", 0, "per-request timeout (default 30s)")
	f.Int("bundle-concurrency", 4, "simultaneous downloads")
	return cmd
}

// spinner shows progress only when writing to a terminal-backed stdout.
func spinner(out io.Writer, text string) func() {
	if f, ok := out.(*os.File); !ok || f != os.Stdout {
		return func() {}
	}
	s, err := pterm.DefaultSpinner.WithStyle(pterm.NewStyle(pterm.FgCyan)).
		WithSequence("⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏").
		WithDelay(100).WithRemoveWhenDone(true).Start(text)
	if err != nil {
		return func() {}
	}
	return func() { _ = s.Stop() }
}

func (a *app) runBundle(ctx context.Context, out io.Writer, output string, paths []string) error {
	c := client.New(client.Config{
		BaseURL:     a.cfg.BaseURL,
		Timeout:     a.cfg.FetchTimeout,
		RetryConfig: retry.DefaultConfig(),
		Logger:      logging.Named("client"),
	})

	stop := spinner(out, "Loading catalog...")
	m, err := c.FetchManifest(ctx)
	stop()
	if err != nil {
		// The empty manifest still drives the outcome below.
		fmt.Fprintf(out, "warning: %v\n", err)
		if perr := c.Ping(ctx); perr != nil {
			fmt.Fprintf(out, "warning: %s is unreachable: %v\n", a.cfg.BaseURL, perr)
		}
	}

	asm := &bundle.Assembler{
		Fetcher:     c,
		Concurrency: a.cfg.BundleConcurrency,
		Logger:      logging.Named("bundle"),
	}

	stop = spinner(out, "Preparing ZIP...")
	res, err := asm.Assemble(ctx, m.Entries(), manifest.NewSelection(paths...))
	stop()
	if err != nil {
		var empty *bundle.EmptyError
		if errors.As(err, &empty) {
			for _, f := range empty.Failures {
				fmt.Fprintf(out, "  failed %s: %v\n", f.Path, f.Err)
			}
			return fmt.Errorf("%w: %v", errNothingToDeliver, err)
		}
		return err
	}

	if err := os.WriteFile(output, res.Data, 0o644); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}

	fmt.Fprintf(out, "Fetched %d of %d files into %s\n", res.Fetched, res.Requested, output)
	for _, f := range res.Failures {
		fmt.Fprintf(out, "  failed %s: %v\n", f.Path, f.Err)
	}
	return nil
}
