package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/AbdurrudbA/snl-data-dictionaries/internal/catalog"
)

func (a *app) newDiffCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diff OLD NEW",
		Short: "Show how two manifests differ",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			prev, err := readManifestFile(args[0])
			if err != nil {
				return err
			}
			next, err := readManifestFile(args[1])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			changes := catalog.Compare(prev, next)
			if changes.Empty() {
				fmt.Fprintln(out, "manifests list the same files")
				return nil
			}
			text, err := catalog.Diff(prev, next, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprint(out, text)
			fmt.Fprintf(out, "%d added, %d removed, %d changed\n",
				len(changes.Added), len(changes.Removed), len(changes.Changed))
			return nil
		},
	}
}

func (a *app) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the datadict version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "datadict %s (%s %s/%s)\n", a.version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
