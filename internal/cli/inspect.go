package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AbdurrudbA/snl-data-dictionaries/internal/catalog"
	"github.com/AbdurrudbA/snl-data-dictionaries/pkg/manifest"
)

// CategorySummary describes one category of a manifest.
type CategorySummary struct {
	Name      string     `json:"name" yaml:"name"`
	Files     int        `json:"files" yaml:"files"`
	Bytes     int64      `json:"bytes" yaml:"bytes"`
	Newest    *time.Time `json:"newest,omitempty" yaml:"newest,omitempty"`
	NewestRef string     `json:"newestFile,omitempty" yaml:"newestFile,omitempty"`
}

// Summary describes a manifest as a whole.
type Summary struct {
	GeneratedAt time.Time         `json:"generatedAt" yaml:"generatedAt"`
	Files       int               `json:"files" yaml:"files"`
	Bytes       int64             `json:"bytes" yaml:"bytes"`
	Categories  []CategorySummary `json:"categories" yaml:"categories"`
}

// Summarize computes per-category counts and sizes. Categories keep lexical
// order; the newest file is the first entry of each sorted category.
func Summarize(m *manifest.Manifest) Summary {
	s := Summary{GeneratedAt: m.GeneratedAt, Categories: []CategorySummary{}}
	for _, name := range m.CategoryNames() {
		files := m.Categories[name]
		cs := CategorySummary{Name: name, Files: len(files)}
		for _, f := range files {
			cs.Bytes += f.Size
		}
		if len(files) > 0 && files[0].LastModified != nil {
			cs.Newest = files[0].LastModified
			cs.NewestRef = files[0].Name
		}
		s.Files += cs.Files
		s.Bytes += cs.Bytes
		s.Categories = append(s.Categories, cs)
	}
	return s
}

func (a *app) newInspectCommand() *cobra.Command {
	var format, search string
	cmd := &cobra.Command{
		Use:   "inspect [MANIFEST]",
		Short: "Summarize a manifest",
		Long: `inspect prints the categories of a manifest with file counts and sizes.
Without an argument it reads the manifest published to the configured output.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.loadManifest(cmd.Context(), args)
			if err != nil {
				return err
			}
			if search != "" {
				return writeEntries(cmd.OutOrStdout(), format, m.Search(search))
			}
			return writeSummary(cmd.OutOrStdout(), format, Summarize(m))
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format: table, json or yaml")
	cmd.Flags().StringVarP(&search, "search", "s", "", "list files whose category or name contains this text")
	return cmd
}

func (a *app) loadManifest(ctx context.Context, args []string) (*manifest.Manifest, error) {
	if len(args) == 1 {
		return readManifestFile(args[0])
	}
	backend, err := a.outputBackend(ctx)
	if err != nil {
		return nil, err
	}
	defer backend.Close()
	m, _, err := catalog.Load(ctx, backend, a.cfg.ManifestKey)
	return m, err
}

func readManifestFile(path string) (*manifest.Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := manifest.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func writeSummary(w io.Writer, format string, s Summary) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(s)
	case "table":
		data := pterm.TableData{{"Category", "Files", "Bytes", "Newest"}}
		for _, c := range s.Categories {
			data = append(data, []string{c.Name, strconv.Itoa(c.Files), strconv.FormatInt(c.Bytes, 10), formatTime(c.Newest)})
		}
		data = append(data, []string{"TOTAL", strconv.Itoa(s.Files), strconv.FormatInt(s.Bytes, 10), ""})
		table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, table)
		return nil
	default:
		return fmt.Errorf("unknown format %q (want table, json or yaml)", format)
	}
}

func writeEntries(w io.Writer, format string, entries []manifest.FileEntry) error {
	if entries == nil {
		entries = []manifest.FileEntry{}
	}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "yaml":
		type row struct {
			Path         string `yaml:"path"`
			Size         int64  `yaml:"size"`
			LastModified string `yaml:"lastModified,omitempty"`
		}
		rows := make([]row, len(entries))
		for i, e := range entries {
			rows[i] = row{Path: e.Path, Size: e.Size}
			if e.LastModified != nil {
				rows[i].LastModified = formatTime(e.LastModified)
			}
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(rows)
	case "table":
		data := pterm.TableData{{"Path", "Bytes", "Modified"}}
		for _, e := range entries {
			data = append(data, []string{e.Path, strconv.FormatInt(e.Size, 10), formatTime(e.LastModified)})
		}
		table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, table)
		return nil
	default:
		return fmt.Errorf("unknown format %q (want table, json or yaml)", format)
	}
}
