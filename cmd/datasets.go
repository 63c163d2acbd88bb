package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/densimap/internal/store"
)

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "Inspect stored datasets",
	Long:  "Commands for listing, viewing, and deleting stored choropleth datasets.",
}

// -- datasets list --

var datasetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored datasets",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openDatasetStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		datasets, err := st.ListDatasets(ctx)
		if err != nil {
			return eris.Wrap(err, "datasets list")
		}

		if len(datasets) == 0 {
			fmt.Fprintln(os.Stderr, "No datasets found.")
			return nil
		}

		formatDatasetList(os.Stdout, datasets)
		return nil
	},
}

// -- datasets show --

var datasetsShowCmd = &cobra.Command{
	Use:   "show <dataset-id>",
	Short: "Show full details of a dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openDatasetStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		d, err := st.GetDataset(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "datasets show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	},
}

// -- datasets delete --

var datasetsDeleteCmd = &cobra.Command{
	Use:   "delete <dataset-id>",
	Short: "Delete a dataset and all its year payloads",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openDatasetStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.DeleteDataset(ctx, args[0]); err != nil {
			return eris.Wrap(err, "datasets delete")
		}

		fmt.Printf("Deleted dataset %s\n", args[0])
		return nil
	},
}

func init() {
	datasetsCmd.AddCommand(datasetsListCmd)
	datasetsCmd.AddCommand(datasetsShowCmd)
	datasetsCmd.AddCommand(datasetsDeleteCmd)
	rootCmd.AddCommand(datasetsCmd)
}

// openDatasetStore validates the store configuration and returns a migrated
// store handle.
func openDatasetStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("datasets"); err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// formatDatasetList writes a tabular list of datasets to w.
func formatDatasetList(out io.Writer, datasets []store.Dataset) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tFEATURES\tYEARS\tEPSG\tUPDATED")
	_, _ = fmt.Fprintln(w, "--\t----\t--------\t-----\t----\t-------")

	for _, d := range datasets {
		name := d.Name
		if len(name) > 30 {
			name = name[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%s\n",
			truncateID(d.ID),
			name,
			d.FeatureCount,
			formatYears(d.Years),
			d.SourceEPSG,
			d.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatYears renders a compact year list: all years up to three, then a
// first-last range with a count.
func formatYears(years []string) string {
	switch {
	case len(years) == 0:
		return "-"
	case len(years) <= 3:
		return strings.Join(years, ",")
	default:
		return fmt.Sprintf("%s-%s (%d)", years[0], years[len(years)-1], len(years))
	}
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
