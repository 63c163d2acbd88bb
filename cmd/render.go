package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/densimap/internal/geo"
	"github.com/sells-group/densimap/internal/render"
	"github.com/sells-group/densimap/internal/store"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render a stored dataset year as a PNG map",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("render"); err != nil {
			return err
		}

		datasetID, _ := cmd.Flags().GetString("dataset")
		year, _ := cmd.Flags().GetString("year")
		out, _ := cmd.Flags().GetString("out")
		width, _ := cmd.Flags().GetInt("width")
		stroke, _ := cmd.Flags().GetFloat64("stroke")

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		payload, err := st.GetYear(ctx, datasetID, year)
		if err != nil {
			return eris.Wrapf(err, "render: load year %s of dataset %s", year, datasetID)
		}

		c, err := geo.UnmarshalStoredCollection(payload.GeoJSON)
		if err != nil {
			return err
		}

		opts := render.Options{Width: width, StrokeWidth: stroke}
		if err := render.SavePNG(out, c, opts); err != nil {
			return err
		}

		fmt.Printf("Rendered %d features to %s\n", c.Len(), out)
		return nil
	},
}

func init() {
	renderCmd.Flags().String("dataset", "", "dataset ID")
	renderCmd.Flags().String("year", "", "census year to render")
	renderCmd.Flags().StringP("out", "o", "map.png", "output PNG path")
	renderCmd.Flags().Int("width", 0, "canvas width in pixels (default 1600)")
	renderCmd.Flags().Float64("stroke", 0, "boundary outline width in pixels, 0 disables")
	_ = renderCmd.MarkFlagRequired("dataset")
	_ = renderCmd.MarkFlagRequired("year")
	rootCmd.AddCommand(renderCmd)
}
