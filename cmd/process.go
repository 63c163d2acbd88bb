package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/densimap/internal/census"
	"github.com/sells-group/densimap/internal/choropleth"
	"github.com/sells-group/densimap/internal/geo"
	"github.com/sells-group/densimap/internal/pipeline"
	"github.com/sells-group/densimap/internal/shapefile"
	"github.com/sells-group/densimap/internal/store"
	"github.com/sells-group/densimap/internal/vfr"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Build a choropleth dataset from boundary and population files",
	Long: `Loads administrative boundaries (VFR/GML, shapefile, or GeoJSON) and an
optional population table (CSV, JSON, or XLSX), computes areas in the source
projection, reprojects to WGS84, joins population per census year, and colors
every feature. Results go to --out as per-year GeoJSON files, to the
configured store with --save, or both.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("process"); err != nil {
			return err
		}

		boundariesPath, _ := cmd.Flags().GetString("boundaries")
		populationPath, _ := cmd.Flags().GetString("population")
		format, _ := cmd.Flags().GetString("format")
		unit, _ := cmd.Flags().GetString("unit")
		sheet, _ := cmd.Flags().GetString("sheet")
		delimiter, _ := cmd.Flags().GetString("delimiter")
		encoding, _ := cmd.Flags().GetString("encoding")
		filter, _ := cmd.Flags().GetString("filter")
		outDir, _ := cmd.Flags().GetString("out")
		save, _ := cmd.Flags().GetBool("save")
		name, _ := cmd.Flags().GetString("name")

		opts, err := buildPipelineOptions(cmd)
		if err != nil {
			return err
		}
		filterCol, filterVal, err := parseFilter(filter)
		if err != nil {
			return err
		}
		opts.Aggregate.FilterColumn = filterCol
		opts.Aggregate.FilterValue = filterVal

		if outDir == "" && !save {
			return eris.New("process: nothing to do, pass --out and/or --save")
		}

		log := zap.L().With(zap.String("command", "process"))
		log.Info("starting processing run",
			zap.String("boundaries", boundariesPath),
			zap.String("population", populationPath),
			zap.Int("source_epsg", opts.SourceEPSG),
			zap.String("join_key", opts.JoinKeyProperty))

		// The boundary file and the population table load independently.
		var boundaries *geo.Collection
		var popTable *census.RawTable

		g, gCtx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			boundaries, err = loadBoundaries(gCtx, boundariesPath, format, unit)
			return err
		})
		if populationPath != "" {
			g.Go(func() error {
				lopts := census.LoadOptions{Encoding: encoding}
				if delimiter != "" {
					lopts.Delimiter = []rune(delimiter)[0]
				}
				var err error
				popTable, err = loadPopulation(gCtx, populationPath, sheet, lopts)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		result, err := pipeline.Run(ctx, boundaries, popTable, opts)
		if err != nil {
			return err
		}

		if outDir != "" {
			if err := writeOutputs(outDir, result); err != nil {
				return err
			}
			fmt.Printf("Wrote %d year files to %s\n", len(result.Years), outDir)
		}

		if save {
			st, err := store.Open(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			if err := st.Migrate(ctx); err != nil {
				return err
			}

			if name == "" {
				name = datasetNameFromPath(boundariesPath)
			}
			id, err := saveResult(ctx, st, name, opts.JoinKeyProperty, result)
			if err != nil {
				return err
			}
			fmt.Printf("Saved dataset %s (%s)\n", id, name)
		}

		fmt.Printf("Processed %d features across %d years in %s\n",
			result.Meta.FeatureCount, len(result.Years),
			result.Meta.ProcessingTime.Round(time.Millisecond))
		return nil
	},
}

func init() {
	processCmd.Flags().String("boundaries", "", "boundary file (VFR/GML XML, shapefile, or GeoJSON)")
	processCmd.Flags().String("population", "", "population table (CSV, JSON, or XLSX)")
	processCmd.Flags().String("format", "", "boundary format override (vfr, shp, geojson)")
	processCmd.Flags().String("unit", "", "VFR unit element to extract (default Obec)")
	processCmd.Flags().String("sheet", "", "XLSX sheet name (default first sheet)")
	processCmd.Flags().String("delimiter", "", "population CSV delimiter (default ';')")
	processCmd.Flags().String("encoding", "", "population CSV charset, e.g. windows-1250")
	processCmd.Flags().String("key-column", "", "population column holding the region code (default uzemi_kod)")
	processCmd.Flags().String("year-column", "", "population column holding the census year (default rok)")
	processCmd.Flags().String("value-column", "", "population column holding the count (default hodnota)")
	processCmd.Flags().String("filter", "", "keep only population rows where column=value")
	processCmd.Flags().String("dedup-by", "", "drop features repeating this property value")
	processCmd.Flags().Int("source-epsg", 0, "boundary CRS EPSG code (default from config)")
	processCmd.Flags().String("join-key", "", "feature property joined against population keys (default from config)")
	processCmd.Flags().Float64("simplify", 0, "Douglas-Peucker tolerance in degrees, 0 disables")
	processCmd.Flags().String("palette", "", "YAML palette file (default built-in blues)")
	processCmd.Flags().String("out", "", "directory for per-year GeoJSON output")
	processCmd.Flags().Bool("save", false, "persist the dataset to the configured store")
	processCmd.Flags().String("name", "", "dataset name when saving (default from boundary filename)")
	_ = processCmd.MarkFlagRequired("boundaries")
	rootCmd.AddCommand(processCmd)
}

// buildPipelineOptions resolves processing options: built-in defaults, then
// config, then explicitly set flags.
func buildPipelineOptions(cmd *cobra.Command) (pipeline.Options, error) {
	opts := pipeline.DefaultOptions()

	if cfg.Pipeline.SourceEPSG != 0 {
		opts.SourceEPSG = cfg.Pipeline.SourceEPSG
	}
	if cfg.Pipeline.JoinKey != "" {
		opts.JoinKeyProperty = cfg.Pipeline.JoinKey
		opts.Aggregate.KeyColumn = cfg.Pipeline.JoinKey
	}
	opts.SimplifyTolerance = cfg.Pipeline.SimplifyTolerance

	if v, _ := cmd.Flags().GetInt("source-epsg"); v != 0 {
		opts.SourceEPSG = v
	}
	if v, _ := cmd.Flags().GetString("join-key"); v != "" {
		opts.JoinKeyProperty = v
		opts.Aggregate.KeyColumn = v
	}
	if v, _ := cmd.Flags().GetFloat64("simplify"); v > 0 {
		opts.SimplifyTolerance = v
	}
	if v, _ := cmd.Flags().GetString("dedup-by"); v != "" {
		opts.DeduplicateBy = v
	}
	if v, _ := cmd.Flags().GetString("key-column"); v != "" {
		opts.Aggregate.KeyColumn = v
	}
	if v, _ := cmd.Flags().GetString("year-column"); v != "" {
		opts.Aggregate.YearColumn = v
	}
	if v, _ := cmd.Flags().GetString("value-column"); v != "" {
		opts.Aggregate.ValueColumn = v
	}

	palettePath, _ := cmd.Flags().GetString("palette")
	if palettePath == "" {
		palettePath = cfg.Pipeline.PaletteFile
	}
	if palettePath != "" {
		p, err := choropleth.Load(palettePath)
		if err != nil {
			return opts, err
		}
		opts.Palette = p
	}
	return opts, nil
}

// detectBoundaryFormat picks a loader from the override flag or the file
// extension. Gzip suffixes are transparent because the VFR parser handles
// compressed streams itself.
func detectBoundaryFormat(path, override string) (string, error) {
	switch strings.ToLower(override) {
	case "vfr", "gml", "xml":
		return "vfr", nil
	case "shp", "shapefile":
		return "shp", nil
	case "geojson", "json":
		return "geojson", nil
	case "":
	default:
		return "", eris.Errorf("process: unknown boundary format %q", override)
	}

	name := strings.ToLower(filepath.Base(path))
	name = strings.TrimSuffix(name, ".gz")
	switch filepath.Ext(name) {
	case ".xml", ".gml":
		return "vfr", nil
	case ".shp":
		return "shp", nil
	case ".json", ".geojson":
		return "geojson", nil
	}
	return "", eris.Errorf("process: cannot infer boundary format of %q, pass --format", path)
}

func loadBoundaries(ctx context.Context, path, format, unit string) (*geo.Collection, error) {
	f, err := detectBoundaryFormat(path, format)
	if err != nil {
		return nil, err
	}
	switch f {
	case "vfr":
		return vfr.ParseFile(ctx, path, vfr.Options{UnitElement: unit})
	case "shp":
		return shapefile.Load(path, shapefile.Options{})
	default:
		return geo.LoadFile(path)
	}
}

func loadPopulation(ctx context.Context, path, sheet string, lopts census.LoadOptions) (*census.RawTable, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return census.LoadCSVFile(ctx, path, lopts)
	case ".json":
		return census.LoadJSONFile(ctx, path)
	case ".xlsx":
		return census.LoadXLSX(path, sheet)
	}
	return nil, eris.Errorf("process: unsupported population format %q", filepath.Ext(path))
}

// parseFilter splits a column=value restriction. Empty input means no filter.
func parseFilter(s string) (string, string, error) {
	if s == "" {
		return "", "", nil
	}
	col, val, ok := strings.Cut(s, "=")
	if !ok || col == "" {
		return "", "", eris.Errorf("process: filter must be column=value, got %q", s)
	}
	return col, val, nil
}

// datasetNameFromPath derives a dataset name from the boundary filename by
// stripping the recognized data and archive extensions.
func datasetNameFromPath(path string) string {
	known := map[string]bool{
		".gz": true, ".zip": true, ".xml": true, ".gml": true,
		".shp": true, ".json": true, ".geojson": true,
	}
	base := filepath.Base(path)
	for {
		ext := filepath.Ext(base)
		if !known[strings.ToLower(ext)] {
			break
		}
		base = strings.TrimSuffix(base, ext)
	}
	if base == "" || base == "." {
		return "dataset"
	}
	return base
}

// writeOutputs writes base.geojson, one colored GeoJSON per census year, and
// a metadata.json with run statistics and per-year legends.
func writeOutputs(dir string, res *pipeline.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "process: create output dir %s", dir)
	}

	data, err := geo.MarshalCollection(res.Base)
	if err != nil {
		return eris.Wrap(err, "process: encode base collection")
	}
	if err := os.WriteFile(filepath.Join(dir, "base.geojson"), data, 0o644); err != nil {
		return eris.Wrap(err, "process: write base.geojson")
	}

	for _, year := range res.Years {
		data, err := geo.MarshalCollection(res.ByYear[year])
		if err != nil {
			return eris.Wrapf(err, "process: encode year %s", year)
		}
		path := filepath.Join(dir, year+".geojson")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return eris.Wrapf(err, "process: write %s", path)
		}
	}

	meta := struct {
		Meta    pipeline.Metadata            `json:"meta"`
		Years   []string                     `json:"years"`
		Legends map[string]choropleth.Legend `json:"legends"`
	}{res.Meta, res.Years, res.Legends}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return eris.Wrap(err, "process: encode metadata")
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), metaJSON, 0o644); err != nil {
		return eris.Wrap(err, "process: write metadata.json")
	}
	return nil
}

// saveResult persists the processed dataset and returns its ID. Feature rows
// for SQL analysis are stored when the backend supports them; a failure there
// does not fail the save.
func saveResult(ctx context.Context, st store.Store, name, joinKey string, res *pipeline.Result) (string, error) {
	years := make(map[string]store.YearPayload, len(res.Years))
	for _, year := range res.Years {
		data, err := geo.MarshalCollection(res.ByYear[year])
		if err != nil {
			return "", eris.Wrapf(err, "process: encode year %s", year)
		}
		legend := res.Legends[year]
		years[year] = store.YearPayload{GeoJSON: data, Legend: &legend}
	}

	d := &store.Dataset{
		Name:         name,
		SourceEPSG:   res.Meta.SourceEPSG,
		JoinKey:      joinKey,
		BBox:         res.Meta.BBox,
		FeatureCount: res.Meta.FeatureCount,
	}
	if err := st.SaveDataset(ctx, d, years); err != nil {
		return "", err
	}

	if fw, ok := st.(store.FeatureWriter); ok {
		n, err := fw.SaveFeatures(ctx, d.ID, res.Base, joinKey)
		if err != nil {
			zap.L().Warn("process: feature rows not saved", zap.Error(err))
		} else {
			zap.L().Debug("process: stored feature rows", zap.Int("rows", n))
		}
	}
	return d.ID, nil
}
