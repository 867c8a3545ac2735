package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/mapcircle-go/internal/export"
	"github.com/wegman-software/mapcircle-go/internal/logger"
)

var (
	exportFormat  string
	exportCircles bool
	exportName    string
	exportOutput  string
)

var exportCmd = &cobra.Command{
	Use:   "export <file.kml|file.kmz|url|groups.json>",
	Short: "Convert groups to GeoJSON, KML or Parquet",
	Long: `Convert imported groups to another format.

Formats:
  geojson  FeatureCollection of points and polygons (--circles adds coverage rings)
  kml      one folder per group with styled placemarks
  parquet  one row per point or polygon with WKT and WKB geometry`,
	Args: cobra.ExactArgs(1),
	Run:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "geojson", "Output format: geojson, kml or parquet")
	exportCmd.Flags().BoolVar(&exportCircles, "circles", false, "Include coverage circles (geojson only)")
	exportCmd.Flags().StringVar(&exportName, "name", "", "Document name (default: input file name)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (required for parquet)")
}

func runExport(cmd *cobra.Command, args []string) {
	log := logger.Get()
	ctx, cancel := signalContext()
	defer cancel()

	format := strings.ToLower(exportFormat)
	if format == "parquet" && (exportOutput == "" || exportOutput == "-") {
		exitWithError("parquet export requires --output", nil)
	}

	groups, err := loadGroups(ctx, args[0])
	if err != nil {
		exitWithError("failed to load groups", err)
	}

	name := exportName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	}

	var data []byte
	switch format {
	case "geojson":
		fc := export.GeoJSON(groups, export.GeoJSONOptions{Circles: exportCircles})
		data, err = fc.MarshalJSON()
	case "kml":
		var buf bytes.Buffer
		err = export.KML(&buf, name, groups)
		data = buf.Bytes()
	case "parquet":
		var rows int
		rows, err = export.Parquet(exportOutput, groups)
		if err == nil {
			log.Info("Export complete", zap.String("format", format), zap.String("path", exportOutput), zap.Int("rows", rows))
			return
		}
	default:
		exitWithError(fmt.Sprintf("unknown format %q: use geojson, kml or parquet", exportFormat), nil)
	}
	if err != nil {
		exitWithError("export failed", err)
	}

	if exportOutput == "" || exportOutput == "-" {
		os.Stdout.Write(data)
		return
	}
	if err := os.WriteFile(exportOutput, data, 0o644); err != nil {
		exitWithError("failed to write output", err)
	}
	log.Info("Export complete",
		zap.String("format", format),
		zap.String("path", exportOutput),
		zap.Int("groups", len(groups)),
		zap.Int("bytes", len(data)))
}
