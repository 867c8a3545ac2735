package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/mapcircle-go/internal/heatmap"
	"github.com/wegman-software/mapcircle-go/internal/logger"
	"github.com/wegman-software/mapcircle-go/internal/poi"
)

var (
	heatmapCity       string
	heatmapZoom       int
	heatmapLayers     string
	heatmapLayersFile string
	heatmapPOIs       string
	heatmapOutput     string
)

var heatmapCmd = &cobra.Command{
	Use:   "heatmap",
	Short: "Generate a synthetic activity heatmap for a city",
	Long: `Generate a weekly activity heatmap from a city's POI layers.

Each POI gets a synthetic 7x24 profile from its kind's pattern; profiles are
summed per map tile at the given zoom. POIs are collected from Overpass unless
--pois points at a file written by the poi command.`,
	Run: runHeatmap,
}

func init() {
	rootCmd.AddCommand(heatmapCmd)

	heatmapCmd.Flags().StringVar(&heatmapCity, "city", "", "City to generate")
	heatmapCmd.Flags().IntVarP(&heatmapZoom, "zoom", "z", heatmap.DefaultZoom, "Tile zoom level for aggregation")
	heatmapCmd.Flags().StringVarP(&heatmapLayers, "layers", "l", "", "Comma-separated layer names (default: all)")
	heatmapCmd.Flags().StringVar(&heatmapLayersFile, "layers-file", "", "YAML layer definitions")
	heatmapCmd.Flags().StringVar(&heatmapPOIs, "pois", "", "POI JSON written by the poi command")
	heatmapCmd.Flags().StringVarP(&heatmapOutput, "output", "o", "heatmap.json", "Output file")
	heatmapCmd.MarkFlagRequired("city")
}

func runHeatmap(cmd *cobra.Command, args []string) {
	log := logger.Get()
	ctx, cancel := signalContext()
	defer cancel()

	if heatmapZoom < 1 || heatmapZoom > 20 {
		exitWithError(fmt.Sprintf("zoom must be between 1 and 20, got %d", heatmapZoom), nil)
	}

	layersCfg, err := poi.LoadConfig(layersFileOr(heatmapLayersFile))
	if err != nil {
		exitWithError("failed to load layers", err)
	}
	city, err := layersCfg.City(heatmapCity)
	if err != nil {
		exitWithError("unknown city", err)
	}

	var pois []poi.POI
	if heatmapPOIs != "" {
		pois, err = readPOIFile(heatmapPOIs)
	} else {
		var out *POIOutput
		out, err = collectPOIs(ctx, heatmapCity, heatmapLayers, layersFileOr(heatmapLayersFile))
		if out != nil {
			pois = out.POIs()
		}
	}
	if err != nil {
		exitWithError("failed to load POIs", err)
	}

	h := heatmap.Build(city, pois, heatmapZoom)
	if err := h.WriteFile(heatmapOutput); err != nil {
		exitWithError("failed to write heatmap", err)
	}

	log.Info("Heatmap written",
		zap.String("path", heatmapOutput),
		zap.Int("cells", h.Meta.CellCount),
		zap.Int("pois", h.Meta.POICount))
}

func readPOIFile(path string) ([]poi.POI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read POI file: %w", err)
	}
	var out POIOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode POI file: %w", err)
	}
	return out.POIs(), nil
}
