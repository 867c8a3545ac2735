package cmd

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/mapcircle-go/internal/logger"
	"github.com/wegman-software/mapcircle-go/internal/poi"
)

var (
	poiCity       string
	poiLayers     string
	poiLayersFile string
	poiOutput     string
)

var poiCmd = &cobra.Command{
	Use:   "poi",
	Short: "Collect static POI layers from OpenStreetMap",
	Long: `Collect point-of-interest layers for a city through the Overpass API.

Layers and cities are defined in a YAML file (built-in defaults are used when
none is given). A POI that matches several layers is kept in the first one.
When a Redis address is configured, results are cached per city and layer.`,
	Run: runPOI,
}

func init() {
	rootCmd.AddCommand(poiCmd)

	poiCmd.Flags().StringVar(&poiCity, "city", "", "City to collect (as named in the layers file)")
	poiCmd.Flags().StringVarP(&poiLayers, "layers", "l", "", "Comma-separated layer names (default: all)")
	poiCmd.Flags().StringVar(&poiLayersFile, "layers-file", "", "YAML layer definitions")
	poiCmd.Flags().StringVarP(&poiOutput, "output", "o", "", "Write JSON to file instead of stdout")
	poiCmd.Flags().StringVar(&cfg.OverpassURL, "overpass-url", cfg.OverpassURL, "Overpass API endpoint")
	poiCmd.Flags().StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address for the POI cache")
	poiCmd.MarkFlagRequired("city")
}

// POIOutput is the JSON document written by the poi command
type POIOutput struct {
	City   string           `json:"city"`
	Layers []POIOutputLayer `json:"layers"`
}

type POIOutputLayer struct {
	Layer string    `json:"layer"`
	Count int       `json:"count"`
	POIs  []poi.POI `json:"pois"`
}

// POIs flattens all layers
func (o *POIOutput) POIs() []poi.POI {
	var out []poi.POI
	for _, l := range o.Layers {
		out = append(out, l.POIs...)
	}
	return out
}

func runPOI(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	out, err := collectPOIs(ctx, poiCity, poiLayers, layersFileOr(poiLayersFile))
	if err != nil {
		exitWithError("failed to collect POIs", err)
	}
	if err := writeOutput(poiOutput, out); err != nil {
		exitWithError("failed to write output", err)
	}
}

func layersFileOr(path string) string {
	if path != "" {
		return path
	}
	return cfg.LayersFile
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func collectPOIs(ctx context.Context, cityName, layerNames, layersFile string) (*POIOutput, error) {
	log := logger.Get()

	pc, err := newPOICollector(ctx, layersFile)
	if err != nil {
		return nil, err
	}
	defer pc.Close()

	city, err := pc.layers.City(cityName)
	if err != nil {
		return nil, err
	}
	layers, err := pc.layers.Select(splitList(layerNames))
	if err != nil {
		return nil, err
	}

	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	startMetrics(metricsCtx)

	start := time.Now()
	results, err := pc.collector.Collect(ctx, layers, city)
	if err != nil {
		return nil, err
	}

	out := &POIOutput{City: city.Name, Layers: make([]POIOutputLayer, 0, len(results))}
	total := 0
	for _, res := range results {
		out.Layers = append(out.Layers, POIOutputLayer{
			Layer: res.Layer.Name,
			Count: len(res.POIs),
			POIs:  res.POIs,
		})
		total += len(res.POIs)
	}

	log.Info("POI collection complete",
		zap.String("city", city.Name),
		zap.Int("layers", len(out.Layers)),
		zap.Int("pois", total),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}
