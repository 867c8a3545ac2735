package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/mapcircle-go/internal/geo"
	"github.com/wegman-software/mapcircle-go/internal/kml"
	"github.com/wegman-software/mapcircle-go/internal/logger"
)

var (
	importOutput string
	importMapID  string
)

var importCmd = &cobra.Command{
	Use:   "import <file.kml|file.kmz|url>...",
	Short: "Parse KML/KMZ files into groups",
	Long: `Parse one or more KML/KMZ files or URLs into named, colored groups.

Each folder becomes a group; placemarks outside folders form a single
"Imported Points" group. Inputs are parsed concurrently and their groups are
concatenated in argument order. The result is printed as JSON with the
centroid of all points and parsing statistics.

With --map-id the groups replace the stored groups of that map.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVarP(&importOutput, "output", "o", "", "Write JSON to file instead of stdout")
	importCmd.Flags().StringVar(&importMapID, "map-id", "", "Store the groups in this map (requires a database)")
}

// ImportResult is the JSON document printed by the import command
type ImportResult struct {
	Groups []kml.Group `json:"groups"`
	Center [2]float64  `json:"center"`
	Stats  kml.Stats   `json:"stats"`
}

func runImport(cmd *cobra.Command, args []string) {
	log := logger.Get()
	ctx, cancel := signalContext()
	defer cancel()

	start := time.Now()
	results, err := parseAll(ctx, args)
	if err != nil {
		exitWithError("import failed", err)
	}

	merged := &kml.Result{Groups: []kml.Group{}}
	for _, res := range results {
		merged.Groups = append(merged.Groups, res.Groups...)
		addStats(&merged.Stats, res.Stats)
	}
	if err := applyScript(merged); err != nil {
		exitWithError("script failed", err)
	}

	out := ImportResult{
		Groups: merged.Groups,
		Center: geo.CentroidOr(merged.Groups, cfg.FallbackCenter),
		Stats:  merged.Stats,
	}

	log.Info("Import complete",
		zap.Int("inputs", len(args)),
		zap.Int("groups", len(out.Groups)),
		zap.Int("points", out.Stats.Points),
		zap.Int("polygons", out.Stats.Polygons),
		zap.Int("skipped", out.Stats.Skipped()),
		zap.Duration("elapsed", time.Since(start)))

	if importMapID != "" {
		n, err := storeGroups(ctx, openPostgres, importMapID, out.Groups)
		if err != nil {
			exitWithError("failed to store groups", err)
		}
		log.Info("Stored groups", zap.String("map", importMapID), zap.Int("groups", n))
	}

	if err := writeOutput(importOutput, out); err != nil {
		exitWithError("failed to write output", err)
	}
}

// parseAll parses inputs concurrently, keeping argument order
func parseAll(ctx context.Context, inputs []string) ([]*kml.Result, error) {
	log := logger.Get()
	results := make([]*kml.Result, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, input := range inputs {
		g.Go(func() error {
			res, err := loadInput(gctx, input)
			if err != nil {
				return fmt.Errorf("%s: %w", input, err)
			}
			log.Debug("Parsed input",
				zap.String("input", input),
				zap.Int("groups", len(res.Groups)),
				zap.Int("skipped", res.Stats.Skipped()))
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// storeGroups replaces a map's groups and closes the store before returning
func storeGroups(ctx context.Context, open storeOpener, mapID string, groups []kml.Group) (int, error) {
	st, err := open(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to database: %w", err)
	}
	defer st.Close()

	stored, err := st.ReplaceGroups(ctx, mapID, groups)
	if err != nil {
		return 0, err
	}
	return len(stored), nil
}

func addStats(dst *kml.Stats, s kml.Stats) {
	dst.Folders += s.Folders
	dst.EmptyFolders += s.EmptyFolders
	dst.Placemarks += s.Placemarks
	dst.Points += s.Points
	dst.Polygons += s.Polygons
	dst.SkippedNoCoordinates += s.SkippedNoCoordinates
	dst.SkippedInvalid += s.SkippedInvalid
	dst.SkippedTwoVertex += s.SkippedTwoVertex
}
