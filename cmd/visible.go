package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/mapcircle-go/internal/geo"
	"github.com/wegman-software/mapcircle-go/internal/logger"
	"github.com/wegman-software/mapcircle-go/internal/mapstate"
)

var (
	visibleBBox   string
	visibleHidden []string
	visibleOutput string
)

var visibleCmd = &cobra.Command{
	Use:   "visible <file.kml|file.kmz|url|groups.json>",
	Short: "List the points inside a viewport",
	Long: `List the points of visible groups that fall inside a bounding box.

Groups can be hidden by id or name with --hide. Points are listed in layer
order, each tagged with its group.`,
	Args: cobra.ExactArgs(1),
	Run:  runVisible,
}

func init() {
	rootCmd.AddCommand(visibleCmd)

	visibleCmd.Flags().StringVarP(&visibleBBox, "bbox", "b", "", "Viewport: south,west,north,east")
	visibleCmd.Flags().StringSliceVar(&visibleHidden, "hide", nil, "Group ids or names to hide")
	visibleCmd.Flags().StringVarP(&visibleOutput, "output", "o", "", "Write JSON to file instead of stdout")
	visibleCmd.MarkFlagRequired("bbox")
}

func runVisible(cmd *cobra.Command, args []string) {
	log := logger.Get()
	ctx, cancel := signalContext()
	defer cancel()

	bounds, err := geo.ParseBounds(visibleBBox)
	if err != nil {
		exitWithError("invalid bbox", err)
	}
	if !bounds.Valid() {
		log.Warn("Bounding box is inverted or not finite, no point can be visible", zap.String("bbox", visibleBBox))
	}

	groups, err := loadGroups(ctx, args[0])
	if err != nil {
		exitWithError("failed to load groups", err)
	}

	state := mapstate.FromGroups(groups, cfg.FallbackCenter)
	for _, key := range visibleHidden {
		for _, g := range groups {
			if g.ID == key || g.Name == key {
				if state.Settings[g.ID].Visible {
					state, _ = mapstate.ToggleGroup(state, g.ID)
				}
			}
		}
	}

	points := mapstate.VisiblePoints(state, bounds)
	log.Info("Viewport filtered",
		zap.Int("groups", len(groups)),
		zap.Int("hidden", len(visibleHidden)),
		zap.Int("points", len(points)))

	out := map[string]any{
		"bounds": bounds,
		"points": points,
		"count":  len(points),
	}
	if err := writeOutput(visibleOutput, out); err != nil {
		exitWithError("failed to write output", err)
	}
}
