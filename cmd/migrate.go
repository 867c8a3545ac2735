package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/mapcircle-go/internal/config"
	"github.com/wegman-software/mapcircle-go/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Long: `Create the PostGIS extension and the maps, groups, points, polygons,
comments and access tables. Safe to run repeatedly.`,
	Run: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) {
	log := logger.Get()
	ctx, cancel := signalContext()
	defer cancel()

	if !cfg.DatabaseConfigured() {
		exitWithError("no database configured: set --db-url or "+config.EnvDatabaseURL, nil)
	}

	st, err := openStore(ctx)
	if err != nil {
		exitWithError("failed to connect to database", err)
	}
	err = st.Migrate(ctx)
	st.Close()
	if err != nil {
		exitWithError("migration failed", err)
	}
	log.Info("Schema is up to date", zap.String("schema", cfg.DBSchema))
}
