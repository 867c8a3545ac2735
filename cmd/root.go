package cmd

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/wegman-software/mapcircle-go/internal/config"
	"github.com/wegman-software/mapcircle-go/internal/logger"
)

var (
	cfg             = config.DefaultConfig()
	configFile      string
	verbose         bool
	logFile         string
	metricsInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "mapcircle",
	Short: "KML/KMZ import, coverage maps and POI layers",
	Long: `mapcircle turns KML and KMZ files into colored point groups with coverage
circles and serves them to the map frontend.

Features:
  - KML/KMZ import from files or URLs, one group per folder
  - Viewport filtering and centroid computation
  - Map storage in PostgreSQL/PostGIS with access control
  - Static POI layers from OpenStreetMap and a synthetic activity heatmap
  - GeoJSON, KML and Parquet export
  - Lua hooks for post-processing imported groups`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if logFile != "" {
			logger.InitWithFile(verbose, logFile)
		} else {
			logger.Init(verbose)
		}

		if err := loadConfig(cmd); err != nil {
			exitWithError("invalid configuration", err)
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().IntVarP(&cfg.Workers, "workers", "j", cfg.Workers, "Number of parallel workers")

	// Logging and metrics flags
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Path to log file for persistent logging (JSON format)")
	rootCmd.PersistentFlags().DurationVar(&metricsInterval, "metrics-interval", 30*time.Second, "Interval for system metrics logging (e.g., 10s, 1m)")

	// Import flags shared by every command that parses files
	rootCmd.PersistentFlags().IntVar(&cfg.DefaultRadius, "radius", cfg.DefaultRadius, "Default coverage radius in meters")
	rootCmd.PersistentFlags().StringVar(&cfg.ColorPolicy, "color-policy", cfg.ColorPolicy, "Folder color when placemarks disagree: last or first")
	rootCmd.PersistentFlags().StringVar(&cfg.ScriptFile, "script", cfg.ScriptFile, "Lua script defining mapcircle.process_group")
	rootCmd.PersistentFlags().DurationVar(&cfg.FetchTimeout, "fetch-timeout", cfg.FetchTimeout, "Timeout for remote downloads")

	// Database flags (persistent so they're available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfg.DBURL, "db-url", cfg.DBURL, "PostgreSQL connection URL (overrides the individual settings)")
	rootCmd.PersistentFlags().StringVar(&cfg.DBHost, "db-host", cfg.DBHost, "PostgreSQL host")
	rootCmd.PersistentFlags().IntVar(&cfg.DBPort, "db-port", cfg.DBPort, "PostgreSQL port")
	rootCmd.PersistentFlags().StringVarP(&cfg.DBName, "db-name", "d", cfg.DBName, "PostgreSQL database name")
	rootCmd.PersistentFlags().StringVarP(&cfg.DBUser, "db-user", "U", cfg.DBUser, "PostgreSQL user")
	rootCmd.PersistentFlags().StringVarP(&cfg.DBPassword, "db-password", "W", cfg.DBPassword, "PostgreSQL password")
	rootCmd.PersistentFlags().StringVar(&cfg.DBSchema, "db-schema", cfg.DBSchema, "PostgreSQL schema")
}

// loadConfig layers settings: defaults, config file, .env and environment,
// then flags given on the command line
func loadConfig(cmd *cobra.Command) error {
	log := logger.Get()

	if err := godotenv.Load(); err == nil {
		log.Debug("Loaded .env file")
	}

	changed := make(map[string]string)
	cmd.Flags().Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})

	if configFile != "" {
		fileCfg, err := config.LoadFile(configFile)
		if err != nil {
			return err
		}
		*cfg = *fileCfg
		log.Debug("Loaded config file", zap.String("path", configFile))
	}
	cfg.ApplyEnv(os.Getenv)

	for name, value := range changed {
		if err := cmd.Flags().Set(name, value); err != nil {
			return err
		}
	}
	cfg.Verbose = verbose
	cfg.LogFile = logFile
	if cmd.Flags().Changed("metrics-interval") || configFile == "" {
		cfg.MetricsInterval = metricsInterval
	}

	return cfg.Validate()
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	os.Exit(1)
}
