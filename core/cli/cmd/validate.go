package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/querymend/querymend/core/catalog"
	"github.com/querymend/querymend/core/cli/internal"
	"github.com/querymend/querymend/core/config"
	"github.com/querymend/querymend/core/logger"
)

// validateCmd checks the application config and the data source catalog
// without starting anything.
var validateCmd = &cobra.Command{
	Use:           "validate",
	Short:         "Validate the querymend config and data source catalog",
	RunE:          runValidate,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVarP(&configFile, "config", "f", "", "Path to querymend.yaml (default: ./querymend.yaml)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	log := logger.New("validate")
	configureLogging()

	if configFile != "" {
		LoadEnvFiles(filepath.Dir(configFile))
	} else {
		LoadEnvFiles(".")
	}

	cfg, err := internal.LoadConfig(configFile)
	if err != nil {
		return err
	}

	cat, err := catalog.NewFileCatalog(cfg.Catalog.Path)
	if err != nil {
		return err
	}

	printValidationSummary(log, cfg, cat)
	log.Successf("Configuration is valid")
	return nil
}

func printValidationSummary(log *logger.Logger, cfg *config.Config, cat *catalog.FileCatalog) {
	sources := cat.List()

	log.Info("Validation report:")
	log.Infof("  catalog: %s", cfg.Catalog.Path)
	log.Infof("  data sources (%d):", len(sources))
	if len(sources) == 0 {
		log.Info("    - none")
	}
	for _, ds := range sources {
		log.Infof("    - %s (%s, %s)", ds.ID, ds.Category, ds.EffectiveDialect())
	}

	log.Infof("  generation: %s via %s", cfg.Generation.Model, cfg.Generation.Endpoint)
	log.Infof("  cache backend: %s", effectiveCacheBackend(cfg))
	log.Infof("  pipeline: max %d attempt(s), fan-out limit %d",
		cfg.Pipeline.MaxAttempts, cfg.Pipeline.FanOutLimit)
	if cfg.History.Path != "" {
		log.Infof("  run history: %s", cfg.History.Path)
	} else {
		log.Info("  run history: disabled")
	}
}

func effectiveCacheBackend(cfg *config.Config) string {
	if cfg.Cache.Backend == "" {
		return "memory"
	}
	return cfg.Cache.Backend
}
