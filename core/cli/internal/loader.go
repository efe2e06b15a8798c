package internal

import (
	"os"

	"github.com/querymend/querymend/core/config"
	"github.com/querymend/querymend/core/logger"
)

const defaultConfigFile = "querymend.yaml"

// LoadConfig loads the application config. An explicit path must exist; with
// no path the default file is used when present, built-in defaults otherwise.
func LoadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return config.Load(defaultConfigFile)
	}
	logger.New("config").Debugf("No %s found, using built-in defaults", defaultConfigFile)
	return config.Default(), nil
}

// ResolveLogLevel resolves the log level from verbose flag, CLI flag, config file, or default
func ResolveLogLevel(verbose bool, cliLogLevel int, cfg *config.Config) int {
	if verbose {
		return logger.LevelDebug
	}
	if cliLogLevel > 0 {
		return cliLogLevel
	}
	if cfg != nil && cfg.Server.LogLevel > 0 {
		return cfg.Server.LogLevel
	}
	return logger.LevelInfo
}
