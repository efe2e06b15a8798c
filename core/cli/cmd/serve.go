package cmd

import (
	"context"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/querymend/querymend/core/catalog"
	"github.com/querymend/querymend/core/cli/internal"
	"github.com/querymend/querymend/core/config"
	"github.com/querymend/querymend/core/generation"
	"github.com/querymend/querymend/core/history"
	"github.com/querymend/querymend/core/logger"
	"github.com/querymend/querymend/core/observability"
	"github.com/querymend/querymend/core/pipeline"
	"github.com/querymend/querymend/core/runtime/engines"
	"github.com/querymend/querymend/core/runtime/executor"
	"github.com/querymend/querymend/core/runtime/server"
	"github.com/querymend/querymend/core/runtime/server/middleware"
)

// serveCmd runs the HTTP server until SIGINT/SIGTERM.
var serveCmd = &cobra.Command{
	Use:           "serve",
	Short:         "Run the querymend HTTP server",
	RunE:          runServe,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&configFile, "config", "f", "", "Path to querymend.yaml (default: ./querymend.yaml)")
	serveCmd.Flags().StringVarP(&port, "port", "p", "", "Server port (overrides config file and PORT env var)")
	serveCmd.Flags().IntVar(&logLevel, "log-level", 0, "Log level: 1=ERROR, 2=WARN, 3=INFO, 4=DEBUG (overrides config file)")
	serveCmd.Flags().BoolVar(&verbose, "verbose", false, "Enable verbose logging (sets log level to DEBUG)")
	serveCmd.Flags().StringVar(&logTags, "log-tags", "", "Filter logs by tags (comma-separated, use -tag to exclude). Overrides QUERYMEND_LOG_TAGS env var")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.New("main")
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
	if logLevel == 0 && !verbose {
		logger.SetLevel(internal.ResolveLogLevel(verbose, logLevel, cfg))
	}
	if logTags == "" && cfg.Server.LogTags != "" {
		logger.SetTagFilter(cfg.Server.LogTags)
	}
	log.Infof("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.Setup(ctx, GetVersion())
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Telemetry shutdown: %v", err)
		}
	}()

	cat, err := catalog.NewFileCatalog(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	log.Infof("Catalog loaded: %d data source(s)", len(cat.List()))

	cache, err := executor.NewCache(cfg.Cache)
	if err != nil {
		return err
	}

	manager := engines.NewManager()
	if err := manager.InitializeAll(ctx, cat.List()); err != nil {
		cache.Close()
		return err
	}
	defer func() {
		if err := manager.CloseAll(); err != nil {
			log.Warnf("Engine shutdown: %v", err)
		}
	}()

	exec := executor.New(cat, manager, cache, cfg.Cache.TTL.Std())
	defer exec.Close()

	// Catalog edits invalidate cached results and schema snapshots. Sources
	// added by a reload get their engine lazily on first use.
	cat.OnReload(exec.InvalidateCaches)
	if err := cat.Watch(ctx); err != nil {
		log.Warnf("Catalog watch unavailable: %v", err)
	}

	gen := generation.NewClient(cfg.Generation)
	pipe := pipeline.New(cat, gen, exec, cfg.Pipeline, cfg.Generation.ContextWindow)

	var store *history.Store
	if cfg.History.Path != "" {
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			log.Warnf("Run history disabled: %v", err)
			store = nil
		} else {
			defer store.Close()
			log.Infof("Run history at %s", store.Path())
		}
	}

	opts := []server.Option{server.WithVersion(GetVersion())}
	if cfg.Server.RateLimit > 0 && cfg.Cache.Backend == "redis" {
		// Replicas sharing a Redis cache share the rate limit too.
		opts = append(opts, server.WithRateLimiter(middleware.NewRedisRateLimiter(
			redis.NewClient(&redis.Options{
				Addr:     cfg.Cache.RedisAddr,
				Password: cfg.Cache.RedisPassword,
				DB:       cfg.Cache.RedisDB,
			}))))
	}

	srv := server.New(cfg, cat, pipe, store, config.ResolvePort(port, cfg), opts...)
	return srv.Start()
}
