package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/querymend/querymend/core/catalog"
	"github.com/querymend/querymend/core/cli/internal"
	"github.com/querymend/querymend/core/generation"
	"github.com/querymend/querymend/core/history"
	"github.com/querymend/querymend/core/logger"
	"github.com/querymend/querymend/core/pipeline"
	"github.com/querymend/querymend/core/runtime/engines"
	"github.com/querymend/querymend/core/runtime/executor"
)

var (
	askSource      string
	askRequireRows bool
)

// askCmd runs a single question from the terminal, without the server.
var askCmd = &cobra.Command{
	Use:           "ask [question]",
	Short:         "Run one question against a data source and print the result",
	RunE:          runAsk,
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().StringVarP(&configFile, "config", "f", "", "Path to querymend.yaml (default: ./querymend.yaml)")
	askCmd.Flags().StringVarP(&askSource, "source", "s", "", "Data source id to query (required)")
	askCmd.Flags().BoolVar(&askRequireRows, "require-rows", false, "Treat zero-row results as failures and retry with broadened filters")
	askCmd.Flags().IntVar(&logLevel, "log-level", 0, "Log level: 1=ERROR, 2=WARN, 3=INFO, 4=DEBUG")
	askCmd.Flags().BoolVar(&verbose, "verbose", false, "Enable verbose logging (sets log level to DEBUG)")
	_ = askCmd.MarkFlagRequired("source")
}

func runAsk(cmd *cobra.Command, args []string) error {
	log := logger.New("ask")
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

	cache, err := executor.NewCache(cfg.Cache)
	if err != nil {
		return err
	}
	manager := engines.NewManager()
	defer func() { _ = manager.CloseAll() }()
	exec := executor.New(cat, manager, cache, cfg.Cache.TTL.Std())
	defer exec.Close()

	pipe := pipeline.New(cat, generation.NewClient(cfg.Generation), exec,
		cfg.Pipeline, cfg.Generation.ContextWindow)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	req := pipeline.Request{
		Question:    strings.Join(args, " "),
		SourceID:    askSource,
		RequireRows: askRequireRows,
	}
	res := pipe.Run(ctx, req)

	archiveAsk(cfg.History.Path, req, res)

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if err := res.Err(); err != nil {
		return err
	}
	if res.Result != nil {
		log.Successf("%d row(s) in %d attempt(s)", res.Result.RowCount, res.Attempts)
	}
	return nil
}

// archiveAsk records the run like the server does. Failures only warn, the
// answer was already printed.
func archiveAsk(path string, req pipeline.Request, res *pipeline.RunResult) {
	if path == "" {
		return
	}
	log := logger.New("ask")
	store, err := history.Open(path)
	if err != nil {
		log.Warnf("Failed to open run history: %v", err)
		return
	}
	defer store.Close()
	if _, err := store.Save(context.Background(), history.FromRun("cli", req, res)); err != nil {
		log.Warnf("Failed to archive run: %v", err)
	}
}
