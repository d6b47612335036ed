package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/exportra/internal/config"
	"github.com/mantonx/exportra/internal/database"
	"github.com/mantonx/exportra/internal/modules/exportmodule"
	"github.com/mantonx/exportra/internal/server"
	"github.com/mantonx/exportra/internal/timeline"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  exportra serve")
	fmt.Fprintln(os.Stderr, "  exportra export -snapshot <timeline.json> [-o <output.mp4>] [-preset <name>]")
	fmt.Fprintln(os.Stderr, "  exportra presets")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "serve":
		logger, manager, cleanup, cfg := bootstrap()
		runServer(logger, cfg, manager, cleanup)
	case "export":
		fs := flag.NewFlagSet("export", flag.ExitOnError)
		snapshotPath := fs.String("snapshot", "", "timeline snapshot JSON to export")
		outputPath := fs.String("o", "", "output file path")
		preset := fs.String("preset", "", "output preset name (see `exportra presets`)")
		fs.Parse(os.Args[2:])

		if *snapshotPath == "" {
			fmt.Fprintln(os.Stderr, "exportra export: -snapshot is required")
			fs.Usage()
			os.Exit(2)
		}

		logger, manager, _, _ := bootstrap()
		if err := runOneShot(logger, manager, *snapshotPath, *outputPath, *preset); err != nil {
			logger.Error("export failed", "error", err)
			os.Exit(1)
		}
	case "presets":
		for _, p := range exportmodule.Presets() {
			fmt.Printf("%-16s %dx%d @ %d fps\n", p.Name, p.Width, p.Height, p.FPS)
		}
	default:
		usage()
	}
}

// bootstrap wires the shared pieces both subcommands need: config,
// logging, database, store, encoder, manager, and cleanup.
func bootstrap() (hclog.Logger, *exportmodule.Manager, *exportmodule.CleanupService, *config.Config) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "exportra: %v\n", err)
		os.Exit(1)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "exportra",
		Level: hclog.LevelFromString(cfg.Logging.Level),
	})

	db, err := database.Open(cfg.Database)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}

	store := exportmodule.NewExportStore(db, logger)
	if marked, err := store.MarkStaleRunning(); err != nil {
		logger.Warn("failed to mark stale sessions", "error", err)
	} else if marked > 0 {
		logger.Info("marked stale sessions from previous run", "count", marked)
	}

	dispatcher := exportmodule.NewDispatcher(logger, cfg.Export.FFmpegPath)
	manager := exportmodule.NewManager(logger, cfg.Export, store, dispatcher)
	cleanup := exportmodule.NewCleanupService(logger, cfg.Export, store, manager)
	return logger, manager, cleanup, cfg
}

func loadConfig() (*config.Config, error) {
	configPath := os.Getenv("EXPORTRA_CONFIG_PATH")
	if configPath == "" {
		if _, err := os.Stat("./exportra.yaml"); err == nil {
			configPath = "./exportra.yaml"
		}
	}
	return config.Load(configPath)
}

// runOneShot exports a single timeline and blocks until it finishes.
func runOneShot(logger hclog.Logger, manager *exportmodule.Manager, snapshotPath, outputPath, preset string) error {
	snapshot, err := timeline.Load(snapshotPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := manager.StartExport(ctx, snapshot, exportmodule.ExportOptions{
		OutputPath: outputPath,
		Preset:     preset,
		Listener: func(report exportmodule.ProgressReport) {
			logger.Info("progress", "state", report.State, "percent", report.Percent, "message", report.Message)
		},
	})
	if err != nil {
		return err
	}

	<-session.Done()
	if err := session.Err(); err != nil {
		return err
	}

	result := session.Result()
	logger.Info("export finished",
		"output", result.Output.Path,
		"copy_mode", result.UsedCopyMode,
		"frames", result.FramesWritten,
		"elapsed", result.Elapsed)
	fmt.Println(result.Output.Path)
	return nil
}

// runServer runs the HTTP service with the cleanup loop until a signal
// arrives.
func runServer(logger hclog.Logger, cfg *config.Config, manager *exportmodule.Manager, cleanup *exportmodule.CleanupService) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go cleanup.Run(ctx)

	handler := exportmodule.NewAPIHandler(manager, cleanup, logger)
	srv := server.New(logger, cfg.Server, handler)

	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	if err := srv.Start(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("exportra stopped")
}
