// Command annovault scans a dataset root for known annotation layouts and
// imports the detected splits into the storage engine.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/annovault/annovault/internal/cocostream"
	"github.com/annovault/annovault/internal/config"
	"github.com/annovault/annovault/internal/database"
	"github.com/annovault/annovault/internal/events"
	"github.com/annovault/annovault/internal/extensions"
	"github.com/annovault/annovault/internal/importer"
	"github.com/annovault/annovault/internal/loader"
	"github.com/annovault/annovault/internal/logger"
	"github.com/annovault/annovault/internal/scanner"
	"github.com/annovault/annovault/internal/storage"
	"github.com/annovault/annovault/internal/thumbs"
	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	// Built-in extensions register themselves at init.
	_ "github.com/annovault/annovault/internal/extensions/tagger"
)

func main() {
	var (
		root       = flag.String("root", "", "dataset root path or gs:// URI to import")
		name       = flag.String("name", "", "dataset name (defaults to the root directory name)")
		configPath = flag.String("config", "", "path to a YAML configuration file")
		scanOnly   = flag.Bool("scan-only", false, "detect splits and exit without importing")
		deleteName = flag.String("delete", "", "delete the named dataset instead of importing")
	)
	flag.Parse()

	if *root == "" && *deleteName == "" {
		fmt.Fprintln(os.Stderr, "usage: annovault --root <path> [--name <dataset>] [--scan-only] | --delete <dataset>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := run(*root, *name, *configPath, *scanOnly, *deleteName); err != nil {
		logger.Error("annovault failed", logger.Err("error", err))
		os.Exit(1)
	}
}

func run(root, name, configPath string, scanOnly bool, deleteName string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Configure(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := database.Connect(&cfg.Database)
	if err != nil {
		return err
	}

	resolver := storage.NewResolver()
	bus := events.NewBus(100)
	bus.Start(ctx)
	defer bus.Stop()

	dispatcher := extensions.NewDispatcher()
	defer dispatcher.Close()
	if _, err := dispatcher.Discover(cfg.Plugins.Dir); err != nil {
		logger.Warn("extension discovery failed", logger.Err("error", err))
	}
	if cfg.Plugins.EnableHotReload {
		if err := dispatcher.Watch(cfg.Plugins.Dir); err != nil {
			logger.Warn("extension hot reload unavailable", logger.Err("error", err))
		}
	}

	driver := importer.New(
		cfg,
		scanner.New(&cfg.Scanner, resolver),
		cocostream.NewCOCO(resolver, cfg.Ingest.BatchSize),
		loader.New(db),
		thumbs.New(&cfg.Thumbnails, resolver),
		dispatcher,
		bus,
	)

	if deleteName != "" {
		var ds database.Dataset
		if err := db.First(&ds, "name = ?", deleteName).Error; err != nil {
			return fmt.Errorf("dataset %q not found: %w", deleteName, err)
		}
		if err := driver.Delete(&ds); err != nil {
			return err
		}
		fmt.Printf("deleted dataset %q\n", deleteName)
		return nil
	}

	result, err := driver.Scan(ctx, root)
	if err != nil {
		return err
	}
	if result.Empty() {
		fmt.Printf("no dataset detected under %s\n", root)
		return nil
	}

	fmt.Printf("detected %s dataset %q with %d split(s):\n",
		result.Format, result.DatasetName, len(result.Splits))
	for _, split := range result.Splits {
		fmt.Printf("  %-12s %6d images  %s\n", split.Name, split.ImageCount, split.AnnotationPath)
	}
	for _, warning := range result.Warnings {
		fmt.Printf("  warning: %s\n", warning)
	}
	if scanOnly {
		return nil
	}

	req := driver.Request(result, name)
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("importing"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	for p := range driver.Run(ctx, req) {
		switch p.Stage {
		case importer.StageError:
			bar.Clear()
			return p.Err
		case importer.StageSplitStarted:
			bar.Describe(fmt.Sprintf("importing %s", p.Split))
		case importer.StageSplitComplete, importer.StageComplete:
			bar.Clear()
			fmt.Println(p.Message)
		default:
			bar.Describe(fmt.Sprintf("%s %s: %s", p.Split, p.Stage, p.Message))
			bar.Add(1)
		}
	}
	return nil
}
