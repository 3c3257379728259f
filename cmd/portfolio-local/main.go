// Command portfolio-local clones a rendered site into a static tree and
// scores the clone against the original.
//
// Usage:
//
//	portfolio-local -url https://my-site.framer.app/      # clone with defaults
//	portfolio-local -config clone.yaml                    # clone from YAML config
//	portfolio-local -serve -output ./out                  # serve an existing clone
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/Sabadzma/portfolio-local/clone"
	"github.com/Sabadzma/portfolio-local/serve"
)

func main() {
	configPath := flag.String("config", "", "path to clone.yaml config file")
	sourceURL := flag.String("url", "", "source site URL to clone")
	outputDir := flag.String("output", ".", "output directory")
	port := flag.Int("port", 8000, "local preview port")
	skipShots := flag.Bool("skip-screenshots", false, "skip the visual parity phase")
	journalPath := flag.String("journal", "", "SQLite journal path (empty = disabled)")
	serveOnly := flag.Bool("serve", false, "serve an existing clone and exit on interrupt")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *sourceURL, *outputDir, *port, *skipShots, *journalPath, *serveOnly); err != nil {
		logger.Error("portfolio-local: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, sourceURL, outputDir string, port int, skipShots bool, journalPath string, serveOnly bool) error {
	if serveOnly {
		return runServe(ctx, logger, outputDir, port)
	}

	var cfg *clone.Config
	if configPath != "" {
		loaded, err := clone.LoadConfigFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = &clone.Config{
			SourceURL:       sourceURL,
			OutputDir:       outputDir,
			Port:            port,
			SkipScreenshots: skipShots,
			JournalPath:     journalPath,
		}
	}
	cfg.Logger = logger

	if cfg.SourceURL == "" {
		fmt.Fprintln(os.Stderr, "usage: portfolio-local -url <url> | -config <file> | -serve")
		os.Exit(1)
	}

	cl, err := clone.New(cfg)
	if err != nil {
		return err
	}
	res, err := cl.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("cloned %d routes, %d assets localized, %d references rewritten\n",
		len(res.Routes), res.Assets, res.Rewritten)
	fmt.Printf("output: %s (run ./serve.sh to preview)\n", cfg.OutputDir)
	return nil
}

// runServe hosts an already-cloned public tree until interrupted.
func runServe(ctx context.Context, logger *slog.Logger, outputDir string, port int) error {
	dir := outputDir
	if fi, err := os.Stat(dir + "/public"); err == nil && fi.IsDir() {
		dir += "/public"
	}
	srv := serve.New(dir, logger)
	if err := srv.Start(fmt.Sprintf(":%d", port)); err != nil {
		return err
	}
	<-ctx.Done()
	return srv.Shutdown(context.Background())
}
