// Package clone drives a full run: discover routes, render and save each
// page, localize every remote asset, emit deployment artifacts, and score
// the result against the source site.
package clone

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Sabadzma/portfolio-local/browser"
	"github.com/Sabadzma/portfolio-local/capture"
	"github.com/Sabadzma/portfolio-local/journal"
	"github.com/Sabadzma/portfolio-local/localize"
	"github.com/Sabadzma/portfolio-local/parity"
	"github.com/Sabadzma/portfolio-local/recon"
	"github.com/Sabadzma/portfolio-local/report"
	"github.com/Sabadzma/portfolio-local/serve"
)

// Result summarizes a completed run.
type Result struct {
	Routes    []string
	Pages     []capture.PageResult
	Assets    int
	Rewritten int
	Parity    []parity.Result
}

// Cloner runs the phases of a clone in order. Each phase degrades rather
// than aborts where it can: a route that fails to render or an asset that
// fails to download is logged and skipped, and the run carries on.
type Cloner struct {
	cfg *Config
}

// New creates a Cloner from the configuration.
func New(cfg *Config) (*Cloner, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Cloner{cfg: cfg}, nil
}

// Run executes the full pipeline and returns its summary. The context
// cancels long phases; artifacts written before cancellation stay on disk.
func (c *Cloner) Run(ctx context.Context) (*Result, error) {
	cfg := c.cfg
	log := cfg.Logger
	publicDir := filepath.Join(cfg.OutputDir, "public")

	var j *journal.Journal
	var runID int64
	if cfg.JournalPath != "" {
		var err error
		j, err = journal.Open(cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		defer j.Close()
		if runID, err = j.BeginRun(cfg.SourceURL); err != nil {
			return nil, err
		}
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL: cfg.Browser.Remote,
		Headful:   cfg.Browser.Headful,
		UserAgent: cfg.Browser.UserAgent,
		Logger:    log,
	})
	if _, err := mgr.Start(); err != nil {
		return nil, err
	}
	defer mgr.Close()

	// Phase 1: route discovery.
	disc := &recon.Discoverer{Mgr: mgr, Logger: log}
	routes, err := disc.Routes(ctx, cfg.SourceURL)
	if err != nil {
		return nil, err
	}
	if err := report.WriteRecon(
		filepath.Join(cfg.OutputDir, "recon_results.json"), cfg.SourceURL, routes); err != nil {
		return nil, err
	}

	// Phase 2: render and save each route's DOM.
	capt := &capture.Capturer{
		Mgr:        mgr,
		NavTimeout: cfg.Timeouts.Navigation,
		Settle:     cfg.Timeouts.Settle,
		Logger:     log,
	}
	pages := capt.CaptureAll(ctx, cfg.SourceURL, routes, publicDir)
	if len(pages) == 0 {
		return nil, fmt.Errorf("clone: no routes captured")
	}

	// Phase 3: localize assets and rewrite references.
	cache := localize.NewCache(publicDir,
		localize.WithConcurrency(int64(cfg.Concurrency)),
		localize.WithCacheLogger(log))
	rw := localize.NewRewriter(cache,
		localize.WithRewriterLogger(log),
		localize.WithWorkers(cfg.Concurrency))
	pipe := localize.NewPipeline(cache, rw, localize.WithPipelineLogger(log))

	rewritten, err := pipe.Run(ctx)
	if err != nil {
		return nil, err
	}
	inv := cache.Snapshot()

	res := &Result{
		Routes:    routes,
		Pages:     pages,
		Assets:    cache.Count(),
		Rewritten: rewritten,
	}

	// Phase 4: deployment artifacts.
	if err := report.WriteVercelConfig(cfg.OutputDir); err != nil {
		return nil, err
	}
	if err := report.WriteServeScript(cfg.OutputDir, cfg.Port); err != nil {
		return nil, err
	}
	if err := report.WriteInventory(
		filepath.Join(cfg.OutputDir, "asset_inventory.json"), inv); err != nil {
		return nil, err
	}

	// Phase 5: visual parity against the served clone.
	if !cfg.SkipScreenshots {
		results, err := c.runParity(ctx, capt, publicDir, routes)
		if err != nil {
			log.Warn("clone: parity phase failed", "error", err)
		} else {
			res.Parity = results
		}
	}

	// Phase 6: human-facing reports.
	if err := report.WriteParityReport(
		cfg.OutputDir, cfg.SourceURL, routes, inv, res.Parity); err != nil {
		return nil, err
	}
	if err := report.WriteReadme(cfg.OutputDir, cfg.SourceURL, cfg.Port); err != nil {
		return nil, err
	}

	if j != nil {
		if err := j.RecordDownloads(runID, inv); err != nil {
			log.Warn("clone: journal downloads", "error", err)
		}
		if len(res.Parity) > 0 {
			if err := j.RecordParity(runID, res.Parity); err != nil {
				log.Warn("clone: journal parity", "error", err)
			}
		}
		if err := j.FinishRun(runID, len(routes), res.Assets); err != nil {
			log.Warn("clone: journal finish", "error", err)
		}
	}

	log.Info("clone: run complete",
		"routes", len(routes), "pages", len(pages),
		"assets", res.Assets, "rewritten", rewritten)
	return res, nil
}

// runParity serves the localized tree and screenshots source and clone at
// every route x viewport pair.
func (c *Cloner) runParity(ctx context.Context, capt *capture.Capturer, publicDir string, routes []string) ([]parity.Result, error) {
	cfg := c.cfg

	srv := serve.New(publicDir, cfg.Logger)
	if err := srv.Start(fmt.Sprintf("127.0.0.1:%d", cfg.Port)); err != nil {
		return nil, err
	}
	defer srv.Shutdown(context.Background())

	runner := &parity.Runner{
		SourceURL: strings.TrimRight(cfg.SourceURL, "/"),
		LocalURL:  fmt.Sprintf("http://127.0.0.1:%d", cfg.Port),
		Dir:       filepath.Join(cfg.OutputDir, "parity"),
		Viewports: cfg.Viewports,
		Capturer:  capt,
		Logger:    cfg.Logger,
	}
	return runner.Run(ctx, routes)
}
