// Package report emits the run artifacts other tooling and humans read:
// deployment config, the inventory JSON, the parity report, and a README.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sabadzma/portfolio-local/localize"
	"github.com/Sabadzma/portfolio-local/parity"
)

// vercelConfig mirrors the static-hosting settings the clone relies on:
// immutable asset caching and a module-script MIME override.
type vercelConfig struct {
	Version       int            `json:"version"`
	Public        bool           `json:"public"`
	CleanURLs     bool           `json:"cleanUrls"`
	TrailingSlash bool           `json:"trailingSlash"`
	Headers       []vercelHeader `json:"headers"`
}

type vercelHeader struct {
	Source  string           `json:"source"`
	Headers []vercelHeaderKV `json:"headers"`
}

type vercelHeaderKV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// WriteVercelConfig writes vercel.json at the output root.
func WriteVercelConfig(root string) error {
	cfg := vercelConfig{
		Version:   2,
		Public:    true,
		CleanURLs: true,
		Headers: []vercelHeader{
			{
				Source: "/assets/(.*)",
				Headers: []vercelHeaderKV{
					{Key: "Cache-Control", Value: "public, max-age=31536000, immutable"},
				},
			},
			{
				Source: "/(.*).mjs",
				Headers: []vercelHeaderKV{
					{Key: "Content-Type", Value: "application/javascript"},
				},
			},
		},
	}
	return writeJSON(filepath.Join(root, "vercel.json"), cfg)
}

// WriteServeScript writes a serve.sh helper that hosts the public tree.
func WriteServeScript(root string, port int) error {
	script := fmt.Sprintf(`#!/bin/bash
cd "$(dirname "$0")/public"
echo "Site running at http://localhost:%d"
python3 -m http.server %d
`, port, port)
	path := filepath.Join(root, "serve.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return nil
}

// WriteRecon persists the discovered route list.
func WriteRecon(path, sourceURL string, routes []string) error {
	return writeJSON(path, map[string]any{
		"source_url": sourceURL,
		"routes":     routes,
	})
}

// WriteInventory persists the categorized asset inventory.
func WriteInventory(path string, inv localize.Inventory) error {
	// Stable key order: categories as string map for readable JSON.
	out := make(map[string][]*localize.DownloadRecord, len(inv))
	for _, cat := range []localize.Category{
		localize.CategoryFont, localize.CategoryImage, localize.CategoryScript,
		localize.CategoryStyle, localize.CategoryOther,
	} {
		out[string(cat)] = inv[cat]
	}
	return writeJSON(path, out)
}

// WriteParityReport writes PARITY_REPORT.md at the output root.
func WriteParityReport(root, sourceURL string, routes []string, inv localize.Inventory, results []parity.Result) error {
	var b strings.Builder
	b.WriteString("# Parity Report\n\n")
	fmt.Fprintf(&b, "**Source:** %s  \n", sourceURL)
	b.WriteString("**Approach:** Pure static HTML with localized assets\n\n")

	b.WriteString("## Discovered Routes\n\n")
	for _, r := range routes {
		fmt.Fprintf(&b, "- `%s`\n", r)
	}
	b.WriteString("\n## Asset Inventory\n\n")
	for _, cat := range []localize.Category{
		localize.CategoryFont, localize.CategoryImage, localize.CategoryScript,
		localize.CategoryStyle, localize.CategoryOther,
	} {
		recs := inv[cat]
		if len(recs) == 0 {
			continue
		}
		mb := float64(inv.TotalSize(cat)) / 1024 / 1024
		fmt.Fprintf(&b, "- **%s**: %d files (%.2f MB)\n", cat, len(recs), mb)
	}

	b.WriteString("\n## Visual Parity\n\n")
	viewports := viewportNames(results)
	fmt.Fprintf(&b, "| Route | %s |\n", strings.Join(viewports, " | "))
	b.WriteString("|-------|" + strings.Repeat("---------|", len(viewports)) + "\n")

	byPair := make(map[string]map[string]*float64)
	for _, res := range results {
		if byPair[res.Route] == nil {
			byPair[res.Route] = make(map[string]*float64)
		}
		byPair[res.Route][res.Viewport] = res.Similarity
	}
	for _, route := range routes {
		cells := make([]string, 0, len(viewports))
		for _, vp := range viewports {
			cells = append(cells, similarityCell(byPair[route][vp]))
		}
		fmt.Fprintf(&b, "| `%s` | %s |\n", route, strings.Join(cells, " | "))
	}

	b.WriteString("\n## Known Differences\n\n")
	b.WriteString("1. Hosting-platform editor badge not present in the clone (expected)\n")
	b.WriteString("2. Minor page-height variations due to rendering timing\n")
	b.WriteString("3. Hydration console warnings (cosmetic only)\n")

	path := filepath.Join(root, "PARITY_REPORT.md")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return nil
}

// WriteReadme writes the run/deploy instructions at the output root.
func WriteReadme(root, sourceURL string, port int) error {
	text := fmt.Sprintf(`# Static Site Clone

Static clone of **%s**

## Run locally

`+"```bash"+`
./serve.sh
`+"```"+`

Open http://localhost:%d

## Deploy on Vercel

`+"```bash"+`
npm i -g vercel && vercel
`+"```"+`

Set the root directory to `+"`public`"+`.

## Parity

See [PARITY_REPORT.md](PARITY_REPORT.md) and `+"`parity/screenshots/`"+`.
`, sourceURL, port)
	path := filepath.Join(root, "README.md")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return nil
}

func viewportNames(results []parity.Result) []string {
	var names []string
	seen := make(map[string]bool)
	for _, res := range results {
		if !seen[res.Viewport] {
			seen[res.Viewport] = true
			names = append(names, res.Viewport)
		}
	}
	if len(names) == 0 {
		names = []string{"desktop", "mobile"}
	}
	return names
}

func similarityCell(sim *float64) string {
	if sim == nil {
		return "failed"
	}
	return fmt.Sprintf("%.2f%%", *sim)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("report: mkdir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return nil
}
