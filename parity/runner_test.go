package parity

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeCapturer writes a solid PNG per call, or fails for matching URLs.
type fakeCapturer struct {
	failSubstring string
	calls         int
}

func (f *fakeCapturer) Screenshot(ctx context.Context, url string, vp Viewport, outPath string) error {
	f.calls++
	if f.failSubstring != "" && strings.Contains(url, f.failSubstring) {
		return fmt.Errorf("capture refused for %s", url)
	}
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+3] = 0xff
	}
	return writePNG(outPath, img)
}

func TestRunner_CrossProductAndLayout(t *testing.T) {
	// WHAT: Two routes x two viewports yield four ordered results and the
	// documented screenshots/diffs layout on disk.
	// WHY: Downstream report tooling depends on both.
	dir := t.TempDir()
	r := &Runner{
		SourceURL: "https://source.example",
		LocalURL:  "http://localhost:8000",
		Dir:       dir,
		Capturer:  &fakeCapturer{},
	}

	results, err := r.Run(context.Background(), []string{"/", "/about"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("results = %d, want 4", len(results))
	}

	wantOrder := []string{"/|desktop", "/|mobile", "/about|desktop", "/about|mobile"}
	for i, res := range results {
		if got := res.Route + "|" + res.Viewport; got != wantOrder[i] {
			t.Errorf("result[%d] = %s, want %s", i, got, wantOrder[i])
		}
		if !res.Captured || res.Similarity == nil || *res.Similarity != 100 {
			t.Errorf("result[%d] = %+v, want captured with similarity 100", i, res)
		}
	}

	for _, p := range []string{
		filepath.Join(dir, "screenshots", "home", "desktop", "source.png"),
		filepath.Join(dir, "screenshots", "home", "desktop", "local.png"),
		filepath.Join(dir, "screenshots", "about", "mobile", "source.png"),
		filepath.Join(dir, "diffs", "home", "desktop_diff.png"),
		filepath.Join(dir, "diffs", "about", "mobile_diff.png"),
	} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing artifact: %s", p)
		}
	}
}

func TestRunner_CaptureFailureIsolated(t *testing.T) {
	// WHAT: A route whose source capture fails reports captured=false and
	// a null similarity while other routes still compare.
	// WHY: A missing capture is not a 0% match, and one bad route must
	// not block the rest of the run.
	dir := t.TempDir()
	r := &Runner{
		SourceURL: "https://source.example",
		LocalURL:  "http://localhost:8000",
		Dir:       dir,
		Viewports: []Viewport{{Name: "desktop", Width: 1920, Height: 1080}},
		Capturer:  &fakeCapturer{failSubstring: "source.example/broken"},
	}

	results, err := r.Run(context.Background(), []string{"/broken", "/ok"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}

	broken, ok := results[0], results[1]
	if broken.Captured || broken.Similarity != nil {
		t.Errorf("broken route = %+v, want captured=false similarity=null", broken)
	}
	if !ok.Captured || ok.Similarity == nil {
		t.Errorf("ok route = %+v, want captured with similarity", ok)
	}

	// Null must survive serialization: absent is not zero.
	data, err := os.ReadFile(filepath.Join(dir, "parity_results.json"))
	if err != nil {
		t.Fatalf("results file: %v", err)
	}
	var decoded []Result
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded[0].Similarity != nil {
		t.Errorf("persisted broken similarity = %v, want null", *decoded[0].Similarity)
	}
	if !strings.Contains(string(data), `"similarity": null`) {
		t.Errorf("expected explicit null in JSON:\n%s", data)
	}
}

func TestRouteSlug(t *testing.T) {
	// WHAT: Route paths map to flat directory names; root maps to "home".
	// WHY: Slugs name screenshot directories.
	cases := map[string]string{
		"/":            "home",
		"/about":       "about",
		"/work/alpha/": "work_alpha",
	}
	for route, want := range cases {
		if got := RouteSlug(route); got != want {
			t.Errorf("RouteSlug(%q) = %q, want %q", route, got, want)
		}
	}
}

func TestRunner_LocalCaptureFailure(t *testing.T) {
	// WHAT: A failing local capture also yields captured=false.
	// WHY: Both sides of the pair are required for a comparison.
	dir := t.TempDir()
	r := &Runner{
		SourceURL: "https://source.example",
		LocalURL:  "http://localhost:8000",
		Dir:       dir,
		Viewports: []Viewport{{Name: "mobile", Width: 375, Height: 667}},
		Capturer:  &fakeCapturer{failSubstring: "localhost"},
	}
	results, err := r.Run(context.Background(), []string{"/"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Captured || results[0].Similarity != nil {
		t.Errorf("result = %+v, want captured=false", results[0])
	}
}
