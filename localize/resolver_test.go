package localize

import (
	"strings"
	"testing"
)

func TestResolve_FilenameFromURL(t *testing.T) {
	// WHAT: A URL with a usable final segment keeps it as the filename.
	// WHY: Readable asset trees beat hash soup when the origin cooperates.
	got := Resolve("https://cdn.example/fonts/Inter-Bold.woff2", CategoryFont)
	want := "assets/fonts/Inter-Bold.woff2"
	if got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}
}

func TestResolve_QueryStringIgnored(t *testing.T) {
	// WHAT: Query strings do not leak into the filename.
	// WHY: Two URLs differing only by query resolve to the path segment.
	got := Resolve("https://cdn.example/img/logo.png?v=3", CategoryImage)
	want := "assets/images/logo.png"
	if got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}
}

func TestResolve_HashFallbackNoExtension(t *testing.T) {
	// WHAT: An extensionless segment degrades to hash + category extension.
	// WHY: The local file still needs a type the static server can infer.
	got := Resolve("https://cdn.example/render/abcdef", CategoryImage)
	if !strings.HasPrefix(got, "assets/images/") || !strings.HasSuffix(got, ".png") {
		t.Errorf("Resolve = %q, want hash fallback under assets/images/ with .png", got)
	}
	name := strings.TrimSuffix(strings.TrimPrefix(got, "assets/images/"), ".png")
	if len(name) != 12 {
		t.Errorf("hash length = %d, want 12", len(name))
	}
}

func TestResolve_HashFallbackOversized(t *testing.T) {
	// WHAT: A >100 char final segment degrades to the hash fallback.
	// WHY: Some CDNs encode whole payload descriptors into the last segment.
	long := strings.Repeat("x", 120) + ".woff2"
	got := Resolve("https://cdn.example/"+long, CategoryFont)
	if !strings.HasSuffix(got, ".woff2") || strings.Contains(got, "xxxx") {
		t.Errorf("Resolve = %q, want hash fallback", got)
	}
}

func TestResolve_Deterministic(t *testing.T) {
	// WHAT: Identical inputs yield identical paths, malformed included.
	// WHY: Rewrites across many documents must agree on one local path.
	urls := []string{
		"https://cdn.example/app.js",
		"https://cdn.example/blob",
		"http://[::1]:namedport/broken",
		"",
	}
	for _, u := range urls {
		a := Resolve(u, CategoryScript)
		b := Resolve(u, CategoryScript)
		if a != b {
			t.Errorf("Resolve(%q) not deterministic: %q vs %q", u, a, b)
		}
		if a == "" {
			t.Errorf("Resolve(%q) produced empty path", u)
		}
	}
}

func TestResolve_CategoryDirectories(t *testing.T) {
	// WHAT: Each category lands in its own assets/ subdirectory.
	// WHY: The output layout is a contract other tooling depends on.
	cases := map[Category]string{
		CategoryFont:   "assets/fonts/",
		CategoryImage:  "assets/images/",
		CategoryScript: "assets/js/",
		CategoryStyle:  "assets/css/",
		CategoryOther:  "assets/other/",
	}
	for cat, prefix := range cases {
		got := Resolve("https://cdn.example/file.bin", cat)
		if !strings.HasPrefix(got, prefix) {
			t.Errorf("Resolve(%s) = %q, want prefix %q", cat, got, prefix)
		}
	}
}
