package serve

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func setupTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"index.html":             "<html>home</html>",
		"about/index.html":       "<html>about</html>",
		"assets/js/framer.mjs":   "export default 1",
		"assets/images/logo.png": "png-bytes",
	}
	for name, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestServer_CleanURLs(t *testing.T) {
	// WHAT: /, /about and /about/ all resolve to their index.html.
	// WHY: The localized tree must behave like the deployed site.
	srv := New(setupTree(t), nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	cases := map[string]string{
		"/":       "<html>home</html>",
		"/about":  "<html>about</html>",
		"/about/": "<html>about</html>",
	}
	for path, want := range cases {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body := make([]byte, 64)
		n, _ := resp.Body.Read(body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: status %d", path, resp.StatusCode)
		}
		if got := string(body[:n]); got != want {
			t.Errorf("GET %s = %q, want %q", path, got, want)
		}
	}
}

func TestServer_ModuleContentType(t *testing.T) {
	// WHAT: .mjs files are served as application/javascript.
	// WHY: Browsers refuse module imports with the wrong MIME type.
	srv := New(setupTree(t), nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/assets/js/framer.mjs")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Content-Type"); got != "application/javascript" {
		t.Errorf("Content-Type = %q, want application/javascript", got)
	}
}

func TestServer_NotFoundAndEscape(t *testing.T) {
	// WHAT: Missing paths 404; path traversal cannot leave the tree.
	// WHY: The preview server is exposed on a local port.
	srv := New(setupTree(t), nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for _, path := range []string{"/nope", "/../etc/passwd"} {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s: status %d, want 404", path, resp.StatusCode)
		}
	}
}
