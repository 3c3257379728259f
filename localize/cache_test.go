package localize

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
)

func TestCache_FetchOnceUnderConcurrency(t *testing.T) {
	// WHAT: N concurrent lookups of a never-seen URL perform one GET.
	// WHY: The dedup invariant is the cache's reason to exist.
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("font-bytes"))
	}))
	defer srv.Close()

	cache := NewCache(t.TempDir())
	url := srv.URL + "/font.woff2"

	var wg sync.WaitGroup
	recs := make([]*DownloadRecord, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := cache.FetchOrGet(context.Background(), url, CategoryFont)
			if err != nil {
				t.Errorf("FetchOrGet: %v", err)
				return
			}
			recs[i] = rec
		}(i)
	}
	wg.Wait()

	if n := hits.Load(); n != 1 {
		t.Errorf("server hits = %d, want 1", n)
	}
	for i := 1; i < len(recs); i++ {
		if recs[i] != recs[0] {
			t.Fatalf("caller %d got a different record", i)
		}
	}
}

func TestCache_WritesFileAndInventory(t *testing.T) {
	// WHAT: A successful fetch materializes the file and appends one
	// inventory record with the byte size.
	// WHY: Reporting reads the inventory; the site reads the file.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	root := t.TempDir()
	cache := NewCache(root)
	rec, err := cache.FetchOrGet(context.Background(), srv.URL+"/logo.png", CategoryImage)
	if err != nil {
		t.Fatalf("FetchOrGet: %v", err)
	}

	if rec.Size != 10 {
		t.Errorf("size = %d, want 10", rec.Size)
	}
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rec.LocalPath)))
	if err != nil {
		t.Fatalf("asset not written: %v", err)
	}
	if string(data) != "0123456789" {
		t.Errorf("asset bytes = %q", data)
	}

	inv := cache.Snapshot()
	if len(inv[CategoryImage]) != 1 {
		t.Fatalf("inventory images = %d, want 1", len(inv[CategoryImage]))
	}
	if inv.TotalSize(CategoryImage) != 10 {
		t.Errorf("inventory size = %d, want 10", inv.TotalSize(CategoryImage))
	}
}

func TestCache_FailureNotCached(t *testing.T) {
	// WHAT: A non-200 response yields a typed failure, and the next lookup
	// of the same URL retries and can succeed.
	// WHY: Host errors are often transient; caching them would make one
	// flaky response permanent for the whole run.
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cache := NewCache(t.TempDir())
	url := srv.URL + "/app.js"

	_, err := cache.FetchOrGet(context.Background(), url, CategoryScript)
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error = %v, want *FetchError", err)
	}
	if fe.Kind != FailHTTPStatus || fe.Status != http.StatusBadGateway {
		t.Errorf("failure = %s/%d, want http_status/502", fe.Kind, fe.Status)
	}

	rec, err := cache.FetchOrGet(context.Background(), url, CategoryScript)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if rec.Size != 2 {
		t.Errorf("retry size = %d, want 2", rec.Size)
	}
	if calls.Load() != 2 {
		t.Errorf("server calls = %d, want 2", calls.Load())
	}
}

func TestCache_PathCollisionDetected(t *testing.T) {
	// WHAT: A second URL resolving to an already-claimed local path is
	// rejected with a collision failure instead of overwriting the file.
	// WHY: The on-disk tree is write-once per path.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Host))
	}))
	defer srv.Close()
	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Host))
	}))
	defer srv2.Close()

	cache := NewCache(t.TempDir())
	if _, err := cache.FetchOrGet(context.Background(), srv.URL+"/font.woff2", CategoryFont); err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	_, err := cache.FetchOrGet(context.Background(), srv2.URL+"/font.woff2", CategoryFont)
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != FailCollision {
		t.Fatalf("error = %v, want path_collision", err)
	}
}

func TestCache_HitPerformsNoIO(t *testing.T) {
	// WHAT: A second lookup of a cached URL does not touch the network.
	// WHY: Cache hits must stay free so many documents can share assets.
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("x"))
	}))

	cache := NewCache(t.TempDir())
	url := srv.URL + "/style.css"
	if _, err := cache.FetchOrGet(context.Background(), url, CategoryStyle); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	srv.Close() // a second network attempt would now fail loudly

	rec, err := cache.FetchOrGet(context.Background(), url, CategoryStyle)
	if err != nil {
		t.Fatalf("cache hit errored: %v", err)
	}
	if rec == nil || hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
}
