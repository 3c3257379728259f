// Package localize turns a captured tree of rendered HTML documents into a
// self-contained static site. Every externally hosted asset is downloaded
// exactly once per run, stored under the assets/ tree, and every reference
// is rewritten to a path relative to the referencing document, so the
// output stays relocatable.
package localize

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"path"
	"strings"
)

// Category classifies an asset by the syntactic context its reference was
// found in (tag/attribute or CSS url()), never by response content type.
type Category string

const (
	CategoryFont   Category = "fonts"
	CategoryImage  Category = "images"
	CategoryScript Category = "scripts"
	CategoryStyle  Category = "styles"
	CategoryOther  Category = "other"
)

// Dir returns the assets/ subdirectory for the category.
func (c Category) Dir() string {
	switch c {
	case CategoryFont:
		return "fonts"
	case CategoryImage:
		return "images"
	case CategoryScript:
		return "js"
	case CategoryStyle:
		return "css"
	default:
		return "other"
	}
}

// ext is the fallback extension used with hash-derived filenames.
func (c Category) ext() string {
	switch c {
	case CategoryFont:
		return ".woff2"
	case CategoryImage:
		return ".png"
	case CategoryScript:
		return ".js"
	case CategoryStyle:
		return ".css"
	default:
		return ""
	}
}

// maxFilenameLen guards against CDN URLs whose final segment is an encoded
// blob rather than a filename.
const maxFilenameLen = 100

// Resolve maps an asset URL to its canonical local path under the site
// root, e.g. "assets/fonts/Inter-Bold.woff2". It is pure and total: the
// same (URL, category) pair always yields the same path, and a URL whose
// final path segment is missing, extensionless, or oversized degrades to a
// short hash of the full URL plus a category extension.
func Resolve(rawURL string, cat Category) string {
	var name string
	if u, err := url.Parse(rawURL); err == nil {
		name = path.Base(u.Path)
		if name == "." || name == "/" {
			name = ""
		}
	}
	if name == "" || !strings.Contains(name, ".") || len(name) > maxFilenameLen {
		name = urlHash(rawURL) + cat.ext()
	}
	return path.Join("assets", cat.Dir(), name)
}

// urlHash returns the first 12 hex chars of the URL's md5. Content
// independent, so paths survive reruns against a changed origin.
func urlHash(rawURL string) string {
	sum := md5.Sum([]byte(rawURL))
	return hex.EncodeToString(sum[:])[:12]
}
