// icons.go reconciles service/country icon URLs: for each one, ensure
// exactly one locally persisted file exists per canonical slug,
// preferring svg over webp over png over jpg, and rejecting known-bad
// or HTML-disguised-as-image downloads.
package sync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// extRank orders allowed extensions from best to worst quality. Lower
// index wins when more than one candidate exists for a slug.
var extRank = []string{".svg", ".webp", ".png", ".jpg"}

func extRankIndex(ext string) int {
	for i, e := range extRank {
		if e == ext {
			return i
		}
	}
	return len(extRank)
}

// IconReconciler downloads and persists vendor-supplied icons to a
// content-addressed local directory, deduplicating per canonical
// slug.
type IconReconciler struct {
	baseDir      string
	http         *resty.Client
	knownBadHash map[string]struct{}

	mu      sync.Mutex
	written map[string]string // canonicalSlug -> chosen extension; first claim wins for the reconciler's lifetime
}

func NewIconReconciler(baseDir string, knownBadHashes []string) *IconReconciler {
	bad := make(map[string]struct{}, len(knownBadHashes))
	for _, h := range knownBadHashes {
		bad[h] = struct{}{}
	}
	return &IconReconciler{
		baseDir:      baseDir,
		http:         resty.New().SetTimeout(10 * time.Second),
		knownBadHash: bad,
		written:      make(map[string]string),
	}
}

// LocalAsset implements adapter.IconResolver: it reports the best
// already-persisted file for canonicalSlug, if any.
func (r *IconReconciler) LocalAsset(canonicalSlug string) (string, bool) {
	best := ""
	bestRank := len(extRank)
	for _, ext := range extRank {
		path := filepath.Join(r.baseDir, canonicalSlug+ext)
		if _, err := os.Stat(path); err == nil {
			if rank := extRankIndex(ext); rank < bestRank {
				best = "/icons/" + canonicalSlug + ext
				bestRank = rank
			}
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}

// Reconcile downloads vendorURL for canonicalSlug if no local asset
// exists yet, rejecting known-bad hashes and HTML responses
// masquerading as images. It returns without downloading when any
// local file for the slug exists, whatever its rank (an existing
// lower-ranked file is not replaced), or when the slug was already
// claimed on this reconciler; claims are never cleared, including
// after a failed download.
func (r *IconReconciler) Reconcile(ctx context.Context, canonicalSlug, vendorURL string) error {
	if vendorURL == "" {
		return nil
	}
	if _, ok := r.LocalAsset(canonicalSlug); ok {
		return nil
	}

	r.mu.Lock()
	if _, claimed := r.written[canonicalSlug]; claimed {
		r.mu.Unlock()
		return nil
	}
	r.written[canonicalSlug] = ""
	r.mu.Unlock()

	resp, err := r.http.R().SetContext(ctx).Get(vendorURL)
	if err != nil {
		return fmt.Errorf("failed to download icon for %s: %w", canonicalSlug, err)
	}
	if resp.IsError() {
		return fmt.Errorf("icon download for %s returned status=%d", canonicalSlug, resp.StatusCode())
	}

	body := resp.Body()
	if looksLikeHTML(body) {
		return fmt.Errorf("icon download for %s returned html, not an image", canonicalSlug)
	}

	sum := sha256.Sum256(body)
	if _, bad := r.knownBadHash[hex.EncodeToString(sum[:])]; bad {
		return fmt.Errorf("icon for %s matched a known-bad content hash", canonicalSlug)
	}

	ext := extensionFromContentType(resp.Header().Get("Content-Type"), vendorURL)
	if extRankIndex(ext) == len(extRank) {
		return fmt.Errorf("icon for %s has unsupported content type %q", canonicalSlug, resp.Header().Get("Content-Type"))
	}

	if err := os.MkdirAll(r.baseDir, 0o755); err != nil {
		return fmt.Errorf("failed to create icon directory: %w", err)
	}
	path := filepath.Join(r.baseDir, canonicalSlug+ext)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("failed to persist icon for %s: %w", canonicalSlug, err)
	}

	r.mu.Lock()
	r.written[canonicalSlug] = ext
	r.mu.Unlock()
	return nil
}

func looksLikeHTML(body []byte) bool {
	head := bytes.TrimSpace(body)
	if len(head) > 512 {
		head = head[:512]
	}
	lower := strings.ToLower(string(head))
	return strings.Contains(lower, "<html") || strings.Contains(lower, "<!doctype html")
}

func extensionFromContentType(contentType, url string) string {
	switch {
	case strings.Contains(contentType, "svg"):
		return ".svg"
	case strings.Contains(contentType, "webp"):
		return ".webp"
	case strings.Contains(contentType, "png"):
		return ".png"
	case strings.Contains(contentType, "jpeg"), strings.Contains(contentType, "jpg"):
		return ".jpg"
	}
	for _, ext := range extRank {
		if strings.HasSuffix(strings.ToLower(url), ext) {
			return ext
		}
	}
	return ""
}
