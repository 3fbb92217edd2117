// normalize.go implements the §4.1 "Normalization at egress" rules:
// canonical country/service resolution and icon/flag URL selection.
package adapter

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/nexnum/provider-core/internal/registry"
)

// IconResolver finds a locally persisted asset for a canonical slug, if
// one exists. Backed by the icon-reconciliation content-addressed
// directory.
type IconResolver interface {
	LocalAsset(canonicalSlug string) (url string, ok bool)
}

// NormalizedEntry is a raw vendor country/service row after
// canonicalization and icon resolution.
type NormalizedEntry struct {
	ExternalID    string
	CanonicalCode string
	CanonicalName string
	IconURL       string
}

// NormalizeCountry resolves a raw vendor country row against the
// registry and chooses its icon via a three-tier fallback: local
// asset, vendor URL, synthesized placeholder.
func NormalizeCountry(ctx context.Context, reg *registry.Registry, icons IconResolver, externalID, rawName, vendorIconURL string) (NormalizedEntry, error) {
	code := registry.CanonicalCountryCode(rawName)
	l, err := reg.ResolveCountry(ctx, code, rawName)
	if err != nil {
		return NormalizedEntry{}, fmt.Errorf("failed to resolve country %q: %w", rawName, err)
	}
	return NormalizedEntry{
		ExternalID:    externalID,
		CanonicalCode: l.Code,
		CanonicalName: l.Name,
		IconURL:       resolveIcon(icons, l.Code, vendorIconURL),
	}, nil
}

// NormalizeService resolves a raw vendor service row, preferring a
// display-name override table when provided (aliases in the mapping
// document override the vendor's own label).
func NormalizeService(ctx context.Context, reg *registry.Registry, icons IconResolver, externalID, rawName string, overrides map[string]string, vendorIconURL string) (NormalizedEntry, error) {
	code := registry.CanonicalServiceCode(rawName)
	name := rawName
	if override, ok := overrides[code]; ok {
		name = override
	}
	l, err := reg.ResolveService(ctx, code, name)
	if err != nil {
		return NormalizedEntry{}, fmt.Errorf("failed to resolve service %q: %w", rawName, err)
	}
	return NormalizedEntry{
		ExternalID:    externalID,
		CanonicalCode: l.Code,
		CanonicalName: l.Name,
		IconURL:       resolveIcon(icons, l.Code, vendorIconURL),
	}, nil
}

func resolveIcon(icons IconResolver, canonicalCode, vendorURL string) string {
	if icons != nil {
		if url, ok := icons.LocalAsset(canonicalCode); ok {
			return url
		}
	}
	if vendorURL != "" {
		return vendorURL
	}
	return placeholderIcon(canonicalCode)
}

// placeholderIcon synthesizes a deterministic URL when neither a local
// asset nor a vendor URL is available, so the same canonical code
// always maps to the same placeholder.
func placeholderIcon(canonicalCode string) string {
	h := sha1.Sum([]byte(canonicalCode))
	return fmt.Sprintf("https://assets.local/placeholder/%s.svg", hex.EncodeToString(h[:8]))
}
