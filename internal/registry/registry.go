// Package registry implements the Canonical Registry: it maps raw
// vendor country/service identifiers to stable canonical codes and
// monotonically assigned integer IDs.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nexnum/provider-core/internal/store"
	"gorm.io/gorm"
)

// Lookup is the single stable schema the registry exposes, resolving
// vendors' conflicting `name`/`serviceName`/`id`/`serviceId` field
// names into one shape.
type Lookup struct {
	ID   uint
	Code string
	Name string
}

// Registry resolves and assigns canonical IDs. It caches known
// code->ID mappings in process to avoid a round trip on every sync row,
// invalidated only by process restart (lookups are append-only, so
// staleness cannot occur).
type Registry struct {
	db *gorm.DB

	mu            sync.RWMutex
	countriesByCode map[string]Lookup
	servicesByCode  map[string]Lookup
}

func New(db *gorm.DB) *Registry {
	return &Registry{
		db:              db,
		countriesByCode: make(map[string]Lookup),
		servicesByCode:  make(map[string]Lookup),
	}
}

// CanonicalCountryCode normalizes a raw vendor country name/code into
// the registry's canonical lowercase code form. Normalization here is
// intentionally conservative: lowercase, trim, collapse spaces. The
// adapter's normalize.go layer is responsible for any vendor-specific
// alias tables.
func CanonicalCountryCode(raw string) string {
	return strings.ToLower(strings.Join(strings.Fields(strings.TrimSpace(raw)), "_"))
}

// CanonicalServiceCode normalizes a raw vendor service name/code.
func CanonicalServiceCode(raw string) string {
	return strings.ToLower(strings.Join(strings.Fields(strings.TrimSpace(raw)), "_"))
}

// ResolveCountry returns the stable Lookup for a canonical country
// code, creating it (with a freshly assigned ID) on first sight.
func (r *Registry) ResolveCountry(ctx context.Context, code, name string) (Lookup, error) {
	return r.resolve(ctx, code, name, r.countriesByCode, func(tx *gorm.DB, code, name string) (Lookup, error) {
		row, err := upsertCountryLookup(ctx, tx, code, name)
		return row, err
	})
}

// ResolveService returns the stable Lookup for a canonical service
// code, creating it on first sight.
func (r *Registry) ResolveService(ctx context.Context, code, name string) (Lookup, error) {
	return r.resolve(ctx, code, name, r.servicesByCode, func(tx *gorm.DB, code, name string) (Lookup, error) {
		row, err := upsertServiceLookup(ctx, tx, code, name)
		return row, err
	})
}

func (r *Registry) resolve(ctx context.Context, code, name string, cache map[string]Lookup, upsert func(*gorm.DB, string, string) (Lookup, error)) (Lookup, error) {
	r.mu.RLock()
	if l, ok := cache[code]; ok {
		r.mu.RUnlock()
		return l, nil
	}
	r.mu.RUnlock()

	l, err := upsert(r.db, code, name)
	if err != nil {
		return Lookup{}, fmt.Errorf("failed to resolve canonical code %q: %w", code, err)
	}

	r.mu.Lock()
	cache[code] = l
	r.mu.Unlock()
	return l, nil
}

func upsertCountryLookup(ctx context.Context, db *gorm.DB, code, name string) (Lookup, error) {
	var row store.CountryLookup
	err := db.WithContext(ctx).Where("code = ?", code).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		row = store.CountryLookup{Code: code, Name: name}
		if err := db.WithContext(ctx).Create(&row).Error; err != nil {
			return Lookup{}, err
		}
		return Lookup{ID: row.ID, Code: row.Code, Name: row.Name}, nil
	}
	if err != nil {
		return Lookup{}, err
	}
	return Lookup{ID: row.ID, Code: row.Code, Name: row.Name}, nil
}

func upsertServiceLookup(ctx context.Context, db *gorm.DB, code, name string) (Lookup, error) {
	var row store.ServiceLookup
	err := db.WithContext(ctx).Where("code = ?", code).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		row = store.ServiceLookup{Code: code, Name: name}
		if err := db.WithContext(ctx).Create(&row).Error; err != nil {
			return Lookup{}, err
		}
		return Lookup{ID: row.ID, Code: row.Code, Name: row.Name}, nil
	}
	if err != nil {
		return Lookup{}, err
	}
	return Lookup{ID: row.ID, Code: row.Code, Name: row.Name}, nil
}
