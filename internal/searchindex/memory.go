package searchindex

import (
	"context"
	"sync"
)

// MemoryIndex is an in-process Index used by tests; cmd/core always
// uses the HTTP client.
type MemoryIndex struct {
	mu     sync.Mutex
	offers map[string]Offer
	shadow string
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{offers: make(map[string]Offer)}
}

func (m *MemoryIndex) Upsert(_ context.Context, offers []Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range offers {
		m.offers[o.ID] = o
	}
	return nil
}

func (m *MemoryIndex) DeleteByVendor(_ context.Context, vendor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, o := range m.offers {
		if o.Vendor == vendor {
			delete(m.offers, id)
		}
	}
	return nil
}

func (m *MemoryIndex) SwapShadow(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shadow = name
	return nil
}

func (m *MemoryIndex) Query(_ context.Context, countryCode, serviceCode string) ([]Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Offer, 0)
	for _, o := range m.offers {
		if countryCode != "" && o.ProviderCountryCode != countryCode {
			continue
		}
		if serviceCode != "" && o.ProviderServiceCode != serviceCode {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// All returns every stored offer, for tests that need full visibility.
func (m *MemoryIndex) All() []Offer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Offer, 0, len(m.offers))
	for _, o := range m.offers {
		out = append(out, o)
	}
	return out
}
