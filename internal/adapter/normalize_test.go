package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeIconResolver struct {
	assets map[string]string
}

func (f *fakeIconResolver) LocalAsset(canonicalSlug string) (string, bool) {
	url, ok := f.assets[canonicalSlug]
	return url, ok
}

func TestResolveIconPrefersLocalAsset(t *testing.T) {
	icons := &fakeIconResolver{assets: map[string]string{"US": "https://assets.local/us.svg"}}
	url := resolveIcon(icons, "US", "https://vendor.example.com/us.png")
	assert.Equal(t, "https://assets.local/us.svg", url)
}

func TestResolveIconFallsBackToVendorURL(t *testing.T) {
	icons := &fakeIconResolver{assets: map[string]string{}}
	url := resolveIcon(icons, "US", "https://vendor.example.com/us.png")
	assert.Equal(t, "https://vendor.example.com/us.png", url)
}

func TestResolveIconSynthesizesPlaceholderWhenNothingAvailable(t *testing.T) {
	url := resolveIcon(nil, "US", "")
	assert.Contains(t, url, "https://assets.local/placeholder/")
	assert.Contains(t, url, ".svg")
}

func TestPlaceholderIconIsDeterministic(t *testing.T) {
	a := placeholderIcon("US")
	b := placeholderIcon("US")
	c := placeholderIcon("GB")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
