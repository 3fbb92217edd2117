package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalCountryCodeLowercasesAndCollapsesSpaces(t *testing.T) {
	assert.Equal(t, "united_states", CanonicalCountryCode("  United   States "))
	assert.Equal(t, "uk", CanonicalCountryCode("UK"))
}

func TestCanonicalServiceCodeLowercasesAndCollapsesSpaces(t *testing.T) {
	assert.Equal(t, "google_voice", CanonicalServiceCode("Google Voice"))
}

func TestCanonicalCodesAreIdempotent(t *testing.T) {
	once := CanonicalCountryCode("United States")
	twice := CanonicalCountryCode(once)
	assert.Equal(t, once, twice)
}
