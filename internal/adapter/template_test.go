package adapter

import (
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/nexnum/provider-core/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindTemplateSubstitutesPlaceholders(t *testing.T) {
	tpl := "https://api.example.com/v1/{country}/{service}?key={apiKey}"
	inputs := map[string]string{"country": "us", "service": "amazon", "apiKey": "secret123"}

	out, err := bindTemplate(tpl, inputs, store.Vendor{})
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1/us/amazon?key=secret123", out)
}

func TestBindTemplateWithNoPlaceholders(t *testing.T) {
	out, err := bindTemplate("https://api.example.com/status", nil, store.Vendor{})
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/status", out)
}

func TestBindTemplateMissingPlaceholderErrors(t *testing.T) {
	_, err := bindTemplate("https://api.example.com/{country}", map[string]string{}, store.Vendor{})
	assert.Error(t, err)
}

func TestBindTemplateUnterminatedPlaceholderErrors(t *testing.T) {
	_, err := bindTemplate("https://api.example.com/{country", map[string]string{"country": "us"}, store.Vendor{})
	assert.Error(t, err)
}

func TestApplyAuthBearer(t *testing.T) {
	req := resty.New().R()
	applyAuth(req, store.AuthRecipe{Kind: "bearer", Value: "tok-123"})
	assert.Equal(t, "Bearer tok-123", req.Header.Get("Authorization"))
}

func TestApplyAuthHeader(t *testing.T) {
	req := resty.New().R()
	applyAuth(req, store.AuthRecipe{Kind: "header", HeaderName: "X-Api-Key", Value: "key-456"})
	assert.Equal(t, "key-456", req.Header.Get("X-Api-Key"))
}

func TestApplyAuthQuery(t *testing.T) {
	req := resty.New().R()
	applyAuth(req, store.AuthRecipe{Kind: "query", Key: "api_key", Value: "key-789"})
	assert.Equal(t, "key-789", req.QueryParam.Get("api_key"))
}

func TestApplyAuthUnknownKindIsNoop(t *testing.T) {
	req := resty.New().R()
	applyAuth(req, store.AuthRecipe{Kind: "none"})
	assert.Empty(t, req.Header.Get("Authorization"))
}
