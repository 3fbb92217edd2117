package adapter

import (
	"testing"

	"github.com/nexnum/provider-core/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSONWithListPath(t *testing.T) {
	body := []byte(`{"data":{"prices":[{"country":"US","cost":"1.50"},{"country":"GB","cost":"2.00"}]}}`)
	shape := store.ResponseShape{
		Format:   "json",
		ListPath: "data.prices",
		Fields:   map[string]string{"country": "country", "cost": "cost"},
	}

	rows, err := Decode(body, shape)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "US", rows[0]["country"])
	assert.Equal(t, "1.50", rows[0]["cost"])
	assert.Equal(t, "GB", rows[1]["country"])
}

func TestDecodeJSONSingleObjectWithoutListPathIsOneRow(t *testing.T) {
	body := []byte(`{"balance":"42.00","currency":"USD"}`)
	shape := store.ResponseShape{
		Format: "json",
		Fields: map[string]string{"balance": "balance", "currency": "currency"},
	}

	rows, err := Decode(body, shape)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "42.00", rows[0]["balance"])
	assert.Equal(t, "USD", rows[0]["currency"])
}

func TestDecodeJSONMissingFieldLeftUnset(t *testing.T) {
	body := []byte(`{"id":"abc"}`)
	shape := store.ResponseShape{
		Format: "json",
		Fields: map[string]string{"id": "id", "missing": "nested.field"},
	}

	rows, err := Decode(body, shape)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "abc", rows[0]["id"])
	_, present := rows[0]["missing"]
	assert.False(t, present)
}

func TestDecodeJSONInvalidBody(t *testing.T) {
	_, err := Decode([]byte(`not json`), store.ResponseShape{Format: "json"})
	assert.Error(t, err)
}

func TestDecodeKeyValueDefaultDelimiter(t *testing.T) {
	body := []byte("STATUS:OK\nNUMBER:15551234567\n")
	shape := store.ResponseShape{
		Format: "keyValue",
		Fields: map[string]string{"status": "STATUS", "number": "NUMBER"},
	}

	rows, err := Decode(body, shape)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "OK", rows[0]["status"])
	assert.Equal(t, "15551234567", rows[0]["number"])
}

func TestDecodeKeyValueCustomDelimiter(t *testing.T) {
	body := []byte("status=OK\nnumber=123\n")
	shape := store.ResponseShape{
		Format:    "keyValue",
		Delimiter: "=",
		Fields:    map[string]string{"status": "status"},
	}

	rows, err := Decode(body, shape)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "OK", rows[0]["status"])
}

func TestDecodeCSVByColumnIndex(t *testing.T) {
	body := []byte("US,1.50\nGB,2.00\n")
	shape := store.ResponseShape{
		Format: "csv",
		Fields: map[string]string{"country": "0", "cost": "1"},
	}

	rows, err := Decode(body, shape)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "US", rows[0]["country"])
	assert.Equal(t, "1.50", rows[0]["cost"])
}

func TestDecodeCSVOutOfRangeIndexSkipped(t *testing.T) {
	body := []byte("US\n")
	shape := store.ResponseShape{
		Format: "csv",
		Fields: map[string]string{"country": "0", "cost": "5"},
	}

	rows, err := Decode(body, shape)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	_, present := rows[0]["cost"]
	assert.False(t, present)
}

func TestDecodeXMLByElementPath(t *testing.T) {
	body := []byte(`<response><balance>42.00</balance><currency>USD</currency></response>`)
	shape := store.ResponseShape{
		Format: "xml",
		Fields: map[string]string{"balance": "balance", "currency": "currency"},
	}

	rows, err := Decode(body, shape)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "42.00", rows[0]["balance"])
	assert.Equal(t, "USD", rows[0]["currency"])
}

func TestDecodeXMLWithListPath(t *testing.T) {
	body := []byte(`<root><item><country>US</country></item><item><country>GB</country></item></root>`)
	shape := store.ResponseShape{
		Format:   "xml",
		ListPath: ".//item",
		Fields:   map[string]string{"country": "country"},
	}

	rows, err := Decode(body, shape)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "US", rows[0]["country"])
	assert.Equal(t, "GB", rows[1]["country"])
}

func TestDecodeUnsupportedFormat(t *testing.T) {
	_, err := Decode([]byte(`x`), store.ResponseShape{Format: "yaml"})
	assert.Error(t, err)
}
