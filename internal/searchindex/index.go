// Package searchindex defines the priced-offer index contract the
// Catalog Synchronizer writes to and the Smart Router reads from. The
// core never embeds a search engine; it depends on this narrow
// contract so the index's implementation remains an external
// collaborator.
package searchindex

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Offer is one searchable (vendor, country, service, operator) tuple.
type Offer struct {
	ID                  string    `json:"id"`
	Vendor              string    `json:"vendor"`
	ProviderCountryCode string    `json:"providerCountryCode"`
	CountryID           uint      `json:"countryId"`
	CountryName         string    `json:"countryName"`
	CountryIcon         string    `json:"countryIcon"`
	ProviderServiceCode string    `json:"providerServiceCode"`
	ServiceID           uint      `json:"serviceId"`
	ServiceName         string    `json:"serviceName"`
	ServiceIcon         string    `json:"serviceIcon"`
	Operator            string    `json:"operator"`
	Price               float64   `json:"price"`
	RawPrice            float64   `json:"rawPrice"`
	Stock               int       `json:"stock"`
	LastSyncedAt        time.Time `json:"lastSyncedAt"`
	IsActive            bool      `json:"isActive"`
}

var invalidIDChars = regexp.MustCompile(`[^a-z0-9_]`)

// OfferID derives a stable document id:
// lower(concat(vendor,"_",countryCode,"_",serviceCode,"_",operator))
// with every character outside [a-z0-9_] stripped.
func OfferID(vendor, countryCode, serviceCode, operator string) string {
	raw := strings.ToLower(fmt.Sprintf("%s_%s_%s_%s", vendor, countryCode, serviceCode, operator))
	return invalidIDChars.ReplaceAllString(raw, "")
}

// Index is the search-index contract: upsert, delete-by-vendor, and
// atomic shadow-swap for bulk republishing.
type Index interface {
	Upsert(ctx context.Context, offers []Offer) error
	DeleteByVendor(ctx context.Context, vendor string) error
	SwapShadow(ctx context.Context, name string) error
	Query(ctx context.Context, countryCode, serviceCode string) ([]Offer, error)
}

const defaultBatchSize = 5000

// Client is a resty-backed Index implementation talking to an HTTP
// search-index service.
type Client struct {
	http      *resty.Client
	batchSize int
}

func NewClient(baseURL, apiKey string) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second)
	if apiKey != "" {
		http.SetHeader("Authorization", "Bearer "+apiKey)
	}
	return &Client{http: http, batchSize: defaultBatchSize}
}

// Upsert bulk-adds offers in chunks of batchSize (default 5000).
func (c *Client) Upsert(ctx context.Context, offers []Offer) error {
	for start := 0; start < len(offers); start += c.batchSize {
		end := start + c.batchSize
		if end > len(offers) {
			end = len(offers)
		}
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(map[string]interface{}{"offers": offers[start:end]}).
			Post("/offers/bulk")
		if err != nil {
			return fmt.Errorf("failed to upsert offer batch: %w", err)
		}
		if resp.IsError() {
			return fmt.Errorf("search index rejected offer batch: status=%d", resp.StatusCode())
		}
	}
	return nil
}

func (c *Client) DeleteByVendor(ctx context.Context, vendor string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("vendor", vendor).
		Delete("/offers")
	if err != nil {
		return fmt.Errorf("failed to delete offers for vendor %s: %w", vendor, err)
	}
	if resp.IsError() {
		return fmt.Errorf("search index rejected delete for vendor %s: status=%d", vendor, resp.StatusCode())
	}
	return nil
}

func (c *Client) SwapShadow(ctx context.Context, name string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"name": name}).
		Post("/shadow/swap")
	if err != nil {
		return fmt.Errorf("failed to swap shadow index %s: %w", name, err)
	}
	if resp.IsError() {
		return fmt.Errorf("search index rejected shadow swap %s: status=%d", name, resp.StatusCode())
	}
	return nil
}

func (c *Client) Query(ctx context.Context, countryCode, serviceCode string) ([]Offer, error) {
	var out struct {
		Offers []Offer `json:"offers"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"country": countryCode, "service": serviceCode}).
		SetResult(&out).
		Get("/offers")
	if err != nil {
		return nil, fmt.Errorf("failed to query offers: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("search index rejected query: status=%d", resp.StatusCode())
	}
	return out.Offers, nil
}
