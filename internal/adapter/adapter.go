// Package adapter implements the Dynamic Provider Adapter: a single
// Go type, parameterized by a vendor's declarative Mapping document,
// that executes all nine logical vendor operations over HTTP. There
// is intentionally no per-vendor subtype; legacy per-vendor adapters
// are not reintroduced.
package adapter

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/nexnum/provider-core/internal/platform/logging"
	"github.com/nexnum/provider-core/internal/store"
	"github.com/nexnum/provider-core/internal/vendorerr"
	"github.com/sony/gobreaker"
)

// Op names the nine logical operations a vendor mapping can implement.
const (
	OpListCountries = "listCountries"
	OpListServices  = "listServices"
	OpListPrices    = "listPrices"
	OpBuy           = "buy"
	OpStatus        = "status"
	OpCancel        = "cancel"
	OpResend        = "resend"
	OpComplete      = "complete"
	OpGetBalance    = "getBalance"
)

const defaultTimeout = 10 * time.Second

// Country/Service/Price/Purchase/ActivationStatus are the adapter's
// egress result shapes. List results carry the vendor's raw names and
// icon URLs; canonicalization is a separate step (NormalizeCountry,
// NormalizeService).
type Country struct {
	ExternalID string
	Code       string // canonical
	Name       string // canonical
	ISOAlpha2  string
	IconURL    string
}

type Service struct {
	ExternalID string
	Code       string
	Name       string
	IconURL    string
}

type Price struct {
	CountryExternalID string
	ServiceExternalID string
	Operator          string
	RawPrice          float64
	Count             int
}

type Purchase struct {
	VendorActivationID string
	PhoneNumber        string
	RawCost            float64
}

type ActivationStatus struct {
	State      string // vendor-native state string, passed through
	SMSCode    string
	Terminal   bool
}

// Adapter executes one vendor's operations from its Mapping.
type Adapter struct {
	vendor store.Vendor
	client *resty.Client
	cb     *gobreaker.CircuitBreaker
	log    *logging.Logger
}

// New builds an Adapter bound to vendor's mapping document. The
// gobreaker instance here is a request-storm guard local to this
// vendor's HTTP transport; it is distinct from, and innermost to, the
// domain-level circuit state the Health Monitor owns.
func New(vendor store.Vendor, log *logging.Logger) *Adapter {
	client := resty.New().SetTimeout(defaultTimeout)

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "adapter-http:" + vendor.Name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 8
		},
	})

	return &Adapter{vendor: vendor, client: client, cb: cb, log: log.WithVendor(vendor.Name)}
}

// VendorName returns the bound vendor's slug.
func (a *Adapter) VendorName() string { return a.vendor.Name }

func (a *Adapter) mapping(op string) (store.OperationMapping, error) {
	m, ok := a.vendor.Mapping.Operations[op]
	if !ok {
		return store.OperationMapping{}, vendorerr.New(vendorerr.BadRequest, a.vendor.Name, op, "operation not declared in vendor mapping")
	}
	return m, nil
}

// ListCountries executes listCountries and returns the decoded rows as
// the vendor sent them: no canonicalization is applied, and Code and
// ISOAlpha2 are left empty.
func (a *Adapter) ListCountries(ctx context.Context) ([]Country, error) {
	rows, err := a.execList(ctx, OpListCountries, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Country, 0, len(rows))
	for _, r := range rows {
		out = append(out, Country{
			ExternalID: r["id"],
			Name:       r["name"],
			IconURL:    r["icon"],
		})
	}
	return out, nil
}

// ListServices executes listServices, falling back through
// ""/"us"/first-known-country when the vendor requires a country code.
func (a *Adapter) ListServices(ctx context.Context, countryCode string, knownCountryCodes []string) ([]Service, error) {
	candidates := []string{countryCode}
	if countryCode != "" {
		candidates = append(candidates, "", "us")
	} else {
		candidates = append(candidates, "us")
	}
	if len(knownCountryCodes) > 0 {
		candidates = append(candidates, knownCountryCodes[0])
	}

	var lastErr error
	for _, c := range candidates {
		rows, err := a.execList(ctx, OpListServices, map[string]string{"countryCode": c})
		if err == nil {
			out := make([]Service, 0, len(rows))
			for _, r := range rows {
				out = append(out, Service{ExternalID: r["id"], Name: r["name"], IconURL: r["icon"]})
			}
			return out, nil
		}
		lastErr = err
		if k, ok := vendorerr.Of(err); ok && k != vendorerr.BadRequest {
			return nil, err
		}
	}
	return nil, lastErr
}

// ListPrices executes listPrices, optionally scoped to one country,
// dropping rows with count<=0.
func (a *Adapter) ListPrices(ctx context.Context, countryCode string) ([]Price, error) {
	inputs := map[string]string{}
	if countryCode != "" {
		inputs["countryCode"] = countryCode
	}
	rows, err := a.execList(ctx, OpListPrices, inputs)
	if err != nil {
		return nil, err
	}
	out := make([]Price, 0, len(rows))
	for _, r := range rows {
		count, _ := strconv.Atoi(r["count"])
		if count <= 0 {
			continue
		}
		price, _ := strconv.ParseFloat(r["price"], 64)
		out = append(out, Price{
			CountryExternalID: r["countryId"],
			ServiceExternalID: r["serviceId"],
			Operator:          r["operator"],
			RawPrice:          price,
			Count:             count,
		})
	}
	return out, nil
}

// Buy executes buy(country, service, opts).
func (a *Adapter) Buy(ctx context.Context, countryExternalID, serviceExternalID string, opts map[string]string) (Purchase, error) {
	inputs := map[string]string{"countryId": countryExternalID, "serviceId": serviceExternalID}
	for k, v := range opts {
		inputs[k] = v
	}
	row, err := a.execSingle(ctx, OpBuy, inputs)
	if err != nil {
		return Purchase{}, err
	}
	cost, _ := strconv.ParseFloat(row["cost"], 64)
	return Purchase{
		VendorActivationID: row["activationId"],
		PhoneNumber:        row["phone"],
		RawCost:            cost,
	}, nil
}

// Status executes status(activationId).
func (a *Adapter) Status(ctx context.Context, vendorActivationID string) (ActivationStatus, error) {
	row, err := a.execSingle(ctx, OpStatus, map[string]string{"activationId": vendorActivationID})
	if err != nil {
		return ActivationStatus{}, err
	}
	state := row["state"]
	return ActivationStatus{
		State:    state,
		SMSCode:  row["code"],
		Terminal: isTerminalState(state),
	}, nil
}

// Cancel executes cancel(id).
func (a *Adapter) Cancel(ctx context.Context, vendorActivationID string) error {
	_, err := a.execSingle(ctx, OpCancel, map[string]string{"activationId": vendorActivationID})
	return err
}

// Resend executes resend(id).
func (a *Adapter) Resend(ctx context.Context, vendorActivationID string) error {
	_, err := a.execSingle(ctx, OpResend, map[string]string{"activationId": vendorActivationID})
	return err
}

// Complete executes complete(id).
func (a *Adapter) Complete(ctx context.Context, vendorActivationID string) error {
	_, err := a.execSingle(ctx, OpComplete, map[string]string{"activationId": vendorActivationID})
	return err
}

// GetBalance executes getBalance().
func (a *Adapter) GetBalance(ctx context.Context) (float64, error) {
	row, err := a.execSingle(ctx, OpGetBalance, nil)
	if err != nil {
		return 0, err
	}
	bal, _ := strconv.ParseFloat(row["balance"], 64)
	return bal, nil
}

func isTerminalState(state string) bool {
	switch strings.ToLower(state) {
	case "cancelled", "canceled", "complete", "completed", "expired", "timeout", "banned":
		return true
	default:
		return false
	}
}

// execSingle runs an operation expected to return exactly one row.
func (a *Adapter) execSingle(ctx context.Context, op string, inputs map[string]string) (Row, error) {
	rows, err := a.execList(ctx, op, inputs)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return Row{}, nil
	}
	return rows[0], nil
}

// execList performs one HTTP call and decodes it into rows.
func (a *Adapter) execList(ctx context.Context, op string, inputs map[string]string) ([]Row, error) {
	m, err := a.mapping(op)
	if err != nil {
		return nil, err
	}

	url, err := bindTemplate(m.URLTemplate, inputs, a.vendor)
	if err != nil {
		return nil, vendorerr.Wrap(vendorerr.BadRequest, a.vendor.Name, op, err)
	}

	timeout := defaultTimeout
	if m.TimeoutMs > 0 {
		timeout = time.Duration(m.TimeoutMs) * time.Millisecond
	}

	var body string
	if m.BodyTemplate != "" {
		body, err = bindTemplate(m.BodyTemplate, inputs, a.vendor)
		if err != nil {
			return nil, vendorerr.Wrap(vendorerr.BadRequest, a.vendor.Name, op, err)
		}
	}

	start := time.Now()
	result, cbErr := a.cb.Execute(func() (interface{}, error) {
		req := a.client.R().SetContext(ctx).SetHeaders(m.Headers)
		applyAuth(req, m.Auth)

		if m.BodyTemplate != "" {
			req.SetBody(body)
		}

		req.SetTimeout(timeout)

		method := strings.ToUpper(m.Method)
		if method == "" {
			method = http.MethodGet
		}
		return req.Execute(method, url)
	})

	durationMs := time.Since(start).Milliseconds()

	if cbErr != nil {
		kind := classifyTransportError(cbErr)
		a.log.ExternalCallLogger(a.vendor.Name, op, url, 0, durationMs, false)
		return nil, vendorerr.Wrap(kind, a.vendor.Name, op, cbErr)
	}

	resp := result.(*resty.Response)
	a.log.ExternalCallLogger(a.vendor.Name, op, url, resp.StatusCode(), durationMs, resp.IsSuccess())

	if kind, ok := classifyByRule(resp, m.ErrorRules); ok {
		return nil, vendorerr.New(kind, a.vendor.Name, op, fmt.Sprintf("status=%d", resp.StatusCode()))
	}
	if !resp.IsSuccess() {
		return nil, vendorerr.New(classifyByStatus(resp.StatusCode()), a.vendor.Name, op, fmt.Sprintf("status=%d", resp.StatusCode()))
	}

	return Decode(resp.Body(), m.Decode)
}

func classifyTransportError(err error) vendorerr.Kind {
	if err == context.DeadlineExceeded || strings.Contains(err.Error(), "timeout") {
		return vendorerr.Timeout
	}
	return vendorerr.ServerError
}

func classifyByStatus(status int) vendorerr.Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return vendorerr.BadCredentials
	case status == http.StatusTooManyRequests:
		return vendorerr.RateLimited
	case status == http.StatusBadRequest:
		return vendorerr.BadRequest
	case status == http.StatusRequestTimeout:
		return vendorerr.Timeout
	case status >= 500:
		return vendorerr.ServerError
	default:
		return vendorerr.Unknown
	}
}

func classifyByRule(resp *resty.Response, rules []store.ErrorRule) (vendorerr.Kind, bool) {
	body := string(resp.Body())
	for _, rule := range rules {
		if rule.StatusCode != 0 && rule.StatusCode != resp.StatusCode() {
			continue
		}
		if rule.BodyRegex != "" {
			matched, err := regexp.MatchString(rule.BodyRegex, body)
			if err != nil || !matched {
				continue
			}
		}
		return vendorerr.Kind(rule.Kind), true
	}
	return "", false
}
