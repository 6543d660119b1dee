package shopify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

// ShopService covers the REST preflight surface: shop info, granted
// scopes, product counts and country tax rates.
type ShopService interface {
	Get(ctx context.Context) (*Shop, error)
	AccessScopes(ctx context.Context) ([]string, error)
	ProductCount(ctx context.Context, r DateRange, params map[string]string) (int, error)
	TotalProductCount(ctx context.Context, params map[string]string) (int, error)
	TaxRatesJSON(ctx context.Context) (string, error)
	ActivityWindow(ctx context.Context, shopCtx *ShopContext) (DateRange, error)
}

type ShopServiceOp struct {
	client *Client
}

var _ ShopService = &ShopServiceOp{}

// Shop is the shop.json payload slice this system consumes.
type Shop struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Domain      string `json:"domain"`
	CountryCode string `json:"country_code"`
	Currency    string `json:"currency"`
	CreatedAt   string `json:"created_at"`
}

func (s *ShopServiceOp) Get(ctx context.Context) (*Shop, error) {
	out := struct {
		Shop *Shop `json:"shop"`
	}{}
	if err := s.client.rest.Do(ctx, http.MethodGet, "shop.json", nil, &out); err != nil {
		return nil, fmt.Errorf("fetch shop: %w", err)
	}
	if out.Shop == nil || out.Shop.ID == 0 {
		return nil, fmt.Errorf("shop payload is empty")
	}
	return out.Shop, nil
}

func (s *ShopServiceOp) AccessScopes(ctx context.Context) ([]string, error) {
	out := struct {
		AccessScopes []struct {
			Handle string `json:"handle"`
		} `json:"access_scopes"`
	}{}
	if err := s.client.rest.Do(ctx, http.MethodGet, "oauth/access_scopes.json", nil, &out); err != nil {
		return nil, fmt.Errorf("fetch access scopes: %w", err)
	}
	scopes := make([]string, 0, len(out.AccessScopes))
	for _, scope := range out.AccessScopes {
		scopes = append(scopes, scope.Handle)
	}
	return scopes, nil
}

func (s *ShopServiceOp) ProductCount(ctx context.Context, r DateRange, params map[string]string) (int, error) {
	merged := map[string]string{}
	for k, v := range params {
		merged[k] = v
	}
	if !r.Start.IsZero() {
		merged["created_at_min"] = r.Start.Format(time.RFC3339)
	}
	if !r.End.IsZero() {
		merged["created_at_max"] = r.End.Format(time.RFC3339)
	}

	out := struct {
		Count int `json:"count"`
	}{}
	if err := s.client.rest.Do(ctx, http.MethodGet, "products/count.json", merged, &out); err != nil {
		return 0, fmt.Errorf("fetch product count: %w", err)
	}
	return out.Count, nil
}

func (s *ShopServiceOp) TotalProductCount(ctx context.Context, params map[string]string) (int, error) {
	return s.ProductCount(ctx, DateRange{}, params)
}

// TaxRatesJSON builds a country-code to tax-rate JSON map from
// countries.json.
func (s *ShopServiceOp) TaxRatesJSON(ctx context.Context) (string, error) {
	out := struct {
		Countries []struct {
			Code string  `json:"code"`
			Tax  float64 `json:"tax"`
		} `json:"countries"`
	}{}
	if err := s.client.rest.Do(ctx, http.MethodGet, "countries.json", nil, &out); err != nil {
		return "", fmt.Errorf("fetch countries: %w", err)
	}

	rates := make(map[string]float64, len(out.Countries))
	for _, c := range out.Countries {
		rates[c.Code] = c.Tax
	}
	data, err := json.Marshal(rates)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ActivityWindow is [shop.created_at, now].
func (s *ShopServiceOp) ActivityWindow(ctx context.Context, shopCtx *ShopContext) (DateRange, error) {
	start, err := time.Parse(time.RFC3339, shopCtx.CreatedAt)
	if err != nil {
		return DateRange{}, fmt.Errorf("shop created_at %q: %w", shopCtx.CreatedAt, err)
	}
	return DateRange{Start: start, End: time.Now().UTC()}, nil
}

// requiredScopes maps data types to the OAuth scopes they need.
var requiredScopes = map[string][]string{
	DataTypeProducts:        {"read_products"},
	DataTypeMeta:            {"read_products"},
	DataTypeCollections:     {"read_products"},
	DataTypeCollectionsMeta: {"read_products"},
	DataTypeTranslations:    {"read_products", "read_translations"},
	DataTypeInventoryItem:   {"read_inventory"},
	DataTypeInventoryLevel:  {"read_inventory"},
}

// Preflight fetches shop info and scopes, verifies the run's modules are
// covered and assembles the shop context field renderers consult.
func Preflight(ctx context.Context, client *Client, settings *Settings) (*ShopContext, error) {
	shop, err := client.Shop.Get(ctx)
	if err != nil {
		return nil, err
	}

	scopes, err := client.Shop.AccessScopes(ctx)
	if err != nil {
		return nil, err
	}
	scopeSet := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		scopeSet[s] = true
	}

	var missing []string
	seen := map[string]bool{}
	for dt := range settings.DataTypes {
		for _, scope := range requiredScopes[dt] {
			if !scopeSet[scope] && !seen[scope] {
				missing = append(missing, scope)
				seen[scope] = true
			}
		}
	}
	if len(missing) > 0 {
		return nil, &PermissionError{MissingScopes: missing}
	}

	shopCtx := &ShopContext{
		Domain:      shop.Domain,
		CountryCode: shop.CountryCode,
		CreatedAt:   shop.CreatedAt,
		Scopes:      scopeSet,
	}

	count, err := client.Shop.TotalProductCount(ctx, settings.ProductFilters.RESTParams())
	if err != nil {
		return nil, err
	}
	shopCtx.ProductCount = count

	if settings.TaxRates != "" {
		shopCtx.TaxRatesJSON = settings.TaxRates
	} else if scopeSet["read_shipping"] {
		rates, err := client.Shop.TaxRatesJSON(ctx)
		if err != nil {
			// Tax rates are enrichment only; a shop without the endpoint
			// still exports.
			log.Warnf("tax rates unavailable: %s", err)
		} else {
			shopCtx.TaxRatesJSON = rates
		}
	}

	return shopCtx, nil
}
