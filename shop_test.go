package shopify

import (
	"context"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	settings, err := NewSettings(validOptions(nil))
	require.NoError(t, err)

	c := NewClient(settings)
	c.rest.httpClient = &http.Client{}
	httpmock.ActivateNonDefault(c.rest.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

const restBase = "https://test-shop.myshopify.com/admin/api/2022-10/"

func registerPreflightResponders(scopes string) {
	httpmock.RegisterResponder(http.MethodGet, restBase+"shop.json",
		httpmock.NewStringResponder(200,
			`{"shop":{"id":1,"name":"Test","domain":"example.com","country_code":"US","currency":"USD","created_at":"2020-01-01T00:00:00Z"}}`))
	httpmock.RegisterResponder(http.MethodGet, restBase+"oauth/access_scopes.json",
		httpmock.NewStringResponder(200, scopes))
	httpmock.RegisterResponder(http.MethodGet, restBase+"products/count.json",
		httpmock.NewStringResponder(200, `{"count":12}`))
}

func TestPreflightBuildsShopContext(t *testing.T) {
	c := newTestClient(t)
	registerPreflightResponders(`{"access_scopes":[{"handle":"read_products"},{"handle":"read_inventory"}]}`)

	settings, err := NewSettings(validOptions(map[string]interface{}{
		"data_types": "products,inventory_item",
	}))
	require.NoError(t, err)

	shopCtx, err := Preflight(context.Background(), c, settings)
	require.NoError(t, err)
	assert.Equal(t, "example.com", shopCtx.Domain)
	assert.Equal(t, "US", shopCtx.CountryCode)
	assert.Equal(t, 12, shopCtx.ProductCount)
	assert.True(t, shopCtx.HasScope("read_products"))
	assert.False(t, shopCtx.HasScope("read_publications"))
}

func TestPreflightMissingScopes(t *testing.T) {
	c := newTestClient(t)
	registerPreflightResponders(`{"access_scopes":[{"handle":"read_products"}]}`)

	settings, err := NewSettings(validOptions(map[string]interface{}{
		"data_types": "products,inventory_item,inventory_level",
	}))
	require.NoError(t, err)

	_, err = Preflight(context.Background(), c, settings)
	var permErr *PermissionError
	require.ErrorAs(t, err, &permErr)
	assert.Equal(t, []string{"read_inventory"}, permErr.MissingScopes)
}

func TestPreflightEmptyShopIsFatal(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, restBase+"shop.json",
		httpmock.NewStringResponder(200, `{"shop":null}`))

	settings, err := NewSettings(validOptions(nil))
	require.NoError(t, err)

	_, err = Preflight(context.Background(), c, settings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestTaxRatesFromSettingsPassThrough(t *testing.T) {
	c := newTestClient(t)
	registerPreflightResponders(`{"access_scopes":[{"handle":"read_products"}]}`)

	settings, err := NewSettings(validOptions(map[string]interface{}{
		"tax_rates": `{"US":0.07}`,
	}))
	require.NoError(t, err)

	shopCtx, err := Preflight(context.Background(), c, settings)
	require.NoError(t, err)
	assert.Equal(t, `{"US":0.07}`, shopCtx.TaxRatesJSON)
}
