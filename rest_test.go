package shopify

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRESTClient() *RESTClient {
	c := NewRESTClient("test-shop", "token", "2022-10")
	c.httpClient = &http.Client{}
	c.sleep = func(time.Duration) {}
	return c
}

func TestRESTDoDecodesResponse(t *testing.T) {
	c := newTestRESTClient()
	httpmock.ActivateNonDefault(c.httpClient)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet,
		"https://test-shop.myshopify.com/admin/api/2022-10/shop.json",
		httpmock.NewStringResponder(200, `{"shop":{"name":"Test"}}`).HeaderSet(http.Header{
			"X-Shopify-Shop-Api-Call-Limit": {"3/40"},
		}))

	var out struct {
		Shop struct {
			Name string `json:"name"`
		} `json:"shop"`
	}
	err := c.Do(context.Background(), http.MethodGet, "shop.json", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "Test", out.Shop.Name)
	assert.Equal(t, CallLimit{Used: 3, Total: 40}, c.CallLimit())
}

func TestRESTDoQueryParams(t *testing.T) {
	c := newTestRESTClient()
	httpmock.ActivateNonDefault(c.httpClient)
	defer httpmock.DeactivateAndReset()

	var gotQuery string
	httpmock.RegisterResponder(http.MethodGet,
		"https://test-shop.myshopify.com/admin/api/2022-10/products/count.json",
		func(req *http.Request) (*http.Response, error) {
			gotQuery = req.URL.RawQuery
			return httpmock.NewStringResponse(200, `{"count":7}`), nil
		})

	var out struct {
		Count int `json:"count"`
	}
	err := c.Do(context.Background(), http.MethodGet, "products/count.json",
		map[string]string{"published_status": "published"}, &out)
	require.NoError(t, err)
	assert.Equal(t, 7, out.Count)
	assert.Equal(t, "published_status=published", gotQuery)
}

func TestRESTDoStructParams(t *testing.T) {
	c := newTestRESTClient()
	httpmock.ActivateNonDefault(c.httpClient)
	defer httpmock.DeactivateAndReset()

	type listOptions struct {
		Limit    int    `url:"limit,omitempty"`
		PageInfo string `url:"page_info,omitempty"`
	}

	var gotQuery string
	httpmock.RegisterResponder(http.MethodGet,
		"https://test-shop.myshopify.com/admin/api/2022-10/products.json",
		func(req *http.Request) (*http.Response, error) {
			gotQuery = req.URL.RawQuery
			return httpmock.NewStringResponse(200, `{"products":[]}`), nil
		})

	err := c.Do(context.Background(), http.MethodGet, "products.json",
		listOptions{Limit: 50, PageInfo: "abc"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "limit=50&page_info=abc", gotQuery)
}

func TestRESTRetriesTransientThenSucceeds(t *testing.T) {
	c := newTestRESTClient()
	httpmock.ActivateNonDefault(c.httpClient)
	defer httpmock.DeactivateAndReset()

	calls := 0
	httpmock.RegisterResponder(http.MethodGet,
		"https://test-shop.myshopify.com/admin/api/2022-10/shop.json",
		func(*http.Request) (*http.Response, error) {
			calls++
			if calls < 3 {
				return httpmock.NewStringResponse(503, `busy`), nil
			}
			return httpmock.NewStringResponse(200, `{}`), nil
		})

	err := c.Do(context.Background(), http.MethodGet, "shop.json", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRESTRetryBudgetExhausted(t *testing.T) {
	c := newTestRESTClient()
	httpmock.ActivateNonDefault(c.httpClient)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet,
		"https://test-shop.myshopify.com/admin/api/2022-10/shop.json",
		httpmock.NewStringResponder(500, `boom`))

	err := c.Do(context.Background(), http.MethodGet, "shop.json", nil, nil)
	var transientErr *TransientError
	require.ErrorAs(t, err, &transientErr)
	assert.Equal(t, restMaxAttempts, httpmock.GetTotalCallCount())
}

func TestRESTRateLimitSleepsRetryAfter(t *testing.T) {
	c := newTestRESTClient()
	httpmock.ActivateNonDefault(c.httpClient)
	defer httpmock.DeactivateAndReset()

	var slept []time.Duration
	c.sleep = func(d time.Duration) { slept = append(slept, d) }

	calls := 0
	httpmock.RegisterResponder(http.MethodGet,
		"https://test-shop.myshopify.com/admin/api/2022-10/shop.json",
		func(*http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				resp := httpmock.NewStringResponse(429, ``)
				resp.Header.Set("Retry-After", "2.0")
				return resp, nil
			}
			return httpmock.NewStringResponse(200, `{}`), nil
		})

	err := c.Do(context.Background(), http.MethodGet, "shop.json", nil, nil)
	require.NoError(t, err)
	require.Len(t, slept, 1)
	assert.Equal(t, 2*time.Second, slept[0])
}

func TestRESTFailsFastOnClientError(t *testing.T) {
	c := newTestRESTClient()
	httpmock.ActivateNonDefault(c.httpClient)
	defer httpmock.DeactivateAndReset()

	resp := httpmock.NewStringResponder(404, `{"errors":"Not Found"}`)
	httpmock.RegisterResponder(http.MethodGet,
		"https://test-shop.myshopify.com/admin/api/2022-10/shop.json", resp)

	err := c.Do(context.Background(), http.MethodGet, "shop.json", nil, nil)
	var apiErr *ApiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.Status)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestParseLinkHeader(t *testing.T) {
	header := `<https://x.myshopify.com/admin/api/2022-10/products.json?limit=250&page_info=abc>; rel="next", ` +
		`<https://x.myshopify.com/admin/api/2022-10/products.json?limit=250&page_info=xyz>; rel="previous"`
	info := ParseLinkHeader(header)
	assert.Equal(t, "abc", info.Next)
	assert.Equal(t, "xyz", info.Prev)

	assert.Equal(t, PageInfo{}, ParseLinkHeader(""))
}
