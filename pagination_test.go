package shopify

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestRateDerivation(t *testing.T) {
	assert.Equal(t, 2.0, restRateForBurst(0))
	assert.Equal(t, 2.0, restRateForBurst(40))
	assert.Equal(t, 4.0, restRateForBurst(80))

	assert.Equal(t, 3.0, restRateModifier(1000))
	assert.Equal(t, 4.0, restRateModifier(60000))
}

func TestRestWorkerCount(t *testing.T) {
	assert.Equal(t, 2, restWorkerCount(2, 10))
	assert.Equal(t, 3, restWorkerCount(6, 3))
	assert.Equal(t, 1, restWorkerCount(4, 0))

	assert.Equal(t, restWorkerCap, restWorkerCount(100, 100))
}

func newTestPager(tiers []int) (*restPager, *RESTClient) {
	client := newTestRESTClient()
	pager := newRestPager(client, 6, 3, tiers)
	return pager, client
}

func TestPagerWalksCursors(t *testing.T) {
	pager, client := newTestPager(ProductPageTiers)
	httpmock.ActivateNonDefault(client.httpClient)
	defer httpmock.DeactivateAndReset()

	pages := 0
	httpmock.RegisterResponder(http.MethodGet,
		"https://test-shop.myshopify.com/admin/api/2022-10/products.json",
		func(req *http.Request) (*http.Response, error) {
			pages++
			resp := httpmock.NewStringResponse(200, fmt.Sprintf(`{"products":[{"id":%d}]}`, pages))
			if pages < 3 {
				resp.Header.Set("Link",
					fmt.Sprintf(`<https://test-shop.myshopify.com/admin/api/2022-10/products.json?page_info=cursor%d>; rel="next"`, pages))
			}
			if pages > 1 {
				assert.Equal(t, fmt.Sprintf("cursor%d", pages-1), req.URL.Query().Get("page_info"))
				assert.Empty(t, req.URL.Query().Get("vendor"), "filters ride the cursor, not the params")
			} else {
				assert.Equal(t, "Acme", req.URL.Query().Get("vendor"))
			}
			return resp, nil
		})

	var seen []string
	err := pager.Pages(context.Background(), "products.json", map[string]string{"vendor": "Acme"},
		func(page []byte) error {
			seen = append(seen, string(page))
			return nil
		})
	require.NoError(t, err)
	assert.Len(t, seen, 3)
	assert.Equal(t, 3, pages)
}

func TestPagerStepsDownOnTransient(t *testing.T) {
	pager, client := newTestPager([]int{250, 100, 10})
	client.sleep = func(time.Duration) {}
	httpmock.ActivateNonDefault(client.httpClient)
	defer httpmock.DeactivateAndReset()

	var limits []string
	httpmock.RegisterResponder(http.MethodGet,
		"https://test-shop.myshopify.com/admin/api/2022-10/products.json",
		func(req *http.Request) (*http.Response, error) {
			limit := req.URL.Query().Get("limit")
			limits = append(limits, limit)
			if limit == "250" {
				return httpmock.NewStringResponse(503, "too heavy"), nil
			}
			return httpmock.NewStringResponse(200, `{"products":[]}`), nil
		})

	err := pager.Pages(context.Background(), "products.json", nil, func([]byte) error { return nil })
	require.NoError(t, err)

	// The 250-limit page exhausts the client's retries, then the pager
	// steps down and the 100-limit page succeeds.
	assert.Equal(t, "250", limits[0])
	assert.Equal(t, "100", limits[len(limits)-1])
	assert.Equal(t, 100, pager.pageLimit())
}

func TestPagerThrottleNearCeiling(t *testing.T) {
	c := newTestRESTClient()
	p := newRestPager(c, 2, 3, ProductPageTiers)

	// Plenty of headroom: the worker rides the bucket for free.
	c.recordHeaders(http.Header{"X-Shopify-Shop-Api-Call-Limit": {"10/80"}})
	p.throttle()

	// Close to the ceiling (used >= total - 3*rate, rate being the pager's
	// modifier-scaled per-worker rate): the worker
	// waits for a token. The bucket starts full, so the first wait is
	// cheap, but it must consume.
	c.recordHeaders(http.Header{"X-Shopify-Shop-Api-Call-Limit": {"79/80"}})
	done := make(chan struct{})
	go func() {
		p.throttle()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("throttle near ceiling never returned")
	}
}
