package shopify

import (
	"context"

	graphqlclient "github.com/gempages/shopify-catalog-export/graph"
	"github.com/gempages/shopify-catalog-export/graphql"
)

// Client bundles the GraphQL and REST halves of the Admin API for one
// shop.
type Client struct {
	gql  *graphql.Client
	rest *RESTClient

	BulkOperation BulkOperationService
	Shop          ShopService
}

// NewClient builds a client from run settings.
func NewClient(settings *Settings) *Client {
	version := settings.APIVersion
	if version == "" {
		version = graphqlclient.DefaultVersion
	}

	c := &Client{
		gql: graphqlclient.NewClient(graphqlclient.NormalizeDomain(settings.ShopName),
			graphqlclient.WithVersion(version),
			graphqlclient.WithToken(settings.OAuthToken)),
		rest: NewRESTClient(settings.ShopName, settings.OAuthToken, version),
	}

	c.BulkOperation = newBulkOperationService(c)
	c.Shop = &ShopServiceOp{client: c}

	return c
}

// GraphQLClient exposes the underlying GraphQL client.
func (c *Client) GraphQLClient() *graphql.Client {
	return c.gql
}

// RESTClient exposes the underlying REST client.
func (c *Client) RESTClient() *RESTClient {
	return c.rest
}

// productDateRanges chunks the shop's activity window for sliced pulls,
// probing each candidate range's product count over REST.
func (c *Client) productDateRanges(ctx context.Context, shopCtx *ShopContext, settings *Settings) ([]DateRange, error) {
	window, err := c.Shop.ActivityWindow(ctx, shopCtx)
	if err != nil {
		return nil, err
	}

	step := InitialChunkStep(shopCtx.ProductCount)
	baseParams := settings.ProductFilters.RESTParams()
	delete(baseParams, "limit")

	probe := func(ctx context.Context, r DateRange) (int, error) {
		return c.Shop.ProductCount(ctx, r, baseParams)
	}
	return BuildDateRanges(ctx, window.Start, window.End, step, probe)
}
