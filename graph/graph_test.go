package graphqlclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDomain(t *testing.T) {
	assert.Equal(t, "theshop.myshopify.com", NormalizeDomain("theshop"))
	assert.Equal(t, "theshop.myshopify.com", NormalizeDomain("theshop.myshopify.com"))
	assert.Equal(t, "shop.example.com", NormalizeDomain("shop.example.com"))
}

func TestRESTBaseURL(t *testing.T) {
	assert.Equal(t,
		"https://theshop.myshopify.com/admin/api/2022-10",
		RESTBaseURL("theshop", "2022-10"))
	assert.Equal(t,
		"https://theshop.myshopify.com/admin/api",
		RESTBaseURL("theshop", "latest"))
}

func TestGraphEndpointCarriesVersion(t *testing.T) {
	assert.Equal(t,
		"https://theshop.myshopify.com/admin/api/2019-10/graphql.json",
		buildGraphAPIEndpoint("theshop", "2019-10"))
	assert.Equal(t,
		"https://theshop.myshopify.com/admin/api/"+DefaultVersion+"/graphql.json",
		buildGraphAPIEndpoint("theshop", DefaultVersion))
}
