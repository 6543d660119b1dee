package graphqlclient

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gempages/shopify-catalog-export/graphql"
)

const (
	shopifyBaseDomain        = "myshopify.com"
	shopifyAccessTokenHeader = "X-Shopify-Access-Token"

	// DefaultVersion is the Admin API version used when no override is
	// configured.
	DefaultVersion = "2022-10"
)

const (
	apiProtocol   = "https"
	graphEndpoint = "graphql.json"
)

// Option is used to configure options
type Option func(t *transport)

// WithVersion optionally sets the API version if the passed string is valid
func WithVersion(apiVersion string) Option {
	return func(t *transport) {
		if apiVersion != "" && apiVersion != "latest" {
			t.version = apiVersion
		} else {
			t.version = ""
		}
	}
}

// WithToken optionally sets oauth token
func WithToken(token string) Option {
	return func(t *transport) {
		t.accessToken = token
	}
}

// WithPrivateAppAuth optionally sets private app credentials
func WithPrivateAppAuth(apiKey string, password string) Option {
	return func(t *transport) {
		t.apiKey = apiKey
		t.password = password
	}
}

type transport struct {
	accessToken string
	apiKey      string
	password    string
	version     string
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.accessToken != "" {
		req.Header.Set(shopifyAccessTokenHeader, t.accessToken)
	} else if t.apiKey != "" && t.password != "" {
		req.SetBasicAuth(t.apiKey, t.password)
	}

	return http.DefaultTransport.RoundTrip(req)
}

// NewClient creates a new client (in fact, just a simple wrapper for a graphql.Client)
func NewClient(shopName string, opts ...Option) *graphql.Client {
	trans := &transport{version: DefaultVersion}

	for _, opt := range opts {
		opt(trans)
	}

	httpClient := &http.Client{Transport: trans}
	url := buildGraphAPIEndpoint(shopName, trans.version)
	graphClient := graphql.NewClient(url, httpClient)
	return graphClient
}

// NewHTTPClient builds an http.Client carrying the same auth transport,
// for the REST side of the Admin API.
func NewHTTPClient(opts ...Option) *http.Client {
	trans := &transport{version: DefaultVersion}

	for _, opt := range opts {
		opt(trans)
	}

	return &http.Client{Transport: trans}
}

// NormalizeDomain expands a bare shop name to its myshopify domain.
func NormalizeDomain(shopName string) string {
	if strings.Contains(shopName, ".") {
		return shopName
	}
	return fmt.Sprintf("%s.%s", shopName, shopifyBaseDomain)
}

// RESTBaseURL returns the versioned Admin REST prefix for a shop, e.g.
// https://theshop.myshopify.com/admin/api/2022-10
func RESTBaseURL(shopName string, apiVersion string) string {
	return fmt.Sprintf("%s://%s/%s", apiProtocol, NormalizeDomain(shopName), apiPathPrefix(apiVersion))
}

func apiPathPrefix(apiVersion string) string {
	if apiVersion != "" && apiVersion != "latest" {
		return fmt.Sprintf("admin/api/%s", apiVersion)
	}
	return "admin/api"
}

func buildGraphAPIEndpoint(shopName string, apiVersion string) string {
	return fmt.Sprintf("%s/%s", RESTBaseURL(shopName, apiVersion), graphEndpoint)
}
