package graphql

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/net/context/ctxhttp"
)

// Client is a GraphQL client.
type Client struct {
	url        string // GraphQL server URL.
	httpClient *http.Client
}

type Extensions struct {
	Cost *Cost `json:"cost"`
}

type Cost struct {
	RequestedQueryCost float64 `json:"requestedQueryCost"`
	ActualQueryCost    float64 `json:"actualQueryCost"`
	ThrottleStatus     struct {
		MaximumAvailable   float64 `json:"maximumAvailable"`
		CurrentlyAvailable float64 `json:"currentlyAvailable"`
		RestoreRate        float64 `json:"restoreRate"`
	} `json:"throttleStatus"`
}

// NewClient creates a GraphQL client targeting the specified GraphQL server URL.
// If httpClient is nil, then http.DefaultClient is used.
func NewClient(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		url:        url,
		httpClient: httpClient,
	}
}

// QueryString executes a single GraphQL query request,
// using the given raw query `q` and populating the response into `v`.
// `q` should be a correct GraphQL request string that corresponds to the GraphQL schema.
func (c *Client) QueryString(ctx context.Context, q string, variables map[string]interface{}, v interface{}) error {
	return c.do(ctx, q, variables, v)
}

// MutateString executes a single GraphQL mutation request,
// using the given raw mutation `m` and populating the response into `v`.
func (c *Client) MutateString(ctx context.Context, m string, variables map[string]interface{}, v interface{}) error {
	return c.do(ctx, m, variables, v)
}

// ThrottledError is returned when the API rejects an operation because the
// query cost bucket is exhausted. RetryAfter carries the restore estimate
// taken from the cost extension.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("Throttled, retry after %s", e.RetryAfter)
}

// do executes a single GraphQL operation.
func (c *Client) do(ctx context.Context, query string, variables map[string]interface{}, v interface{}) error {
	in := struct {
		Query     string                 `json:"query"`
		Variables map[string]interface{} `json:"variables,omitempty"`
	}{
		Query:     query,
		Variables: variables,
	}
	var buf bytes.Buffer
	err := json.NewEncoder(&buf).Encode(in)
	if err != nil {
		return err
	}
	resp, err := ctxhttp.Post(ctx, c.httpClient, c.url, "application/json", &buf)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("non-200 OK status code: %v body: %q", resp.Status, body)
	}
	var out struct {
		Data       *json.RawMessage
		Errors     errors
		Extensions *Extensions `json:"extensions"`
	}
	err = json.NewDecoder(resp.Body).Decode(&out)
	if err != nil {
		return err
	}

	if len(out.Errors) > 0 && out.Errors[0].Message == "Throttled" {
		retryAfter := 5 * time.Second
		if out.Extensions != nil && out.Extensions.Cost != nil {
			requestedQueryCost := out.Extensions.Cost.RequestedQueryCost
			throttleStatus := out.Extensions.Cost.ThrottleStatus
			if throttleStatus.CurrentlyAvailable < requestedQueryCost && throttleStatus.RestoreRate > 0 {
				seconds := math.Ceil((requestedQueryCost - throttleStatus.CurrentlyAvailable) / throttleStatus.RestoreRate)
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &ThrottledError{RetryAfter: retryAfter}
	}

	if out.Data != nil {
		err := json.Unmarshal(*out.Data, v)
		if err != nil {
			return err
		}
	}
	if len(out.Errors) > 0 {
		return out.Errors
	}
	return nil
}

// errors represents the "errors" array in a response from a GraphQL server.
// If returned via error interface, the slice is expected to contain at least 1 element.
//
// Specification: https://facebook.github.io/graphql/#sec-Errors.
type errors []struct {
	Message   string
	Locations []struct {
		Line   int
		Column int
	}
}

// Error implements error interface.
func (e errors) Error() string {
	return e[0].Message
}
