package shopify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/go-querystring/query"
	log "github.com/sirupsen/logrus"

	graphqlclient "github.com/gempages/shopify-catalog-export/graph"
)

const (
	// restMaxAttempts bounds the retry loop for one logical request.
	restMaxAttempts = 8
	// restMaxBackoff caps the doubling backoff window.
	restMaxBackoff = 300 * time.Second
)

// CallLimit is the most recent X-Shopify-Shop-Api-Call-Limit reading.
type CallLimit struct {
	Used  int
	Total int
}

// RESTClient talks to the Admin REST API with retry and backoff. Each
// worker builds its own client so header state is never shared.
type RESTClient struct {
	httpClient *http.Client
	baseURL    string

	sleep func(time.Duration)

	mu          sync.Mutex
	lastHeaders http.Header
	callLimit   CallLimit
}

// NewRESTClient builds a client for one shop. Version "" uses the default
// Admin API version.
func NewRESTClient(shopName, token, version string) *RESTClient {
	if version == "" {
		version = graphqlclient.DefaultVersion
	}
	return &RESTClient{
		httpClient: graphqlclient.NewHTTPClient(graphqlclient.WithToken(token)),
		baseURL:    graphqlclient.RESTBaseURL(shopName, version),
		sleep:      time.Sleep,
	}
}

// Do issues one request and decodes the JSON response into v (ignored when
// nil). GET params render as the query string; other methods send params
// as a JSON body. params may be a url-tagged struct or a
// map[string]string.
func (c *RESTClient) Do(ctx context.Context, method, path string, params interface{}, v interface{}) error {
	reqURL, body, err := c.buildRequest(method, path, params)
	if err != nil {
		return err
	}

	backoff := time.Second
	var lastErr error
	for attempt := 1; attempt <= restMaxAttempts; attempt++ {
		err := c.doOnce(ctx, method, reqURL, body, v)
		if err == nil {
			return nil
		}
		lastErr = err

		var rateErr *RateLimitError
		var transientErr *TransientError
		switch {
		case errors.As(err, &rateErr):
			wait := time.Duration(rateErr.RetryAfter * float64(time.Second))
			if wait <= 0 {
				wait = 2 * time.Second
			}
			log.Debugf("rate limited, waiting %s", wait)
			c.sleep(wait)
		case errors.As(err, &transientErr):
			// Exponential backoff with jitter, windows doubling to a cap.
			jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
			log.Debugf("transient error (%s), retrying in %s", err, backoff+jitter)
			c.sleep(backoff + jitter)
			backoff *= 2
			if backoff > restMaxBackoff {
				backoff = restMaxBackoff
			}
		default:
			return err
		}
	}
	return lastErr
}

func (c *RESTClient) buildRequest(method, path string, params interface{}) (string, []byte, error) {
	reqURL := fmt.Sprintf("%s/%s", c.baseURL, strings.TrimPrefix(path, "/"))

	values, err := paramValues(params)
	if err != nil {
		return "", nil, err
	}

	if method == http.MethodGet {
		if len(values) > 0 {
			reqURL += "?" + values.Encode()
		}
		return reqURL, nil, nil
	}

	if params == nil {
		return reqURL, nil, nil
	}
	body, err := json.Marshal(params)
	if err != nil {
		return "", nil, err
	}
	return reqURL, body, nil
}

func paramValues(params interface{}) (url.Values, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case url.Values:
		return p, nil
	case map[string]string:
		values := url.Values{}
		for k, v := range p {
			values.Set(k, v)
		}
		return values, nil
	default:
		return query.Values(params)
	}
}

func (c *RESTClient) doOnce(ctx context.Context, method, reqURL string, body []byte, v interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Transport failures (resets, TLS errors, truncated bodies) are
		// retriable.
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Err: err}
	}

	c.recordHeaders(resp.Header)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter, _ := strconv.ParseFloat(resp.Header.Get("Retry-After"), 64)
		return &RateLimitError{RetryAfter: retryAfter}
	case resp.StatusCode == http.StatusInternalServerError,
		resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable:
		return &TransientError{Status: resp.StatusCode}
	case resp.StatusCode >= http.StatusBadRequest || resp.StatusCode == http.StatusSeeOther:
		return &ApiError{
			Status:    resp.StatusCode,
			Body:      string(respBody),
			RequestID: resp.Header.Get("X-Request-Id"),
		}
	}

	if v != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, v); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *RESTClient) recordHeaders(h http.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastHeaders = h
	if s := strings.Split(h.Get("X-Shopify-Shop-Api-Call-Limit"), "/"); len(s) == 2 {
		c.callLimit.Used, _ = strconv.Atoi(s[0])
		c.callLimit.Total, _ = strconv.Atoi(s[1])
	}
}

// LastHeaders returns the most recent response's headers.
func (c *RESTClient) LastHeaders() http.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeaders
}

// CallLimit returns the most recent X-Shopify-Shop-Api-Call-Limit reading.
func (c *RESTClient) CallLimit() CallLimit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callLimit
}

var linkSegmentRegex = regexp.MustCompile(`<([^>]+)>;\s*rel="(\w+)"`)

// PageInfo holds the REST cursor pair decoded from an RFC 5988 Link
// header.
type PageInfo struct {
	Next string
	Prev string
}

// ParseLinkHeader extracts the page_info cursors from the last response's
// Link header.
func (c *RESTClient) ParseLinkHeader() PageInfo {
	return ParseLinkHeader(c.LastHeaders().Get("Link"))
}

// ParseLinkHeader decodes rel=next|previous links, extracting each one's
// page_info query parameter.
func ParseLinkHeader(header string) PageInfo {
	var info PageInfo
	for _, segment := range strings.Split(header, ",") {
		m := linkSegmentRegex.FindStringSubmatch(strings.TrimSpace(segment))
		if len(m) != 3 {
			continue
		}
		u, err := url.Parse(m[1])
		if err != nil {
			continue
		}
		pageInfo := u.Query().Get("page_info")
		switch m[2] {
		case "next":
			info.Next = pageInfo
		case "previous", "prev":
			info.Prev = pageInfo
		}
	}
	return info
}
