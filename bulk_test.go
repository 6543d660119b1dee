package shopify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gempages/shopify-catalog-export/graphql"
)

const testGraphURL = "https://test-shop.myshopify.com/admin/api/2022-10/graphql.json"

// newTestBulkService wires a bulk service against an httpmock-backed
// GraphQL endpoint with sleeping disabled.
func newTestBulkService() (*BulkOperationServiceOp, *http.Client) {
	httpClient := &http.Client{}
	c := &Client{gql: graphql.NewClient(testGraphURL, httpClient)}
	svc := newBulkOperationService(c)
	svc.sleep = func(time.Duration) {}
	svc.pollInterval = 0
	c.BulkOperation = svc
	return svc, httpClient
}

type graphRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

func decodeGraphRequest(t *testing.T, req *http.Request) graphRequest {
	t.Helper()
	var out graphRequest
	require.NoError(t, json.NewDecoder(req.Body).Decode(&out))
	return out
}

func submitResponse(id string, userErrors string) string {
	if userErrors == "" {
		userErrors = "[]"
	}
	return fmt.Sprintf(`{"data":{"bulkOperationRunQuery":{"bulkOperation":{"id":"%s","status":"CREATED"},"userErrors":%s}}}`, id, userErrors)
}

func pollResponse(id, status, objectCount, url string) string {
	return fmt.Sprintf(`{"data":{"node":{"id":"%s","status":"%s","objectCount":"%s","url":"%s"}}}`, id, status, objectCount, url)
}

func TestClassifySubmitErrors(t *testing.T) {
	err := classifySubmitErrors([]UserErrors{{Message: "A bulk query operation for this app and shop is already in progress"}})
	var bulkErr *BulkError
	require.ErrorAs(t, err, &bulkErr)
	assert.Equal(t, BulkBlocked, bulkErr.Reason)

	err = classifySubmitErrors([]UserErrors{{Message: "Throttled"}})
	require.ErrorAs(t, err, &bulkErr)
	assert.Equal(t, BulkThrottled, bulkErr.Reason)

	err = classifySubmitErrors([]UserErrors{{Message: "query is not valid"}})
	require.ErrorAs(t, err, &bulkErr)
	assert.Equal(t, BulkFailed, bulkErr.Reason, "other submit userErrors are fatal")
}

func TestPostBulkQueryRejectsMalformedQuery(t *testing.T) {
	svc, _ := newTestBulkService()
	_, err := svc.PostBulkQuery(context.Background(), `{ products { edges {`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not parse")
}

// A blocked submit succeeding on the final allowed attempt completes; one
// more blocked response is fatal.
func TestRunBulkQueryBlockedRetryBudget(t *testing.T) {
	cases := []struct {
		blockedResponses int
		wantErr          bool
	}{
		{MaxBlockedRetries, false},
		{MaxBlockedRetries + 1, true},
	}

	for _, tc := range cases {
		svc, httpClient := newTestBulkService()
		httpmock.ActivateNonDefault(httpClient)

		submits := 0
		httpmock.RegisterResponder(http.MethodPost, testGraphURL,
			func(req *http.Request) (*http.Response, error) {
				body := decodeGraphRequest(t, req)
				if strings.Contains(body.Query, "bulkOperationRunQuery") {
					submits++
					if submits <= tc.blockedResponses {
						return httpmock.NewStringResponse(200,
							submitResponse("", `[{"field":null,"message":"operation already in progress"}]`)), nil
					}
					return httpmock.NewStringResponse(200, submitResponse("gid://shopify/BulkOperation/1", "")), nil
				}
				// Poll: immediately completed, empty result set.
				return httpmock.NewStringResponse(200, pollResponse("gid://shopify/BulkOperation/1", "COMPLETED", "0", "")), nil
			})

		resultFile, err := svc.RunBulkQuery(context.Background(), `{ products { edges { node { id } } } }`)
		if tc.wantErr {
			var bulkErr *BulkError
			require.ErrorAs(t, err, &bulkErr)
			assert.Equal(t, BulkBlocked, bulkErr.Reason)
			assert.Equal(t, MaxBlockedRetries+1, submits, "fatal exactly when the budget is spent")
		} else {
			require.NoError(t, err)
			assert.Equal(t, "", resultFile)
			assert.Equal(t, tc.blockedResponses+1, submits)
		}
		httpmock.DeactivateAndReset()
	}
}

func TestRunBulkQueryThrottledRetryBudget(t *testing.T) {
	svc, httpClient := newTestBulkService()
	httpmock.ActivateNonDefault(httpClient)
	defer httpmock.DeactivateAndReset()

	submits := 0
	httpmock.RegisterResponder(http.MethodPost, testGraphURL,
		func(req *http.Request) (*http.Response, error) {
			body := decodeGraphRequest(t, req)
			if strings.Contains(body.Query, "bulkOperationRunQuery") {
				submits++
				return httpmock.NewStringResponse(200,
					submitResponse("", `[{"field":null,"message":"Throttled"}]`)), nil
			}
			return httpmock.NewStringResponse(200, "{}"), nil
		})

	_, err := svc.RunBulkQuery(context.Background(), `{ products { edges { node { id } } } }`)
	var bulkErr *BulkError
	require.ErrorAs(t, err, &bulkErr)
	assert.Equal(t, BulkThrottled, bulkErr.Reason)
	assert.Equal(t, MaxThrottledRetries+1, submits)
}

func TestWaitForBulkOperationDeadState(t *testing.T) {
	svc, httpClient := newTestBulkService()
	httpmock.ActivateNonDefault(httpClient)
	defer httpmock.DeactivateAndReset()

	polls := 0
	httpmock.RegisterResponder(http.MethodPost, testGraphURL,
		func(*http.Request) (*http.Response, error) {
			polls++
			status := "RUNNING"
			if polls >= 3 {
				status = "FAILED"
			}
			return httpmock.NewStringResponse(200, pollResponse("gid://shopify/BulkOperation/1", status, "10", "")), nil
		})

	_, err := svc.WaitForBulkOperation(context.Background(), "gid://shopify/BulkOperation/1")
	var bulkErr *BulkError
	require.ErrorAs(t, err, &bulkErr)
	assert.Equal(t, BulkFailed, bulkErr.Reason)
	assert.Equal(t, "FAILED", bulkErr.Status)
	assert.Equal(t, 3, polls)
}

func TestWaitForBulkOperationCompletes(t *testing.T) {
	svc, httpClient := newTestBulkService()
	httpmock.ActivateNonDefault(httpClient)
	defer httpmock.DeactivateAndReset()

	polls := 0
	httpmock.RegisterResponder(http.MethodPost, testGraphURL,
		func(*http.Request) (*http.Response, error) {
			polls++
			if polls < 4 {
				return httpmock.NewStringResponse(200, pollResponse("gid://shopify/BulkOperation/1", "RUNNING", "5", "")), nil
			}
			return httpmock.NewStringResponse(200, pollResponse("gid://shopify/BulkOperation/1", "COMPLETED", "42", "https://cdn/result.jsonl")), nil
		})

	op, err := svc.WaitForBulkOperation(context.Background(), "gid://shopify/BulkOperation/1")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", string(op.Status))
	assert.Equal(t, "https://cdn/result.jsonl", string(op.URL))
}

func TestWaitForBulkOperationPollErrorBudget(t *testing.T) {
	svc, httpClient := newTestBulkService()
	httpmock.ActivateNonDefault(httpClient)
	defer httpmock.DeactivateAndReset()

	polls := 0
	httpmock.RegisterResponder(http.MethodPost, testGraphURL,
		func(*http.Request) (*http.Response, error) {
			polls++
			return httpmock.NewStringResponse(500, "boom"), nil
		})

	_, err := svc.WaitForBulkOperation(context.Background(), "gid://shopify/BulkOperation/1")
	var bulkErr *BulkError
	require.ErrorAs(t, err, &bulkErr)
	assert.Equal(t, BulkFailed, bulkErr.Reason)
	assert.Equal(t, MaxPollErrors+1, polls)
}
