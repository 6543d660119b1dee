package shopify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gempages/go-helper/tracing"
	"github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/gempages/shopify-catalog-export/graphql"
	"github.com/gempages/shopify-catalog-export/rand"
	"github.com/gempages/shopify-catalog-export/utils"
)

// Bulk driver budgets. A single logical bulk pull never submits more than
// MaxRetries + MaxBlockedRetries + MaxThrottledRetries times.
const (
	MaxRetries          = 256
	MaxBlockedRetries   = 30
	MaxThrottledRetries = 30
	MaxPollAttempts     = 2000
	MaxPollErrors       = 8
	WaitSeconds         = 10
	MaxLineLength       = 65535 * 20
)

type BulkOperationService interface {
	// RunBulkQuery submits a bulk query, waits for completion and
	// downloads the JSONL result. It returns "" when the operation
	// matched no objects.
	RunBulkQuery(ctx context.Context, query string) (resultFile string, err error)

	PostBulkQuery(ctx context.Context, query string) (graphql.ID, error)
	GetBulkOperation(ctx context.Context, id graphql.ID) (CurrentBulkOperation, error)
	WaitForBulkOperation(ctx context.Context, id graphql.ID) (CurrentBulkOperation, error)
	CancelRunningBulkQuery(ctx context.Context) error
}

type BulkOperationServiceOp struct {
	client *Client

	// sleep and pollInterval are swapped out by tests.
	sleep        func(time.Duration)
	pollInterval time.Duration
}

var _ BulkOperationService = &BulkOperationServiceOp{}

func newBulkOperationService(c *Client) *BulkOperationServiceOp {
	return &BulkOperationServiceOp{
		client:       c,
		sleep:        time.Sleep,
		pollInterval: time.Duration(5+WaitSeconds) * time.Second,
	}
}

type CurrentBulkOperation struct {
	ID              graphql.ID     `json:"id"`
	Status          graphql.String `json:"status"`
	ErrorCode       graphql.String `json:"errorCode"`
	CreatedAt       graphql.String `json:"createdAt"`
	CompletedAt     graphql.String `json:"completedAt"`
	ObjectCount     graphql.String `json:"objectCount"`
	RootObjectCount graphql.String `json:"rootObjectCount"`
	FileSize        graphql.String `json:"fileSize"`
	URL             graphql.String `json:"url"`
	PartialDataURL  graphql.String `json:"partialDataUrl"`
}

type bulkOperationRunQueryResult struct {
	BulkOperation struct {
		ID     graphql.ID     `json:"id"`
		Status graphql.String `json:"status"`
	} `json:"bulkOperation"`
	UserErrors []UserErrors `json:"userErrors"`
}

type bulkOperationCancelResult struct {
	BulkOperation struct {
		ID graphql.ID `json:"id"`
	} `json:"bulkOperation"`
	UserErrors []UserErrors `json:"userErrors"`
}

// PostBulkQuery submits the inner query wrapped in bulkOperationRunQuery
// and returns the operation's GID. The generated document is validated
// locally first; a malformed query fails here instead of burning the
// shop's single bulk slot.
func (s *BulkOperationServiceOp) PostBulkQuery(ctx context.Context, query string) (graphql.ID, error) {
	if _, err := parser.ParseQuery(&ast.Source{Input: query}); err != nil {
		return "", &BulkError{Reason: BulkFailed, Message: fmt.Sprintf("bulk query does not parse: %s", err)}
	}

	m := fmt.Sprintf(`mutation {
		bulkOperationRunQuery(query: """
%s
""") {
			bulkOperation { id status }
			userErrors { field message }
		}
	}`, query)

	out := struct {
		BulkOperationRunQuery bulkOperationRunQueryResult `json:"bulkOperationRunQuery"`
	}{}
	err := s.client.gql.MutateString(ctx, m, nil, &out)
	if err != nil {
		var throttled *graphql.ThrottledError
		if errors.As(err, &throttled) {
			return "", &BulkError{Reason: BulkThrottled, Message: err.Error()}
		}
		return "", err
	}

	if len(out.BulkOperationRunQuery.UserErrors) > 0 {
		return "", classifySubmitErrors(out.BulkOperationRunQuery.UserErrors)
	}

	return out.BulkOperationRunQuery.BulkOperation.ID, nil
}

// classifySubmitErrors turns bulkOperationRunQuery userErrors into typed
// retry classifications.
func classifySubmitErrors(userErrors []UserErrors) error {
	var messages []string
	for _, ue := range userErrors {
		messages = append(messages, string(ue.Message))
	}
	joined := strings.Join(messages, "; ")

	for _, msg := range messages {
		if strings.Contains(msg, "already in progress") {
			return &BulkError{Reason: BulkBlocked, Message: joined}
		}
		if strings.Contains(msg, "Throttled") {
			return &BulkError{Reason: BulkThrottled, Message: joined}
		}
	}
	// Any other userError (bad query, permission) is fatal: retrying the
	// same submit cannot succeed.
	return &BulkError{Reason: BulkFailed, Message: joined}
}

// GetBulkOperation polls one operation by id.
func (s *BulkOperationServiceOp) GetBulkOperation(ctx context.Context, id graphql.ID) (CurrentBulkOperation, error) {
	q := `query bulkOperation($id: ID!) {
		node(id: $id) {
			... on BulkOperation {
				id status errorCode createdAt completedAt
				objectCount rootObjectCount fileSize url partialDataUrl
			}
		}
	}`

	out := struct {
		Node CurrentBulkOperation `json:"node"`
	}{}
	err := s.client.gql.QueryString(ctx, q, map[string]interface{}{"id": id}, &out)
	if err != nil {
		return CurrentBulkOperation{}, err
	}
	return out.Node, nil
}

// WaitForBulkOperation polls until the operation completes or dies.
func (s *BulkOperationServiceOp) WaitForBulkOperation(ctx context.Context, id graphql.ID) (CurrentBulkOperation, error) {
	pollErrors := 0
	throttled := 0
	for attempt := 0; attempt < MaxPollAttempts; attempt++ {
		span := sentry.StartSpan(ctx, "time.sleep")
		span.Description = "bulk poll interval"
		s.sleep(s.pollInterval)
		tracing.FinishSpan(span, ctx.Err())

		if err := ctx.Err(); err != nil {
			return CurrentBulkOperation{}, err
		}

		op, err := s.GetBulkOperation(ctx, id)
		var throttledErr *graphql.ThrottledError
		if errors.As(err, &throttledErr) {
			throttled++
			if throttled > MaxThrottledRetries {
				return op, &BulkError{Reason: BulkThrottled, Message: err.Error()}
			}
			continue
		}
		if err != nil || op.ID == "" {
			pollErrors++
			if pollErrors > MaxPollErrors {
				return op, &BulkError{Reason: BulkFailed, Status: string(op.Status), Message: fmt.Sprintf("poll failed %d times: %v", pollErrors, err)}
			}
			continue
		}

		switch op.Status {
		case "COMPLETED":
			return op, nil
		case "CREATED", "RUNNING":
			log.Tracef("bulk operation %s still %s, %s objects", op.ID, op.Status, op.ObjectCount)
		case "CANCELED", "CANCELING", "EXPIRED", "FAILED":
			message := string(op.ErrorCode)
			if op.ErrorCode == "ACCESS_DENIED" {
				message += ": the access token lacks a scope this bulk query needs"
			}
			return op, &BulkError{Reason: BulkFailed, Status: string(op.Status), Message: message}
		default:
			pollErrors++
			if pollErrors > MaxPollErrors {
				return op, &BulkError{Reason: BulkFailed, Status: string(op.Status), Message: "unknown status"}
			}
		}
	}
	return CurrentBulkOperation{}, &BulkError{Reason: BulkPollTimeout, Message: fmt.Sprintf("not completed after %d polls", MaxPollAttempts)}
}

// RunBulkQuery drives one bulk operation end to end: submit with
// blocked/throttled budgets, poll to completion, download the JSONL
// result to a temp file. The caller owns (and removes) the file.
func (s *BulkOperationServiceOp) RunBulkQuery(ctx context.Context, query string) (resultFile string, err error) {
	span := sentry.StartSpan(ctx, "shopify_graphql.bulk_query")
	span.SetTag("query", query)
	defer func() {
		tracing.FinishSpan(span, err)
	}()
	ctx = span.Context()

	var (
		blocked   int
		throttled int
		retries   int
	)

	var id graphql.ID
	for {
		id, err = s.PostBulkQuery(ctx, query)
		if err == nil {
			break
		}
		if blocked+throttled+retries+1 >= MaxRetries+MaxBlockedRetries+MaxThrottledRetries {
			return "", err
		}

		var bulkErr *BulkError
		switch {
		case errors.As(err, &bulkErr) && bulkErr.Reason == BulkBlocked:
			blocked++
			if blocked > MaxBlockedRetries {
				return "", bulkErr
			}
			log.Debugf("bulk operation blocked (%d/%d), waiting", blocked, MaxBlockedRetries)
			s.sleep(time.Duration(WaitSeconds+10) * time.Second)
		case errors.As(err, &bulkErr) && bulkErr.Reason == BulkThrottled:
			throttled++
			if throttled > MaxThrottledRetries {
				return "", bulkErr
			}
			log.Debugf("bulk operation throttled (%d/%d), waiting", throttled, MaxThrottledRetries)
			s.sleep(5 * time.Second)
		case errors.As(err, &bulkErr):
			// Fatal submit classification.
			return "", bulkErr
		default:
			retries++
			if retries > MaxRetries {
				return "", err
			}
			log.Debugf("bulk submit error (%d/%d): %s", retries, MaxRetries, err)
			s.sleep(time.Second)
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}

	if id == "" {
		return "", fmt.Errorf("posted operation ID is empty")
	}

	op, err := s.WaitForBulkOperation(ctx, id)
	if err != nil {
		return "", err
	}

	if op.ObjectCount == "0" || op.URL == "" {
		return "", nil
	}

	filename := fmt.Sprintf("%s%s", rand.String(10), ".jsonl")
	resultFile = filepath.Join(os.TempDir(), filename)
	err = utils.DownloadFile(ctx, resultFile, string(op.URL))
	if err != nil {
		utils.RemoveFile(resultFile)
		return "", err
	}

	return resultFile, nil
}

// CancelRunningBulkQuery cancels whatever bulk operation is currently
// running on the shop. Used on abort; best effort.
func (s *BulkOperationServiceOp) CancelRunningBulkQuery(ctx context.Context) error {
	q := `query { currentBulkOperation { id status } }`
	out := struct {
		CurrentBulkOperation CurrentBulkOperation `json:"currentBulkOperation"`
	}{}
	if err := s.client.gql.QueryString(ctx, q, nil, &out); err != nil {
		return err
	}

	op := out.CurrentBulkOperation
	if op.Status != "CREATED" && op.Status != "RUNNING" {
		return nil
	}

	log.Debugln("Canceling running operation")
	m := `mutation bulkOperationCancel($id: ID!) {
		bulkOperationCancel(id: $id) {
			bulkOperation { id }
			userErrors { field message }
		}
	}`
	cancelOut := struct {
		BulkOperationCancel bulkOperationCancelResult `json:"bulkOperationCancel"`
	}{}
	if err := s.client.gql.MutateString(ctx, m, map[string]interface{}{"id": op.ID}, &cancelOut); err != nil {
		return err
	}
	if len(cancelOut.BulkOperationCancel.UserErrors) > 0 {
		return fmt.Errorf("%+v", cancelOut.BulkOperationCancel.UserErrors)
	}
	return nil
}
