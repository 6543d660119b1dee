package shopify

import (
	"context"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/gempages/shopify-catalog-export/ratelimit"
)

// ProductPageTiers are the page sizes the product lister steps down
// through as transient errors accumulate.
var ProductPageTiers = []int{250, 150, 125, 100, 75, 50, 25, 10}

// restWorkerCap bounds REST listing concurrency regardless of shop size.
const restWorkerCap = 50

// restRateForBurst derives a worker's request rate from the shop's
// call-limit bucket size: the classic 40-burst bucket restores 2/s, the
// Plus 80-burst bucket 4/s.
func restRateForBurst(bucketSize int) float64 {
	if bucketSize >= 80 {
		return 4
	}
	return 2
}

// restRateModifier widens the per-worker pacing for very large shops.
func restRateModifier(productCount int) float64 {
	if productCount > 50000 {
		return 4
	}
	return 3
}

// restWorkerCount sizes the worker pool for a REST listing pull.
func restWorkerCount(rate float64, rangeCount int) int {
	n := int(rate)
	if rangeCount < n {
		n = rangeCount
	}
	if n > restWorkerCap {
		n = restWorkerCap
	}
	if n < 1 {
		n = 1
	}
	return n
}

// restPager drives one worker's cursor loop over a REST collection with
// tier-indexed page-size backoff. Each worker owns its pager, client and
// limiter.
type restPager struct {
	client   *RESTClient
	limiter  *ratelimit.Limiter
	rate     float64
	modifier float64
	tiers    []int
	tier     int
}

func newRestPager(client *RESTClient, rate, modifier float64, tiers []int) *restPager {
	return &restPager{
		client:   client,
		limiter:  ratelimit.New(rate, 1),
		rate:     rate,
		modifier: modifier,
		tiers:    tiers,
	}
}

func (p *restPager) pageLimit() int {
	return p.tiers[p.tier]
}

// stepDown shrinks the page size after a transient failure.
func (p *restPager) stepDown() {
	if p.tier < len(p.tiers)-1 {
		p.tier++
		log.Debugf("rest pager stepping down to limit=%d", p.pageLimit())
	}
}

// throttle paces the next call. While the shop's bucket has headroom the
// worker rides it for free; close to the ceiling it waits for a token.
// p.rate is the per-worker rate, already scaled by the modifier.
func (p *restPager) throttle() {
	limit := p.client.CallLimit()
	if limit.Total > 0 && float64(limit.Used) >= float64(limit.Total)-3*p.rate {
		p.limiter.Wait()
	}
}

// pageParams is the cursor-page query; the Admin API rejects any filter
// besides limit once a page_info cursor is present.
type pageParams struct {
	Limit    int    `url:"limit,omitempty"`
	PageInfo string `url:"page_info,omitempty"`
}

// Pages walks a paginated collection. baseParams render on the first page
// only; later pages carry the cursor (plus limit). handle consumes each
// decoded page. The loop ends when no next cursor remains.
func (p *restPager) Pages(ctx context.Context, path string, baseParams map[string]string, handle func(page []byte) error) error {
	cursor := ""
	firstPage := true

	for {
		var params interface{}
		if firstPage {
			merged := map[string]string{"limit": intString(p.pageLimit())}
			for k, v := range baseParams {
				merged[k] = v
			}
			params = merged
		} else {
			params = pageParams{Limit: p.pageLimit(), PageInfo: cursor}
		}

		p.throttle()

		var raw rawJSON
		err := p.client.Do(ctx, http.MethodGet, path, params, &raw)
		if err != nil {
			// The client already retried transient failures with backoff;
			// a transient error surfacing here means the page is too
			// heavy, so shrink it and retry the same cursor.
			if isTransient(err) && p.tier < len(p.tiers)-1 {
				p.stepDown()
				continue
			}
			return err
		}

		if err := handle(raw); err != nil {
			return err
		}

		info := p.client.ParseLinkHeader()
		if info.Next == "" {
			return nil
		}
		cursor = info.Next
		firstPage = false
	}
}

// rawJSON captures the undecoded page body.
type rawJSON []byte

func (r *rawJSON) UnmarshalJSON(data []byte) error {
	*r = append((*r)[:0], data...)
	return nil
}

func intString(n int) string {
	return strconv.Itoa(n)
}

// newSpawnLimiter paces worker spawning during parallel REST pulls.
func newSpawnLimiter(rate float64) *ratelimit.Limiter {
	return ratelimit.New(rate, 1)
}
