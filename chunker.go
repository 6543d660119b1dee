package shopify

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// DateRange is one [Start, End] slice of the shop's activity window.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// CountProber reports how many products were created inside a candidate
// range. Backed by products/count.json in production.
type CountProber func(ctx context.Context, r DateRange) (int, error)

const (
	// chunkMaxProducts is the largest product count one committed range
	// may probe to.
	chunkMaxProducts = 20000
	// chunkMinStep is the floor the adaptive halving stops at.
	chunkMinStep = 24 * time.Hour
)

// InitialChunkStep picks the starting slice width from the shop's size.
func InitialChunkStep(productCount int) time.Duration {
	switch {
	case productCount > 100000:
		return 2 * 24 * time.Hour
	case productCount > 50000:
		return 7 * 24 * time.Hour
	default:
		return 365 * 24 * time.Hour
	}
}

// BuildDateRanges splits [start, end] into ordered ranges. Each candidate
// range is probed; a range holding more than chunkMaxProducts products is
// halved and retried until it fits or the step floor is reached.
func BuildDateRanges(ctx context.Context, start, end time.Time, step time.Duration, probe CountProber) ([]DateRange, error) {
	if step < chunkMinStep {
		step = chunkMinStep
	}

	var ranges []DateRange
	cursor := start
	for cursor.Before(end) {
		rangeEnd := cursor.Add(step)
		if rangeEnd.After(end) {
			rangeEnd = end
		}
		candidate := DateRange{Start: cursor, End: rangeEnd}

		count, err := probe(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if count > chunkMaxProducts && step > chunkMinStep {
			step = step / 2
			if step < chunkMinStep {
				step = chunkMinStep
			}
			log.Debugf("date range %s..%s holds %d products, halving step to %s",
				candidate.Start.Format(time.RFC3339), candidate.End.Format(time.RFC3339), count, step)
			continue
		}

		ranges = append(ranges, candidate)
		cursor = rangeEnd
	}
	return ranges, nil
}
