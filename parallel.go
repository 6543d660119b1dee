package shopify

import (
	"bytes"
	"context"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/gempages/shopify-catalog-export/ratelimit"
)

// maxChildOutput caps one worker's total output. Beyond it further bytes
// are discarded; the worker still runs to completion.
const maxChildOutput = 100 << 20

// ChildFunc is a work unit. It must not share state with the parent; its
// sole visible effect is the bytes it writes to w. Each child builds its
// own HTTP client so connection state never leaks across units.
type ChildFunc func(job interface{}, w io.Writer) error

// ParentFunc consumes one finished child's output in the parent. It runs
// serially; err is non-nil only for the first failing child (subsequent
// errors are suppressed to avoid cascades).
type ParentFunc func(output []byte, job interface{}, err error) error

// cappedWriter discards writes past the limit but keeps counting so the
// overflow is visible in logs.
type cappedWriter struct {
	buf     bytes.Buffer
	written int64
	limit   int64
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	n := len(p)
	w.written += int64(n)
	if remaining := w.limit - int64(w.buf.Len()); remaining > 0 {
		if int64(len(p)) > remaining {
			p = p[:remaining]
		}
		w.buf.Write(p)
	}
	return n, nil
}

// Handle is a running asynchronous work unit.
type Handle struct {
	done   chan struct{}
	writer *cappedWriter
	err    error
}

// Wait blocks until the unit exits and returns its output.
func (h *Handle) Wait() ([]byte, error) {
	<-h.done
	return h.writer.buf.Bytes(), h.err
}

// DoSync runs fn in an isolated unit and blocks until it exits.
func DoSync(job interface{}, fn ChildFunc) ([]byte, error) {
	return DoAsync(job, fn).Wait()
}

// DoAsync fires fn in the background and returns a handle to reap later.
func DoAsync(job interface{}, fn ChildFunc) *Handle {
	h := &Handle{
		done:   make(chan struct{}),
		writer: &cappedWriter{limit: maxChildOutput},
	}
	go func() {
		defer close(h.done)
		h.err = fn(job, h.writer)
		if h.writer.written > h.writer.limit {
			log.Warnf("worker output truncated: %d bytes over the %d limit", h.writer.written-h.writer.limit, h.writer.limit)
		}
	}()
	return h
}

type childResult struct {
	job    interface{}
	output []byte
	err    error
}

// DoParallel runs jobs through up to maxWorkers concurrent units. The
// parent consumes each unit's output as it finishes. Spawning is paced by
// limiter when non-nil. The first error (child or parent) is sticky:
// later child errors are suppressed, remaining queued jobs are skipped,
// and outstanding units are still reaped with their output discarded.
func DoParallel(ctx context.Context, jobs []interface{}, maxWorkers int, child ChildFunc, parent ParentFunc, limiter *ratelimit.Limiter) error {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	results := make(chan childResult)
	slots := make(chan struct{}, maxWorkers)

	var wg sync.WaitGroup
	spawnDone := make(chan struct{})
	aborted := make(chan struct{})

	go func() {
		defer close(spawnDone)
		for _, job := range jobs {
			select {
			case <-ctx.Done():
				return
			case <-aborted:
				return
			default:
			}
			select {
			case <-ctx.Done():
				return
			case <-aborted:
				return
			case slots <- struct{}{}:
			}
			if limiter != nil {
				limiter.Wait()
			}
			wg.Add(1)
			go func(job interface{}) {
				defer wg.Done()
				defer func() { <-slots }()
				w := &cappedWriter{limit: maxChildOutput}
				err := child(job, w)
				results <- childResult{job: job, output: w.buf.Bytes(), err: err}
			}(job)
		}
	}()

	go func() {
		<-spawnDone
		wg.Wait()
		close(results)
	}()

	var firstErr error
	for res := range results {
		if firstErr != nil {
			// Sticky error set: reap and discard.
			continue
		}
		err := res.err
		if perr := parent(res.output, res.job, err); perr != nil && err == nil {
			err = perr
		}
		if err != nil {
			firstErr = err
			close(aborted)
		}
	}

	if firstErr == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return firstErr
}
