package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-convgen/internal/domain"
	"github.com/ahrav/go-convgen/pkg/events"
)

// DefaultConcurrency is the batch worker count when none is configured.
const DefaultConcurrency = 3

// ErrSkipped marks batch items that never started because the batch stopped
// early.
var ErrSkipped = errors.New("batch item skipped")

// ErrInvalidBatch is returned for batch options that cannot run.
var ErrInvalidBatch = errors.New("invalid batch options")

// BatchOptions configures GenerateBatch.
type BatchOptions struct {
	// Concurrency bounds in-flight items. Zero selects DefaultConcurrency.
	Concurrency int

	// OnProgress runs after each item finishes. Calls are serialized.
	OnProgress func(Progress)

	// StopOnError prevents new items from starting after the first failure.
	// Items already in flight run to completion.
	StopOnError bool

	// RunID correlates the batch's events. Empty generates one.
	RunID string
}

// Progress is a snapshot taken after an item finishes.
type Progress struct {
	Completed          int           `json:"completed"`
	Total              int           `json:"total"`
	Percentage         float64       `json:"percentage"`
	Successful         int           `json:"successful"`
	Failed             int           `json:"failed"`
	EstimatedRemaining time.Duration `json:"estimated_remaining"`
}

// ItemResult is the outcome of one batch item. Exactly one of Result and Err
// is set.
type ItemResult struct {
	Index  int                     `json:"index"`
	Params domain.GenerationParams `json:"params"`
	Result *Result                 `json:"result,omitempty"`
	Err    error                   `json:"-"`
	Error  string                  `json:"error,omitempty"`
}

// BatchResult summarizes a batch. Items are in input order.
type BatchResult struct {
	RunID      string        `json:"run_id"`
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Items      []ItemResult  `json:"items"`
	TotalCost  domain.USD    `json:"total_cost"`
	Duration   time.Duration `json:"duration"`
}

// GenerateBatch runs GenerateSingle for every item on a bounded worker pool.
// A failing item never cancels its siblings. Items left unstarted because of
// StopOnError or a cancelled ctx are reported with ErrSkipped.
func (g *Generator) GenerateBatch(
	ctx context.Context,
	items []domain.GenerationParams,
	opts BatchOptions,
) (*BatchResult, error) {
	if opts.Concurrency < 0 {
		return nil, fmt.Errorf("%w: concurrency cannot be negative (got %d)", ErrInvalidBatch, opts.Concurrency)
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	start := g.now()
	log := g.logger.With("run_id", opts.RunID)
	log.Info("batch started", "items", len(items), "concurrency", opts.Concurrency)

	out := &BatchResult{
		RunID: opts.RunID,
		Total: len(items),
		Items: make([]ItemResult, len(items)),
	}

	var (
		mu      sync.Mutex
		stopped atomic.Bool
		done    int
	)
	finish := func(i int, res *Result, err error) {
		mu.Lock()
		defer mu.Unlock()

		item := &out.Items[i]
		item.Result, item.Err = res, err
		if err != nil {
			item.Error = err.Error()
			out.Failed++
		} else {
			out.Successful++
			out.TotalCost = out.TotalCost.Add(res.Cost)
		}
		done++

		if opts.OnProgress != nil {
			opts.OnProgress(g.progress(start, done, out))
		}
	}

	var eg errgroup.Group
	eg.SetLimit(opts.Concurrency)

	for i, params := range items {
		out.Items[i] = ItemResult{Index: i, Params: params}
		if stopped.Load() || ctx.Err() != nil {
			continue
		}

		eg.Go(func() error {
			if stopped.Load() || ctx.Err() != nil {
				return nil
			}
			res, err := g.generate(ctx, params, opts.RunID)
			if err != nil && opts.StopOnError {
				stopped.Store(true)
			}
			finish(i, res, err)
			return nil
		})
	}
	_ = eg.Wait()

	for i := range out.Items {
		item := &out.Items[i]
		if item.Result == nil && item.Err == nil {
			item.Err = ErrSkipped
			item.Error = ErrSkipped.Error()
			out.Skipped++
		}
	}
	out.Duration = g.now().Sub(start)

	log.Info("batch finished",
		"successful", out.Successful,
		"failed", out.Failed,
		"skipped", out.Skipped,
		"total_cost", out.TotalCost,
		"duration", out.Duration)
	g.emit(ctx, events.TypeBatchCompleted, opts.RunID, opts.RunID, map[string]any{
		"total":      out.Total,
		"successful": out.Successful,
		"failed":     out.Failed,
		"skipped":    out.Skipped,
		"total_cost": out.TotalCost,
	})

	return out, nil
}

// progress builds a snapshot. The remaining-time estimate is the mean item
// time so far times the items left.
func (g *Generator) progress(start time.Time, done int, out *BatchResult) Progress {
	p := Progress{
		Completed:  done,
		Total:      out.Total,
		Successful: out.Successful,
		Failed:     out.Failed,
	}
	if out.Total > 0 {
		p.Percentage = float64(done) / float64(out.Total) * 100
	}
	if done > 0 {
		elapsed := g.now().Sub(start)
		p.EstimatedRemaining = elapsed / time.Duration(done) * time.Duration(out.Total-done)
	}
	return p
}
