// Package batchexec implements the Structured Batch Executor (C4): a
// batch of per-item tasks run as a single scope, forked and joined
// with one of two failure policies.
package batchexec

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Item is one unit of work submitted to a batch. ID must be unique
// within the batch for result correlation; Execute should observe
// ctx.Done() at its suspension points.
type Item interface {
	ID() string
	Execute(ctx context.Context) error
}

// ItemResult is the per-item outcome of a batch run, regardless of
// failure policy: (itemId, success, errorMessage) per spec.md §4.4.
type ItemResult struct {
	ItemID  string
	Success bool
	Err     error
}

// RunCollectAll runs every item to completion regardless of sibling
// failures (used by Sync, Monitoring, and the Job Worker — spec.md
// §4.4). Every item gets its own context.WithTimeout derived from
// itemTimeout (the per-class deadline, §4.4); the caller's ctx
// cancelling still aborts an in-flight item, but one item's failure
// never cancels another's.
func RunCollectAll(ctx context.Context, items []Item, itemTimeout time.Duration) []ItemResult {
	results := make([]ItemResult, len(items))
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		go func(i int, item Item) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				results[i] = ItemResult{ItemID: item.ID(), Success: false, Err: ctx.Err()}
				return
			default:
			}

			itemCtx := ctx
			if itemTimeout > 0 {
				var cancel context.CancelFunc
				itemCtx, cancel = context.WithTimeout(ctx, itemTimeout)
				defer cancel()
			}

			err := item.Execute(itemCtx)
			results[i] = ItemResult{ItemID: item.ID(), Success: err == nil, Err: err}
		}(i, item)
	}

	wg.Wait()
	return results
}

// RunShutdownOnFailure runs every item; as soon as any item fails, the
// scope's context is cancelled, every other sibling observes
// cancellation, and the first error is returned. Partial results are
// discarded (used by Discovery and Validation — spec.md §4.4).
func RunShutdownOnFailure(ctx context.Context, items []Item) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, item := range items {
		item := item
		g.Go(func() error {
			return item.Execute(gctx)
		})
	}

	return g.Wait()
}

// FuncItem adapts a plain id + func into an Item without requiring a
// caller to declare a named type for every batch.
type FuncItem struct {
	IDValue string
	Fn      func(ctx context.Context) error
}

func (f FuncItem) ID() string                        { return f.IDValue }
func (f FuncItem) Execute(ctx context.Context) error { return f.Fn(ctx) }
