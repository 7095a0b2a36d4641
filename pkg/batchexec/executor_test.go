package batchexec

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunCollectAllRunsEveryItemRegardlessOfSiblingFailure(t *testing.T) {
	items := []Item{
		FuncItem{IDValue: "a", Fn: func(ctx context.Context) error { return nil }},
		FuncItem{IDValue: "b", Fn: func(ctx context.Context) error { return errors.New("boom") }},
		FuncItem{IDValue: "c", Fn: func(ctx context.Context) error { return nil }},
	}

	results := RunCollectAll(context.Background(), items, 0)

	assert.Len(t, results, 3)
	byID := make(map[string]ItemResult)
	for _, r := range results {
		byID[r.ItemID] = r
	}
	assert.True(t, byID["a"].Success)
	assert.False(t, byID["b"].Success)
	assert.True(t, byID["c"].Success)
}

func TestRunCollectAllHonorsPerItemTimeout(t *testing.T) {
	items := []Item{
		FuncItem{IDValue: "slow", Fn: func(ctx context.Context) error {
			select {
			case <-time.After(200 * time.Millisecond):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}},
	}

	results := RunCollectAll(context.Background(), items, 10*time.Millisecond)
	assert.False(t, results[0].Success)
	assert.ErrorIs(t, results[0].Err, context.DeadlineExceeded)
}

func TestRunShutdownOnFailureCancelsSiblingsOnFirstError(t *testing.T) {
	var cancelledCount atomic.Int32
	items := []Item{
		FuncItem{IDValue: "fails-fast", Fn: func(ctx context.Context) error {
			return errors.New("malformed directory")
		}},
		FuncItem{IDValue: "observes-cancel", Fn: func(ctx context.Context) error {
			<-ctx.Done()
			cancelledCount.Add(1)
			return ctx.Err()
		}},
		FuncItem{IDValue: "observes-cancel-2", Fn: func(ctx context.Context) error {
			<-ctx.Done()
			cancelledCount.Add(1)
			return ctx.Err()
		}},
	}

	err := RunShutdownOnFailure(context.Background(), items)

	assert.Error(t, err)
	assert.Equal(t, int32(2), cancelledCount.Load())
}

func TestRunShutdownOnFailureReturnsNilWhenAllSucceed(t *testing.T) {
	items := []Item{
		FuncItem{IDValue: "a", Fn: func(ctx context.Context) error { return nil }},
		FuncItem{IDValue: "b", Fn: func(ctx context.Context) error { return nil }},
	}

	err := RunShutdownOnFailure(context.Background(), items)
	assert.NoError(t, err)
}

func TestRunCollectAllNoOrderingGuarantee(t *testing.T) {
	items := make([]Item, 20)
	for i := range items {
		items[i] = FuncItem{IDValue: string(rune('a' + i)), Fn: func(ctx context.Context) error { return nil }}
	}

	results := RunCollectAll(context.Background(), items, 0)
	assert.Len(t, results, 20)
	seen := make(map[string]bool)
	for _, r := range results {
		seen[r.ItemID] = true
	}
	assert.Len(t, seen, 20)
}
