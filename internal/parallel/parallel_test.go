package parallel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapPreservesOrder(t *testing.T) {
	fns := make([]func(context.Context) (string, error), 8)
	for i := range fns {
		fns[i] = func(context.Context) (string, error) {
			// Later slots finish first; order must still hold.
			time.Sleep(time.Duration(8-i) * time.Millisecond)
			return fmt.Sprintf("slot-%d", i), nil
		}
	}

	results := Map(context.Background(), 0, fns)
	require.Len(t, results, 8)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, fmt.Sprintf("slot-%d", i), r.Value)
		assert.NoError(t, r.Err)
	}
}

func TestMapIsolatesFailures(t *testing.T) {
	boom := errors.New("slot two failed")
	fns := []func(context.Context) (int, error){
		func(context.Context) (int, error) { return 1, nil },
		func(context.Context) (int, error) { return 0, boom },
		func(context.Context) (int, error) { return 3, nil },
	}

	results := Map(context.Background(), 2, fns)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 1, results[0].Value)
	assert.ErrorIs(t, results[1].Err, boom)
	assert.NoError(t, results[2].Err, "peers are unaffected by a failing slot")
	assert.Equal(t, 3, results[2].Value)

	errs := Errs(results)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
}

func TestMapBoundsConcurrency(t *testing.T) {
	var current, peak atomic.Int32
	fn := func(context.Context) (struct{}, error) {
		c := current.Add(1)
		for {
			p := peak.Load()
			if c <= p || peak.CompareAndSwap(p, c) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return struct{}{}, nil
	}

	fns := make([]func(context.Context) (struct{}, error), 9)
	for i := range fns {
		fns[i] = fn
	}

	Map(context.Background(), 3, fns)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestMapSequentialWhenLimitOne(t *testing.T) {
	var order []int
	fns := make([]func(context.Context) (int, error), 5)
	for i := range fns {
		fns[i] = func(context.Context) (int, error) {
			order = append(order, i) // safe: sequential path, no goroutines
			return i, nil
		}
	}

	results := Map(context.Background(), 1, fns)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	for i, r := range results {
		assert.Equal(t, i, r.Value)
	}
}

func TestMapCanceledContextMarksSlots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fns := []func(context.Context) (int, error){
		func(context.Context) (int, error) { return 1, nil },
		func(context.Context) (int, error) { return 2, nil },
	}

	for _, r := range Map(ctx, 2, fns) {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

func TestMapSequentialStopsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	ran := 0
	fns := []func(context.Context) (int, error){
		func(context.Context) (int, error) { ran++; return 1, nil },
		func(context.Context) (int, error) {
			ran++
			cancel()
			return 2, nil
		},
		func(context.Context) (int, error) { ran++; return 3, nil },
	}

	results := Map(ctx, 1, fns)
	assert.Equal(t, 2, ran, "third slot never runs after cancel")
	assert.NoError(t, results[1].Err)
	assert.ErrorIs(t, results[2].Err, context.Canceled)
}

func TestMapEmptyInput(t *testing.T) {
	results := Map[int](context.Background(), 4, nil)
	assert.Empty(t, results)
	assert.Empty(t, Errs(results))
}
