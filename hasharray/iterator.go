// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package hasharray

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/jic523/jellyfish/matrix"
)

// Iterator is a pull-based cursor over an Array's filled primary cells, in ascending cell-id
// order, with each value inclusive of its overflow continuation chunks. It is not a consistent
// snapshot: callers should quiesce writers before iterating.
type Iterator struct {
	a       *Array
	cur     uint64
	end     uint64
	scanEnd uint64
}

// Iterate returns a cursor over the whole array.
func (a *Array) Iterate() *Iterator {
	return a.IteratePart(0, 1)
}

// IteratePart returns a cursor over the worker-th of nWorkers equal partitions of [0, Size()).
// The returned iterator reads slightly past its nominal end (by ReprobeLimit cells) to pick up
// overflow chunks trailing a primary near the partition boundary, but never emits a primary that
// belongs to a different partition.
func (a *Array) IteratePart(worker, nWorkers int) *Iterator {
	sliceSize := a.s / uint64(nWorkers)
	start := uint64(worker) * sliceSize
	end := start + sliceSize
	if worker == nWorkers-1 {
		end = a.s
	}
	scanEnd := end + a.reprobeLimit
	if scanEnd > a.s {
		scanEnd = a.s
	}
	return &Iterator{a: a, cur: start, end: end, scanEnd: scanEnd}
}

func (a *Array) markerAt(id uint64) uint64 {
	return a.store.Load(a.cellOff(id)+a.markerOff, a.rb)
}

// Next returns the next (key, value) pair, or ok=false once the partition is exhausted.
func (it *Iterator) Next() (matrix.Word, uint64, bool) {
	for it.cur < it.scanEnd {
		id := it.cur
		it.cur++

		marker := it.a.markerAt(id)
		if marker == 0 || marker == it.a.overflow {
			// Empty, mid-CAS, or an overflow chunk belonging to some primary (ours or
			// the previous partition's) that is folded in when that primary itself is
			// emitted — see sumOverflow.
			continue
		}
		if id >= it.end {
			// A primary cell sitting only in our trailing look-ahead window belongs to
			// the next partition.
			continue
		}

		status, key, val := it.a.GetKeyValAtID(id)
		if status != Filled {
			continue
		}
		return key, val, true
	}
	return 0, 0, false
}

// ParallelIterate fans IteratePart(0, nWorkers)..IteratePart(nWorkers-1, nWorkers) out across
// nWorkers goroutines via errgroup, calling fn for every (key, value) pair any of them produces.
// fn must be safe for concurrent use. Iteration stops at the first error any fn call or worker
// returns, or when ctx is cancelled.
func (a *Array) ParallelIterate(ctx context.Context, nWorkers int, fn func(matrix.Word, uint64) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for worker := 0; worker < nWorkers; worker++ {
		worker := worker
		g.Go(func() error {
			it := a.IteratePart(worker, nWorkers)
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				key, val, ok := it.Next()
				if !ok {
					return nil
				}
				if err := fn(key, val); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}
