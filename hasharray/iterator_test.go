// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package hasharray

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jic523/jellyfish/matrix"
)

func TestIteratePartCoversDisjointRanges(t *testing.T) {
	a := newTestArray(t, 48, 4, 20)
	rng := rand.New(rand.NewSource(3))

	want := map[matrix.Word]uint64{}
	for i := 0; i < 150; i++ {
		key := matrix.Word(rng.Uint64()) & matrix.Mask(48)
		ok, err := a.Add(key, 1)
		require.NoError(t, err)
		if ok {
			want[key]++
		}
	}

	const nWorkers = 4
	got := map[matrix.Word]uint64{}
	var mu sync.Mutex
	for w := 0; w < nWorkers; w++ {
		it := a.IteratePart(w, nWorkers)
		for {
			key, val, ok := it.Next()
			if !ok {
				break
			}
			mu.Lock()
			got[key] = val
			mu.Unlock()
		}
	}
	require.Equal(t, want, got)
}

func TestParallelIterateMatchesSerial(t *testing.T) {
	a := newTestArray(t, 48, 4, 20)
	rng := rand.New(rand.NewSource(4))

	serial := map[matrix.Word]uint64{}
	for i := 0; i < 150; i++ {
		key := matrix.Word(rng.Uint64()) & matrix.Mask(48)
		ok, err := a.Add(key, 1)
		require.NoError(t, err)
		if ok {
			serial[key]++
		}
	}

	parallel := map[matrix.Word]uint64{}
	var mu sync.Mutex
	err := a.ParallelIterate(context.Background(), 8, func(key matrix.Word, val uint64) error {
		mu.Lock()
		parallel[key] = val
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, serial, parallel)
}

func TestParallelIteratePropagatesError(t *testing.T) {
	a := newTestArray(t, 32, 4, 20)
	ok, err := a.Add(0x1234, 1)
	require.NoError(t, err)
	require.True(t, ok)

	sentinel := errSentinel{}
	err = a.ParallelIterate(context.Background(), 4, func(matrix.Word, uint64) error {
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
}

type errSentinel struct{}

func (errSentinel) Error() string { return "sentinel" }
