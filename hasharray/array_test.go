// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package hasharray

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jic523/jellyfish/matrix"
)

const (
	testLsize = 9
	testSize  = uint64(1) << testLsize
)

func newTestArray(t *testing.T, kb, vb uint, reprobeLimit uint64) *Array {
	t.Helper()
	a, err := New(testSize, kb, vb, reprobeLimit)
	require.NoError(t, err)
	return a
}

// forcedKey returns a key whose hash lands exactly at cell position pos.
func forcedKey(a *Array, pos uint64) matrix.Word {
	hashVal := pos // r == 0, so hashVal's high bits are zero
	return a.mInv.Times(hashVal)
}

func TestNewRejectsBadSize(t *testing.T) {
	_, err := New(3, 32, 4, 20)
	require.ErrorIs(t, err, ErrBadSize)
}

func TestNewRejectsNarrowKey(t *testing.T) {
	_, err := New(testSize, 4, 4, 20)
	require.ErrorIs(t, err, ErrKeyTooNarrow)
}

func TestOneElement(t *testing.T) {
	for _, tc := range []struct {
		kb, vb       uint
		reprobeLimit uint64
	}{
		{32, 4, 20},
		{48, 8, 62},
		{64, 2, 62},
	} {
		a := newTestArray(t, tc.kb, tc.vb, tc.reprobeLimit)
		pos := testSize / 3

		key := forcedKey(a, pos)
		ok, err := a.Add(key, pos)
		require.NoError(t, err)
		require.True(t, ok)

		id, found := a.GetKeyID(key)
		require.True(t, found)
		require.Equal(t, pos, id)

		status, gotKey, val := a.GetKeyValAtID(id)
		require.Equal(t, Filled, status)
		require.Equal(t, key, gotKey)
		require.Equal(t, pos, val)

		gotVal, found := a.GetValForKey(key)
		require.True(t, found)
		require.Equal(t, pos, gotVal)
	}
}

func TestCollisions(t *testing.T) {
	a := newTestArray(t, 32, 8, 20)
	pos := testSize / 2

	want := map[matrix.Word]uint64{}
	for i := 0; i < 4; i++ {
		// perturb r (the key's high bits) so these are 4 distinct keys that still hash to
		// the same p0.
		hashVal := pos | (uint64(i+1) << testLsize)
		key := a.mInv.Times(hashVal)
		ok, err := a.Add(key, 1)
		require.NoError(t, err)
		require.True(t, ok)
		want[key]++
	}

	it := a.Iterate()
	got := map[matrix.Word]uint64{}
	for {
		key, val, ok := it.Next()
		if !ok {
			break
		}
		got[key] = val
	}
	require.Equal(t, want, got)
}

func TestIteratorMatchesInsertedValues(t *testing.T) {
	a := newTestArray(t, 48, 4, 30)
	rng := rand.New(rand.NewSource(1))

	want := map[matrix.Word]uint64{}
	const nElts = 200
	for i := 0; i < nElts; i++ {
		key := matrix.Word(rng.Uint64()) & matrix.Mask(48)
		delta := uint64(i%7 + 1)
		ok, err := a.Add(key, delta)
		require.NoError(t, err)
		if !ok {
			continue // table full is an acceptable outcome of this random fuzz, not a bug
		}
		want[key] += delta
	}

	it := a.Iterate()
	got := map[matrix.Word]uint64{}
	for {
		key, val, ok := it.Next()
		if !ok {
			break
		}
		got[key] = val
	}
	require.Equal(t, want, got)

	for key, val := range want {
		gotVal, found := a.GetValForKey(key)
		require.True(t, found)
		require.Equal(t, val, gotVal)

		id, found := a.GetKeyID(key)
		require.True(t, found)
		status, gotKey, _ := a.GetKeyValAtID(id)
		require.Equal(t, Filled, status)
		require.Equal(t, key, gotKey)
	}
}

func TestSet(t *testing.T) {
	const lsize = 16
	const size = uint64(1) << lsize
	a, err := New(size, 100, 0, 126)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(2))
	seen := map[matrix.Word]bool{}
	nElts := int(2 * size / 3)
	for i := 0; i < nElts; i++ {
		key := matrix.Word(rng.Uint64())
		ok, isNew, _ := a.Set(key)
		require.True(t, ok)
		require.Equal(t, !seen[key], isNew)
		seen[key] = true
	}

	for key := range seen {
		_, found := a.GetKeyID(key)
		require.True(t, found)
	}
}

func TestAddOverflowsIntoContinuationCells(t *testing.T) {
	a := newTestArray(t, 32, 2, 30) // vb=2 -> values saturate at 3, forcing overflow fast
	key := matrix.Word(0x1234)

	ok, err := a.Add(key, 50)
	require.NoError(t, err)
	require.True(t, ok)

	val, found := a.GetValForKey(key)
	require.True(t, found)
	require.Equal(t, uint64(50), val)
}

// TestConcurrentAddMatchesSequentialReference runs the seed scenario for concurrent insertion: 8
// goroutines each calling Add(K, 1) 100,000 times with independently-seeded random keys, racing
// on the same Array (run with -race). A key landing in the same cell address from two goroutines
// at once (addOrSet's "different p0, same address" case) is exactly what this is meant to catch.
func TestConcurrentAddMatchesSequentialReference(t *testing.T) {
	const (
		workers      = 8
		perWorker    = 100_000
		lsize        = 21
		size         = uint64(1) << lsize
		kb           = 48
		vb           = 8
		reprobeLimit = 126
	)
	a, err := New(size, kb, vb, reprobeLimit)
	require.NoError(t, err)

	keysByWorker := make([][]matrix.Word, workers)
	for w := 0; w < workers; w++ {
		rng := rand.New(rand.NewSource(int64(1000 + w)))
		keys := make([]matrix.Word, perWorker)
		for i := range keys {
			keys[i] = matrix.Word(rng.Uint64()) & matrix.Mask(kb)
		}
		keysByWorker[w] = keys
	}

	var mu sync.Mutex
	want := map[matrix.Word]uint64{}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(keys []matrix.Word) {
			defer wg.Done()
			local := map[matrix.Word]uint64{}
			for _, key := range keys {
				ok, err := a.Add(key, 1)
				require.NoError(t, err)
				if !ok {
					continue // table full is an acceptable outcome of this fuzz, not a bug
				}
				local[key]++
			}
			mu.Lock()
			for k, v := range local {
				want[k] += v
			}
			mu.Unlock()
		}(keysByWorker[w])
	}
	wg.Wait()

	it := a.Iterate()
	got := map[matrix.Word]uint64{}
	for {
		key, val, ok := it.Next()
		if !ok {
			break
		}
		got[key] = val
	}
	require.Equal(t, want, got)

	for key, val := range want {
		gotVal, found := a.GetValForKey(key)
		require.True(t, found)
		require.Equal(t, val, gotVal)
	}
}

func TestClearResetsArray(t *testing.T) {
	a := newTestArray(t, 32, 8, 20)
	key := matrix.Word(0xabc)
	ok, err := a.Add(key, 5)
	require.NoError(t, err)
	require.True(t, ok)

	a.Clear()
	_, found := a.GetValForKey(key)
	require.False(t, found)
}
