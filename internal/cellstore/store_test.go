// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package cellstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCASFieldSingleWord(t *testing.T) {
	s := New(4, 16)
	require.Equal(t, uint64(0), s.Load(0, 16))

	require.True(t, s.CASField(0, 16, 0, 0xbeef))
	require.Equal(t, uint64(0xbeef), s.Load(0, 16))
	require.False(t, s.CASField(0, 16, 0, 0x1234), "stale expected value must fail")
	require.True(t, s.CASField(0, 16, 0xbeef, 0x1234))
	require.Equal(t, uint64(0x1234), s.Load(0, 16))
}

func TestCASFieldDoesNotClobberNeighbors(t *testing.T) {
	s := New(4, 16)
	require.True(t, s.CASField(0, 16, 0, 0xaaaa))
	require.True(t, s.CASField(16, 16, 0, 0xbbbb))
	require.True(t, s.CASField(32, 16, 0, 0xcccc))

	require.Equal(t, uint64(0xaaaa), s.Load(0, 16))
	require.Equal(t, uint64(0xbbbb), s.Load(16, 16))
	require.Equal(t, uint64(0xcccc), s.Load(32, 16))
}

func TestLoadCASFieldStraddlesWords(t *testing.T) {
	// cellBits=40 means cell 1 starts at bit offset 40 and ends at 80, straddling words 0/1.
	s := New(4, 40)
	off := uint64(40)
	width := uint(40)

	require.Equal(t, uint64(0), s.Load(off, width))
	value := uint64(0x9f1234abcd)
	require.True(t, s.CASField(off, width, 0, value))
	require.Equal(t, value, s.Load(off, width))

	require.False(t, s.CASField(off, width, 0, 0x42))
	require.True(t, s.CASField(off, width, value, 0x42))
	require.Equal(t, uint64(0x42), s.Load(off, width))
}

func TestStoreFieldIsUnconditional(t *testing.T) {
	s := New(4, 40)
	s.StoreField(40, 40, 0x1122334455)
	require.Equal(t, uint64(0x1122334455), s.Load(40, 40))
	s.StoreField(40, 40, 0x99)
	require.Equal(t, uint64(0x99), s.Load(40, 40))
}

func TestClear(t *testing.T) {
	s := New(4, 40)
	require.True(t, s.CASField(0, 40, 0, 0xdeadbeef))
	require.True(t, s.CASField(40, 40, 0, 0xcafef00d))
	s.Clear()
	require.Equal(t, uint64(0), s.Load(0, 40))
	require.Equal(t, uint64(0), s.Load(40, 40))
}
