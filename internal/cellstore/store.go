// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package cellstore

import (
	"sync/atomic"

	"github.com/jic523/jellyfish/internal/zero"
)

// Store is a fixed-size, atomically-accessed bit-packed array. It is allocated once at its full
// size and never grows; callers address it in terms of an absolute bit offset and a field width,
// not in terms of cells — see hasharray for the cell-shaped view built on top.
type Store struct {
	words    []uint64
	numCells uint64
	cellBits uint
}

// New allocates a zeroed Store with room for numCells cells of cellBits bits each.
func New(numCells uint64, cellBits uint) *Store {
	numWords := (numCells*uint64(cellBits) + 63) / 64
	return &Store{
		words:    make([]uint64, numWords),
		numCells: numCells,
		cellBits: cellBits,
	}
}

// NumCells returns the number of cells the store was sized for.
func (s *Store) NumCells() uint64 {
	return s.numCells
}

// CellBits returns the per-cell field width the store was sized for.
func (s *Store) CellBits() uint {
	return s.cellBits
}

// NumWords returns the number of uint64 words backing the store.
func (s *Store) NumWords() int {
	return len(s.words)
}

// Clear zeroes every word. Not safe to call concurrently with any other Store method.
func (s *Store) Clear() {
	zero.U64(s.words)
}

func widthMask(width uint) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	if width == 0 {
		return 0
	}
	return (uint64(1) << width) - 1
}

// Load reads the width-bit field (width <= 64) at absolute bit offset off, spanning at most two
// words, with acquire ordering.
func (s *Store) Load(off uint64, width uint) uint64 {
	wordIdx := off / 64
	bitOff := off % 64
	mask := widthMask(width)

	lo := atomic.LoadUint64(&s.words[wordIdx])
	if bitOff+uint64(width) <= 64 {
		return (lo >> bitOff) & mask
	}
	hi := atomic.LoadUint64(&s.words[wordIdx+1])
	loWidth := 64 - bitOff
	return ((lo >> bitOff) | (hi << loWidth)) & mask
}

// StoreField unconditionally installs value into the width-bit field at off, retrying until its
// CompareAndSwapUint64 observes no concurrent writer. It does not compose safely with a later
// CASField on a different sub-field of the same cell as an install protocol: two callers racing
// for the same cell can each write here, then each attempt the other field's CAS, and the winner
// of that second CAS can end up paired with the loser's StoreField write rather than its own.
// Callers that need to claim a whole cell (hasharray's value/key-remainder/marker triple) must
// CASField the entire cell width in one shot from its zero state instead.
func (s *Store) StoreField(off uint64, width uint, value uint64) {
	wordIdx := off / 64
	bitOff := off % 64
	mask := widthMask(width)

	if bitOff+uint64(width) <= 64 {
		for {
			cur := atomic.LoadUint64(&s.words[wordIdx])
			upd := (cur &^ (mask << bitOff)) | ((value & mask) << bitOff)
			if cur == upd || atomic.CompareAndSwapUint64(&s.words[wordIdx], cur, upd) {
				return
			}
		}
	}

	loWidth := 64 - bitOff
	hiWidth := width - uint(loWidth)
	loMask := widthMask(uint(loWidth))
	hiMask := widthMask(hiWidth)
	loVal, hiVal := value&loMask, (value>>loWidth)&hiMask

	for {
		cur := atomic.LoadUint64(&s.words[wordIdx])
		upd := (cur &^ (loMask << bitOff)) | (loVal << bitOff)
		if cur == upd || atomic.CompareAndSwapUint64(&s.words[wordIdx], cur, upd) {
			break
		}
	}
	for {
		cur := atomic.LoadUint64(&s.words[wordIdx+1])
		upd := (cur &^ hiMask) | hiVal
		if cur == upd || atomic.CompareAndSwapUint64(&s.words[wordIdx+1], cur, upd) {
			return
		}
	}
}

// CASField attempts to transition the width-bit field at off from old to new, returning whether
// it observed exactly old beforehand and successfully installed new.
//
// When the field fits in a single word this is one atomic.CompareAndSwapUint64. When it
// straddles two words the update is split in two, per the ordering discipline callers (hasharray)
// depend on: the low word — which by convention never carries the reprobe marker, see
// hasharray's cell layout — is updated first with a retry-protected store that only fails if the
// expected low bits don't match, and the high word, which carries the marker when one is
// present, is the word whose CAS result this call actually returns. A reader that only trusts a
// cell after observing a nonzero marker never sees a half-written field.
func (s *Store) CASField(off uint64, width uint, old, new uint64) bool {
	wordIdx := off / 64
	bitOff := off % 64
	mask := widthMask(width)

	if bitOff+uint64(width) <= 64 {
		for {
			cur := atomic.LoadUint64(&s.words[wordIdx])
			if (cur>>bitOff)&mask != old {
				return false
			}
			upd := (cur &^ (mask << bitOff)) | ((new & mask) << bitOff)
			if cur == upd || atomic.CompareAndSwapUint64(&s.words[wordIdx], cur, upd) {
				return true
			}
		}
	}

	loWidth := 64 - bitOff
	hiWidth := width - uint(loWidth)
	loMask := widthMask(uint(loWidth))
	hiMask := widthMask(hiWidth)
	loOld, hiOld := old&loMask, (old>>loWidth)&hiMask
	loNew, hiNew := new&loMask, (new>>loWidth)&hiMask

	for {
		cur := atomic.LoadUint64(&s.words[wordIdx])
		if (cur>>bitOff)&loMask != loOld {
			return false
		}
		upd := (cur &^ (loMask << bitOff)) | (loNew << bitOff)
		if cur == upd || atomic.CompareAndSwapUint64(&s.words[wordIdx], cur, upd) {
			break
		}
	}

	for {
		cur := atomic.LoadUint64(&s.words[wordIdx+1])
		if cur&hiMask != hiOld {
			return false
		}
		upd := (cur &^ hiMask) | hiNew
		if atomic.CompareAndSwapUint64(&s.words[wordIdx+1], cur, upd) {
			return true
		}
	}
}
