// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package hasharray

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	mathrand "math/rand"

	"github.com/jic523/jellyfish/internal/cellstore"
	"github.com/jic523/jellyfish/matrix"
)

// ErrBadSize is returned by New when s is not a positive power of two.
var ErrBadSize = errors.New("hasharray: size must be a positive power of two")

// ErrKeyTooNarrow is returned by New when kb is smaller than log2(s): a cell's own position
// accounts for lsize bits of the hashed key, so the key must be at least that wide. kb equal to
// log2(s) is accepted and leaves a zero-bit key remainder.
var ErrKeyTooNarrow = errors.New("hasharray: key width must be >= log2(size)")

// ErrOverflowExhausted is returned by Add when a single call's carry would need more overflow
// cells than the reprobe sequence has room for. See DESIGN.md's Open Questions for why this is
// an error rather than a silent truncation or a panic.
var ErrOverflowExhausted = errors.New("hasharray: overflow chunk chain exhausted reprobe sequence")

// CellStatus describes what GetKeyValAtID observed at a cell.
type CellStatus int

const (
	// Empty means the cell has never been claimed.
	Empty CellStatus = iota
	// Filled means the cell holds a committed key/value (or overflow chunk).
	Filled
	// LowBitsSet means a writer's speculative key/value write is visible but its marker CAS
	// has not (yet, or ever will) succeed. Transient; a caller retrying will see Empty or
	// Filled.
	LowBitsSet
)

func (s CellStatus) String() string {
	switch s {
	case Empty:
		return "empty"
	case Filled:
		return "filled"
	case LowBitsSet:
		return "low-bits-set"
	default:
		return "unknown"
	}
}

// Option configures an Array at construction.
type Option func(*config)

type config struct {
	logger *slog.Logger
	rng    *mathrand.Rand
}

// WithLogger attaches a structured logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithRand overrides the source used to generate the array's invertible matrix pair. The default
// is seeded from crypto/rand, matching the seeding pattern used throughout this module's test
// data generators.
func WithRand(rng *mathrand.Rand) Option {
	return func(c *config) { c.rng = rng }
}

func newRand() *mathrand.Rand {
	var seedBytes [8]byte
	if _, err := rand.Read(seedBytes[:]); err != nil {
		panic(fmt.Errorf("hasharray: seeding rng: %w", err))
	}
	seed := int64(binary.LittleEndian.Uint64(seedBytes[:]))
	return mathrand.New(mathrand.NewSource(seed))
}

// Array is a lock-free, open-addressed hash table mapping kb-bit keys to vb-bit counters.
//
// Each cell packs three fields, from low bits to high: the current value (vb bits), the key
// remainder (kb-lsize bits — the high bits of the hashed key, since the low lsize bits are
// implied by the cell's own position), and a reprobe marker (rb bits). The marker is the
// ordering anchor: a cell is not trusted by any reader until its marker reads nonzero. Because
// two different keys can legally probe to the same empty cell address (same p0, different full
// hash), a writer claiming an empty cell installs value, key remainder, and marker together in a
// single CASField over the whole cell width — never a separate unconditional write followed by a
// CAS on just the marker, which would let one writer's marker win while committing a different
// writer's value/key-remainder bits underneath it.
type Array struct {
	s            uint64
	sizeMask     uint64
	lsize        uint
	kb           uint
	vb           uint
	rb           uint
	krem         uint
	reprobeLimit uint64
	overflow     uint64
	delta        []uint64

	m, mInv *matrix.Matrix
	store   *cellstore.Store

	cellBits                   uint
	valOff, kremOff, markerOff uint64

	logger *slog.Logger
}

// New allocates an Array with room for s cells, each holding a kb-bit key and a vb-bit value,
// reprobing up to reprobeLimit times before reporting the table full.
func New(s uint64, kb, vb uint, reprobeLimit uint64, opts ...Option) (*Array, error) {
	if s == 0 || s&(s-1) != 0 {
		return nil, ErrBadSize
	}
	lsize := uint(bits.TrailingZeros64(s))
	if kb < lsize {
		return nil, ErrKeyTooNarrow
	}

	cfg := config{logger: slog.New(slog.NewTextHandler(discardWriter{}, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.rng == nil {
		cfg.rng = newRand()
	}

	krem := kb - lsize
	overflow := reprobeLimit + 1
	rb := uint(bits.Len64(overflow))
	if rb == 0 {
		rb = 1
	}

	m, mInv, err := matrix.RandomizeInvertible(cfg.rng, int(kb))
	if err != nil {
		return nil, fmt.Errorf("hasharray: generating matrix pair: %w", err)
	}

	delta := make([]uint64, reprobeLimit+1)
	for j := range delta {
		delta[j] = uint64(j) * uint64(j+1) / 2
	}

	cellBits := vb + krem + rb
	store := cellstore.New(s, cellBits)

	return &Array{
		s:            s,
		sizeMask:     s - 1,
		lsize:        lsize,
		kb:           kb,
		vb:           vb,
		rb:           rb,
		krem:         krem,
		reprobeLimit: reprobeLimit,
		overflow:     overflow,
		delta:        delta,
		m:            m,
		mInv:         mInv,
		store:        store,
		cellBits:     cellBits,
		valOff:       0,
		kremOff:      uint64(vb),
		markerOff:    uint64(vb + krem),
		logger:       cfg.logger,
	}, nil
}

// Matrix returns the hash matrix.
func (a *Array) Matrix() *matrix.Matrix { return a.m }

// InverseMatrix returns the hash matrix's inverse.
func (a *Array) InverseMatrix() *matrix.Matrix { return a.mInv }

// Size returns the number of cells.
func (a *Array) Size() uint64 { return a.s }

// KeyBits returns the configured key width.
func (a *Array) KeyBits() uint { return a.kb }

// ValBits returns the configured value width.
func (a *Array) ValBits() uint { return a.vb }

// ReprobeLimit returns the maximum number of reprobe steps.
func (a *Array) ReprobeLimit() uint64 { return a.reprobeLimit }

func (a *Array) cellOff(id uint64) uint64 {
	return id * uint64(a.vb+a.krem+a.rb)
}

func (a *Array) valMask() uint64 {
	if a.vb >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << a.vb) - 1
}

// hashOf returns (p0, r): the cell a fresh key starting probes from, and its key remainder.
func (a *Array) hashOf(key matrix.Word) (p0, r uint64) {
	h := a.m.Times(key)
	return h & a.sizeMask, h >> a.lsize
}

// Add increments the counter for key by delta. It returns (false, nil) when the reprobe sequence
// is exhausted (table full — callers should flush and Clear); a non-nil error only indicates an
// overflow chain that outran the reprobe sequence within this single call (see
// ErrOverflowExhausted).
func (a *Array) Add(key matrix.Word, delta uint64) (bool, error) {
	_, _, ok, err := a.addOrSet(key, delta)
	return ok, err
}

// Set installs key with a zero-valued counter if absent, identical to Add(key, 0) except it also
// reports whether the key was newly inserted and its cell id. Used when the array is acting as a
// set rather than a multiset counter.
func (a *Array) Set(key matrix.Word) (ok, isNew bool, id uint64) {
	id, isNew, ok, _ = a.addOrSet(key, 0)
	return ok, isNew, id
}

func (a *Array) addOrSet(key matrix.Word, delta uint64) (id uint64, isNew, ok bool, err error) {
	p0, r := a.hashOf(key)
	valMask := a.valMask()

	for j := uint64(0); j <= a.reprobeLimit; j++ {
		cellID := (p0 + a.delta[j]) & a.sizeMask
		off := a.cellOff(cellID)
		markerAbs := off + a.markerOff
		kremAbs := off + a.kremOff
		valAbs := off + a.valOff
		marker := j + 1

		for {
			curMarker := a.store.Load(markerAbs, a.rb)
			if curMarker == 0 {
				fitted := delta
				if fitted > valMask {
					fitted = valMask
				}
				// krem/val/marker must install as one atomic unit: two different keys can
				// legally probe to this same empty cell (different p0, same address), and a
				// separate StoreField+CASField-on-marker would let one writer's marker CAS win
				// while committing the other writer's krem/val bits underneath it.
				combined := fitted | (r << a.vb) | (marker << (a.vb + a.krem))
				if a.store.CASField(off, a.cellBits, 0, combined) {
					if delta > valMask {
						if err := a.addOverflow(p0, int(j)+1, delta-valMask); err != nil {
							return cellID, true, false, err
						}
					}
					return cellID, true, true, nil
				}
				continue
			}

			if curMarker == marker && a.store.Load(kremAbs, a.krem) == r {
				for {
					curVal := a.store.Load(valAbs, a.vb)
					sum := curVal + delta
					if sum > valMask {
						if a.store.CASField(valAbs, a.vb, curVal, valMask) {
							if err := a.addOverflow(p0, int(j)+1, sum-valMask); err != nil {
								return cellID, false, false, err
							}
							return cellID, false, true, nil
						}
						continue
					}
					if a.store.CASField(valAbs, a.vb, curVal, sum) {
						return cellID, false, true, nil
					}
				}
			}
			break
		}
	}

	return 0, false, false, nil
}

// addOverflow claims successive empty cells in key's probe sequence (starting after the primary
// at reprobe step fromJ) to carry a value too large for one cell's value field. Each claimed
// cell's value holds one piece of the carry, at most the value field's maximum; the pieces add
// up to the carry.
func (a *Array) addOverflow(p0 uint64, fromJ int, carry uint64) error {
	valMask := a.valMask()

	for carry > 0 {
		claimed := false
		for j := fromJ; j <= int(a.reprobeLimit); j++ {
			cellID := (p0 + a.delta[j]) & a.sizeMask
			off := a.cellOff(cellID)

			if a.store.Load(off+a.markerOff, a.rb) != 0 {
				continue
			}
			chunk := carry
			if chunk > valMask {
				chunk = valMask
			}
			// Same atomicity requirement as addOrSet's install: a different key's overflow
			// chain, or its own primary insert, can legally claim this cell concurrently, so
			// val and marker must install together in one CAS rather than two.
			combined := chunk | (a.overflow << (a.vb + a.krem))
			if a.store.CASField(off, a.cellBits, 0, combined) {
				carry -= chunk
				claimed = true
				fromJ = j + 1
				break
			}
		}
		if !claimed {
			return ErrOverflowExhausted
		}
	}
	return nil
}

// GetValForKey returns the accumulated counter for key, folding in any overflow continuation
// chunks, and whether the key was found at all.
func (a *Array) GetValForKey(key matrix.Word) (uint64, bool) {
	p0, r := a.hashOf(key)

	for j := uint64(0); j <= a.reprobeLimit; j++ {
		cellID := (p0 + a.delta[j]) & a.sizeMask
		off := a.cellOff(cellID)
		marker := a.store.Load(off+a.markerOff, a.rb)
		if marker == 0 {
			return 0, false
		}
		if marker != j+1 {
			continue
		}
		if a.store.Load(off+a.kremOff, a.krem) != r {
			continue
		}
		total := a.store.Load(off+a.valOff, a.vb)
		total += a.sumOverflow(p0, j+1)
		return total, true
	}
	return 0, false
}

// sumOverflow sums the contiguous chain of overflow cells immediately following a primary in
// reprobe order: the cells at reprobe steps fromJ, fromJ+1, ... of the probe sequence starting
// at p0, up to the first cell that is not an overflow cell.
func (a *Array) sumOverflow(p0, fromJ uint64) uint64 {
	var total uint64
	for j := fromJ; j <= a.reprobeLimit; j++ {
		off := a.cellOff((p0 + a.delta[j]) & a.sizeMask)
		if a.store.Load(off+a.markerOff, a.rb) != a.overflow {
			break
		}
		total += a.store.Load(off+a.valOff, a.vb)
	}
	return total
}

// GetKeyID returns the cell id holding key, if present.
func (a *Array) GetKeyID(key matrix.Word) (uint64, bool) {
	p0, r := a.hashOf(key)
	for j := uint64(0); j <= a.reprobeLimit; j++ {
		cellID := (p0 + a.delta[j]) & a.sizeMask
		off := a.cellOff(cellID)
		marker := a.store.Load(off+a.markerOff, a.rb)
		if marker == 0 {
			return 0, false
		}
		if marker == j+1 && a.store.Load(off+a.kremOff, a.krem) == r {
			return cellID, true
		}
	}
	return 0, false
}

// GetKeyValAtID inspects cell id directly, reconstructing its key from the stored remainder and
// the cell's own position, and folding in any trailing overflow continuation chunks. Used by the
// iterator and by tests exercising cell-level state; regular lookups should use GetValForKey or
// GetKeyID.
func (a *Array) GetKeyValAtID(id uint64) (CellStatus, matrix.Word, uint64) {
	off := a.cellOff(id)
	marker := a.store.Load(off+a.markerOff, a.rb)
	if marker == 0 {
		krem := a.store.Load(off+a.kremOff, a.krem)
		val := a.store.Load(off+a.valOff, a.vb)
		if krem == 0 && val == 0 {
			return Empty, 0, 0
		}
		return LowBitsSet, 0, 0
	}

	val := a.store.Load(off+a.valOff, a.vb)
	if marker == a.overflow {
		return Filled, 0, val
	}

	krem := a.store.Load(off+a.kremOff, a.krem)
	p0 := (id - a.delta[marker-1]) & a.sizeMask
	hashVal := (krem << a.lsize) | p0
	key := a.mInv.Times(hashVal)
	val += a.sumOverflow(p0, marker)
	return Filled, key, val
}

// Clear zeroes every cell. Not safe to call concurrently with any other Array method.
func (a *Array) Clear() {
	a.store.Clear()
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
