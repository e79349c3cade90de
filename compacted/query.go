// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package compacted

import (
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/exp/mmap"

	"github.com/jic523/jellyfish/kmer"
	"github.com/jic523/jellyfish/matrix"
)

// ErrUnsortedCompacted is returned by Lookup when binary search detects that the file's records
// are not actually sorted by (H(key) mod S, key), which the format requires but cannot itself
// enforce on read.
var ErrUnsortedCompacted = fmt.Errorf("compacted: file is not sorted by (H(key) mod S, key)")

// ErrOddKmerCanonical is returned by OpenQuery when WithCanonical is requested against a header whose
// KeyLenBits is odd: reverse-complement, and therefore canonicalization, is only defined on a
// whole number of 2-bit bases (see the distilled spec's Design Notes).
var ErrOddKmerCanonical = fmt.Errorf("compacted: canonical mode requires an even key width")

// Query memory-maps an already-sorted compacted file for random point lookups.
type Query struct {
	Header *Header

	r         *mmap.ReaderAt
	data      []byte
	base      int64 // byte offset of the first record
	recordLen int
	numRecs   int64

	firstKey, lastKey matrix.Word
	firstPos, lastPos uint64

	canonical bool
	kb        uint

	logger *slog.Logger
}

// QueryOption configures OpenQuery.
type QueryOption func(*Query)

// WithCanonical makes Lookup canonicalize its input key (key := min(key, ReverseComplement(key)))
// before searching, matching a table built from canonicalized k-mers.
func WithCanonical() QueryOption {
	return func(q *Query) { q.canonical = true }
}

func (q *Query) setLogger(l *slog.Logger) { q.logger = l }

// logTarget is satisfied by the types that carry a *slog.Logger field, letting WithLogger
// produce either a WriterOption or a QueryOption from a single call site per the package's
// documented option surface (see DESIGN.md / SPEC_FULL.md).
type logTarget interface {
	setLogger(*slog.Logger)
}

// WithLogger attaches a structured logger. The default discards everything.
func WithLogger[T logTarget](l *slog.Logger) func(T) {
	return func(t T) { t.setLogger(l) }
}

// OpenQuery memory-maps path read-only, copies the whole mapped file (header and records) into
// an in-memory byte slice that Lookup then searches, and parses the header from that copy.
func OpenQuery(path string, opts ...QueryOption) (*Query, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("compacted: mmap.Open(%s): %w", path, err)
	}

	data := make([]byte, r.Len())
	if _, err := r.ReadAt(data, 0); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("compacted: reading mapped header: %w", err)
	}

	hdr, base, err := parseHeaderBytes(data)
	if err != nil {
		_ = r.Close()
		return nil, err
	}

	recordLen := hdr.RecordLen()
	tail := int64(r.Len()) - base
	if tail%int64(recordLen) != 0 {
		_ = r.Close()
		return nil, fmt.Errorf("compacted: file length leaves a partial trailing record: %w", ErrBadHeader)
	}
	numRecs := tail / int64(recordLen)

	q := &Query{
		Header:    hdr,
		r:         r,
		data:      data,
		base:      base,
		recordLen: recordLen,
		numRecs:   numRecs,
		kb:        uint(hdr.KeyLenBits),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.canonical && q.kb%2 != 0 {
		_ = r.Close()
		return nil, ErrOddKmerCanonical
	}

	if numRecs > 0 {
		q.firstKey = q.keyAt(0)
		q.firstPos = q.posOf(q.firstKey)
		q.lastKey = q.keyAt(numRecs - 1)
		q.lastPos = q.posOf(q.lastKey)
	}

	q.logger.Debug("opened compacted query", "path", path, "records", numRecs, "canonical", q.canonical)
	return q, nil
}

// Close unmaps the underlying file.
func (q *Query) Close() error {
	return q.r.Close()
}

func (q *Query) recordAt(id int64) []byte {
	off := q.base + id*int64(q.recordLen)
	return q.data[off : off+int64(q.recordLen)]
}

func (q *Query) keyAt(id int64) matrix.Word {
	rec := q.recordAt(id)
	keyLen := q.Header.KeyLenBytes()
	var buf [8]byte
	copy(buf[:], rec[:keyLen])
	return matrix.Word(leUint64(buf))
}

func (q *Query) valAt(id int64) uint64 {
	rec := q.recordAt(id)
	keyLen := q.Header.KeyLenBytes()
	var buf [8]byte
	copy(buf[:], rec[keyLen:keyLen+int(q.Header.ValLenBytes)])
	return leUint64(buf)
}

func (q *Query) posOf(key matrix.Word) uint64 {
	return q.Header.M.Times(key) & (q.Header.S - 1)
}

func leUint64(b [8]byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// Lookup returns the stored value for key, or 0 if key was never observed — consistent with "a
// k-mer never observed has count 0", absence is never reported as an error.
func (q *Query) Lookup(key matrix.Word) (uint64, error) {
	if q.canonical {
		// q.kb's parity was validated by OpenQuery, so this cannot fail here.
		key, _ = kmer.Canonical(key, q.kb)
	}

	if q.numRecs == 0 {
		return 0, nil
	}
	if key == q.firstKey {
		return q.valAt(0), nil
	}
	if key == q.lastKey {
		return q.valAt(q.numRecs - 1), nil
	}

	pos := q.posOf(key)
	if pos < q.firstPos || pos > q.lastPos {
		return 0, nil
	}

	first, last := int64(0), q.numRecs
	for first < last-1 {
		middle := (first + last) / 2
		midKey := q.keyAt(middle)
		if key == midKey {
			return q.valAt(middle), nil
		}
		midPos := q.posOf(midKey)
		if midPos < q.firstPos || midPos > q.lastPos {
			// In a sorted file every record's position lies between the first and last
			// record's, so this record proves the sort contract is broken.
			return 0, q.CheckSorted()
		}
		if midPos > pos || (midPos == pos && midKey > key) {
			last = middle
		} else {
			first = middle
		}
	}
	return 0, nil
}

// NumRecords returns the number of records in the file.
func (q *Query) NumRecords() int64 {
	return q.numRecs
}

// CheckSorted scans every record and confirms the file obeys the (pos, key) sort contract
// Lookup's binary search relies on. Lookup calls this lazily, when its search lands on a record
// whose position lies outside the first and last records' positions, to turn that failure into a
// concrete ErrUnsortedCompacted.
func (q *Query) CheckSorted() error {
	var prevPos uint64
	var prevKey matrix.Word
	for id := int64(0); id < q.numRecs; id++ {
		key := q.keyAt(id)
		pos := q.posOf(key)
		if id > 0 && (pos < prevPos || (pos == prevPos && key < prevKey)) {
			q.logger.Warn("compacted file violates sort contract", "record", id, "pos", pos, "prev_pos", prevPos)
			return ErrUnsortedCompacted
		}
		prevPos, prevKey = pos, key
	}
	return nil
}
