// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package compacted

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/jic523/jellyfish/matrix"
)

// Magic identifies a compacted file.
var Magic = [8]byte{'J', 'F', 'L', 'I', 'S', 'T', 'D', 'N'}

// FixedHeaderSize is the size in bytes of the header's fixed-width fields (magic plus eight
// little-endian uint64s), not counting the variable-length matrix pair that follows it.
const FixedHeaderSize = 8 + 8*8

// ErrBadHeader is the umbrella sentinel for a malformed header: bad magic, a size that isn't a
// power of two, or (at read time) a size inconsistent with the file's length. ErrBadMagic and
// ErrSizeNotPowerOfTwo both wrap it, so callers that only care "is the header bad" can match on
// ErrBadHeader while callers that care why can match on the more specific sentinel.
var ErrBadHeader = errors.New("compacted: bad header")

// ErrBadMagic is returned when a file's leading 8 bytes don't match Magic.
var ErrBadMagic = fmt.Errorf("compacted: bad magic: %w", ErrBadHeader)

// ErrSizeNotPowerOfTwo is returned when a header's S field isn't a power of two.
var ErrSizeNotPowerOfTwo = fmt.Errorf("compacted: table size is not a power of two: %w", ErrBadHeader)

// Header is the metadata block at the start of a compacted file: the key and value widths, the
// source table's size and reprobe limit, running statistics gathered while writing, and the
// matrix pair needed to hash and reconstruct keys.
type Header struct {
	KeyLenBits   uint64
	ValLenBytes  uint64
	S            uint64
	ReprobeLimit uint64
	Unique       uint64
	Distinct     uint64
	Total        uint64
	MaxCount     uint64

	M, MInv *matrix.Matrix
}

// KeyLenBytes returns ceil(KeyLenBits/8), the on-disk width of a record's key field.
func (h *Header) KeyLenBytes() int {
	return int((h.KeyLenBits + 7) / 8)
}

// RecordLen returns the on-disk size in bytes of one (key, value) record.
func (h *Header) RecordLen() int {
	return h.KeyLenBytes() + int(h.ValLenBytes)
}

func (h *Header) validate() error {
	if h.S == 0 || h.S&(h.S-1) != 0 {
		return ErrSizeNotPowerOfTwo
	}
	return nil
}

// WriteTo serializes the header: the fixed fields, then M, then M^-1.
func (h *Header) WriteTo(w io.Writer) (int64, error) {
	var buf [FixedHeaderSize]byte
	copy(buf[0:8], Magic[:])
	binary.LittleEndian.PutUint64(buf[8:16], h.KeyLenBits)
	binary.LittleEndian.PutUint64(buf[16:24], h.ValLenBytes)
	binary.LittleEndian.PutUint64(buf[24:32], h.S)
	binary.LittleEndian.PutUint64(buf[32:40], h.ReprobeLimit)
	binary.LittleEndian.PutUint64(buf[40:48], h.Unique)
	binary.LittleEndian.PutUint64(buf[48:56], h.Distinct)
	binary.LittleEndian.PutUint64(buf[56:64], h.Total)
	binary.LittleEndian.PutUint64(buf[64:72], h.MaxCount)

	n, err := w.Write(buf[:])
	if err != nil {
		return int64(n), fmt.Errorf("compacted: write header: %w", err)
	}
	total := int64(n)

	mn, err := h.M.WriteTo(w)
	if err != nil {
		return total, fmt.Errorf("compacted: write matrix: %w", err)
	}
	total += mn

	mn, err = h.MInv.WriteTo(w)
	if err != nil {
		return total, fmt.Errorf("compacted: write inverse matrix: %w", err)
	}
	total += mn

	return total, nil
}

// ReadHeader parses a Header from r, validating the magic and that S is a power of two.
func ReadHeader(r io.Reader) (*Header, int64, error) {
	var buf [FixedHeaderSize]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return nil, int64(n), fmt.Errorf("compacted: read header: %w", err)
	}
	if [8]byte(buf[:8]) != Magic {
		return nil, int64(n), ErrBadMagic
	}

	h := &Header{
		KeyLenBits:   binary.LittleEndian.Uint64(buf[8:16]),
		ValLenBytes:  binary.LittleEndian.Uint64(buf[16:24]),
		S:            binary.LittleEndian.Uint64(buf[24:32]),
		ReprobeLimit: binary.LittleEndian.Uint64(buf[32:40]),
		Unique:       binary.LittleEndian.Uint64(buf[40:48]),
		Distinct:     binary.LittleEndian.Uint64(buf[48:56]),
		Total:        binary.LittleEndian.Uint64(buf[56:64]),
		MaxCount:     binary.LittleEndian.Uint64(buf[64:72]),
	}
	if err := h.validate(); err != nil {
		return nil, int64(n), err
	}
	total := int64(n)

	h.M = &matrix.Matrix{}
	mn, err := h.M.ReadFrom(r)
	if err != nil {
		return nil, total, fmt.Errorf("compacted: read matrix: %w", err)
	}
	total += mn

	h.MInv = &matrix.Matrix{}
	mn, err = h.MInv.ReadFrom(r)
	if err != nil {
		return nil, total, fmt.Errorf("compacted: read inverse matrix: %w", err)
	}
	total += mn

	return h, total, nil
}

// parseHeaderBytes parses a Header out of an in-memory buffer (the start of a file's bytes),
// returning the total number of bytes consumed. Used by OpenQuery, which already holds the file
// as a byte slice rather than an io.Reader.
func parseHeaderBytes(data []byte) (*Header, int64, error) {
	if len(data) < FixedHeaderSize {
		return nil, 0, fmt.Errorf("compacted: file too short for header: %d bytes: %w", len(data), ErrBadHeader)
	}
	if [8]byte(data[:8]) != Magic {
		return nil, 0, ErrBadMagic
	}

	h := &Header{
		KeyLenBits:   binary.LittleEndian.Uint64(data[8:16]),
		ValLenBytes:  binary.LittleEndian.Uint64(data[16:24]),
		S:            binary.LittleEndian.Uint64(data[24:32]),
		ReprobeLimit: binary.LittleEndian.Uint64(data[32:40]),
		Unique:       binary.LittleEndian.Uint64(data[40:48]),
		Distinct:     binary.LittleEndian.Uint64(data[48:56]),
		Total:        binary.LittleEndian.Uint64(data[56:64]),
		MaxCount:     binary.LittleEndian.Uint64(data[64:72]),
	}
	if err := h.validate(); err != nil {
		return nil, 0, err
	}

	off := int64(FixedHeaderSize)
	m, mn, err := readMatrixBytes(data[off:])
	if err != nil {
		return nil, 0, fmt.Errorf("compacted: read matrix: %w", err)
	}
	h.M = m
	off += mn

	mInv, mn, err := readMatrixBytes(data[off:])
	if err != nil {
		return nil, 0, fmt.Errorf("compacted: read inverse matrix: %w", err)
	}
	h.MInv = mInv
	off += mn

	return h, off, nil
}

func readMatrixBytes(data []byte) (*matrix.Matrix, int64, error) {
	if len(data) < 8 {
		return nil, 0, io.ErrUnexpectedEOF
	}
	rank := int(binary.LittleEndian.Uint64(data[:8]))
	need := 8 + 8*rank
	if len(data) < need {
		return nil, 0, io.ErrUnexpectedEOF
	}
	cols := make([]matrix.Word, rank)
	for i := range cols {
		cols[i] = matrix.Word(binary.LittleEndian.Uint64(data[8+8*i : 16+8*i]))
	}
	return matrix.FromColumns(cols), int64(need), nil
}
