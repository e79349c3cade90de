// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package compacted

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/jic523/jellyfish/matrix"
)

const defaultReaderBufferSize = 4 * 1024 * 1024

// ErrTruncatedRecord is returned by Reader.Next when the stream ends in the middle of a record.
var ErrTruncatedRecord = errors.New("compacted: truncated record at end of file")

// Reader sequentially scans a compacted stream, reconstituting each record's key via the header's
// inverse matrix.
type Reader struct {
	Header *Header

	r         *bufio.Reader
	recordLen int
	buf       []byte

	pos int // read offset into buf
	n   int // valid bytes in buf
	eof bool
}

// NewReader opens a Reader, parsing and validating the header first.
func NewReader(r io.Reader) (*Reader, error) {
	hdr, _, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	recordLen := hdr.RecordLen()
	bufSize := defaultReaderBufferSize - (defaultReaderBufferSize % recordLen)
	if bufSize < recordLen {
		bufSize = recordLen
	}
	return &Reader{
		Header:    hdr,
		r:         bufio.NewReaderSize(r, defaultReaderBufferSize),
		recordLen: recordLen,
		buf:       make([]byte, bufSize),
	}, nil
}

// fill reads the next chunk into r.buf, rounding the usable portion down to a whole number of
// records. A short read that doesn't land on a record boundary is a truncated file.
func (r *Reader) fill() error {
	n, err := io.ReadFull(r.r, r.buf)
	switch {
	case err == nil:
		// n == len(r.buf), which was chosen to be a multiple of recordLen.
		r.pos, r.n = 0, n
		return nil
	case err == io.EOF:
		r.pos, r.n, r.eof = 0, 0, true
		return nil
	case err == io.ErrUnexpectedEOF:
		r.eof = true
		if n%r.recordLen != 0 {
			return ErrTruncatedRecord
		}
		r.pos, r.n = 0, n
		return nil
	default:
		return fmt.Errorf("compacted: reading record buffer: %w", err)
	}
}

// Next returns the next (key, value) pair and its hashed cell position H(key) mod S, so callers
// can cross-check sort order, or io.EOF once the stream is exhausted.
func (r *Reader) Next() (key matrix.Word, value uint64, pos uint64, err error) {
	if r.pos >= r.n {
		if r.eof {
			return 0, 0, 0, io.EOF
		}
		if err := r.fill(); err != nil {
			return 0, 0, 0, err
		}
		if r.n == 0 {
			return 0, 0, 0, io.EOF
		}
	}

	rec := r.buf[r.pos : r.pos+r.recordLen]
	r.pos += r.recordLen

	keyLen := r.Header.KeyLenBytes()
	var keyBuf [8]byte
	copy(keyBuf[:], rec[:keyLen])
	key = matrix.Word(binary.LittleEndian.Uint64(keyBuf[:]))

	var valBuf [8]byte
	copy(valBuf[:], rec[keyLen:keyLen+int(r.Header.ValLenBytes)])
	value = binary.LittleEndian.Uint64(valBuf[:])

	pos = r.Header.M.Times(key) & (r.Header.S - 1)
	return key, value, pos, nil
}
