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
	"log/slog"

	"github.com/jic523/jellyfish/matrix"
)

const defaultWriterBufferSize = 4 * 1024 * 1024

// ErrUnsorted is returned by Append when a (key, value) pair would break the sort contract
// records must arrive in: ascending (H(key) mod S, key).
var ErrUnsorted = errors.New("compacted: records must arrive sorted by (H(key) mod S, key)")

// Writer streams sorted (key, value) pairs into a compacted file, gathering statistics as it
// goes and patching them into the header on Finalize.
type Writer struct {
	w       *bufio.Writer
	seeker  io.Seeker
	hdr     Header
	keyLen  int
	sizeMsk uint64

	havePrev bool
	prevPos  uint64
	prevKey  matrix.Word

	finalized bool

	logger *slog.Logger
}

// WriterOption configures NewWriter and NewNonSeekableWriter.
type WriterOption func(*Writer)

func (w *Writer) setLogger(l *slog.Logger) { w.logger = l }

func newWriter(w io.Writer, seeker io.Seeker, hdr Header, opts []WriterOption) (*Writer, error) {
	if hdr.M == nil || hdr.MInv == nil {
		return nil, errors.New("compacted: header must carry a matrix pair")
	}
	if err := hdr.validate(); err != nil {
		return nil, err
	}

	cw := &Writer{
		w:       bufio.NewWriterSize(w, defaultWriterBufferSize),
		seeker:  seeker,
		hdr:     hdr,
		keyLen:  hdr.KeyLenBytes(),
		sizeMsk: hdr.S - 1,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(cw)
	}
	if _, err := hdr.WriteTo(cw.w); err != nil {
		return nil, fmt.Errorf("compacted: writing initial header: %w", err)
	}
	if err := cw.w.Flush(); err != nil {
		return nil, fmt.Errorf("compacted: flushing initial header: %w", err)
	}
	return cw, nil
}

// NewWriter opens a Writer over a seekable destination. Finalize will patch the header's
// statistics fields in place once writing completes.
func NewWriter(w io.WriteSeeker, hdr Header, opts ...WriterOption) (*Writer, error) {
	return newWriter(w, w, hdr, opts)
}

// NewNonSeekableWriter opens a Writer over a destination that cannot be seeked back into, such as
// a pipe. The stream it produces is otherwise identical, but Finalize cannot patch the header, so
// Unique, Distinct, Total, and MaxCount remain zero in the file — callers needing those values
// must record Stats() themselves.
func NewNonSeekableWriter(w io.Writer, hdr Header, opts ...WriterOption) (*Writer, error) {
	return newWriter(w, nil, hdr, opts)
}

// Stats returns the running statistics gathered so far.
func (w *Writer) Stats() (unique, distinct, total, maxCount uint64) {
	return w.hdr.Unique, w.hdr.Distinct, w.hdr.Total, w.hdr.MaxCount
}

func (w *Writer) sortKey(key matrix.Word) uint64 {
	return w.hdr.M.Times(key) & w.sizeMsk
}

// Append buffers one (key, value) record. Callers must present records in ascending
// (H(key) mod S, key) order; Append returns ErrUnsorted otherwise.
func (w *Writer) Append(key matrix.Word, value uint64) error {
	pos := w.sortKey(key)
	if w.havePrev {
		if pos < w.prevPos || (pos == w.prevPos && key < w.prevKey) {
			return ErrUnsorted
		}
	}
	w.prevPos, w.prevKey, w.havePrev = pos, key, true

	var keyBuf [8]byte
	binary.LittleEndian.PutUint64(keyBuf[:], uint64(key))
	if _, err := w.w.Write(keyBuf[:w.keyLen]); err != nil {
		return fmt.Errorf("compacted: write key: %w", err)
	}

	var valBuf [8]byte
	binary.LittleEndian.PutUint64(valBuf[:], value)
	if _, err := w.w.Write(valBuf[:w.hdr.ValLenBytes]); err != nil {
		return fmt.Errorf("compacted: write value: %w", err)
	}

	w.hdr.Distinct++
	w.hdr.Total += value
	if value == 1 {
		w.hdr.Unique++
	}
	if value > w.hdr.MaxCount {
		w.hdr.MaxCount = value
	}
	return nil
}

// Flush writes any buffered bytes to the underlying writer without patching the header.
func (w *Writer) Flush() error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("compacted: flush: %w", err)
	}
	return nil
}

// Finalize flushes all buffered records and, if the writer was opened over a seekable
// destination, rewrites the header with final statistics. It is safe to call more than once.
func (w *Writer) Finalize() error {
	if w.finalized {
		return nil
	}
	w.finalized = true

	if err := w.Flush(); err != nil {
		return err
	}
	w.logger.Debug("finalizing compacted writer", "distinct", w.hdr.Distinct, "total", w.hdr.Total)
	if w.seeker == nil {
		w.logger.Debug("non-seekable destination, header statistics left zero")
		return nil
	}

	cur, err := w.seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("compacted: seek current: %w", err)
	}
	if _, err := w.seeker.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("compacted: seek start: %w", err)
	}

	var buf [FixedHeaderSize]byte
	copy(buf[0:8], Magic[:])
	binary.LittleEndian.PutUint64(buf[8:16], w.hdr.KeyLenBits)
	binary.LittleEndian.PutUint64(buf[16:24], w.hdr.ValLenBytes)
	binary.LittleEndian.PutUint64(buf[24:32], w.hdr.S)
	binary.LittleEndian.PutUint64(buf[32:40], w.hdr.ReprobeLimit)
	binary.LittleEndian.PutUint64(buf[40:48], w.hdr.Unique)
	binary.LittleEndian.PutUint64(buf[48:56], w.hdr.Distinct)
	binary.LittleEndian.PutUint64(buf[56:64], w.hdr.Total)
	binary.LittleEndian.PutUint64(buf[64:72], w.hdr.MaxCount)

	if sw, ok := w.seeker.(io.Writer); ok {
		if _, err := sw.Write(buf[:]); err != nil {
			return fmt.Errorf("compacted: rewriting header: %w", err)
		}
	} else {
		return errors.New("compacted: seekable destination does not implement io.Writer")
	}

	if _, err := w.seeker.Seek(cur, io.SeekStart); err != nil {
		return fmt.Errorf("compacted: restoring seek position: %w", err)
	}
	return nil
}
