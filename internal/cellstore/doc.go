// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package cellstore is the raw bit-packed backing memory for hasharray: a single contiguous
// []uint64 viewed as a dense sequence of variable-width bit fields, with atomic load and
// compare-and-swap on any field up to 64 bits wide regardless of its alignment to a word
// boundary.
//
// cellstore knows nothing about cells, keys, values, or reprobe markers — that vocabulary lives
// in hasharray, which is also the package responsible for arranging a cell's fields so that the
// reprobe marker (the field whose CAS establishes visibility of the rest of the cell, see
// hasharray's doc comment) ends up as the *last* word written when a field straddles two words.
package cellstore
