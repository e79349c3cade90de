// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package matrix implements square binary matrices over GF(2) and the invertible-hash machinery
// built on top of them: a square matrix M of rank r acts as a linear map on r-bit words, and for
// an invertible M the pair (M, M^-1) lets a caller recover a key from the low bits of its own
// hash plus the key's high bits, which is what lets the compacted on-disk format avoid storing
// full keys (see the compacted package).
//
// A Matrix is represented as a slice of column vectors, each an r-bit value packed into a
// uint64 (this package only supports rank <= 64 — see Word).
package matrix
