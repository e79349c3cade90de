// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package compacted implements the on-disk image of a hasharray.Array: a write-once, read-many
// stream of (key, value) records sorted by (H(key) mod S, key), preceded by a fixed header and
// the matrix pair that hash and reconstruct keys.
//
//	offset 0    magic "JFLISTDN"                                8 bytes
//	offset 8    key length in bits       (u64 LE)                8
//	offset 16   value length in bytes    (u64 LE)                8
//	offset 24   table size S             (u64 LE)                8
//	offset 32   reprobe limit            (u64 LE)                8
//	offset 40   unique                   (u64 LE)                8
//	offset 48   distinct                 (u64 LE)                8
//	offset 56   total                    (u64 LE)                8
//	offset 64   max count                (u64 LE)                8
//	offset 72   matrix M:    u64 rank, then rank u64 columns
//	            matrix M^-1: same encoding
//	            records: packed (key, value) pairs, little-endian
//
// Writer produces this stream from sorted input; Reader scans it sequentially; Query
// memory-maps it for random point lookups, exploiting the sort order and the invertible hash to
// avoid an auxiliary index structure entirely.
package compacted
