// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package kmer converts between ASCII DNA bases and the 2-bit-per-base packed integers the rest
// of this module treats as opaque keys, and implements the one place that packing isn't opaque:
// reverse-complement, needed to canonicalize a k-mer against the strand it was read from.
package kmer
