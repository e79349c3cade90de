// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package hasharray implements a lock-free, open-addressed hash table specialized for counting
// fixed-width keys: every fast-path operation (Add, Set, GetValForKey, GetKeyID) is safe for an
// unbounded number of concurrent callers with no locks and no per-call allocation.
//
// Each slot ("cell") packs a key remainder, a value, and a small reprobe marker into as few bits
// as the configured key and value widths allow, backed by cellstore.Store. The key itself is
// never stored in full: an invertible GF(2) matrix (package matrix) hashes the key to its cell
// position, and the same matrix's inverse reconstructs the key from a cell's position plus its
// stored remainder bits. Colliding keys are resolved by quadratic reprobing, and the reprobe
// marker is what a reader uses both to know a cell is populated and to know which reprobe step
// found it — see Array's doc comment for the exact cell layout.
package hasharray
