// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package matrix

// Word is a key or hash value of up to 64 bits. The distilled specification allows key widths
// up to 4*64 bits; this implementation covers kb in [1, 64] (k-mers up to 32 bases), which spans
// the k values used in essentially all published k-mer counting work. See DESIGN.md's Open
// Questions for the reasoning behind not generalizing Word to a multi-limb type.
type Word = uint64

// Mask returns a Word with exactly the low n bits set. n must be in [0, 64].
func Mask(n uint) Word {
	if n >= 64 {
		return ^Word(0)
	}
	if n == 0 {
		return 0
	}
	return (Word(1) << n) - 1
}
