// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flogfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpareRoundTrip(t *testing.T) {
	s := fileSpare(1234)
	got := decodeSpare(s.encode())
	assert.Equal(t, s, got)
	assert.Equal(t, uint16(1234), got.nbytes())
}

func TestTailHeaderRoundTrip(t *testing.T) {
	h := tailHeader{NextBlock: 7, NextAge: 3, Timestamp: 99, BytesInBlock: 512}
	assert.Equal(t, h, decodeTailHeader(h.encode()))
}

func TestInodeAllocationRoundTripPadsAndTrimsName(t *testing.T) {
	h := inodeAllocation{
		FileID:        5,
		FirstBlock:    2,
		FirstBlockAge: 0,
		Timestamp:     1,
		Filename:      paddedName("hello.txt", 16),
	}
	got := decodeInodeAllocation(h.encode(16), 16)
	assert.Equal(t, "hello.txt", trimmedName(got.Filename))
	assert.Equal(t, h.FileID, got.FileID)
}

func TestSpareAllOnesDetectsErasedState(t *testing.T) {
	erased := make([]byte, spareSize)
	for i := range erased {
		erased[i] = 0xFF
	}
	assert.True(t, spareAllOnes(erased))

	written := fileSpare(0).encode()
	assert.False(t, spareAllOnes(written))
}
