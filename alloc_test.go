// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flogfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreallocListStaysAscendingByAge(t *testing.T) {
	var p preallocList
	p.push(preallocEntry{Block: 1, Age: 5}, 3)
	p.push(preallocEntry{Block: 2, Age: 1}, 3)
	p.push(preallocEntry{Block: 3, Age: 3}, 3)

	e, ok := p.pop()
	assert.True(t, ok)
	assert.Equal(t, uint32(2), e.Block)

	e, ok = p.pop()
	assert.True(t, ok)
	assert.Equal(t, uint32(3), e.Block)

	e, ok = p.pop()
	assert.True(t, ok)
	assert.Equal(t, uint32(1), e.Block)

	_, ok = p.pop()
	assert.False(t, ok)
}

func TestPreallocListDropsOlderCandidateWhenFull(t *testing.T) {
	var p preallocList
	p.push(preallocEntry{Block: 1, Age: 1}, 2)
	p.push(preallocEntry{Block: 2, Age: 2}, 2)
	// Full at 2 entries; a candidate no younger than the oldest
	// retained entry is dropped outright.
	p.push(preallocEntry{Block: 3, Age: 9}, 2)
	assert.Equal(t, 2, p.len())

	e, _ := p.pop()
	assert.Equal(t, uint32(1), e.Block)
	e, _ = p.pop()
	assert.Equal(t, uint32(2), e.Block)
}

func TestPreallocListEvictsOldestForYoungerCandidate(t *testing.T) {
	var p preallocList
	p.push(preallocEntry{Block: 1, Age: 1}, 2)
	p.push(preallocEntry{Block: 2, Age: 9}, 2)
	// Younger than the current oldest (age 9): bumps it out.
	p.push(preallocEntry{Block: 3, Age: 2}, 2)
	assert.Equal(t, 2, p.len())

	e, _ := p.pop()
	assert.Equal(t, uint32(1), e.Block)
	e, _ = p.pop()
	assert.Equal(t, uint32(3), e.Block)
}

func TestAllocateLockedReturnsErrNoSpaceWhenExhausted(t *testing.T) {
	fs := &FS{
		geom:          Geometry{NumBlocks: 1},
		numFreeBlocks: 0,
	}
	_, err := fs.allocateLocked()
	assert.IsType(t, &ErrNoSpace{}, err)
}
