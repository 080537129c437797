// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flogfs

import "sort"

// preallocEntry is a candidate block the allocator can hand out next,
// paired with its erase-count "age".
type preallocEntry struct {
	Block uint32
	Age   uint32
}

// preallocList is the bounded, ascending-by-age candidate list of
// §4.2, generalized from lldb/flt.go's bucketed free list (there,
// buckets are keyed by block size; here there is a single bucket keyed
// by age, since every block is the same size).
type preallocList struct {
	entries []preallocEntry
	ageSum  int64
}

// push inserts cand in ascending-age order, bounded to max entries.
// If the list is already full and cand is not younger than the oldest
// retained entry, it's dropped outright — it wouldn't be picked before
// the existing entries empty out anyway.
func (p *preallocList) push(cand preallocEntry, max int) {
	if len(p.entries) >= max {
		if cand.Age >= p.entries[len(p.entries)-1].Age {
			return
		}
		p.ageSum -= int64(p.entries[len(p.entries)-1].Age)
		p.entries = p.entries[:len(p.entries)-1]
	}
	i := sort.Search(len(p.entries), func(i int) bool { return p.entries[i].Age >= cand.Age })
	p.entries = append(p.entries, preallocEntry{})
	copy(p.entries[i+1:], p.entries[i:])
	p.entries[i] = cand
	p.ageSum += int64(cand.Age)
}

// pop removes and returns the youngest (lowest-age) entry.
func (p *preallocList) pop() (preallocEntry, bool) {
	if len(p.entries) == 0 {
		return preallocEntry{}, false
	}
	e := p.entries[0]
	p.entries = p.entries[1:]
	p.ageSum -= int64(e.Age)
	return e, true
}

func (p *preallocList) len() int { return len(p.entries) }

// dirtyBlock is the single outstanding allocated-but-not-yet-committed
// block (§3, §4.2). Owned under allocLock.
type dirtyBlock struct {
	block uint32 // BlockIdxInvalid when none
	file  *WriteHandle
}

// scanningIterate examines the block at allocHead and advances the
// cursor, per §4.2. It never touches numFreeBlocks or the prealloc
// list; callers decide what to do with a yielded candidate.
func (fs *FS) scanningIterate() (preallocEntry, bool, error) {
	block := fs.allocHead
	fs.allocHead = (fs.allocHead + 1) % fs.geom.NumBlocks

	if fs.bad[block] {
		return preallocEntry{}, false, nil
	}

	age, err := fs.readBlockAge(block)
	if err != nil {
		return preallocEntry{}, false, err
	}
	if age == BlockAgeInvalid {
		return preallocEntry{Block: block, Age: 0}, true, nil
	}

	inv, err := fs.readBlockInvalidation(block)
	if err != nil {
		return preallocEntry{}, false, err
	}
	if inv.Timestamp != TimestampInvalid {
		return preallocEntry{Block: block, Age: age}, true, nil
	}

	return preallocEntry{}, false, nil
}

// allocateLocked returns a fresh (block, age) pair, or ErrNoSpace.
// Caller must hold allocLock. The caller is responsible for erasing
// the returned block before using it, per §4.2.
func (fs *FS) allocateLocked() (preallocEntry, error) {
	if fs.numFreeBlocks == 0 {
		return preallocEntry{}, &ErrNoSpace{}
	}

	if e, ok := fs.prealloc.pop(); ok {
		fs.numFreeBlocks--
		return e, nil
	}

	for i := uint32(0); i < fs.geom.NumBlocks; i++ {
		e, ok, err := fs.scanningIterate()
		if err != nil {
			return preallocEntry{}, err
		}
		if ok {
			fs.numFreeBlocks--
			return e, nil
		}
	}

	return preallocEntry{}, &ErrNoSpace{}
}

// flushDirtyLocked flushes and clears any outstanding dirty block
// before a new allocation, per §4.2's rationale: a block referenced
// only from a dirty write handle is not yet a legitimate part of any
// file until its owner commits a sector against it. Caller must hold
// allocLock, as well as fsLock and flashLock; allocLock is released
// while the owner's sector commits, since that commit takes it itself.
func (fs *FS) flushDirtyLocked() error {
	if fs.dirty.block == BlockIdxInvalid {
		return nil
	}
	wh := fs.dirty.file
	fs.dirty.block = BlockIdxInvalid
	fs.dirty.file = nil
	if wh == nil {
		return nil
	}
	if fs.log != nil {
		fs.log.WithField("block", wh.block).Debug("flushing dirty block before allocate")
	}
	fs.allocLock.Unlock()
	err := wh.flushPendingSector()
	fs.allocLock.Lock()
	return err
}

// setDirtyLocked marks block as the single outstanding dirty block
// owned by wh. Caller must hold allocLock and must have already
// flushed any previous dirty block.
func (fs *FS) setDirtyLocked(block uint32, wh *WriteHandle) {
	fs.dirty.block = block
	fs.dirty.file = wh
}

// clearDirtyIfLocked clears the dirty-block slot iff it currently
// belongs to block, as done when a non-tail sector commits against it
// (§4.7). Caller must hold allocLock.
func (fs *FS) clearDirtyIfLocked(block uint32) {
	if fs.dirty.block == block {
		fs.dirty.block = BlockIdxInvalid
		fs.dirty.file = nil
	}
}
