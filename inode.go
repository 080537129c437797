// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flogfs

// inodeIterator walks the two-sector (allocation, invalidation) entry
// slots of the inode chain in order, per §4.4. Grounded on
// dbm/slice.go's forward iteration over fixed-stride array slots,
// generalized from a flat array to a block-chained one.
type inodeIterator struct {
	currentBlock  uint32
	nextBlock     uint32 // this block's successor, once known
	inodeBlockIdx uint32 // this block's position in the inode chain
	inodeIdx      uint32 // entry index since the start of the chain
	sector        uint32 // allocation-sector index of the current slot
}

// newInodeIterator initializes an iterator at inode0, positioned on
// the chain's first entry slot.
func (fs *FS) newInodeIterator() (*inodeIterator, error) {
	block := fs.inode0
	tail, err := fs.readTail(block)
	if err != nil {
		return nil, err
	}
	spare, err := fs.readSector0Spare(block)
	if err != nil {
		return nil, err
	}
	return &inodeIterator{
		currentBlock:  block,
		nextBlock:     tail.NextBlock,
		inodeBlockIdx: spare.Aux,
		inodeIdx:      0,
		sector:        fs.geom.firstInodeSlotSector(),
	}, nil
}

// atLastSlot reports whether sector is the final two-sector entry slot
// of a block: the next entry would collide with the block's reserved
// invalidation/tail sectors. This resolves spec §9's open question by
// parameterizing against the true last slot instead of assuming a
// single page of entries.
func (g Geometry) atLastSlot(sector uint32) bool {
	return sector+2 >= g.InvalidationSector()
}

// inodeNext advances the iterator to the next entry slot, crossing
// into the successor inode block when the current one is exhausted
// (§4.4). If the chain ends here (no successor yet linked), the
// iterator is left parked past the last slot; the caller is expected
// to call inodePrepareNew before writing a new entry.
func (fs *FS) inodeNext(it *inodeIterator) error {
	it.sector += 2
	it.inodeIdx++
	if it.sector >= fs.geom.InvalidationSector() {
		if it.nextBlock != BlockIdxInvalid {
			next := it.nextBlock
			tail, err := fs.readTail(next)
			if err != nil {
				return err
			}
			spare, err := fs.readSector0Spare(next)
			if err != nil {
				return err
			}
			it.currentBlock = next
			it.nextBlock = tail.NextBlock
			it.inodeBlockIdx = spare.Aux
			it.sector = fs.geom.firstInodeSlotSector()
		}
	}
	return nil
}

// inodePrepareNew implements §4.4's inode_prepare_new: if the slot the
// iterator currently points at is the last entry slot of its block,
// allocate and link the successor block now, before the caller writes
// the current slot's allocation sector.
func (fs *FS) inodePrepareNew(it *inodeIterator) error {
	if !fs.geom.atLastSlot(it.sector) {
		return nil
	}

	fs.allocLock.Lock()
	defer fs.allocLock.Unlock()

	if err := fs.flushDirtyLocked(); err != nil {
		return err
	}
	cand, err := fs.allocateLocked()
	if err != nil {
		return err
	}

	fs.t++
	ts := fs.t
	if err := fs.writeTail(it.currentBlock, tailHeader{
		NextBlock:    cand.Block,
		NextAge:      cand.Age + 1,
		Timestamp:    ts,
		BytesInBlock: 0,
	}); err != nil {
		return err
	}

	if err := fs.flash.EraseBlock(cand.Block); err != nil {
		return &ErrIO{Op: "EraseBlock", Err: err}
	}
	fs.cache.close()

	if err := fs.cache.writeSector(cand.Block, 0, inodeSector0Header{
		Age:       cand.Age,
		Timestamp: ts,
	}.encode(), 0); err != nil {
		return err
	}
	if err := fs.cache.writeSpare(cand.Block, 0, inodeSpare(it.inodeBlockIdx+1).encode()); err != nil {
		return err
	}
	if err := fs.cache.commit(); err != nil {
		return err
	}

	it.nextBlock = cand.Block
	return nil
}

func (fs *FS) readInodeAllocation(block, sector uint32) (inodeAllocation, error) {
	buf := make([]byte, inodeAllocHeaderSize+fs.geom.MaxFilenameLen)
	if err := fs.cache.readSector(block, sector, buf, 0); err != nil {
		return inodeAllocation{}, err
	}
	return decodeInodeAllocation(buf, fs.geom.MaxFilenameLen), nil
}

func (fs *FS) writeInodeAllocation(block, sector uint32, h inodeAllocation) error {
	if err := fs.cache.writeSector(block, sector, h.encode(fs.geom.MaxFilenameLen), 0); err != nil {
		return err
	}
	return fs.cache.commit()
}

func (fs *FS) readInodeInvalidation(block, sector uint32) (inodeInvalidation, error) {
	buf := make([]byte, inodeInvalidationSize)
	if err := fs.cache.readSector(block, sector+1, buf, 0); err != nil {
		return inodeInvalidation{}, err
	}
	return decodeInodeInvalidation(buf), nil
}

func (fs *FS) writeInodeInvalidation(block, sector uint32, h inodeInvalidation) error {
	if err := fs.cache.writeSector(block, sector+1, h.encode(), 0); err != nil {
		return err
	}
	return fs.cache.commit()
}
