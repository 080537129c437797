// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flogfs

// Block-chain primitives (§4.3): reading a block's tail pointer and
// walking/invalidating a chain of blocks. Grounded on lldb/falloc.go's
// block-to-block linking via stored handles, generalized to an
// explicit next_block tail field.

func (fs *FS) readBlockAge(block uint32) (uint32, error) {
	buf := make([]byte, 4)
	if err := fs.cache.readSector(block, 0, buf, 0); err != nil {
		return 0, err
	}
	return beUint32(buf), nil
}

func (fs *FS) readFileSector0Header(block uint32) (fileSector0Header, error) {
	buf := make([]byte, fileSector0HeaderSize)
	if err := fs.cache.readSector(block, 0, buf, 0); err != nil {
		return fileSector0Header{}, err
	}
	return decodeFileSector0Header(buf), nil
}

func (fs *FS) readInodeSector0Header(block uint32) (inodeSector0Header, error) {
	buf := make([]byte, inodeSector0HeaderSize)
	if err := fs.cache.readSector(block, 0, buf, 0); err != nil {
		return inodeSector0Header{}, err
	}
	return decodeInodeSector0Header(buf), nil
}

func (fs *FS) readSector0Spare(block uint32) (sparePayload, error) {
	return fs.readSpareAt(block, 0)
}

// readSpareAt reads the spare of an arbitrary sector within block.
func (fs *FS) readSpareAt(block, sector uint32) (sparePayload, error) {
	buf := make([]byte, spareSize)
	if err := fs.cache.readSpare(block, sector, buf); err != nil {
		return sparePayload{}, err
	}
	return decodeSpare(buf), nil
}

// readTail reads the tail sector's main field (§3): the link to the
// next block, the next block's pre-assigned age, the sealing
// timestamp, and the final byte count.
func (fs *FS) readTail(block uint32) (tailHeader, error) {
	buf := make([]byte, tailHeaderSize)
	if err := fs.cache.readSector(block, fs.geom.TailSector(), buf, 0); err != nil {
		return tailHeader{}, err
	}
	return decodeTailHeader(buf), nil
}

// nextBlockOf implements §4.3's next_block_of.
func (fs *FS) nextBlockOf(block uint32) (uint32, error) {
	t, err := fs.readTail(block)
	if err != nil {
		return 0, err
	}
	return t.NextBlock, nil
}

func (fs *FS) writeTail(block uint32, h tailHeader) error {
	if err := fs.cache.writeSector(block, fs.geom.TailSector(), h.encode(), 0); err != nil {
		return err
	}
	return fs.cache.commit()
}

func (fs *FS) readBlockInvalidation(block uint32) (blockInvalidation, error) {
	buf := make([]byte, blockInvalidationSize)
	if err := fs.cache.readSector(block, fs.geom.InvalidationSector(), buf, 0); err != nil {
		return blockInvalidation{}, err
	}
	return decodeBlockInvalidation(buf), nil
}

func (fs *FS) writeBlockInvalidation(block uint32, h blockInvalidation) error {
	if err := fs.cache.writeSector(block, fs.geom.InvalidationSector(), h.encode(), 0); err != nil {
		return err
	}
	return fs.cache.commit()
}

// invalidateChain implements §4.3's invalidate_chain: walk from base
// via next_block, marking every not-yet-invalidated block free for
// reclamation, stopping at an unlinked or sentinel-terminated tail.
func (fs *FS) invalidateChain(base uint32) error {
	block := base
	for block != BlockIdxInvalid {
		tail, err := fs.readTail(block)
		if err != nil {
			return err
		}

		inv, err := fs.readBlockInvalidation(block)
		if err != nil {
			return err
		}

		nextAge := inv.NextAge
		if inv.Timestamp == TimestampInvalid {
			fs.t++
			nextAge = tail.NextAge
			if err := fs.writeBlockInvalidation(block, blockInvalidation{
				Timestamp: fs.t,
				NextAge:   nextAge,
			}); err != nil {
				return err
			}

			fs.allocLock.Lock()
			fs.numFreeBlocks++
			fs.allocLock.Unlock()
		}

		if tail.NextBlock == BlockIdxInvalid || nextAge == BlockAgeInvalid {
			return nil
		}
		block = tail.NextBlock
	}
	return nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
