// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flogfs

// Format and Mount implement §4.8: Format lays down a blank filesystem
// (a single inode block, every other block erased and free); Mount
// performs the two-pass recovery scan a power-cycled device needs
// before it can serve operations.

// Format erases every good block of flash and writes a fresh, empty
// inode chain rooted at the first one. Bad blocks (§4.8: "open page 0;
// if bad, skip") are recorded and never erased or handed out.
// It returns a mounted FS ready for use.
func Format(flash Flash, geom Geometry, opts *Options) (*FS, error) {
	fs, err := New(flash, geom, opts)
	if err != nil {
		return nil, err
	}

	fs.flashLock.Lock()
	defer fs.flashLock.Unlock()

	root := BlockIdxInvalid
	var numGood uint32
	for b := uint32(0); b < geom.NumBlocks; b++ {
		bad, err := fs.cache.blockIsBad(b)
		if err != nil {
			return nil, err
		}
		if bad {
			fs.bad[b] = true
			continue
		}
		if err := fs.flash.EraseBlock(b); err != nil {
			return nil, &ErrIO{Op: "EraseBlock", Err: err}
		}
		numGood++
		if root == BlockIdxInvalid {
			root = b
		}
	}
	fs.cache.close()

	if root == BlockIdxInvalid {
		return nil, &ErrNoSpace{}
	}

	if err := fs.cache.writeSector(root, 0, inodeSector0Header{Age: 0, Timestamp: 1}.encode(), 0); err != nil {
		return nil, err
	}
	if err := fs.cache.writeSpare(root, 0, inodeSpare(0).encode()); err != nil {
		return nil, err
	}
	if err := fs.cache.commit(); err != nil {
		return nil, err
	}
	if err := fs.writeTail(root, tailHeader{
		NextBlock:    BlockIdxInvalid,
		NextAge:      BlockAgeInvalid,
		Timestamp:    1,
		BytesInBlock: 0,
	}); err != nil {
		return nil, err
	}

	fs.inode0 = root
	fs.maxFileID = 0
	fs.numFiles = 0
	fs.t = 1
	fs.allocHead = (root + 1) % geom.NumBlocks
	fs.numFreeBlocks = numGood - 1
	fs.state = stateMounted

	if fs.log != nil {
		fs.log.WithField("num_blocks", geom.NumBlocks).
			WithField("bad_blocks", len(fs.bad)).
			Info("formatted")
	}
	return fs, nil
}

// Mount scans an already-formatted device and returns a usable FS,
// repairing any allocation or deletion left half-finished by a crash
// (§4.8, §7).
func Mount(flash Flash, geom Geometry, opts *Options) (*FS, error) {
	fs, err := New(flash, geom, opts)
	if err != nil {
		return nil, err
	}

	fs.flashLock.Lock()
	defer fs.flashLock.Unlock()

	if err := fs.census(); err != nil {
		return nil, err
	}
	if fs.inode0 == BlockIdxInvalid {
		return nil, &ErrCorrupt{Block: 0, What: "no inode root block found"}
	}

	fs.state = stateMounted
	if err := fs.replayInodeChain(); err != nil {
		fs.state = stateReset
		return nil, err
	}

	if fs.log != nil {
		fs.log.WithField("num_files", fs.numFiles).
			WithField("free_blocks", fs.numFreeBlocks).
			Info("mounted")
	}
	return fs, nil
}

// census is pass 1 of §4.8: classify every block (live inode root,
// live data, free-erased, free-reclaimed) and seed the allocator's
// state from what it finds. No repair happens here; that is pass 2's
// job, since a block's role can only be judged once the inode chain
// that references it has been read.
func (fs *FS) census() error {
	fs.inode0 = BlockIdxInvalid
	var maxT uint32

	bump := func(t uint32) {
		if t != TimestampInvalid && t > maxT {
			maxT = t
		}
	}

	for b := uint32(0); b < fs.geom.NumBlocks; b++ {
		bad, err := fs.cache.blockIsBad(b)
		if err != nil {
			return err
		}
		if bad {
			fs.bad[b] = true
			continue
		}

		age, err := fs.readBlockAge(b)
		if err != nil {
			return err
		}

		if age == BlockAgeInvalid {
			fs.numFreeBlocks++
			fs.prealloc.push(preallocEntry{Block: b, Age: 0}, fs.geom.PreallocSize)
			continue
		}

		spare, err := fs.readSector0Spare(b)
		if err != nil {
			return err
		}
		if !spare.Type.valid() {
			return &ErrCorrupt{Block: b, What: "unrecognized block type tag"}
		}

		if spare.Type == blockInode && spare.Aux == 0 {
			fs.inode0 = b
		}

		inv, err := fs.readBlockInvalidation(b)
		if err != nil {
			return err
		}
		if inv.Timestamp != TimestampInvalid {
			bump(inv.Timestamp)
			fs.numFreeBlocks++
			fs.prealloc.push(preallocEntry{Block: b, Age: age}, fs.geom.PreallocSize)
			continue
		}

		if spare.Type == blockInode {
			hdr, err := fs.readInodeSector0Header(b)
			if err != nil {
				return err
			}
			bump(hdr.Timestamp)
		}
		tail, err := fs.readTail(b)
		if err != nil {
			return err
		}
		bump(tail.Timestamp)
	}

	fs.t = maxT + 1
	fs.allocHead = 0
	fs.dirty = dirtyBlock{block: BlockIdxInvalid}
	return nil
}

// lastDeletion tracks the most-recently-timestamped deleted inode
// entry seen during replay, mirroring §4.8's `last_deletion` — at most
// one Remove can have been in flight when a crash hit, so only the
// newest deletion can possibly have been interrupted.
type lastDeletion struct {
	timestamp  uint32 // 0 means none seen yet; flogfs timestamps start at 1
	firstBlock uint32
	lastBlock  uint32
	fileID     uint32
}

// replayInodeChain is pass 2 of §4.8: walk every entry slot, repair
// the two ways a crash can leave a write half-finished, and track the
// newest deletion for the post-scan recovery check.
//
//   - Create interrupted after the inode allocation sector was
//     committed but before the new file's first block got its sector-0
//     header: the entry names a block that is still in its erased
//     state. It is retired immediately as if deleted, since no byte of
//     the file was ever durably written.
//   - Inode-chain extension interrupted after a block's tail was
//     rewritten to point at a successor but before that successor's
//     own sector-0 header was committed: the successor is still
//     erased. The chain is treated as ending at the current block;
//     the half-initialized successor is left for the allocator to
//     reclaim the next time it is scanned as unwritten.
//   - Delete interrupted after the inode invalidation sector was
//     committed but before invalidate_chain finished reclaiming the
//     file's blocks: detected and repaired after the scan, once the
//     newest deletion is known.
func (fs *FS) replayInodeChain() error {
	it, err := fs.newInodeIterator()
	if err != nil {
		return err
	}

	var deletion lastDeletion

	for {
		alloc, err := fs.readInodeAllocation(it.currentBlock, it.sector)
		if err != nil {
			return err
		}
		if alloc.FileID == FileIDInvalid {
			break
		}

		spare, err := fs.readSector0Spare(alloc.FirstBlock)
		if err != nil {
			return err
		}
		if spare.Type == blockUnallocated {
			fs.t++
			if err := fs.writeInodeInvalidation(it.currentBlock, it.sector, inodeInvalidation{
				Timestamp: fs.t,
				LastBlock: alloc.FirstBlock,
			}); err != nil {
				return err
			}
			if fs.log != nil {
				fs.log.WithField("file_id", alloc.FileID).Warn("repaired interrupted create")
			}
		} else {
			if alloc.FileID > fs.maxFileID {
				fs.maxFileID = alloc.FileID
			}
			inv, err := fs.readInodeInvalidation(it.currentBlock, it.sector)
			if err != nil {
				return err
			}
			if inv.Timestamp == TimestampInvalid {
				fs.numFiles++
			} else if inv.Timestamp > deletion.timestamp {
				deletion = lastDeletion{
					timestamp:  inv.Timestamp,
					firstBlock: alloc.FirstBlock,
					lastBlock:  inv.LastBlock,
					fileID:     alloc.FileID,
				}
			}
		}

		if it.nextBlock != BlockIdxInvalid && fs.geom.atLastSlot(it.sector) {
			nextSpare, err := fs.readSector0Spare(it.nextBlock)
			if err != nil {
				return err
			}
			if nextSpare.Type == blockUnallocated {
				if fs.log != nil {
					fs.log.WithField("block", it.nextBlock).Warn("repaired interrupted inode chain extension")
				}
				it.nextBlock = BlockIdxInvalid
			}
		}

		if err := fs.inodeNext(it); err != nil {
			return err
		}
	}

	if deletion.timestamp > 0 {
		hdr, err := fs.readFileSector0Header(deletion.lastBlock)
		if err != nil {
			return err
		}
		if hdr.FileID == deletion.fileID {
			inv, err := fs.readBlockInvalidation(deletion.lastBlock)
			if err != nil {
				return err
			}
			if inv.Timestamp == TimestampInvalid {
				if err := fs.invalidateChain(deletion.firstBlock); err != nil {
					return err
				}
				if fs.log != nil {
					fs.log.WithField("file_id", deletion.fileID).Warn("repaired interrupted delete")
				}
			}
		}
	}

	return nil
}
