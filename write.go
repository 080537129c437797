// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flogfs

import "github.com/cznic/mathutil"

// WriteHandle is an open append cursor on a file (§4.7). Handles are
// intrusively linked into FS.writeHead, per the design note on caller-
// owned handle lists.
type WriteHandle struct {
	fs *FS

	id       uint32
	block    uint32
	blockAge uint32

	sector       uint32
	offset       int
	remaining    int
	bytesInBlock uint32

	pos int64

	buf []byte

	closed bool
	next   *WriteHandle
}

// OpenWrite opens name for appending, creating it if it does not
// already exist live (§4.7, §7).
func (fs *FS) OpenWrite(name string) (*WriteHandle, error) {
	if len(name) > fs.geom.MaxFilenameLen {
		return nil, &ErrInvalid{What: "filename length", Value: len(name)}
	}

	fs.fsLock.Lock()
	defer fs.fsLock.Unlock()
	fs.flashLock.Lock()
	defer fs.flashLock.Unlock()

	if fs.state != stateMounted {
		return nil, &ErrNotMounted{}
	}

	res, err := fs.findFile(name)
	if err != nil {
		return nil, err
	}

	var wh *WriteHandle
	if res.found {
		wh, err = fs.openWriteAppend(res.alloc)
	} else {
		wh, err = fs.openWriteNew(name, res.iter)
	}
	if err != nil {
		return nil, err
	}

	wh.next = fs.writeHead
	fs.writeHead = wh
	return wh, nil
}

func (fs *FS) openWriteNew(name string, it *inodeIterator) (*WriteHandle, error) {
	if err := fs.inodePrepareNew(it); err != nil {
		return nil, err
	}

	fs.t++
	ts := fs.t
	fs.maxFileID++
	fileID := fs.maxFileID

	fs.allocLock.Lock()
	if err := fs.flushDirtyLocked(); err != nil {
		fs.allocLock.Unlock()
		return nil, err
	}
	cand, err := fs.allocateLocked()
	if err != nil {
		fs.allocLock.Unlock()
		return nil, err
	}

	wh := &WriteHandle{
		fs:       fs,
		id:       fileID,
		block:    cand.Block,
		blockAge: cand.Age,
		buf:      make([]byte, fs.geom.SectorSize),
	}
	fs.setDirtyLocked(cand.Block, wh)
	fs.allocLock.Unlock()

	alloc := inodeAllocation{
		FileID:        fileID,
		FirstBlock:    cand.Block,
		FirstBlockAge: cand.Age,
		Timestamp:     ts,
		Filename:      paddedName(name, fs.geom.MaxFilenameLen),
	}
	if err := fs.writeInodeAllocation(it.currentBlock, it.sector, alloc); err != nil {
		return nil, err
	}

	if err := fs.flash.EraseBlock(cand.Block); err != nil {
		return nil, &ErrIO{Op: "EraseBlock", Err: err}
	}
	fs.cache.close()

	wh.sector = 0
	wh.offset = fileSector0HeaderSize
	wh.remaining = int(fs.geom.SectorSize) - fileSector0HeaderSize
	fs.numFiles++

	if fs.log != nil {
		fs.log.WithField("file", name).WithField("file_id", fileID).Debug("created file")
	}
	return wh, nil
}

// openWriteAppend positions a handle at the end of an existing live
// file (§4.7's "Open existing"): skip sealed blocks accumulating their
// byte counts, then scan the first unsealed block sector by sector to
// find the resume point.
func (fs *FS) openWriteAppend(alloc inodeAllocation) (*WriteHandle, error) {
	block := alloc.FirstBlock
	blockAge := alloc.FirstBlockAge
	var pos int64

	for {
		tail, err := fs.readTail(block)
		if err != nil {
			return nil, err
		}
		if tail.Timestamp == TimestampInvalid {
			break
		}
		pos += int64(tail.BytesInBlock)
		block = tail.NextBlock
		hdr, err := fs.readFileSector0Header(block)
		if err != nil {
			return nil, err
		}
		blockAge = hdr.Age
	}

	sector := uint32(0)
	var bytesInBlock uint32
	var offset int
	for {
		spare, err := fs.readSpareAt(block, sector)
		if err != nil {
			return nil, err
		}
		if spare.nbytes() == SectorNBytesInvalid {
			offset = fs.geom.dataHeaderSize(sector)
			break
		}
		nb := int(spare.nbytes())
		if sector != fs.geom.TailSector() {
			bytesInBlock += uint32(nb)
		}
		pos += int64(nb)
		offset = fs.geom.dataHeaderSize(sector) + nb
		sector = fs.geom.incrementSector(sector)
	}

	wh := &WriteHandle{
		fs:           fs,
		id:           alloc.FileID,
		block:        block,
		blockAge:     blockAge,
		sector:       sector,
		offset:       offset,
		remaining:    int(fs.geom.SectorSize) - offset,
		bytesInBlock: bytesInBlock,
		pos:          pos,
		buf:          make([]byte, fs.geom.SectorSize),
	}
	return wh, nil
}

// Write appends p to the file, committing sectors as they fill
// (§4.7). It acquires fsLock and flashLock for its duration.
func (wh *WriteHandle) Write(p []byte) (int, error) {
	fs := wh.fs
	fs.fsLock.Lock()
	defer fs.fsLock.Unlock()
	fs.flashLock.Lock()
	defer fs.flashLock.Unlock()

	if wh.closed {
		return 0, &ErrClosed{}
	}

	written := 0
	for len(p) > 0 {
		n := mathutil.Min(len(p), wh.remaining)
		copy(wh.buf[wh.offset:wh.offset+n], p[:n])
		if n == wh.remaining {
			if err := fs.commitSector(wh, n); err != nil {
				return written + 0, err
			}
		} else {
			wh.offset += n
			wh.remaining -= n
		}
		p = p[n:]
		written += n
		wh.pos += int64(n)
	}
	return written, nil
}

// Seek is accepted for API symmetry but always fails, per §9.
func (wh *WriteHandle) Seek(offset int64, whence int) (int64, error) {
	return 0, &ErrInvalid{What: "WriteHandle.Seek", Value: offset}
}

// Close flushes the current partial sector and unlinks the handle.
// Idempotent: closing an already-closed handle succeeds (§9).
func (wh *WriteHandle) Close() error {
	fs := wh.fs
	fs.fsLock.Lock()
	defer fs.fsLock.Unlock()
	fs.flashLock.Lock()
	defer fs.flashLock.Unlock()

	if wh.closed {
		return nil
	}
	wh.closed = true
	fs.unlinkWriteHandle(wh)
	return fs.commitSector(wh, 0)
}

func (fs *FS) commitSector(wh *WriteHandle, n int) error {
	if wh.sector == fs.geom.TailSector() {
		return fs.commitTailSector(wh, n)
	}
	return fs.commitDataSector(wh, n)
}

// commitDataSector implements §4.7's "Commit sector" non-tail shape.
func (fs *FS) commitDataSector(wh *WriteHandle, n int) error {
	fs.allocLock.Lock()
	fs.clearDirtyIfLocked(wh.block)
	fs.allocLock.Unlock()

	header := fs.geom.dataHeaderSize(wh.sector)
	payload := wh.offset + n - header

	if wh.sector == 0 {
		hdr := fileSector0Header{Age: wh.blockAge, FileID: wh.id}
		copy(wh.buf[0:fileSector0HeaderSize], hdr.encode())
	}

	if wh.offset > 0 {
		if err := fs.cache.writeSector(wh.block, wh.sector, wh.buf[:wh.offset], 0); err != nil {
			return err
		}
	}
	if n > 0 {
		if err := fs.cache.writeSector(wh.block, wh.sector, wh.buf[wh.offset:wh.offset+n], wh.offset); err != nil {
			return err
		}
	}
	if err := fs.cache.writeSpare(wh.block, wh.sector, fileSpare(uint16(payload)).encode()); err != nil {
		return err
	}
	if err := fs.cache.commit(); err != nil {
		return err
	}

	wh.bytesInBlock += uint32(payload)
	next := fs.geom.incrementSector(wh.sector)
	wh.sector = next
	wh.offset = fs.geom.dataHeaderSize(next)
	wh.remaining = int(fs.geom.SectorSize) - wh.offset
	return nil
}

// commitTailSector implements §4.7's "Commit sector" tail shape: seal
// the current block, naming its successor, and allocate the successor
// (erasing it so the dirty-block invariant holds until its own
// sector-0 commit).
func (fs *FS) commitTailSector(wh *WriteHandle, n int) error {
	fs.allocLock.Lock()
	if err := fs.flushDirtyLocked(); err != nil {
		fs.allocLock.Unlock()
		return err
	}
	cand, err := fs.allocateLocked()
	if err != nil {
		fs.allocLock.Unlock()
		return err
	}
	fs.setDirtyLocked(cand.Block, wh)
	fs.allocLock.Unlock()

	fs.t++
	ts := fs.t
	payload := wh.offset + n - tailHeaderSize
	totalBytes := wh.bytesInBlock + uint32(payload)

	th := tailHeader{
		NextBlock:    cand.Block,
		NextAge:      cand.Age + 1,
		Timestamp:    ts,
		BytesInBlock: totalBytes,
	}
	copy(wh.buf[0:tailHeaderSize], th.encode())

	if err := fs.cache.writeSector(wh.block, wh.sector, wh.buf[:wh.offset], 0); err != nil {
		return err
	}
	if n > 0 {
		if err := fs.cache.writeSector(wh.block, wh.sector, wh.buf[wh.offset:wh.offset+n], wh.offset); err != nil {
			return err
		}
	}
	if err := fs.cache.writeSpare(wh.block, wh.sector, fileSpare(uint16(payload)).encode()); err != nil {
		return err
	}
	if err := fs.cache.commit(); err != nil {
		return err
	}

	if err := fs.flash.EraseBlock(cand.Block); err != nil {
		return &ErrIO{Op: "EraseBlock", Err: err}
	}
	fs.cache.close()

	wh.block = cand.Block
	wh.blockAge = cand.Age
	wh.sector = 0
	wh.offset = fileSector0HeaderSize
	wh.remaining = int(fs.geom.SectorSize) - fileSector0HeaderSize
	wh.bytesInBlock = 0
	return nil
}

// flushPendingSector commits whatever is buffered in the handle's
// current sector with no additional bytes, as used by the dirty-block
// flush-before-allocate discipline (§4.2) and by Close.
func (wh *WriteHandle) flushPendingSector() error {
	return wh.fs.commitSector(wh, 0)
}

func (fs *FS) unlinkWriteHandle(wh *WriteHandle) {
	if fs.writeHead == wh {
		fs.writeHead = wh.next
		wh.next = nil
		return
	}
	for p := fs.writeHead; p != nil; p = p.next {
		if p.next == wh {
			p.next = wh.next
			wh.next = nil
			return
		}
	}
}
