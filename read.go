// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flogfs

import (
	"io"

	"github.com/cznic/mathutil"
)

// ReadHandle is an open forward-only cursor on a file (§4.6). Handles
// are intrusively linked into FS.readHead.
type ReadHandle struct {
	fs *FS

	id    uint32
	block uint32
	sector uint32

	offset    int
	sectorLen int
	eof       bool

	pos int64

	closed bool
	next   *ReadHandle
}

// OpenRead opens name for reading from its first byte (§4.6).
func (fs *FS) OpenRead(name string) (*ReadHandle, error) {
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
	if !res.found {
		return nil, &ErrNotFound{Name: name}
	}

	rh := &ReadHandle{
		fs:    fs,
		id:    res.alloc.FileID,
		block: res.alloc.FirstBlock,
	}
	if err := fs.loadSectorLen(rh); err != nil {
		return nil, err
	}

	rh.next = fs.readHead
	fs.readHead = rh
	return rh, nil
}

// loadSectorLen reads the spare of rh's current sector to learn how
// many payload bytes it holds, per §4.6's end-of-file test: a sector
// whose spare is still in its erased state has never been written.
func (fs *FS) loadSectorLen(rh *ReadHandle) error {
	spare, err := fs.readSpareAt(rh.block, rh.sector)
	if err != nil {
		return err
	}
	if spare.nbytes() == SectorNBytesInvalid {
		rh.sectorLen = 0
		return nil
	}
	rh.sectorLen = int(spare.nbytes())
	return nil
}

// advance moves rh past an exhausted sector, crossing into the next
// block via the tail's next_block link when the tail sector itself is
// exhausted (§4.6). Sets rh.eof once the chain truly ends.
func (fs *FS) advance(rh *ReadHandle) error {
	if rh.sector == fs.geom.TailSector() {
		tail, err := fs.readTail(rh.block)
		if err != nil {
			return err
		}
		if tail.NextBlock == BlockIdxInvalid {
			rh.eof = true
			return nil
		}
		rh.block = tail.NextBlock
		rh.sector = 0
	} else {
		rh.sector = fs.geom.incrementSector(rh.sector)
	}
	rh.offset = 0
	return fs.loadSectorLen(rh)
}

// Read implements io.Reader. It acquires fsLock and flashLock for its
// duration, as every other flogfs operation does (§5).
func (rh *ReadHandle) Read(p []byte) (int, error) {
	fs := rh.fs
	fs.fsLock.Lock()
	defer fs.fsLock.Unlock()
	fs.flashLock.Lock()
	defer fs.flashLock.Unlock()

	if rh.closed {
		return 0, &ErrClosed{}
	}

	written := 0
	for len(p) > 0 {
		if rh.eof {
			if written > 0 {
				return written, nil
			}
			return 0, io.EOF
		}
		if rh.offset >= rh.sectorLen {
			if err := fs.advance(rh); err != nil {
				return written, err
			}
			continue
		}

		header := fs.geom.dataHeaderSize(rh.sector)
		avail := rh.sectorLen - rh.offset
		n := mathutil.Min(len(p), avail)
		if err := fs.cache.readSector(rh.block, rh.sector, p[:n], header+rh.offset); err != nil {
			return written, err
		}
		rh.offset += n
		rh.pos += int64(n)
		p = p[n:]
		written += n
	}
	return written, nil
}

// Seek is accepted for API symmetry but always fails, per §9: flogfs
// offers no random access, only sequential append and sequential read.
func (rh *ReadHandle) Seek(offset int64, whence int) (int64, error) {
	return 0, &ErrInvalid{What: "ReadHandle.Seek", Value: offset}
}

// Close unlinks the handle. Idempotent (§9).
func (rh *ReadHandle) Close() error {
	fs := rh.fs
	fs.fsLock.Lock()
	defer fs.fsLock.Unlock()

	if rh.closed {
		return nil
	}
	rh.closed = true
	fs.unlinkReadHandle(rh)
	return nil
}

func (fs *FS) unlinkReadHandle(rh *ReadHandle) {
	if fs.readHead == rh {
		fs.readHead = rh.next
		rh.next = nil
		return
	}
	for p := fs.readHead; p != nil; p = p.next {
		if p.next == rh {
			p.next = rh.next
			rh.next = nil
			return
		}
	}
}
