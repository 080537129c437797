// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package flogfs implements a log-structured filesystem for raw NAND
// flash (§1-§9). It never assumes a block device driver or an erase
// block translation layer underneath it: the caller's Flash
// implementation talks directly to the chip, bad blocks and all.
package flogfs

import (
	"sync"

	"github.com/sirupsen/logrus"
)

type fsState int

const (
	stateReset fsState = iota
	stateMounted
)

// Options configures an FS beyond what Geometry covers: the locks it
// synchronizes under and where it logs. A nil Options is equivalent to
// &Options{} — every field then takes its default.
type Options struct {
	// Log receives structured diagnostics (format and mount summaries,
	// mount recovery repairs, file create/remove, dirty-block flushes).
	// Errors are returned, not logged. Defaults to a logrus.Entry
	// that discards output.
	Log *logrus.Entry

	// FSLock, FlashLock, AllocLock override the three nested locks of
	// §5's concurrency model. Each defaults to a *sync.Mutex. Supplying
	// your own is useful on targets without a Go scheduler-aware
	// mutex, or to instrument lock hold times.
	FSLock    Mutex
	FlashLock Mutex
	AllocLock Mutex
}

// FS is a mounted (or not-yet-mounted) flogfs filesystem instance. The
// zero value is not usable; construct one with New.
//
// Every exported operation follows §5's lock order: fsLock, then
// flashLock, then (for allocator state) allocLock. Methods never hold
// flashLock across a call back into the caller.
type FS struct {
	geom  Geometry
	flash Flash
	cache *pageCache
	log   *logrus.Entry

	fsLock    Mutex
	flashLock Mutex
	allocLock Mutex

	state fsState

	readHead  *ReadHandle
	writeHead *WriteHandle

	inode0    uint32
	maxFileID uint32
	numFiles  int
	t         uint32 // monotonic logical timestamp, incremented before each stamped write

	allocHead     uint32
	numFreeBlocks uint32
	prealloc      preallocList
	dirty         dirtyBlock

	bad map[uint32]bool // blocks BlockIsBad reported bad; never allocated
}

// New validates geom, wires opts (or their defaults) and returns an
// unmounted FS. Call Format on a blank device, or Mount on one already
// formatted, before using it.
func New(flash Flash, geom Geometry, opts *Options) (*FS, error) {
	if err := geom.validate(); err != nil {
		return nil, err
	}
	if flash == nil {
		return nil, &ErrInvalid{What: "flash", Value: nil}
	}

	if opts == nil {
		opts = &Options{}
	}
	log := opts.Log
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(ioDiscard{})
		log = logrus.NewEntry(discard)
	}
	fsLock := opts.FSLock
	if fsLock == nil {
		fsLock = &sync.Mutex{}
	}
	flashLock := opts.FlashLock
	if flashLock == nil {
		flashLock = &sync.Mutex{}
	}
	allocLock := opts.AllocLock
	if allocLock == nil {
		allocLock = &sync.Mutex{}
	}

	if err := flash.Init(); err != nil {
		return nil, &ErrIO{Op: "Init", Err: err}
	}
	if flash.NumBlocks() != geom.NumBlocks {
		return nil, &ErrInvalid{What: "Flash.NumBlocks() vs Geometry.NumBlocks", Value: flash.NumBlocks()}
	}

	fs := &FS{
		geom:      geom,
		flash:     flash,
		cache:     newPageCache(flash, geom),
		log:       log,
		fsLock:    fsLock,
		flashLock: flashLock,
		allocLock: allocLock,
		state:     stateReset,
		dirty:     dirtyBlock{block: BlockIdxInvalid},
		bad:       map[uint32]bool{},
	}
	return fs, nil
}

// ioDiscard is a minimal io.Writer sink, used only to silence the
// default logger. Avoids importing io/ioutil for one symbol.
type ioDiscard struct{}

func (ioDiscard) Write(p []byte) (int, error) { return len(p), nil }

// Unmount idles the filesystem. Pending handles are not implicitly
// closed; the caller must close them first, mirroring §7's rule that
// an unflushed write is the caller's responsibility.
func (fs *FS) Unmount() error {
	fs.fsLock.Lock()
	defer fs.fsLock.Unlock()

	if fs.state != stateMounted {
		return &ErrNotMounted{}
	}
	if fs.readHead != nil || fs.writeHead != nil {
		return &ErrInvalid{What: "Unmount", Value: "open handles remain"}
	}
	fs.state = stateReset
	fs.cache.close()
	return nil
}

// Remove deletes a live file (§4.5, §4.7's invalidation half).
// Removing a name with no live file succeeds without effect, so
// repeated or racing Removes of the same name are all safe.
func (fs *FS) Remove(name string) error {
	fs.fsLock.Lock()
	defer fs.fsLock.Unlock()
	fs.flashLock.Lock()
	defer fs.flashLock.Unlock()

	if fs.state != stateMounted {
		return &ErrNotMounted{}
	}

	res, err := fs.findFile(name)
	if err != nil {
		return err
	}
	if !res.found {
		// rm of a nonexistent name succeeds (§7, §8): deletion is
		// idempotent.
		return nil
	}

	last, err := fs.lastBlockOf(res.alloc.FirstBlock)
	if err != nil {
		return err
	}

	fs.t++
	ts := fs.t
	if err := fs.writeInodeInvalidation(res.iter.currentBlock, res.iter.sector, inodeInvalidation{
		Timestamp: ts,
		LastBlock: last,
	}); err != nil {
		return err
	}

	if err := fs.invalidateChain(res.alloc.FirstBlock); err != nil {
		return err
	}

	fs.numFiles--
	if fs.log != nil {
		fs.log.WithField("file", name).Debug("removed file")
	}
	return nil
}

// lastBlockOf walks a file's block chain to its final (never-sealed)
// block, needed to stamp an inode invalidation's last_block field
// (§3).
func (fs *FS) lastBlockOf(first uint32) (uint32, error) {
	block := first
	for {
		tail, err := fs.readTail(block)
		if err != nil {
			return 0, err
		}
		if tail.NextBlock == BlockIdxInvalid {
			return block, nil
		}
		block = tail.NextBlock
	}
}
