// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flogfs

// Flash is the low-level driver contract flogfs consumes (§6). It is
// not implemented by this package — callers supply a concrete driver
// for their chip (or internal/memflash for tests). A Flash is not safe
// for concurrent use by multiple goroutines; flogfs serializes all
// access to it under its own flashLock, mirroring the single-page
// device register that real NAND parts expose.
//
// The contract mirrors lldb.Filer's "abstraction over the underlying
// medium, implementation owns its own story" shape, generalized from
// byte offsets to (block, page/sector) addressing, since NAND is not
// byte-addressable for writes.
type Flash interface {
	// Init prepares the driver for use (probing the chip, resetting
	// the page register). Called once, before any other method.
	Init() error

	// NumBlocks reports the total block count of the device,
	// including bad blocks. Must equal Geometry.NumBlocks.
	NumBlocks() uint32

	// OpenPage loads (block, page) into the device's page register
	// so that subsequent ReadSector/ReadSpare calls against any
	// sector within it observe its content. Implementations need not
	// cache; flogfs's own page cache (cache.go) does that.
	OpenPage(block, page uint32) error

	// BlockIsBad reports whether the block of the currently open
	// page is marked bad by the manufacturer or by a prior write
	// failure. Bad blocks are skipped by Format and Mount.
	BlockIsBad() (bool, error)

	// EraseBlock sets every bit in the block to 1. The block need not
	// have a page open first.
	EraseBlock(block uint32) error

	// ReadSector reads n bytes at offset off within the currently
	// open page's sector into dst.
	ReadSector(dst []byte, sector uint32, off, n int) error

	// WriteSector programs n bytes at offset off within the
	// currently open page's sector from src. Only 1-bits may be
	// programmed to 0 — callers never attempt to set a bit back to 1
	// outside of EraseBlock.
	WriteSector(src []byte, sector uint32, off, n int) error

	// ReadSpare reads the full out-of-band spare area of the
	// currently open page's sector into dst.
	ReadSpare(dst []byte, sector uint32) error

	// WriteSpare programs the out-of-band spare area of the
	// currently open page's sector from src.
	WriteSpare(src []byte, sector uint32) error

	// Commit programs all pending writes made since the last Commit
	// (or OpenPage) into the array. Until Commit returns nil, writes
	// are not guaranteed durable.
	Commit() error
}

// Mutex is the minimal lock contract flogfs needs (§6). A real
// implementation is typically a thin wrapper over sync.Mutex; it exists
// as an interface so embedded targets without a Go runtime mutex (or
// wanting priority inheritance, IRQ-safe locking, etc.) can supply
// their own. Reentrant behavior is not required.
type Mutex interface {
	Lock()
	Unlock()
}
