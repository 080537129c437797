// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flogfs

import "github.com/cznic/mathutil"

// pageCache is the single-slot cache over the flash driver's one page
// register (§4.1). It mirrors lldb.InnerFiler's "memoize identity,
// re-fetch only on mismatch" shape, generalized from a byte-range
// window to a (block, page) pair.
type pageCache struct {
	flash Flash
	geom  Geometry

	open   bool
	block  uint32
	page   uint32
	openOK bool // never set; the OpenPage result is kept in openErr
	openErr error
}

func newPageCache(flash Flash, geom Geometry) *pageCache {
	return &pageCache{flash: flash, geom: geom}
}

// openPage loads (block, page) into the device register, reusing the
// cached identity if it already matches. Repeated opens of the same
// page are idempotent and cheap, per §4.1.
func (c *pageCache) openPage(block, page uint32) error {
	if c.open && c.block == block && c.page == page {
		return c.openErr
	}
	c.openErr = c.flash.OpenPage(block, page)
	c.block, c.page, c.open = block, page, true
	return c.openErr
}

// openSector loads the page containing sector, per the formula in
// §4.1: open_sector(block, sector) == open_page(block, sector /
// SECTORS_PER_PAGE).
func (c *pageCache) openSector(block, sector uint32) error {
	page := sector / c.geom.SectorsPerPage
	return c.openPage(block, page)
}

// close clears the cached identity. The next open reloads
// unconditionally; there is no write-back, since the driver commits
// writes synchronously (§4.1).
func (c *pageCache) close() {
	c.open = false
}

// blockIsBad opens block's first page and asks the driver whether the
// block is marked bad (§4.8: "open page 0; if bad, skip").
func (c *pageCache) blockIsBad(block uint32) (bool, error) {
	if err := c.openPage(block, 0); err != nil {
		return false, &ErrIO{Op: "openPage", Err: err}
	}
	bad, err := c.flash.BlockIsBad()
	if err != nil {
		return false, &ErrIO{Op: "BlockIsBad", Err: err}
	}
	return bad, nil
}

func (c *pageCache) readSector(block, sector uint32, dst []byte, off int) error {
	if err := c.openSector(block, sector); err != nil {
		return &ErrIO{Op: "openSector", Err: err}
	}
	n := mathutil.Min(len(dst), int(c.geom.SectorSize)-off)
	if err := c.flash.ReadSector(dst[:n], sector, off, n); err != nil {
		return &ErrIO{Op: "readSector", Err: err}
	}
	return nil
}

func (c *pageCache) writeSector(block, sector uint32, src []byte, off int) error {
	if err := c.openSector(block, sector); err != nil {
		return &ErrIO{Op: "openSector", Err: err}
	}
	if err := c.flash.WriteSector(src, sector, off, len(src)); err != nil {
		return &ErrIO{Op: "writeSector", Err: err}
	}
	return nil
}

func (c *pageCache) readSpare(block, sector uint32, dst []byte) error {
	if err := c.openSector(block, sector); err != nil {
		return &ErrIO{Op: "openSector", Err: err}
	}
	if err := c.flash.ReadSpare(dst, sector); err != nil {
		return &ErrIO{Op: "readSpare", Err: err}
	}
	return nil
}

func (c *pageCache) writeSpare(block, sector uint32, src []byte) error {
	if err := c.openSector(block, sector); err != nil {
		return &ErrIO{Op: "openSector", Err: err}
	}
	if err := c.flash.WriteSpare(src, sector); err != nil {
		return &ErrIO{Op: "writeSpare", Err: err}
	}
	return nil
}

func (c *pageCache) commit() error {
	if err := c.flash.Commit(); err != nil {
		return &ErrIO{Op: "commit", Err: err}
	}
	return nil
}
