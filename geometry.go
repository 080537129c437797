// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flogfs

// Geometry describes the fixed-per-build shape of the backing flash
// device and the filesystem's static policy knobs. Filling in the exact
// values (block/page/sector counts, preallocation depth) is the
// caller's job; flogfs only consumes them.
type Geometry struct {
	NumBlocks       uint32 // total erase blocks on the device
	PagesPerBlock   uint32
	SectorsPerPage  uint32
	SectorSize      uint32 // bytes of main (non-spare) area per sector
	PreallocSize    int    // max entries retained in the prealloc list
	MaxFilenameLen  int    // bytes, not including any terminator
}

// SectorsPerBlock is PagesPerBlock * SectorsPerPage.
func (g Geometry) SectorsPerBlock() uint32 {
	return g.PagesPerBlock * g.SectorsPerPage
}

// TailSector is the fixed index of a block's tail sector: its last
// sector.
func (g Geometry) TailSector() uint32 {
	return g.SectorsPerBlock() - 1
}

// InvalidationSector is the fixed index of a block's invalidation
// sector: the one immediately before the tail.
func (g Geometry) InvalidationSector() uint32 {
	return g.SectorsPerBlock() - 2
}

// incrementSector implements flog_increment_sector (§9 open question
// #2): sector 0 first, then ascending index through the rest of the
// block, skipping the reserved invalidation sector, tail sector last.
func (g Geometry) incrementSector(s uint32) uint32 {
	s++
	if s == g.InvalidationSector() {
		return g.TailSector()
	}
	return s
}

// dataHeaderSize is the number of leading bytes of sector s reserved
// for a fixed header rather than file payload: the sector-0 header for
// sector 0, the tail header for the tail sector, none otherwise.
func (g Geometry) dataHeaderSize(s uint32) int {
	switch {
	case s == 0:
		return fileSector0HeaderSize
	case s == g.TailSector():
		return tailHeaderSize
	default:
		return 0
	}
}

// firstInodeSlotSector is the first sector index holding an inode
// allocation/invalidation pair, per §4.4: entries start right after
// sector 0's page.
func (g Geometry) firstInodeSlotSector() uint32 {
	return g.SectorsPerPage
}

// validate returns an error if the geometry cannot host the on-flash
// layout at all (too few sectors per block for a header, at least one
// inode slot, an invalidation sector and a tail sector).
func (g Geometry) validate() error {
	switch {
	case g.NumBlocks == 0:
		return &ErrInvalid{What: "Geometry.NumBlocks", Value: g.NumBlocks}
	case g.PagesPerBlock == 0:
		return &ErrInvalid{What: "Geometry.PagesPerBlock", Value: g.PagesPerBlock}
	case g.SectorsPerPage == 0:
		return &ErrInvalid{What: "Geometry.SectorsPerPage", Value: g.SectorsPerPage}
	case g.SectorSize < 32:
		return &ErrInvalid{What: "Geometry.SectorSize", Value: g.SectorSize}
	case g.SectorsPerBlock() < g.SectorsPerPage+4:
		return &ErrInvalid{What: "Geometry.SectorsPerBlock", Value: g.SectorsPerBlock()}
	case g.PreallocSize <= 0:
		return &ErrInvalid{What: "Geometry.PreallocSize", Value: g.PreallocSize}
	case g.MaxFilenameLen <= 0:
		return &ErrInvalid{What: "Geometry.MaxFilenameLen", Value: g.MaxFilenameLen}
	}
	return nil
}

// Sentinel field values. All fields use the all-1s value of their
// stored width to mean "absent" — the natural erased state of NAND
// flash, per §3.
const (
	BlockIdxInvalid      uint32 = 0xFFFFFFFF
	BlockAgeInvalid      uint32 = 0xFFFFFFFF
	FileIDInvalid        uint32 = 0xFFFFFFFF
	TimestampInvalid     uint32 = 0xFFFFFFFF
	SectorNBytesInvalid  uint16 = 0xFFFF
)

// Block types, stored in sector-0 spare of the first page of a block.
type blockType byte

const (
	blockUnallocated blockType = 0xFF // erased, never written
	blockInode       blockType = 0x01
	blockFile        blockType = 0x02
)

func (t blockType) valid() bool {
	switch t {
	case blockUnallocated, blockInode, blockFile:
		return true
	}
	return false
}
