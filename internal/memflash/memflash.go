// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package memflash is a RAM-backed flogfs.Flash for tests. It models
// NAND semantics closely enough to exercise recovery paths: erased
// storage reads as all-1s, WriteSector/WriteSpare only ever clear
// bits, and EraseBlock is the only way to set them again.
//
// Grounded on lldb.MemFiler's page-table-of-byte-slices cache, keyed
// here by block instead of by byte offset since NAND has no byte
// addressing.
package memflash

import "fmt"

// Flash is a single in-memory device. The zero value is not usable;
// construct one with New.
type Flash struct {
	sectorSize     int
	sectorsPerPage uint32
	pagesPerBlock  uint32

	blocks [][]byte // one flat byte slice per block: sectors then their spares
	bad    map[uint32]bool

	openBlock uint32
	openPage  uint32
	opened    bool

	// WriteLimit, if non-zero, makes every WriteSector or WriteSpare
	// call after the first WriteLimit counted ones fail, simulating
	// power loss mid-sequence for crash-recovery tests. Calls are
	// counted only while WriteLimit is non-zero.
	WriteLimit int
	writes     int
}

const spareSize = 5

// New returns a Flash of numBlocks blocks, each pagesPerBlock pages of
// sectorsPerPage sectors, each sector sectorSize bytes (plus a fixed
// spareSize-byte spare). All blocks start erased.
func New(numBlocks, pagesPerBlock, sectorsPerPage uint32, sectorSize int) *Flash {
	f := &Flash{
		sectorSize:     sectorSize,
		sectorsPerPage: sectorsPerPage,
		pagesPerBlock:  pagesPerBlock,
		blocks:         make([][]byte, numBlocks),
		bad:            map[uint32]bool{},
	}
	blockSize := int(pagesPerBlock*sectorsPerPage) * (sectorSize + spareSize)
	for b := range f.blocks {
		f.blocks[b] = make([]byte, blockSize)
	}
	for b := range f.blocks {
		eraseBuf(f.blocks[b])
	}
	return f
}

func eraseBuf(b []byte) {
	for i := range b {
		b[i] = 0xFF
	}
}

// MarkBad flags block as bad, as if the manufacturer's factory scan
// (or a prior write failure) had found it unusable.
func (f *Flash) MarkBad(block uint32) { f.bad[block] = true }

// SetWriteBudget resets the write counter and allows exactly n further
// WriteSector/WriteSpare calls to succeed before failing every call
// after that, simulating a power loss partway through a multi-write
// operation. Call it immediately before the operation under test.
func (f *Flash) SetWriteBudget(n int) {
	f.writes = 0
	f.WriteLimit = n
}

func (f *Flash) Init() error { return nil }

func (f *Flash) NumBlocks() uint32 { return uint32(len(f.blocks)) }

func (f *Flash) OpenPage(block, page uint32) error {
	if int(block) >= len(f.blocks) {
		return fmt.Errorf("memflash: block %d out of range", block)
	}
	f.openBlock, f.openPage, f.opened = block, page, true
	return nil
}

func (f *Flash) BlockIsBad() (bool, error) {
	return f.bad[f.openBlock], nil
}

func (f *Flash) EraseBlock(block uint32) error {
	if int(block) >= len(f.blocks) {
		return fmt.Errorf("memflash: block %d out of range", block)
	}
	eraseBuf(f.blocks[block])
	return nil
}

func (f *Flash) sectorOffset(sector uint32) int {
	global := f.openPage*f.sectorsPerPage + sector%f.sectorsPerPage
	return int(global) * (f.sectorSize + spareSize)
}

func (f *Flash) ReadSector(dst []byte, sector uint32, off, n int) error {
	if !f.opened {
		return fmt.Errorf("memflash: no page open")
	}
	start := f.sectorOffset(sector) + off
	copy(dst[:n], f.blocks[f.openBlock][start:start+n])
	return nil
}

func (f *Flash) WriteSector(src []byte, sector uint32, off, n int) error {
	if !f.opened {
		return fmt.Errorf("memflash: no page open")
	}
	if err := f.countWrite(); err != nil {
		return err
	}
	start := f.sectorOffset(sector) + off
	dst := f.blocks[f.openBlock][start : start+n]
	for i := 0; i < n; i++ {
		dst[i] &= src[i]
	}
	return nil
}

func (f *Flash) ReadSpare(dst []byte, sector uint32) error {
	if !f.opened {
		return fmt.Errorf("memflash: no page open")
	}
	start := f.sectorOffset(sector) + f.sectorSize
	copy(dst[:spareSize], f.blocks[f.openBlock][start:start+spareSize])
	return nil
}

func (f *Flash) WriteSpare(src []byte, sector uint32) error {
	if !f.opened {
		return fmt.Errorf("memflash: no page open")
	}
	if err := f.countWrite(); err != nil {
		return err
	}
	start := f.sectorOffset(sector) + f.sectorSize
	dst := f.blocks[f.openBlock][start : start+spareSize]
	for i := 0; i < spareSize; i++ {
		dst[i] &= src[i]
	}
	return nil
}

func (f *Flash) Commit() error { return nil }

func (f *Flash) countWrite() error {
	if f.WriteLimit <= 0 {
		return nil
	}
	f.writes++
	if f.writes > f.WriteLimit {
		return fmt.Errorf("memflash: simulated power loss after %d writes", f.WriteLimit)
	}
	return nil
}
