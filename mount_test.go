// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flogfs

import (
	"testing"

	"github.com/cznic/flogfs/internal/memflash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMountRepairsInterruptedCreate simulates a crash right after the
// inode allocation entry is committed but before the new file's first
// block gets any data: the block is still in its erased state, so a
// fresh Mount must treat the entry as if it were never created.
func TestMountRepairsInterruptedCreate(t *testing.T) {
	fs, fl := mustFormat(t)

	_, err := fs.OpenWrite("half.txt")
	require.NoError(t, err)
	// No Write, no Close: the crash lands here.

	geom := testGeometry()
	fs2, err := Mount(fl, geom, nil)
	require.NoError(t, err)

	_, err = fs2.OpenRead("half.txt")
	assert.IsType(t, &ErrNotFound{}, err)
}

// TestDeleteIsNotVisiblePartwayThrough checks that a file is absent
// from the directory as soon as its inode invalidation entry commits,
// even before invalidateChain finishes reclaiming its blocks — the
// two steps are deliberately sequenced so the directory view never
// shows a half-deleted file.
func TestDeleteIsNotVisiblePartwayThrough(t *testing.T) {
	fs, fl := mustFormat(t)
	writeAll(t, fs, "doomed.txt", []byte("bye"))

	// Allow only the inode invalidation write to land, so Remove stops
	// before invalidate_chain reclaims the file's block.
	fl.SetWriteBudget(1)
	require.Error(t, fs.Remove("doomed.txt"))
	fl.WriteLimit = 0

	_, err := fs.OpenRead("doomed.txt")
	assert.IsType(t, &ErrNotFound{}, err)

	ls, err := fs.StartLS()
	require.NoError(t, err)
	defer ls.Stop()
	_, ok, err := ls.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestMountReclaimsBlocksFromInterruptedDelete simulates a crash right
// after Remove's inode invalidation sector commits but before
// invalidate_chain reclaims the file's block, per §4.8's `last_deletion`
// recovery. A fresh Mount must finish the reclamation so the free-block
// count matches an uninterrupted delete.
func TestMountReclaimsBlocksFromInterruptedDelete(t *testing.T) {
	geom := testGeometry()

	flClean := memflash.New(geom.NumBlocks, geom.PagesPerBlock, geom.SectorsPerPage, int(geom.SectorSize))
	fsClean, err := Format(flClean, geom, nil)
	require.NoError(t, err)
	writeAll(t, fsClean, "doomed.txt", []byte("bye"))
	require.NoError(t, fsClean.Remove("doomed.txt"))
	wantFree := fsClean.numFreeBlocks

	fl := memflash.New(geom.NumBlocks, geom.PagesPerBlock, geom.SectorsPerPage, int(geom.SectorSize))
	fs, err := Format(fl, geom, nil)
	require.NoError(t, err)
	writeAll(t, fs, "doomed.txt", []byte("bye"))

	// Allow only the inode invalidation write to land; invalidate_chain's
	// own write against the file's block never completes.
	fl.SetWriteBudget(1)
	err = fs.Remove("doomed.txt")
	require.Error(t, err)
	fl.WriteLimit = 0

	fs2, err := Mount(fl, geom, nil)
	require.NoError(t, err)

	_, err = fs2.OpenRead("doomed.txt")
	assert.IsType(t, &ErrNotFound{}, err)
	assert.Equal(t, wantFree, fs2.numFreeBlocks)
}

// TestFormatSkipsBadBlock checks that a block reported bad by the
// driver is neither erased as the inode root nor ever handed out by
// the allocator (§4.8: "open page 0; if bad, skip").
func TestFormatSkipsBadBlock(t *testing.T) {
	geom := testGeometry()
	fl := memflash.New(geom.NumBlocks, geom.PagesPerBlock, geom.SectorsPerPage, int(geom.SectorSize))
	fl.MarkBad(3)

	fs, err := Format(fl, geom, nil)
	require.NoError(t, err)
	assert.True(t, fs.bad[3])
	assert.NotEqual(t, uint32(3), fs.inode0)
	assert.Equal(t, geom.NumBlocks-2, fs.numFreeBlocks)

	fs.allocLock.Lock()
	defer fs.allocLock.Unlock()
	for i := 0; i < int(fs.numFreeBlocks); i++ {
		e, err := fs.allocateLocked()
		require.NoError(t, err)
		assert.NotEqual(t, uint32(3), e.Block)
	}
}

func TestMountRejectsUnrecognizedBlockType(t *testing.T) {
	geom := testGeometry()
	fl := memflash.New(geom.NumBlocks, geom.PagesPerBlock, geom.SectorsPerPage, int(geom.SectorSize))
	fs, err := Format(fl, geom, nil)
	require.NoError(t, err)
	require.NoError(t, fs.Unmount())

	require.NoError(t, fl.OpenPage(1, 0))
	require.NoError(t, fl.WriteSector(make([]byte, geom.SectorSize), 0, 0, int(geom.SectorSize)))
	require.NoError(t, fl.WriteSpare([]byte{0x7A, 0, 0, 0, 0}, 0))

	_, err = Mount(fl, geom, nil)
	assert.IsType(t, &ErrCorrupt{}, err)
}
