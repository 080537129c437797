// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flogfs

import (
	"io"
	"testing"

	"github.com/cznic/flogfs/internal/memflash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGeometry() Geometry {
	return Geometry{
		NumBlocks:      8,
		PagesPerBlock:  3,
		SectorsPerPage: 4,
		SectorSize:     64,
		PreallocSize:   4,
		MaxFilenameLen: 16,
	}
}

func mustFormat(t *testing.T) (*FS, *memflash.Flash) {
	t.Helper()
	geom := testGeometry()
	fl := memflash.New(geom.NumBlocks, geom.PagesPerBlock, geom.SectorsPerPage, int(geom.SectorSize))
	fs, err := Format(fl, geom, nil)
	require.NoError(t, err)
	return fs, fl
}

func writeAll(t *testing.T, fs *FS, name string, data []byte) {
	t.Helper()
	wh, err := fs.OpenWrite(name)
	require.NoError(t, err)
	n, err := wh.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, wh.Close())
}

func readAll(t *testing.T, fs *FS, name string) []byte {
	t.Helper()
	rh, err := fs.OpenRead(name)
	require.NoError(t, err)
	defer rh.Close()
	got, err := io.ReadAll(rh)
	require.NoError(t, err)
	return got
}

func TestFormatMountEmpty(t *testing.T) {
	fs, _ := mustFormat(t)
	ls, err := fs.StartLS()
	require.NoError(t, err)
	_, ok, err := ls.Next()
	require.NoError(t, err)
	assert.False(t, ok)
	ls.Stop()
}

func TestCreateAndReadBack(t *testing.T) {
	fs, _ := mustFormat(t)
	want := []byte("hello, flogfs")
	writeAll(t, fs, "greeting.txt", want)
	got := readAll(t, fs, "greeting.txt")
	assert.Equal(t, want, got)
}

func TestCrossBlockWrite(t *testing.T) {
	fs, _ := mustFormat(t)
	want := make([]byte, 1500)
	for i := range want {
		want[i] = byte(i)
	}
	writeAll(t, fs, "big.bin", want)
	got := readAll(t, fs, "big.bin")
	assert.Equal(t, want, got)
}

func TestRemoveOfMissingNameSucceeds(t *testing.T) {
	fs, _ := mustFormat(t)
	writeAll(t, fs, "tmp.txt", []byte("x"))

	require.NoError(t, fs.Remove("tmp.txt"))

	_, err := fs.OpenRead("tmp.txt")
	assert.IsType(t, &ErrNotFound{}, err)

	// rm of a nonexistent name succeeds: deletion is idempotent.
	assert.NoError(t, fs.Remove("tmp.txt"))
	assert.NoError(t, fs.Remove("never-existed.txt"))
}

func TestListingSkipsRemovedFiles(t *testing.T) {
	fs, _ := mustFormat(t)
	writeAll(t, fs, "a.txt", []byte("a"))
	writeAll(t, fs, "b.txt", []byte("b"))
	require.NoError(t, fs.Remove("a.txt"))

	ls, err := fs.StartLS()
	require.NoError(t, err)
	defer ls.Stop()

	var names []string
	for {
		name, ok, err := ls.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		names = append(names, name)
	}
	assert.Equal(t, []string{"b.txt"}, names)
}

func TestOpenWriteAppendsToExistingFile(t *testing.T) {
	fs, _ := mustFormat(t)
	writeAll(t, fs, "log.txt", []byte("first "))

	wh, err := fs.OpenWrite("log.txt")
	require.NoError(t, err)
	_, err = wh.Write([]byte("second"))
	require.NoError(t, err)
	require.NoError(t, wh.Close())

	got := readAll(t, fs, "log.txt")
	assert.Equal(t, "first second", string(got))
}

func TestManyFilesExtendInodeChain(t *testing.T) {
	fs, _ := mustFormat(t)
	// Geometry leaves 3 entry slots per inode block; create enough
	// files to force at least one inode chain extension.
	names := []string{"f0", "f1", "f2", "f3", "f4"}
	for _, n := range names {
		writeAll(t, fs, n, []byte(n))
	}
	for _, n := range names {
		assert.Equal(t, n, string(readAll(t, fs, n)))
	}
}

func TestWriteHandleSeekAlwaysFails(t *testing.T) {
	fs, _ := mustFormat(t)
	wh, err := fs.OpenWrite("s.txt")
	require.NoError(t, err)
	defer wh.Close()
	_, err = wh.Seek(0, io.SeekStart)
	assert.Error(t, err)
}

func TestReadHandleSeekAlwaysFails(t *testing.T) {
	fs, _ := mustFormat(t)
	writeAll(t, fs, "s.txt", []byte("x"))
	rh, err := fs.OpenRead("s.txt")
	require.NoError(t, err)
	defer rh.Close()
	_, err = rh.Seek(0, io.SeekStart)
	assert.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	fs, _ := mustFormat(t)
	writeAll(t, fs, "s.txt", []byte("x"))
	rh, err := fs.OpenRead("s.txt")
	require.NoError(t, err)
	require.NoError(t, rh.Close())
	require.NoError(t, rh.Close())
}

func TestOperationsRejectedBeforeMount(t *testing.T) {
	geom := testGeometry()
	fl := memflash.New(geom.NumBlocks, geom.PagesPerBlock, geom.SectorsPerPage, int(geom.SectorSize))
	fs, err := New(fl, geom, nil)
	require.NoError(t, err)

	_, err = fs.OpenRead("x")
	assert.IsType(t, &ErrNotMounted{}, err)
	_, err = fs.OpenWrite("x")
	assert.IsType(t, &ErrNotMounted{}, err)
}

func TestMountRecoversAfterFormat(t *testing.T) {
	fs, fl := mustFormat(t)
	writeAll(t, fs, "persisted.txt", []byte("still here"))
	require.NoError(t, fs.Unmount())

	geom := testGeometry()
	fs2, err := Mount(fl, geom, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("still here"), readAll(t, fs2, "persisted.txt"))
}
