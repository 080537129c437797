// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flogfs

import "encoding/binary"

// On-flash field widths, hand-encoded with encoding/binary in network
// (big-endian) byte order, the same convention the teacher's allocator
// uses for its stored handles ("H is the handle ... in network byte
// order", lldb/falloc.go).

const (
	spareSize = 5 // 1 byte type tag + 4 byte aux value

	fileSector0HeaderSize = 8  // Age, FileID
	inodeSector0HeaderSize = 8 // Age, Timestamp
	tailHeaderSize         = 16 // NextBlock, NextAge, Timestamp, BytesInBlock
	blockInvalidationSize  = 8  // Timestamp, NextAge

	inodeAllocHeaderSize   = 16 // FileID, FirstBlock, FirstBlockAge, Timestamp
	inodeInvalidationSize  = 8  // Timestamp, LastBlock
)

// --- sector spare ------------------------------------------------------

// sparePayload is the out-of-band tag every sector carries: a type tag
// plus one 32-bit auxiliary value, interpreted per type (inode_index
// for an inode block's sector 0, nbytes for a file sector).
type sparePayload struct {
	Type blockType
	Aux  uint32
}

func (s sparePayload) encode() []byte {
	b := make([]byte, spareSize)
	b[0] = byte(s.Type)
	binary.BigEndian.PutUint32(b[1:5], s.Aux)
	return b
}

func decodeSpare(b []byte) sparePayload {
	return sparePayload{Type: blockType(b[0]), Aux: binary.BigEndian.Uint32(b[1:5])}
}

// spareAllOnes reports whether a raw spare buffer is in its erased
// state — the sentinel for "this sector was never written."
func spareAllOnes(b []byte) bool {
	for _, c := range b {
		if c != 0xFF {
			return false
		}
	}
	return true
}

func fileSpare(nbytes uint16) sparePayload {
	return sparePayload{Type: blockFile, Aux: uint32(nbytes)}
}

// nbytes extracts the file-sector nbytes field. Only meaningful when
// Type == blockFile.
func (s sparePayload) nbytes() uint16 {
	return uint16(s.Aux)
}

func inodeSpare(inodeIndex uint32) sparePayload {
	return sparePayload{Type: blockInode, Aux: inodeIndex}
}

// --- sector 0 headers ----------------------------------------------------

type fileSector0Header struct {
	Age    uint32
	FileID uint32
}

func (h fileSector0Header) encode() []byte {
	b := make([]byte, fileSector0HeaderSize)
	binary.BigEndian.PutUint32(b[0:4], h.Age)
	binary.BigEndian.PutUint32(b[4:8], h.FileID)
	return b
}

func decodeFileSector0Header(b []byte) fileSector0Header {
	return fileSector0Header{
		Age:    binary.BigEndian.Uint32(b[0:4]),
		FileID: binary.BigEndian.Uint32(b[4:8]),
	}
}

type inodeSector0Header struct {
	Age       uint32
	Timestamp uint32
}

func (h inodeSector0Header) encode() []byte {
	b := make([]byte, inodeSector0HeaderSize)
	binary.BigEndian.PutUint32(b[0:4], h.Age)
	binary.BigEndian.PutUint32(b[4:8], h.Timestamp)
	return b
}

func decodeInodeSector0Header(b []byte) inodeSector0Header {
	return inodeSector0Header{
		Age:       binary.BigEndian.Uint32(b[0:4]),
		Timestamp: binary.BigEndian.Uint32(b[4:8]),
	}
}

// --- tail sector ---------------------------------------------------------

// tailHeader is written when a block is sealed: it names the
// successor block and records the block's final byte count, per §3.
type tailHeader struct {
	NextBlock    uint32
	NextAge      uint32
	Timestamp    uint32
	BytesInBlock uint32
}

func (h tailHeader) encode() []byte {
	b := make([]byte, tailHeaderSize)
	binary.BigEndian.PutUint32(b[0:4], h.NextBlock)
	binary.BigEndian.PutUint32(b[4:8], h.NextAge)
	binary.BigEndian.PutUint32(b[8:12], h.Timestamp)
	binary.BigEndian.PutUint32(b[12:16], h.BytesInBlock)
	return b
}

func decodeTailHeader(b []byte) tailHeader {
	return tailHeader{
		NextBlock:    binary.BigEndian.Uint32(b[0:4]),
		NextAge:      binary.BigEndian.Uint32(b[4:8]),
		Timestamp:    binary.BigEndian.Uint32(b[8:12]),
		BytesInBlock: binary.BigEndian.Uint32(b[12:16]),
	}
}

// --- block invalidation sector --------------------------------------------

type blockInvalidation struct {
	Timestamp uint32
	NextAge   uint32
}

func (h blockInvalidation) encode() []byte {
	b := make([]byte, blockInvalidationSize)
	binary.BigEndian.PutUint32(b[0:4], h.Timestamp)
	binary.BigEndian.PutUint32(b[4:8], h.NextAge)
	return b
}

func decodeBlockInvalidation(b []byte) blockInvalidation {
	return blockInvalidation{
		Timestamp: binary.BigEndian.Uint32(b[0:4]),
		NextAge:   binary.BigEndian.Uint32(b[4:8]),
	}
}

// --- inode entries ---------------------------------------------------------

// inodeAllocation is the "allocation" half of a two-sector inode entry
// (§3). filename follows the fixed header, bounded by
// Geometry.MaxFilenameLen and zero-padded.
type inodeAllocation struct {
	FileID        uint32
	FirstBlock    uint32
	FirstBlockAge uint32
	Timestamp     uint32
	Filename      []byte
}

func (h inodeAllocation) encode(maxName int) []byte {
	b := make([]byte, inodeAllocHeaderSize+maxName)
	binary.BigEndian.PutUint32(b[0:4], h.FileID)
	binary.BigEndian.PutUint32(b[4:8], h.FirstBlock)
	binary.BigEndian.PutUint32(b[8:12], h.FirstBlockAge)
	binary.BigEndian.PutUint32(b[12:16], h.Timestamp)
	copy(b[inodeAllocHeaderSize:], h.Filename)
	return b
}

func decodeInodeAllocation(b []byte, maxName int) inodeAllocation {
	name := make([]byte, maxName)
	copy(name, b[inodeAllocHeaderSize:inodeAllocHeaderSize+maxName])
	return inodeAllocation{
		FileID:        binary.BigEndian.Uint32(b[0:4]),
		FirstBlock:    binary.BigEndian.Uint32(b[4:8]),
		FirstBlockAge: binary.BigEndian.Uint32(b[8:12]),
		Timestamp:     binary.BigEndian.Uint32(b[12:16]),
		Filename:      name,
	}
}

// inodeInvalidation is the "invalidation" half of an inode entry.
// Absence (all-1s Timestamp) means the file is still live, per §3.
type inodeInvalidation struct {
	Timestamp uint32
	LastBlock uint32
}

func (h inodeInvalidation) encode() []byte {
	b := make([]byte, inodeInvalidationSize)
	binary.BigEndian.PutUint32(b[0:4], h.Timestamp)
	binary.BigEndian.PutUint32(b[4:8], h.LastBlock)
	return b
}

func decodeInodeInvalidation(b []byte) inodeInvalidation {
	return inodeInvalidation{
		Timestamp: binary.BigEndian.Uint32(b[0:4]),
		LastBlock: binary.BigEndian.Uint32(b[4:8]),
	}
}

// trimmedName strips trailing zero padding from a filename buffer, as
// stored on flash.
func trimmedName(b []byte) string {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return string(b[:i])
}

func paddedName(name string, maxName int) []byte {
	b := make([]byte, maxName)
	copy(b, name)
	return b
}
