// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flogfs

// findResult is the outcome of a directory lookup (§4.5). When the
// file is not found, iter is left parked at the first free slot so a
// writer can reuse it directly.
type findResult struct {
	found bool
	alloc inodeAllocation
	iter  *inodeIterator
}

// findFile implements §4.5's find_file.
func (fs *FS) findFile(name string) (findResult, error) {
	it, err := fs.newInodeIterator()
	if err != nil {
		return findResult{}, err
	}

	for {
		alloc, err := fs.readInodeAllocation(it.currentBlock, it.sector)
		if err != nil {
			return findResult{}, err
		}
		if alloc.FileID == FileIDInvalid {
			return findResult{found: false, iter: it}, nil
		}

		if trimmedName(alloc.Filename) == name {
			inv, err := fs.readInodeInvalidation(it.currentBlock, it.sector)
			if err != nil {
				return findResult{}, err
			}
			if inv.Timestamp == TimestampInvalid {
				return findResult{found: true, alloc: alloc, iter: it}, nil
			}
		}

		if err := fs.inodeNext(it); err != nil {
			return findResult{}, err
		}
	}
}

// Lister is a streaming directory listing (§4.5, §6's
// start_ls/ls_iterate/stop_ls). It holds fsLock for its whole
// lifetime, consistent with listing being a directory operation (§5).
type Lister struct {
	fs   *FS
	it   *inodeIterator
	done bool
}

// StartLS begins a listing. Call Stop when finished, even on error
// paths from Next, to release fsLock.
func (fs *FS) StartLS() (*Lister, error) {
	fs.fsLock.Lock()
	if fs.state != stateMounted {
		fs.fsLock.Unlock()
		return nil, &ErrNotMounted{}
	}
	it, err := fs.newInodeIterator()
	if err != nil {
		fs.fsLock.Unlock()
		return nil, err
	}
	return &Lister{fs: fs, it: it}, nil
}

// Next returns the next live filename, or ok==false at the end of the
// directory.
func (l *Lister) Next() (name string, ok bool, err error) {
	if l.done {
		return "", false, nil
	}

	for {
		alloc, err := l.fs.readInodeAllocation(l.it.currentBlock, l.it.sector)
		if err != nil {
			return "", false, err
		}
		if alloc.FileID == FileIDInvalid {
			l.done = true
			return "", false, nil
		}

		inv, err := l.fs.readInodeInvalidation(l.it.currentBlock, l.it.sector)
		if err != nil {
			return "", false, err
		}
		live := inv.Timestamp == TimestampInvalid

		if err := l.fs.inodeNext(l.it); err != nil {
			return "", false, err
		}

		if live {
			return trimmedName(alloc.Filename), true, nil
		}
	}
}

// Stop ends the listing and releases fsLock. Safe to call exactly
// once per Lister.
func (l *Lister) Stop() {
	l.fs.fsLock.Unlock()
}
