// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package filestore

import (
	"container/list"
	"context"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/denisbider/Atomic-sub003/blockstore"
)

const (
	dataMagic    = uint32(0x41465344) // "AFSD"
	dataVersion  = uint32(1)
	headerSize   = 64
	defaultCache = 256
)

// header is the fixed-size prefix of the data file.
type header struct {
	magic        uint32
	version      uint32
	blockSize    uint32
	nrBlocks     uint64
	freeListHead uint64
}

func (h *header) encode() []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.version)
	binary.LittleEndian.PutUint32(buf[8:12], h.blockSize)
	binary.LittleEndian.PutUint64(buf[12:20], h.nrBlocks)
	binary.LittleEndian.PutUint64(buf[20:28], h.freeListHead)
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < headerSize {
		return header{}, fmt.Errorf("filestore: %w: short header (%d bytes)", blockstore.ErrIntegrityViolation, len(buf))
	}
	h := header{
		magic:        binary.LittleEndian.Uint32(buf[0:4]),
		version:      binary.LittleEndian.Uint32(buf[4:8]),
		blockSize:    binary.LittleEndian.Uint32(buf[8:12]),
		nrBlocks:     binary.LittleEndian.Uint64(buf[12:20]),
		freeListHead: binary.LittleEndian.Uint64(buf[20:28]),
	}
	if h.magic != dataMagic {
		return header{}, fmt.Errorf("filestore: %w: bad data file magic", blockstore.ErrIntegrityViolation)
	}
	if h.version != dataVersion {
		return header{}, fmt.Errorf("filestore: %w: unsupported data file version %d", blockstore.ErrIntegrityViolation, h.version)
	}
	return h, nil
}

// FileStore is an on-disk blockstore.Store. See Mode for its consistency
// options and package doc for the overall journal protocol.
type FileStore struct {
	dataFile    *os.File
	journalFile *os.File
	mode        Mode
	maxNrBlocks uint64
	alloc       *blockstore.Allocator

	hdr header

	cache    map[uint64]*list.Element
	cacheLRU *list.List // front = most recently used
	cacheCap int

	poisoned error

	open    bool
	scope   *blockstore.WriteScope
	pending map[uint64][]byte
	pendingNr uint64
}

type cacheEntry struct {
	index uint64
	buf   []byte
}

var _ blockstore.Store = (*FileStore)(nil)

// Open opens (creating if absent) the data file at dataPath and the
// journal file at journalPath. blockSize is only used when initializing
// a fresh store; an existing store's on-disk block size takes precedence
// and a mismatch is reported as an integrity violation. maxNrBlocks caps
// the store for this session only (0 means no cap) and is not stored on
// disk.
func Open(ctx context.Context, dataPath, journalPath string, blockSize int, maxNrBlocks uint64, mode Mode) (*FileStore, error) {
	if maxNrBlocks == 0 {
		maxNrBlocks = ^uint64(0)
	}

	df, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("filestore: open data file: %w", err)
	}
	if err := lockExclusive(df); err != nil {
		df.Close()
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		df.Close()
		return nil, fmt.Errorf("filestore: open journal file: %w", err)
	}
	if err := lockExclusive(jf); err != nil {
		df.Close()
		jf.Close()
		return nil, err
	}

	fs := &FileStore{
		dataFile:    df,
		journalFile: jf,
		mode:        mode,
		maxNrBlocks: maxNrBlocks,
		cache:       make(map[uint64]*list.Element),
		cacheLRU:    list.New(),
		cacheCap:    defaultCache,
	}

	info, err := df.Stat()
	if err != nil {
		fs.Close()
		return nil, err
	}
	if info.Size() == 0 {
		fs.hdr = header{magic: dataMagic, version: dataVersion, blockSize: uint32(blockSize)}
		if err := fs.writeHeader(); err != nil {
			fs.Close()
			return nil, err
		}
	} else {
		hdrBuf := make([]byte, headerSize)
		if _, err := df.ReadAt(hdrBuf, 0); err != nil {
			fs.Close()
			return nil, fmt.Errorf("filestore: read header: %w", err)
		}
		h, err := decodeHeader(hdrBuf)
		if err != nil {
			fs.Close()
			return nil, err
		}
		if blockSize != 0 && int(h.blockSize) != blockSize {
			fs.Close()
			return nil, fmt.Errorf("filestore: %w: block size mismatch (file has %d, caller asked for %d)",
				blockstore.ErrIntegrityViolation, h.blockSize, blockSize)
		}
		fs.hdr = h
	}

	fs.alloc = blockstore.NewAllocator(int(fs.hdr.blockSize))

	if mode.usesJournal() {
		if err := fs.recover(); err != nil {
			fs.Close()
			return nil, err
		}
	}
	if mode == VerifyJournal {
		if err := fs.verifyAfterRecovery(); err != nil {
			fs.Close()
			return nil, err
		}
	}

	return fs, nil
}

func (fs *FileStore) writeHeader() error {
	if _, err := fs.dataFile.WriteAt(fs.hdr.encode(), 0); err != nil {
		return fmt.Errorf("filestore: write header: %w", err)
	}
	return nil
}

func (fs *FileStore) blockOffset(idx uint64) int64 {
	return int64(headerSize) + int64(idx)*int64(fs.hdr.blockSize)
}

func (fs *FileStore) recover() error {
	return recoverJournal(fs.journalFile, int(fs.hdr.blockSize), func(idx uint64, contents []byte) error {
		if idx >= fs.hdr.nrBlocks {
			fs.hdr.nrBlocks = idx + 1
		}
		if _, err := fs.dataFile.WriteAt(contents, fs.blockOffset(idx)); err != nil {
			return err
		}
		return fs.writeHeader()
	})
}

func (fs *FileStore) verifyAfterRecovery() error {
	info, err := fs.dataFile.Stat()
	if err != nil {
		return err
	}
	want := fs.blockOffset(fs.hdr.nrBlocks)
	if info.Size() < want {
		return fmt.Errorf("filestore: %w: data file shorter (%d bytes) than header's nrBlocks (%d) implies (%d bytes)",
			blockstore.ErrIntegrityViolation, info.Size(), fs.hdr.nrBlocks, want)
	}
	return fs.dataFile.Sync()
}

// Close flushes and releases both backing files. The FileStore must not be
// used afterward.
func (fs *FileStore) Close() error {
	var errs []error
	if fs.journalFile != nil {
		unlock(fs.journalFile)
		if err := fs.journalFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if fs.dataFile != nil {
		unlock(fs.dataFile)
		if err := fs.dataFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("filestore: close: %v", errs)
	}
	return nil
}

func (fs *FileStore) BlockSize() int        { return int(fs.hdr.blockSize) }
func (fs *FileStore) MaxNrBlocks() uint64   { return fs.maxNrBlocks }
func (fs *FileStore) NrBlocks() uint64      { return fs.hdr.nrBlocks }
func (fs *FileStore) Allocator() *blockstore.Allocator { return fs.alloc }

func (fs *FileStore) checkHealthy() error {
	if fs.poisoned != nil {
		return fmt.Errorf("filestore: store is poisoned, reopen with VerifyJournal: %w", fs.poisoned)
	}
	return nil
}

func (fs *FileStore) readBlockLocked(idx uint64) ([]byte, error) {
	if el, ok := fs.cache[idx]; ok {
		fs.cacheLRU.MoveToFront(el)
		buf := make([]byte, fs.hdr.blockSize)
		copy(buf, el.Value.(*cacheEntry).buf)
		return buf, nil
	}
	buf := make([]byte, fs.hdr.blockSize)
	if _, err := fs.dataFile.ReadAt(buf, fs.blockOffset(idx)); err != nil {
		return nil, fmt.Errorf("filestore: read block %d: %w", idx, err)
	}
	fs.cachePut(idx, buf)
	return buf, nil
}

func (fs *FileStore) cachePut(idx uint64, buf []byte) {
	if el, ok := fs.cache[idx]; ok {
		cp := make([]byte, len(buf))
		copy(cp, buf)
		el.Value.(*cacheEntry).buf = cp
		fs.cacheLRU.MoveToFront(el)
		return
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	el := fs.cacheLRU.PushFront(&cacheEntry{index: idx, buf: cp})
	fs.cache[idx] = el
	for fs.cacheLRU.Len() > fs.cacheCap {
		back := fs.cacheLRU.Back()
		fs.cacheLRU.Remove(back)
		delete(fs.cache, back.Value.(*cacheEntry).index)
	}
}

func (fs *FileStore) cacheInvalidate(idx uint64) {
	if el, ok := fs.cache[idx]; ok {
		fs.cacheLRU.Remove(el)
		delete(fs.cache, idx)
	}
}

func (fs *FileStore) BeginJournaledWrite(ctx context.Context) (*blockstore.WriteScope, error) {
	if err := fs.checkHealthy(); err != nil {
		return nil, err
	}
	if fs.open {
		panic("filestore: BeginJournaledWrite called while a write is already open")
	}
	fs.open = true
	fs.scope = blockstore.NewWriteScope(fs)
	fs.pending = make(map[uint64][]byte)
	fs.pendingNr = fs.hdr.nrBlocks
	return fs.scope, nil
}

func (fs *FileStore) requireOpenScope(scope *blockstore.WriteScope) {
	if !fs.open || scope != fs.scope {
		panic("filestore: operation requires the currently open write scope")
	}
}

func (fs *FileStore) AddNewBlock(ctx context.Context, scope *blockstore.WriteScope) (*blockstore.AfsBlock, blockstore.Result, error) {
	fs.requireOpenScope(scope)
	if fs.pendingNr >= fs.maxNrBlocks {
		return nil, blockstore.OutOfSpace, nil
	}
	idx := fs.pendingNr
	fs.pendingNr++
	buf := fs.alloc.Acquire()
	for i := range buf {
		buf[i] = 0
	}
	fs.pending[idx] = buf
	return blockstore.NewAfsBlock(fs, idx, buf, scope, true), blockstore.OK, nil
}

func (fs *FileStore) ObtainBlock(ctx context.Context, idx uint64) (*blockstore.AfsBlock, blockstore.Result, error) {
	if err := fs.checkHealthy(); err != nil {
		return nil, blockstore.OK, err
	}
	if idx >= fs.hdr.nrBlocks {
		return nil, blockstore.BlockIndexInvalid, nil
	}
	buf, err := fs.readBlockLocked(idx)
	if err != nil {
		return nil, blockstore.OK, err
	}
	return blockstore.NewAfsBlock(fs, idx, buf, nil, false), blockstore.OK, nil
}

func (fs *FileStore) ObtainBlockForOverwrite(ctx context.Context, scope *blockstore.WriteScope, idx uint64) (*blockstore.AfsBlock, blockstore.Result, error) {
	fs.requireOpenScope(scope)
	if idx >= fs.pendingNr {
		return nil, blockstore.BlockIndexInvalid, nil
	}
	if buf, ok := fs.pending[idx]; ok {
		return blockstore.NewAfsBlock(fs, idx, buf, scope, true), blockstore.OK, nil
	}
	buf, err := fs.readBlockLocked(idx)
	if err != nil {
		return nil, blockstore.OK, err
	}
	fs.pending[idx] = buf
	return blockstore.NewAfsBlock(fs, idx, buf, scope, true), blockstore.OK, nil
}

func (fs *FileStore) CompleteJournaledWrite(ctx context.Context, scope *blockstore.WriteScope, changed []*blockstore.AfsBlock) (blockstore.Result, error) {
	fs.requireOpenScope(scope)
	defer fs.endWrite()

	tuples := make([]journalTuple, 0, len(changed))
	for _, b := range changed {
		buf, ok := fs.pending[b.Index()]
		if !ok {
			return blockstore.OK, fmt.Errorf("filestore: %w: changed block %d was not staged in this write", blockstore.ErrIntegrityViolation, b.Index())
		}
		tuples = append(tuples, journalTuple{blockIndex: b.Index(), contents: buf})
	}

	switch fs.mode {
	case Journal, VerifyJournal:
		if err := appendJournalRecord(fs.journalFile, tuples, int(fs.hdr.blockSize)); err != nil {
			return blockstore.OK, fs.poison(err)
		}
	}

	newNrBlocks := fs.hdr.nrBlocks
	for _, t := range tuples {
		if _, err := fs.dataFile.WriteAt(t.contents, fs.blockOffset(t.blockIndex)); err != nil {
			return blockstore.OK, fs.poison(err)
		}
		fs.cachePut(t.blockIndex, t.contents)
		if t.blockIndex+1 > newNrBlocks {
			newNrBlocks = t.blockIndex + 1
		}
	}
	fs.hdr.nrBlocks = newNrBlocks
	if err := fs.writeHeader(); err != nil {
		return blockstore.OK, fs.poison(err)
	}

	switch fs.mode {
	case Journal, VerifyJournal, Flush:
		if err := fs.dataFile.Sync(); err != nil {
			return blockstore.OK, fs.poison(err)
		}
	}

	if fs.mode.usesJournal() {
		if err := fs.journalFile.Truncate(0); err != nil {
			return blockstore.OK, fs.poison(err)
		}
		if _, err := fs.journalFile.Seek(0, 0); err != nil {
			return blockstore.OK, fs.poison(err)
		}
	}

	scope.Close()
	return blockstore.OK, nil
}

func (fs *FileStore) AbortJournaledWrite(ctx context.Context, scope *blockstore.WriteScope) {
	fs.requireOpenScope(scope)
	for idx, buf := range fs.pending {
		if idx < fs.hdr.nrBlocks {
			fs.alloc.Release(buf)
		}
	}
	scope.Close()
	fs.endWrite()
}

func (fs *FileStore) endWrite() {
	fs.open = false
	fs.scope = nil
	fs.pending = nil
	fs.pendingNr = 0
}

// poison marks the store unusable after an I/O error that may have left
// the data and journal files inconsistent with each other: integrity
// errors propagate up and the store refuses further operations until
// reopened (VerifyJournal re-derives a consistent state).
func (fs *FileStore) poison(cause error) error {
	fs.poisoned = cause
	return fmt.Errorf("filestore: %w: %v", blockstore.ErrIntegrityViolation, cause)
}
