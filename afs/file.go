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

package afs

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/denisbider/Atomic-sub003/blockstore"
)

// A file's data is either stored inline in its head block (reprMini) or
// as a chain of index blocks, each listing leaf data block indices
// (reprTree). This is a plain two-level structure rather than a
// self-balancing tree: a file's entire leaf list is rewritten as one
// unit on every resize, which is simple to reason about and cheap
// enough for the block counts these tests exercise.

const indexBlockFixedBytes = 8 /* next */ + 4 /* count */

func (a *Afs) leafCapacityPerIndexBlock() int {
	return (a.store.BlockSize() - indexBlockFixedBytes) / 8
}

func encodeIndexBlock(next uint64, leaves []uint64, blockSize int) ([]byte, error) {
	if indexBlockFixedBytes+8*len(leaves) > blockSize {
		return nil, fmt.Errorf("afs: %s", blockstore.OutOfSpace)
	}
	buf := make([]byte, blockSize)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], next)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(leaves)))
	off += 4
	for _, l := range leaves {
		binary.LittleEndian.PutUint64(buf[off:], l)
		off += 8
	}
	return buf, nil
}

func decodeIndexBlock(buf []byte) (next uint64, leaves []uint64, err error) {
	if len(buf) < indexBlockFixedBytes {
		return 0, nil, fmt.Errorf("afs: %w: index block too short", blockstore.ErrIntegrityViolation)
	}
	off := 0
	next = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	count := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if off+8*count > len(buf) {
		return 0, nil, fmt.Errorf("afs: %w: index block entry count overruns block", blockstore.ErrIntegrityViolation)
	}
	leaves = make([]uint64, count)
	for i := 0; i < count; i++ {
		leaves[i] = binary.LittleEndian.Uint64(buf[off:])
		off += 8
	}
	return next, leaves, nil
}

// readTree walks a file's index block chain, returning the index block
// indices (in chain order) and the full, flattened leaf block list.
func (a *Afs) readTree(ctx context.Context, indexHead uint64) (indexBlocks []uint64, leaves []uint64, err error) {
	idx := indexHead
	for idx != noBlock {
		b, res, e := a.store.ObtainBlock(ctx, idx)
		if e != nil {
			return nil, nil, e
		}
		if !res.Ok() {
			return nil, nil, fmt.Errorf("afs: %w: index block %d: %s", blockstore.ErrIntegrityViolation, idx, res)
		}
		next, ls, e := decodeIndexBlock(b.ReadPtr())
		if e != nil {
			return nil, nil, e
		}
		indexBlocks = append(indexBlocks, idx)
		leaves = append(leaves, ls...)
		idx = next
	}
	return indexBlocks, leaves, nil
}

// writeTree replaces a file's entire index block chain and leaf list
// with newLeaves, freeing blocks that fall out of use and allocating
// blocks newly needed. It returns the new index chain head.
func (a *Afs) writeTree(ctx context.Context, t *txn, oldIndexBlocks []uint64, oldLeaves []uint64, newLeaves []uint64) (uint64, error) {
	for _, idx := range oldIndexBlocks {
		if err := a.freeBlock(ctx, t, idx); err != nil {
			return 0, err
		}
	}
	for i := len(newLeaves); i < len(oldLeaves); i++ {
		if err := a.freeBlock(ctx, t, oldLeaves[i]); err != nil {
			return 0, err
		}
	}
	for i := len(oldLeaves); i < len(newLeaves); i++ {
		idx, res, err := a.allocBlock(ctx, t)
		if err != nil {
			return 0, err
		}
		if !res.Ok() {
			return 0, fmt.Errorf("afs: could not allocate leaf block: %s", res)
		}
		newLeaves[i] = idx
		b, res2, err := t.overwrite(ctx, idx)
		if err != nil {
			return 0, err
		}
		if !res2.Ok() {
			return 0, fmt.Errorf("afs: %w: could not overwrite new leaf block %d: %s", blockstore.ErrIntegrityViolation, idx, res2)
		}
		w := b.WritePtr()
		for j := range w {
			w[j] = 0
		}
	}

	if len(newLeaves) == 0 {
		return noBlock, nil
	}
	perBlock := a.leafCapacityPerIndexBlock()
	var heads []uint64
	for off := 0; off < len(newLeaves); off += perBlock {
		idx, res, err := a.allocBlock(ctx, t)
		if err != nil {
			return 0, err
		}
		if !res.Ok() {
			return 0, fmt.Errorf("afs: could not allocate index block: %s", res)
		}
		heads = append(heads, idx)
	}
	for i := len(heads) - 1; i >= 0; i-- {
		off := i * perBlock
		end := off + perBlock
		if end > len(newLeaves) {
			end = len(newLeaves)
		}
		next := uint64(noBlock)
		if i+1 < len(heads) {
			next = heads[i+1]
		}
		buf, err := encodeIndexBlock(next, newLeaves[off:end], a.store.BlockSize())
		if err != nil {
			return 0, err
		}
		b, res, err := t.overwrite(ctx, heads[i])
		if err != nil {
			return 0, err
		}
		if !res.Ok() {
			return 0, fmt.Errorf("afs: %w: could not overwrite index block %d: %s", blockstore.ErrIntegrityViolation, heads[i], res)
		}
		copy(b.WritePtr(), buf)
	}
	return heads[0], nil
}

func (a *Afs) freeFileBlocks(ctx context.Context, t *txn, h *headNode) error {
	if h.repr != reprTree {
		return nil
	}
	indexBlocks, leaves, err := a.readTree(ctx, h.index)
	if err != nil {
		return err
	}
	for _, idx := range indexBlocks {
		if err := a.freeBlock(ctx, t, idx); err != nil {
			return err
		}
	}
	for _, idx := range leaves {
		if err := a.freeBlock(ctx, t, idx); err != nil {
			return err
		}
	}
	return nil
}

// FileMaxMiniNodeBytes reports how many bytes of file data can currently
// be stored inline in id's head block, given its current name and
// metadata lengths.
func (a *Afs) FileMaxMiniNodeBytes(ctx context.Context, id ObjId) (int, error) {
	h, err := a.readHeadNode(ctx, id)
	if err != nil {
		return 0, err
	}
	return maxMiniBytes(a.store.BlockSize(), len(h.name), len(h.meta)), nil
}

// readAllLeafData returns every leaf block's raw bytes concatenated, for
// a tree-represented file. Trailing bytes beyond h.size are still
// present since leaf blocks are always full blockSize.
func (a *Afs) readAllLeafData(ctx context.Context, indexHead uint64, blockSize int) ([]byte, error) {
	_, leaves, err := a.readTree(ctx, indexHead)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(leaves)*blockSize)
	for _, idx := range leaves {
		b, res, err := a.store.ObtainBlock(ctx, idx)
		if err != nil {
			return nil, err
		}
		if !res.Ok() {
			return nil, fmt.Errorf("afs: %w: leaf block %d: %s", blockstore.ErrIntegrityViolation, idx, res)
		}
		out = append(out, b.ReadPtr()...)
	}
	return out, nil
}

// FileRead reads up to len(buf) bytes starting at offset, returning the
// number of bytes actually read (0 at or past end of file).
func (a *Afs) FileRead(ctx context.Context, id ObjId, offset uint64, buf []byte) (int, Result, error) {
	h, err := a.readHeadNode(ctx, id)
	if err != nil {
		return 0, OK, err
	}
	if h.typ != TypeFile {
		return 0, NameNotInDir, nil
	}
	if offset >= h.size {
		return 0, OK, nil
	}
	n := uint64(len(buf))
	if offset+n > h.size {
		n = h.size - offset
	}

	switch h.repr {
	case reprMini:
		copy(buf[:n], h.mini[offset:offset+n])
	case reprTree:
		data, err := a.readAllLeafData(ctx, h.index, a.store.BlockSize())
		if err != nil {
			return 0, OK, err
		}
		copy(buf[:n], data[offset:offset+n])
	}
	return int(n), OK, nil
}

// FileWrite writes data at offset, growing the file (zero-filling any
// gap before offset) if offset+len(data) exceeds the current size.
func (a *Afs) FileWrite(ctx context.Context, id ObjId, offset uint64, data []byte) (Result, error) {
	id = a.resolve(id)
	h, err := a.readHeadNode(ctx, id)
	if err != nil {
		return OK, err
	}
	if h.typ != TypeFile {
		return NameNotInDir, nil
	}
	newSize := h.size
	if end := offset + uint64(len(data)); end > newSize {
		newSize = end
	}

	t, err := a.begin(ctx)
	if err != nil {
		return OK, err
	}

	content, res, err := a.materializeForWrite(ctx, t, h, newSize)
	if err != nil {
		t.abort(ctx)
		return OK, err
	}
	if !res.Ok() {
		t.abort(ctx)
		return res, nil
	}
	copy(content[offset:], data)

	if res, err := a.commitFileContent(ctx, t, id, h, content, newSize); err != nil {
		t.abort(ctx)
		return OK, err
	} else if !res.Ok() {
		t.abort(ctx)
		return res, nil
	}
	if res, err := t.commit(ctx); err != nil {
		return OK, err
	} else if !res.Ok() {
		return res, nil
	}
	return OK, nil
}

// materializeForWrite returns a mutable, zero-extended byte slice
// holding the file's content sized to at least newSize, without yet
// persisting anything.
func (a *Afs) materializeForWrite(ctx context.Context, t *txn, h *headNode, newSize uint64) ([]byte, Result, error) {
	var existing []byte
	switch h.repr {
	case reprMini:
		existing = append([]byte(nil), h.mini...)
	case reprTree:
		data, err := a.readAllLeafData(ctx, h.index, a.store.BlockSize())
		if err != nil {
			return nil, OK, err
		}
		existing = data[:h.size]
	}
	content := make([]byte, newSize)
	copy(content, existing)
	return content, OK, nil
}

// commitFileContent persists content (len(content) == newSize) to id's
// head node, choosing mini or tree representation, and writes the
// updated head node via t.
func (a *Afs) commitFileContent(ctx context.Context, t *txn, id ObjId, h *headNode, content []byte, newSize uint64) (Result, error) {
	maxMini := maxMiniBytes(a.store.BlockSize(), len(h.name), len(h.meta))

	var oldIndexBlocks, oldLeaves []uint64
	if h.repr == reprTree {
		var err error
		oldIndexBlocks, oldLeaves, err = a.readTree(ctx, h.index)
		if err != nil {
			return OK, err
		}
	}

	if int(newSize) <= maxMini {
		if h.repr == reprTree {
			for _, idx := range oldIndexBlocks {
				if err := a.freeBlock(ctx, t, idx); err != nil {
					return OK, err
				}
			}
			for _, idx := range oldLeaves {
				if err := a.freeBlock(ctx, t, idx); err != nil {
					return OK, err
				}
			}
		}
		h.repr = reprMini
		h.mini = content
		h.size = newSize
		h.index = noBlock
	} else {
		blockSize := a.store.BlockSize()
		leafCount := int((newSize + uint64(blockSize) - 1) / uint64(blockSize))
		// Report OutOfSpace before writeTree starts allocating: the new
		// tree needs leafCount leaves plus their index blocks, and the
		// blocks of the old tree are released before any allocation.
		perBlock := a.leafCapacityPerIndexBlock()
		need := uint64(leafCount + (leafCount+perBlock-1)/perBlock)
		have := uint64(len(oldLeaves) + len(oldIndexBlocks))
		if free := a.FreeSpaceBlocks(); free != ^uint64(0) && need > have+free {
			return OutOfSpace, nil
		}
		newLeaves := make([]uint64, leafCount)
		copy(newLeaves, oldLeaves)
		head, err := a.writeTree(ctx, t, oldIndexBlocks, oldLeaves, newLeaves)
		if err != nil {
			return OK, err
		}
		for i, leafIdx := range newLeaves {
			lo := i * blockSize
			hi := lo + blockSize
			if hi > len(content) {
				hi = len(content)
			}
			b, res, err := t.overwrite(ctx, leafIdx)
			if err != nil {
				return OK, err
			}
			if !res.Ok() {
				return res, nil
			}
			w := b.WritePtr()
			for j := range w {
				w[j] = 0
			}
			copy(w, content[lo:hi])
		}
		h.repr = reprTree
		h.mini = nil
		h.index = head
		h.size = newSize
	}
	h.modifyTime = a.clock.Now()
	if err := a.writeHeadNode(ctx, t, id.BlockIndex, h); err != nil {
		return OK, err
	}
	if err := a.writeMaster(ctx, t); err != nil {
		return OK, err
	}
	return OK, nil
}

// FileSetSize grows (zero-filling) or shrinks id to newSize, returning
// the size the file has afterwards: newSize on success, or the unchanged
// previous size when the resize fails with a non-OK Result such as
// OutOfSpace. A resize is applied whole or not at all; every block
// allocated for a failed growth is released.
func (a *Afs) FileSetSize(ctx context.Context, id ObjId, newSize uint64) (uint64, Result, error) {
	id = a.resolve(id)
	h, err := a.readHeadNode(ctx, id)
	if err != nil {
		return 0, OK, err
	}
	if h.typ != TypeFile {
		return 0, NameNotInDir, nil
	}
	if newSize == h.size {
		return newSize, OK, nil
	}

	t, err := a.begin(ctx)
	if err != nil {
		return 0, OK, err
	}

	content, res, err := a.materializeForWrite(ctx, t, h, newSize)
	if err != nil {
		t.abort(ctx)
		return 0, OK, err
	}
	if !res.Ok() {
		t.abort(ctx)
		return h.size, res, nil
	}

	if res, err := a.commitFileContent(ctx, t, id, h, content, newSize); err != nil {
		t.abort(ctx)
		return 0, OK, err
	} else if !res.Ok() {
		t.abort(ctx)
		return h.size, res, nil
	}
	if res, err := t.commit(ctx); err != nil {
		return 0, OK, err
	} else if !res.Ok() {
		return h.size, res, nil
	}
	return newSize, OK, nil
}
