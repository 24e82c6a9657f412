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

// dirEntry is one name -> object mapping inside a directory block chain.
//
// A directory's entries are not held in a single block or a balanced
// tree; they are kept in a singly linked chain of blocks, with a global
// sort order maintained across the whole chain (every entry in block N
// sorts before every entry in block N+1). The order itself is (len(name)
// descending, name ascending), matching the key order a treap of
// directory entries would produce, without needing rebalancing logic:
// insert finds the right block and splits it in half on overflow,
// delete just removes in place. Lookup, iteration and
// longest-name-first deletion order all fall out of the same global
// invariant.
type dirEntry struct {
	name    string
	objType ObjType
	id      ObjId
}

const dirBlockFixedBytes = 8 /* next */ + 2 /* entryCount */

func dirEntrySize(name string) int {
	return 2 /* nameLen */ + len(name) + 1 /* type */ + 16 /* token */ + 8 /* blockIndexHint */
}

// dirEntryLess implements the chain's global ordering key.
func dirEntryLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a < b
}

func encodeDirBlock(next uint64, entries []dirEntry, blockSize int) ([]byte, error) {
	buf := make([]byte, blockSize)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], next)
	off += 8
	if len(entries) > 0xFFFF {
		return nil, fmt.Errorf("afs: too many entries in one directory block (%d)", len(entries))
	}
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(entries)))
	off += 2
	for _, e := range entries {
		if off+dirEntrySize(e.name) > blockSize {
			return nil, fmt.Errorf("afs: %s", blockstore.OutOfSpace)
		}
		binary.LittleEndian.PutUint16(buf[off:], uint16(len(e.name)))
		off += 2
		copy(buf[off:], e.name)
		off += len(e.name)
		buf[off] = byte(e.objType)
		off++
		copy(buf[off:off+16], e.id.Token[:])
		off += 16
		binary.LittleEndian.PutUint64(buf[off:], e.id.BlockIndex)
		off += 8
	}
	return buf, nil
}

func decodeDirBlock(buf []byte) (next uint64, entries []dirEntry, err error) {
	if len(buf) < dirBlockFixedBytes {
		return 0, nil, fmt.Errorf("afs: %w: directory block too short", blockstore.ErrIntegrityViolation)
	}
	off := 0
	next = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	count := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	entries = make([]dirEntry, 0, count)
	for i := 0; i < count; i++ {
		if off+2 > len(buf) {
			return 0, nil, fmt.Errorf("afs: %w: directory block entry header truncated", blockstore.ErrIntegrityViolation)
		}
		nameLen := int(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
		need := nameLen + 1 + 16 + 8
		if off+need > len(buf) {
			return 0, nil, fmt.Errorf("afs: %w: directory block entry truncated", blockstore.ErrIntegrityViolation)
		}
		name := string(buf[off : off+nameLen])
		off += nameLen
		objType := ObjType(buf[off])
		off++
		var e dirEntry
		e.name = name
		e.objType = objType
		copy(e.id.Token[:], buf[off:off+16])
		off += 16
		e.id.BlockIndex = binary.LittleEndian.Uint64(buf[off:])
		off += 8
		entries = append(entries, e)
	}
	return next, entries, nil
}

// dirBlockFits reports whether entries would still fit the given
// block size, encoded.
func dirBlockFits(entries []dirEntry, blockSize int) bool {
	size := dirBlockFixedBytes
	for _, e := range entries {
		size += dirEntrySize(e.name)
	}
	return size <= blockSize
}

// dirChainFind walks the chain starting at head, returning the block
// holding key (normalized per a.caseMode) if present.
func (a *Afs) dirChainFind(ctx context.Context, head uint64, key string) (blockIdx uint64, entries []dirEntry, pos int, found bool, err error) {
	idx := head
	for idx != noBlock {
		b, res, e := a.store.ObtainBlock(ctx, idx)
		if e != nil {
			return 0, nil, 0, false, e
		}
		if !res.Ok() {
			return 0, nil, 0, false, fmt.Errorf("afs: %w: directory block %d: %s", blockstore.ErrIntegrityViolation, idx, res)
		}
		next, ents, e := decodeDirBlock(b.ReadPtr())
		if e != nil {
			return 0, nil, 0, false, e
		}
		for i, ent := range ents {
			k := a.normalizeName(ent.name)
			if k == key {
				return idx, ents, i, true, nil
			}
		}
		idx = next
	}
	return 0, nil, 0, false, nil
}

// dirChainAll returns every entry across the whole chain, in chain
// (already globally sorted) order.
func (a *Afs) dirChainAll(ctx context.Context, head uint64) ([]dirEntry, error) {
	var all []dirEntry
	idx := head
	for idx != noBlock {
		b, res, err := a.store.ObtainBlock(ctx, idx)
		if err != nil {
			return nil, err
		}
		if !res.Ok() {
			return nil, fmt.Errorf("afs: %w: directory block %d: %s", blockstore.ErrIntegrityViolation, idx, res)
		}
		next, ents, err := decodeDirBlock(b.ReadPtr())
		if err != nil {
			return nil, err
		}
		all = append(all, ents...)
		idx = next
	}
	return all, nil
}

// dirInsert adds name -> id into the chain rooted at *head, creating a
// new head block if the chain is empty and splitting the target block
// in half if adding the entry would overflow it.
func (a *Afs) dirInsert(ctx context.Context, t *txn, head *uint64, name string, objType ObjType, id ObjId) (Result, error) {
	newEntry := dirEntry{name: name, objType: objType, id: id}

	if *head == noBlock {
		buf, err := encodeDirBlock(noBlock, []dirEntry{newEntry}, a.store.BlockSize())
		if err != nil {
			return OK, err
		}
		idx, res, err := a.allocBlock(ctx, t)
		if err != nil || !res.Ok() {
			return res, err
		}
		b, res, err := t.overwrite(ctx, idx)
		if err != nil || !res.Ok() {
			return res, err
		}
		copy(b.WritePtr(), buf)
		*head = b.Index()
		return OK, nil
	}

	// Find the block whose range should contain name, and check for a
	// duplicate along the way.
	idx := *head
	for {
		b, res, err := t.overwrite(ctx, idx)
		if err != nil || !res.Ok() {
			return res, err
		}
		next, ents, err := decodeDirBlock(b.ReadPtr())
		if err != nil {
			return OK, err
		}
		for _, e := range ents {
			if a.normalizeName(e.name) == a.normalizeName(name) {
				return NameExists, nil
			}
		}

		atEnd := next == noBlock
		// Does name's key belong in this block's range, i.e. before the
		// first entry of the next block (if any)?
		belongsHere := atEnd
		if !belongsHere {
			nb, res2, err := a.store.ObtainBlock(ctx, next)
			if err != nil || !res2.Ok() {
				belongsHere = true // fall back: insert here rather than fail
			} else {
				_, nents, derr := decodeDirBlock(nb.ReadPtr())
				if derr == nil && len(nents) > 0 {
					if dirEntryLess(name, nents[0].name) || name == nents[0].name {
						belongsHere = true
					}
				} else {
					belongsHere = true
				}
			}
		}

		if belongsHere {
			merged := append(append([]dirEntry{}, ents...), newEntry)
			sortDirEntries(merged)
			if dirBlockFits(merged, a.store.BlockSize()) {
				buf, err := encodeDirBlock(next, merged, a.store.BlockSize())
				if err != nil {
					return OK, err
				}
				copy(b.WritePtr(), buf)
				return OK, nil
			}
			// Split: first half stays, second half moves to a new block.
			mid := len(merged) / 2
			lo, hi := merged[:mid], merged[mid:]
			nbIdx, res3, err := a.allocBlock(ctx, t)
			if err != nil || !res3.Ok() {
				return res3, err
			}
			nb, res3, err := t.overwrite(ctx, nbIdx)
			if err != nil || !res3.Ok() {
				return res3, err
			}
			hiBuf, err := encodeDirBlock(next, hi, a.store.BlockSize())
			if err != nil {
				return OK, err
			}
			copy(nb.WritePtr(), hiBuf)
			loBuf, err := encodeDirBlock(nb.Index(), lo, a.store.BlockSize())
			if err != nil {
				return OK, err
			}
			copy(b.WritePtr(), loBuf)
			return OK, nil
		}

		idx = next
	}
}

// dirRemove deletes name from the chain rooted at head. head is updated
// in place if removing the only entry in the head block empties it and
// there is a next block to promote.
func (a *Afs) dirRemove(ctx context.Context, t *txn, head *uint64, name string) (Result, error) {
	key := a.normalizeName(name)
	idx := *head
	var prevIdx uint64 = noBlock
	for idx != noBlock {
		b, res, err := t.overwrite(ctx, idx)
		if err != nil || !res.Ok() {
			return res, err
		}
		next, ents, err := decodeDirBlock(b.ReadPtr())
		if err != nil {
			return OK, err
		}
		found := -1
		for i, e := range ents {
			if a.normalizeName(e.name) == key {
				found = i
				break
			}
		}
		if found < 0 {
			prevIdx = idx
			idx = next
			continue
		}
		ents = append(ents[:found], ents[found+1:]...)
		if len(ents) == 0 && prevIdx != noBlock {
			// Unlink this now-empty block from the chain and free it.
			pb, pres, perr := t.overwrite(ctx, prevIdx)
			if perr != nil || !pres.Ok() {
				return pres, perr
			}
			_, pents, derr := decodeDirBlock(pb.ReadPtr())
			if derr != nil {
				return OK, derr
			}
			buf, eerr := encodeDirBlock(next, pents, a.store.BlockSize())
			if eerr != nil {
				return OK, eerr
			}
			copy(pb.WritePtr(), buf)
			if err := a.freeBlock(ctx, t, idx); err != nil {
				return OK, err
			}
			return OK, nil
		}
		if len(ents) == 0 {
			// This was the head block; leave it in place, empty, unless
			// there's a next block to become the new head.
			if next != noBlock {
				*head = next
				if err := a.freeBlock(ctx, t, idx); err != nil {
					return OK, err
				}
				return OK, nil
			}
		}
		buf, err := encodeDirBlock(next, ents, a.store.BlockSize())
		if err != nil {
			return OK, err
		}
		copy(b.WritePtr(), buf)
		return OK, nil
	}
	return NameNotInDir, nil
}

func sortDirEntries(entries []dirEntry) {
	// Insertion sort: directory blocks hold at most a few dozen entries,
	// and entries arrive nearly sorted (merged from an already-sorted
	// slice plus one new entry).
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && dirEntryLess(entries[j].name, entries[j-1].name); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}
