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
	"strings"
	"time"

	"github.com/denisbider/Atomic-sub003/blockstore"
	"github.com/denisbider/Atomic-sub003/clock"
)

// CaseMode is an Afs's per-instance name comparison policy.
type CaseMode int

const (
	// Exact compares names byte-for-byte.
	Exact CaseMode = iota
	// Insensitive folds names with strings.ToLower before comparing.
	Insensitive
)

// StatInfo is the result of ObjStat: a snapshot of an object's head node.
type StatInfo struct {
	Type       ObjType
	Parent     ObjId
	Name       string
	Meta       []byte
	CreateTime time.Time
	ModifyTime time.Time

	// Size is the file size in bytes; EntryCount is the directory entry
	// count. Only the field matching Type is meaningful.
	Size       uint64
	EntryCount uint32
}

// StatField selects which fields ObjSetStat updates.
type StatField int

const (
	FieldCreateTime StatField = 1 << iota
	FieldModifyTime
	FieldMeta
)

// PathEntry is one element of CrackPath's result.
type PathEntry struct {
	Id   ObjId
	Name string
	Type ObjType
}

// Afs is the logical filesystem layer over a blockstore.Store. It is not
// safe for concurrent use: callers serialize externally if needed.
type Afs struct {
	store    blockstore.Store
	caseMode CaseMode
	clock    clock.Clock

	master *masterBlock
	rootId ObjId
}

// New constructs an Afs bound to store. clk supplies the timestamps
// recorded in createTime/modifyTime; pass clock.RealClock{} in production
// and a clock.SimulatedClock in tests that need deterministic times. Call
// Init to format a fresh store or Open to attach to one already formatted.
func New(store blockstore.Store, caseMode CaseMode, clk clock.Clock) *Afs {
	return &Afs{store: store, caseMode: caseMode, clock: clk}
}

// Store returns the blockstore.Store this Afs is bound to, for callers
// that need to observe it directly (e.g. wiring up metrics).
func (a *Afs) Store() blockstore.Store {
	return a.store
}

// MaxNameBytes reports the largest name that fits in a head block,
// accounting for fixed per-object overhead.
func (a *Afs) MaxNameBytes() int {
	room := a.store.BlockSize() - headNodeFixedBytes - (8 + 1 + 4) /* file tail: size, repr, mini length */
	if room < 0 {
		return 0
	}
	return room
}

func (a *Afs) normalizeName(name string) string {
	if a.caseMode == Insensitive {
		return strings.ToLower(name)
	}
	return name
}

// resolve turns the Root sentinel into the real root ObjId; every other
// ObjId is already resolved.
func (a *Afs) resolve(id ObjId) ObjId {
	if id.IsRoot() {
		return a.rootId
	}
	return id
}

// ---- initialization ----

// Init formats a fresh, empty store: it must have no existing content.
func (a *Afs) Init(ctx context.Context) error {
	t, err := a.begin(ctx)
	if err != nil {
		return err
	}

	// Block 0 is reserved for the master block; the root directory's
	// head block is allocated right after it, followed by the root's
	// first (still empty) directory block.
	mb, res, err := t.addNew(ctx)
	if err != nil {
		t.abort(ctx)
		return err
	}
	if !res.Ok() || mb.Index() != masterBlockIndex {
		t.abort(ctx)
		return fmt.Errorf("afs: %w: master block did not land at index 0", blockstore.ErrIntegrityViolation)
	}

	rb, res, err := t.addNew(ctx)
	if err != nil {
		t.abort(ctx)
		return err
	}
	if !res.Ok() {
		t.abort(ctx)
		return fmt.Errorf("afs: could not allocate root head block: %s", res)
	}

	db, res, err := t.addNew(ctx)
	if err != nil {
		t.abort(ctx)
		return err
	}
	if !res.Ok() {
		t.abort(ctx)
		return fmt.Errorf("afs: could not allocate root directory block: %s", res)
	}
	dirBuf, err := encodeDirBlock(noBlock, nil, a.store.BlockSize())
	if err != nil {
		t.abort(ctx)
		return err
	}
	copy(db.WritePtr(), dirBuf)

	now := a.clock.Now()
	root := &headNode{
		typ:        TypeDir,
		parent:     ObjId{},
		name:       "",
		createTime: now,
		modifyTime: now,
		dirHead:    db.Index(),
		entryCount: 0,
	}
	rootBuf, err := encodeHeadNode(root, a.store.BlockSize())
	if err != nil {
		t.abort(ctx)
		return err
	}
	copy(rb.WritePtr(), rootBuf)

	a.master = &masterBlock{
		blockSize:     uint32(a.store.BlockSize()),
		rootDirBlock:  rb.Index(),
		freeListHead:  noBlock,
		freeListCount: 0,
		nrObjects:     1,
	}
	copy(mb.WritePtr(), encodeMasterBlock(a.master, a.store.BlockSize()))

	if res, err := t.commit(ctx); err != nil {
		return err
	} else if !res.Ok() {
		return fmt.Errorf("afs: could not commit initialization: %s", res)
	}

	a.rootId = ObjId{BlockIndex: rb.Index()}
	return nil
}

// Open attaches to a store already formatted by Init.
func (a *Afs) Open(ctx context.Context) error {
	if a.store.NrBlocks() == 0 {
		return ErrNotInitialized
	}
	b, res, err := a.store.ObtainBlock(ctx, masterBlockIndex)
	if err != nil {
		return err
	}
	if !res.Ok() {
		return fmt.Errorf("afs: could not read master block: %s", res)
	}
	m, err := decodeMasterBlock(b.ReadPtr())
	if err != nil {
		return err
	}
	a.master = m
	a.rootId = ObjId{BlockIndex: m.rootDirBlock}
	return nil
}

func (a *Afs) readHeadNode(ctx context.Context, id ObjId) (*headNode, error) {
	id = a.resolve(id)
	b, res, err := a.store.ObtainBlock(ctx, id.BlockIndex)
	if err != nil {
		return nil, err
	}
	if !res.Ok() {
		return nil, fmt.Errorf("afs: %w: could not read head block %d: %s", blockstore.ErrIntegrityViolation, id.BlockIndex, res)
	}
	h, err := decodeHeadNode(b.ReadPtr())
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (a *Afs) writeHeadNode(ctx context.Context, t *txn, blockIndex uint64, h *headNode) error {
	b, res, err := t.overwrite(ctx, blockIndex)
	if err != nil {
		return err
	}
	if !res.Ok() {
		return fmt.Errorf("afs: %w: could not overwrite head block %d: %s", blockstore.ErrIntegrityViolation, blockIndex, res)
	}
	buf, err := encodeHeadNode(h, a.store.BlockSize())
	if err != nil {
		return err
	}
	copy(b.WritePtr(), buf)
	return nil
}

// ---- directory + object operations ----

// CrackPath resolves a '/'-separated path (relative to dir, or absolute
// if it begins with '/' and dir is ignored) into the chain of objects
// from the first component below the starting directory down to the
// final component. It stops at the
// first component that cannot be found and returns the entries resolved
// so far together with ObjNotFound.
func (a *Afs) CrackPath(ctx context.Context, dir ObjId, path string) ([]PathEntry, Result, error) {
	start := a.rootId
	rel := strings.TrimPrefix(path, "/")
	if rel == path {
		start = a.resolve(dir)
	}
	if rel == "" {
		return nil, OK, nil
	}
	parts := strings.Split(rel, "/")

	var out []PathEntry
	cur := start
	for _, part := range parts {
		if part == "" {
			continue
		}
		h, err := a.readHeadNode(ctx, cur)
		if err != nil {
			return out, OK, err
		}
		if h.typ != TypeDir {
			return out, NameNotInDir, nil
		}
		_, ents, _, found, err := a.dirChainFind(ctx, h.dirHead, a.normalizeName(part))
		if err != nil {
			return out, OK, err
		}
		if !found {
			return out, ObjNotFound, nil
		}
		var match dirEntry
		for _, e := range ents {
			if a.normalizeName(e.name) == a.normalizeName(part) {
				match = e
				break
			}
		}
		entry := PathEntry{Id: match.id, Name: match.name, Type: match.objType}
		out = append(out, entry)
		cur = match.id
	}
	return out, OK, nil
}

// DirCreate creates a new, empty subdirectory named name inside parent.
func (a *Afs) DirCreate(ctx context.Context, parent ObjId, name string, meta []byte) (ObjId, Result, error) {
	return a.createObject(ctx, parent, name, meta, TypeDir)
}

func (a *Afs) createObject(ctx context.Context, parent ObjId, name string, meta []byte, typ ObjType) (ObjId, Result, error) {
	parent = a.resolve(parent)
	if len(name) > a.MaxNameBytes() {
		return ObjId{}, OutOfSpace, nil
	}

	t, err := a.begin(ctx)
	if err != nil {
		return ObjId{}, OK, err
	}

	ph, err := a.readHeadNode(ctx, parent)
	if err != nil {
		t.abort(ctx)
		return ObjId{}, OK, err
	}
	if ph.typ != TypeDir {
		t.abort(ctx)
		return ObjId{}, NameNotInDir, nil
	}
	if _, _, _, found, err := a.dirChainFind(ctx, ph.dirHead, a.normalizeName(name)); err != nil {
		t.abort(ctx)
		return ObjId{}, OK, err
	} else if found {
		t.abort(ctx)
		return ObjId{}, NameExists, nil
	}

	nbIdx, res, err := a.allocBlock(ctx, t)
	if err != nil {
		t.abort(ctx)
		return ObjId{}, res, err
	}
	if !res.Ok() {
		t.abort(ctx)
		return ObjId{}, res, nil
	}
	nb, res, err := t.overwrite(ctx, nbIdx)
	if err != nil || !res.Ok() {
		t.abort(ctx)
		return ObjId{}, res, err
	}

	now := a.clock.Now()
	h := &headNode{
		typ:        typ,
		parent:     parent,
		name:       name,
		meta:       meta,
		createTime: now,
		modifyTime: now,
		dirHead:    noBlock,
		repr:       reprMini,
	}
	buf, err := encodeHeadNode(h, a.store.BlockSize())
	if err != nil {
		t.abort(ctx)
		return ObjId{}, OK, err
	}
	copy(nb.WritePtr(), buf)

	id := newObjId(nb.Index())

	dirHead := ph.dirHead
	if res, err := a.dirInsert(ctx, t, &dirHead, name, typ, id); err != nil {
		t.abort(ctx)
		return ObjId{}, OK, err
	} else if !res.Ok() {
		t.abort(ctx)
		return ObjId{}, res, nil
	}
	ph.dirHead = dirHead
	ph.entryCount++
	if err := a.writeHeadNode(ctx, t, parent.BlockIndex, ph); err != nil {
		t.abort(ctx)
		return ObjId{}, OK, err
	}

	a.master.nrObjects++
	if err := a.writeMaster(ctx, t); err != nil {
		t.abort(ctx)
		return ObjId{}, OK, err
	}

	if res, err := t.commit(ctx); err != nil {
		return ObjId{}, OK, err
	} else if !res.Ok() {
		return ObjId{}, res, nil
	}
	return id, OK, nil
}

// FileCreate creates a new, empty file named name inside parent.
func (a *Afs) FileCreate(ctx context.Context, parent ObjId, name string, meta []byte) (ObjId, Result, error) {
	return a.createObject(ctx, parent, name, meta, TypeFile)
}

// ObjStat returns a snapshot of id's head node.
func (a *Afs) ObjStat(ctx context.Context, id ObjId) (StatInfo, Result, error) {
	h, err := a.readHeadNode(ctx, id)
	if err != nil {
		return StatInfo{}, OK, err
	}
	return StatInfo{
		Type:       h.typ,
		Parent:     h.parent,
		Name:       h.name,
		Meta:       h.meta,
		CreateTime: h.createTime,
		ModifyTime: h.modifyTime,
		Size:       h.size,
		EntryCount: h.entryCount,
	}, OK, nil
}

// ObjSetStat updates the fields of id's head node selected by fields.
func (a *Afs) ObjSetStat(ctx context.Context, id ObjId, fields StatField, createTime, modifyTime time.Time, meta []byte) (Result, error) {
	id = a.resolve(id)
	t, err := a.begin(ctx)
	if err != nil {
		return OK, err
	}
	h, err := a.readHeadNode(ctx, id)
	if err != nil {
		t.abort(ctx)
		return OK, err
	}
	if fields&FieldCreateTime != 0 {
		h.createTime = createTime
	}
	if fields&FieldModifyTime != 0 {
		h.modifyTime = modifyTime
	}
	if fields&FieldMeta != 0 {
		h.meta = meta
	}
	if _, err := encodeHeadNode(h, a.store.BlockSize()); err != nil {
		t.abort(ctx)
		return OutOfSpace, nil
	}
	if err := a.writeHeadNode(ctx, t, id.BlockIndex, h); err != nil {
		t.abort(ctx)
		return OK, err
	}
	if res, err := t.commit(ctx); err != nil {
		return OK, err
	} else if !res.Ok() {
		return res, nil
	}
	return OK, nil
}

// ObjMove relinks id from its current parent to newParent under newName,
// rejecting moves that would make an object its own descendant.
func (a *Afs) ObjMove(ctx context.Context, id ObjId, newParent ObjId, newName string) (Result, error) {
	id = a.resolve(id)
	newParent = a.resolve(newParent)
	if len(newName) > a.MaxNameBytes() {
		return OutOfSpace, nil
	}

	if id.BlockIndex == newParent.BlockIndex {
		return MoveDestInvalid, nil
	}
	// Reject moving a directory underneath itself or one of its own
	// descendants.
	h, err := a.readHeadNode(ctx, id)
	if err != nil {
		return OK, err
	}
	if h.typ == TypeDir {
		walk := newParent
		for !walk.IsRoot() {
			if walk.Token == id.Token {
				return MoveDestInvalid, nil
			}
			wh, err := a.readHeadNode(ctx, walk)
			if err != nil {
				return OK, err
			}
			walk = wh.parent
		}
	}
	moved := *h
	moved.name = newName
	if _, err := encodeHeadNode(&moved, a.store.BlockSize()); err != nil {
		return OutOfSpace, nil
	}

	t, err := a.begin(ctx)
	if err != nil {
		return OK, err
	}

	oldParent := h.parent
	oph, err := a.readHeadNode(ctx, oldParent)
	if err != nil {
		t.abort(ctx)
		return OK, err
	}
	nph, err := a.readHeadNode(ctx, newParent)
	if err != nil {
		t.abort(ctx)
		return OK, err
	}
	if nph.typ != TypeDir {
		t.abort(ctx)
		return NameNotInDir, nil
	}
	if _, _, _, found, err := a.dirChainFind(ctx, nph.dirHead, a.normalizeName(newName)); err != nil {
		t.abort(ctx)
		return OK, err
	} else if found {
		t.abort(ctx)
		return NameExists, nil
	}

	oldDirHead := oph.dirHead
	if res, err := a.dirRemove(ctx, t, &oldDirHead, h.name); err != nil {
		t.abort(ctx)
		return OK, err
	} else if !res.Ok() {
		t.abort(ctx)
		return res, nil
	}
	oph.dirHead = oldDirHead
	oph.entryCount--
	if err := a.writeHeadNode(ctx, t, oldParent.BlockIndex, oph); err != nil {
		t.abort(ctx)
		return OK, err
	}
	if newParent.BlockIndex == oldParent.BlockIndex {
		nph = oph
	}

	newDirHead := nph.dirHead
	if res, err := a.dirInsert(ctx, t, &newDirHead, newName, h.typ, id); err != nil {
		t.abort(ctx)
		return OK, err
	} else if !res.Ok() {
		t.abort(ctx)
		return res, nil
	}
	nph.dirHead = newDirHead
	nph.entryCount++
	if err := a.writeHeadNode(ctx, t, newParent.BlockIndex, nph); err != nil {
		t.abort(ctx)
		return OK, err
	}

	h.parent = newParent
	h.name = newName
	h.modifyTime = a.clock.Now()
	if err := a.writeHeadNode(ctx, t, id.BlockIndex, h); err != nil {
		t.abort(ctx)
		return OK, err
	}
	if err := a.writeMaster(ctx, t); err != nil {
		t.abort(ctx)
		return OK, err
	}

	if res, err := t.commit(ctx); err != nil {
		return OK, err
	} else if !res.Ok() {
		return res, nil
	}
	return OK, nil
}

// ObjDelete removes id from its parent directory and frees its blocks.
// Deleting a non-empty directory is rejected.
func (a *Afs) ObjDelete(ctx context.Context, id ObjId) (Result, error) {
	id = a.resolve(id)
	if id.IsRoot() {
		return MoveDestInvalid, nil
	}
	h, err := a.readHeadNode(ctx, id)
	if err != nil {
		return OK, err
	}
	if h.typ == TypeDir && h.entryCount > 0 {
		return NameExists, nil
	}

	t, err := a.begin(ctx)
	if err != nil {
		return OK, err
	}

	ph, err := a.readHeadNode(ctx, h.parent)
	if err != nil {
		t.abort(ctx)
		return OK, err
	}
	parentDirHead := ph.dirHead
	if res, err := a.dirRemove(ctx, t, &parentDirHead, h.name); err != nil {
		t.abort(ctx)
		return OK, err
	} else if !res.Ok() {
		t.abort(ctx)
		return res, nil
	}
	ph.dirHead = parentDirHead
	ph.entryCount--
	if err := a.writeHeadNode(ctx, t, h.parent.BlockIndex, ph); err != nil {
		t.abort(ctx)
		return OK, err
	}

	if h.typ == TypeFile {
		if err := a.freeFileBlocks(ctx, t, h); err != nil {
			t.abort(ctx)
			return OK, err
		}
	}
	if h.typ == TypeDir && h.dirHead != noBlock {
		if err := a.freeBlock(ctx, t, h.dirHead); err != nil {
			t.abort(ctx)
			return OK, err
		}
	}

	if err := a.freeBlock(ctx, t, id.BlockIndex); err != nil {
		t.abort(ctx)
		return OK, err
	}

	a.master.nrObjects--
	if err := a.writeMaster(ctx, t); err != nil {
		t.abort(ctx)
		return OK, err
	}

	if res, err := t.commit(ctx); err != nil {
		return OK, err
	} else if !res.Ok() {
		return res, nil
	}
	return OK, nil
}

// DirRead lists id's directory entries in chain order (len(name)
// descending, then name ascending).
func (a *Afs) DirRead(ctx context.Context, id ObjId) ([]PathEntry, Result, error) {
	h, err := a.readHeadNode(ctx, id)
	if err != nil {
		return nil, OK, err
	}
	if h.typ != TypeDir {
		return nil, NameNotInDir, nil
	}
	ents, err := a.dirChainAll(ctx, h.dirHead)
	if err != nil {
		return nil, OK, err
	}
	out := make([]PathEntry, 0, len(ents))
	for _, e := range ents {
		out = append(out, PathEntry{Id: e.id, Name: e.name, Type: e.objType})
	}
	return out, OK, nil
}

// ---- transaction helper ----

// txn tracks one open journaled write: every block obtained for overwrite
// or newly added is remembered so CompleteJournaledWrite gets the full
// changed set exactly once per block, even if the same block was touched
// more than once during the operation.
type txn struct {
	afs     *Afs
	scope   *blockstore.WriteScope
	order   []*blockstore.AfsBlock
	byIndex map[uint64]*blockstore.AfsBlock

	// hadMaster/savedMaster let abort undo allocBlock/freeBlock's in-memory
	// bookkeeping, which happens eagerly and ahead of the journaled write
	// actually committing.
	hadMaster   bool
	savedMaster masterBlock
}

func (a *Afs) begin(ctx context.Context) (*txn, error) {
	scope, err := a.store.BeginJournaledWrite(ctx)
	if err != nil {
		return nil, err
	}
	t := &txn{afs: a, scope: scope, byIndex: make(map[uint64]*blockstore.AfsBlock)}
	if a.master != nil {
		t.hadMaster = true
		t.savedMaster = *a.master
	}
	return t, nil
}

func (t *txn) addNew(ctx context.Context) (*blockstore.AfsBlock, Result, error) {
	b, res, err := t.afs.store.AddNewBlock(ctx, t.scope)
	if err != nil || !res.Ok() {
		return nil, res, err
	}
	t.track(b)
	return b, res, nil
}

func (t *txn) overwrite(ctx context.Context, idx uint64) (*blockstore.AfsBlock, Result, error) {
	if b, ok := t.byIndex[idx]; ok {
		return b, OK, nil
	}
	b, res, err := t.afs.store.ObtainBlockForOverwrite(ctx, t.scope, idx)
	if err != nil || !res.Ok() {
		return nil, res, err
	}
	// A Store leaves an overwrite handle's initial contents unspecified,
	// and callers here read before they write (directory blocks, free-list
	// links), so the handle starts from the committed contents.
	cur, res, err := t.afs.store.ObtainBlock(ctx, idx)
	if err != nil || !res.Ok() {
		return nil, res, err
	}
	copy(b.WritePtr(), cur.ReadPtr())
	t.track(b)
	return b, res, nil
}

func (t *txn) track(b *blockstore.AfsBlock) {
	if _, ok := t.byIndex[b.Index()]; !ok {
		t.order = append(t.order, b)
		t.byIndex[b.Index()] = b
	}
}

func (t *txn) commit(ctx context.Context) (Result, error) {
	return t.afs.store.CompleteJournaledWrite(ctx, t.scope, t.order)
}

func (t *txn) abort(ctx context.Context) {
	t.afs.store.AbortJournaledWrite(ctx, t.scope)
	if t.hadMaster {
		*t.afs.master = t.savedMaster
	}
}

// ---- free list ----

func (a *Afs) allocBlock(ctx context.Context, t *txn) (uint64, Result, error) {
	if a.master.freeListHead != noBlock {
		idx := a.master.freeListHead
		b, res, err := t.overwrite(ctx, idx)
		if err != nil || !res.Ok() {
			return 0, res, err
		}
		next := binary.LittleEndian.Uint64(b.ReadPtr())
		a.master.freeListHead = next
		a.master.freeListCount--
		return idx, OK, nil
	}
	b, res, err := t.addNew(ctx)
	if err != nil || !res.Ok() {
		return 0, res, err
	}
	return b.Index(), OK, nil
}

func (a *Afs) freeBlock(ctx context.Context, t *txn, idx uint64) error {
	b, res, err := t.overwrite(ctx, idx)
	if err != nil {
		return err
	}
	if !res.Ok() {
		return fmt.Errorf("afs: %w: could not overwrite block %d to free it: %s", blockstore.ErrIntegrityViolation, idx, res)
	}
	w := b.WritePtr()
	for i := range w {
		w[i] = 0
	}
	binary.LittleEndian.PutUint64(w, a.master.freeListHead)
	a.master.freeListHead = idx
	a.master.freeListCount++
	return nil
}

func (a *Afs) writeMaster(ctx context.Context, t *txn) error {
	b, res, err := t.overwrite(ctx, masterBlockIndex)
	if err != nil {
		return err
	}
	if !res.Ok() {
		return fmt.Errorf("afs: %w: could not overwrite master block: %s", blockstore.ErrIntegrityViolation, res)
	}
	copy(b.WritePtr(), encodeMasterBlock(a.master, a.store.BlockSize()))
	return nil
}

// FreeSpaceBlocks reports how many more blocks can be written before the
// store runs out of room: blocks recycled onto the free list, plus
// headroom never yet allocated below the store's MaxNrBlocks cap. An
// unbounded store (MaxNrBlocks returning the all-ones sentinel) reports
// the sentinel too, since its headroom has no finite value.
func (a *Afs) FreeSpaceBlocks() uint64 {
	max := a.store.MaxNrBlocks()
	if max == ^uint64(0) {
		return max
	}
	used := a.store.NrBlocks()
	var headroom uint64
	if max > used {
		headroom = max - used
	}
	return headroom + a.master.freeListCount
}

// FreeSpaceBytes reports FreeSpaceBlocks expressed in bytes.
func (a *Afs) FreeSpaceBytes() uint64 {
	blocks := a.FreeSpaceBlocks()
	if blocks == ^uint64(0) {
		return blocks
	}
	return blocks * uint64(a.store.BlockSize())
}

// VerifyFreeList walks the free list confirming it has no cycle and no
// duplicate entry. It is a test/debug aid.
func (a *Afs) VerifyFreeList(ctx context.Context) error {
	seen := make(map[uint64]bool)
	idx := a.master.freeListHead
	count := uint64(0)
	for idx != noBlock {
		if seen[idx] {
			return fmt.Errorf("afs: %w: free list cycle at block %d", blockstore.ErrIntegrityViolation, idx)
		}
		seen[idx] = true
		count++
		b, res, err := a.store.ObtainBlock(ctx, idx)
		if err != nil {
			return err
		}
		if !res.Ok() {
			return fmt.Errorf("afs: %w: free list block %d: %s", blockstore.ErrIntegrityViolation, idx, res)
		}
		idx = binary.LittleEndian.Uint64(b.ReadPtr())
	}
	if count != a.master.freeListCount {
		return fmt.Errorf("afs: %w: free list length %d does not match recorded count %d", blockstore.ErrIntegrityViolation, count, a.master.freeListCount)
	}
	return nil
}
