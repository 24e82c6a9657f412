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

// Package afstest drives an afs.Afs through a randomized sequence of
// filesystem operations, weighted the same way across every run so that
// a given seed always reproduces the same history. It is meant for
// long-running fuzz-style exercises that can't reasonably be hand-written
// as individual test cases.
package afstest

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/denisbider/Atomic-sub003/afs"
)

// Action names one kind of operation the Harness can perform.
type Action int

const (
	DirCreate Action = iota
	FileCreate
	FileCreateDeleteMany
	DirStat
	FileStat
	DirSetStat
	FileSetStat
	DirMove
	FileMove
	DirRename
	FileRename
	DirRead
	FileWrite
	FileWriteMany
	FileSetSize
	FileRead
	FileDelete
	DirDeleteRecursive
)

// weight pairs an Action with its cumulative threshold out of 255, in the
// order they're tested: the first threshold an action roll falls at or
// under is the action picked.
type weight struct {
	action    Action
	threshold int
}

var weights = []weight{
	{DirCreate, 5},
	{FileCreate, 25},
	{FileCreateDeleteMany, 30},
	{DirStat, 40},
	{FileStat, 60},
	{DirSetStat, 70},
	{FileSetStat, 90},
	{DirMove, 100},
	{FileMove, 120},
	{DirRename, 130},
	{FileRename, 150},
	{DirRead, 160},
	{FileWrite, 195},
	{FileWriteMany, 200},
	{FileSetSize, 205},
	{FileRead, 250},
	{FileDelete, 254},
	{DirDeleteRecursive, 255},
}

func pickAction(r *rand.Rand) Action {
	roll := r.Intn(255) + 1
	for _, w := range weights {
		if roll <= w.threshold {
			return w.action
		}
	}
	return DirDeleteRecursive
}

// Harness runs a weighted-random sequence of operations against an Afs,
// tracking the directories and files it has created so each action has
// something live to act on. It tolerates any Result short of a Go error:
// OutOfSpace, NameExists and the like are expected outcomes of fuzzing a
// constrained store, not harness failures.
type Harness struct {
	Afs *afs.Afs
	r   *rand.Rand

	dirs  []afs.ObjId
	files []afs.ObjId

	nrByAction map[Action]uint64
}

// NewHarness builds a Harness seeded deterministically from seed, driving
// a into its root directory. The caller must have already run a.Init or
// a.Open.
func NewHarness(a *afs.Afs, seed int64) *Harness {
	return &Harness{
		Afs:        a,
		r:          rand.New(rand.NewSource(seed)),
		dirs:       []afs.ObjId{afs.Root},
		nrByAction: make(map[Action]uint64),
	}
}

// Counts returns how many times each Action has run so far.
func (h *Harness) Counts() map[Action]uint64 {
	out := make(map[Action]uint64, len(h.nrByAction))
	for a, n := range h.nrByAction {
		out[a] = n
	}
	return out
}

func (h *Harness) randName(prefix string) string {
	return fmt.Sprintf("%s%x", prefix, h.r.Uint32())
}

func (h *Harness) pickDir() afs.ObjId {
	return h.dirs[h.r.Intn(len(h.dirs))]
}

func (h *Harness) pickFile() (afs.ObjId, bool) {
	if len(h.files) == 0 {
		return afs.ObjId{}, false
	}
	return h.files[h.r.Intn(len(h.files))], true
}

func (h *Harness) removeDir(id afs.ObjId) {
	for i, d := range h.dirs {
		if d.Equal(id) {
			h.dirs = append(h.dirs[:i], h.dirs[i+1:]...)
			return
		}
	}
}

func (h *Harness) removeFile(id afs.ObjId) {
	for i, f := range h.files {
		if f.Equal(id) {
			h.files = append(h.files[:i], h.files[i+1:]...)
			return
		}
	}
}

// Step performs one randomly chosen, weighted Action. It returns an error
// only for an unexpected failure: a Go error from the underlying Afs call,
// or an integrity-relevant surprise the harness itself detects. Non-OK
// Results that are a normal consequence of fuzzing (OutOfSpace on a small
// store, NameExists on a name collision, and so on) are swallowed.
func (h *Harness) Step(ctx context.Context) error {
	action := pickAction(h.r)
	h.nrByAction[action]++

	switch action {
	case DirCreate:
		return h.actionDirCreate(ctx)
	case FileCreate:
		return h.actionFileCreate(ctx)
	case FileCreateDeleteMany:
		return h.actionFileCreateDeleteMany(ctx)
	case DirStat:
		return h.actionStat(ctx, h.pickDir())
	case FileStat:
		if id, ok := h.pickFile(); ok {
			return h.actionStat(ctx, id)
		}
	case DirSetStat:
		return h.actionSetStat(ctx, h.pickDir())
	case FileSetStat:
		if id, ok := h.pickFile(); ok {
			return h.actionSetStat(ctx, id)
		}
	case DirMove:
		return h.actionMove(ctx, h.dirs, true)
	case FileMove:
		return h.actionMove(ctx, h.files, false)
	case DirRename:
		return h.actionRename(ctx, h.pickDir())
	case FileRename:
		if id, ok := h.pickFile(); ok {
			return h.actionRename(ctx, id)
		}
	case DirRead:
		_, _, err := h.Afs.DirRead(ctx, h.pickDir())
		return err
	case FileWrite:
		if id, ok := h.pickFile(); ok {
			return h.actionFileWrite(ctx, id, 256)
		}
	case FileWriteMany:
		if id, ok := h.pickFile(); ok {
			for i := 0; i < 5; i++ {
				if err := h.actionFileWrite(ctx, id, 64); err != nil {
					return err
				}
			}
		}
	case FileSetSize:
		if id, ok := h.pickFile(); ok {
			_, _, err := h.Afs.FileSetSize(ctx, id, uint64(h.r.Intn(8192)))
			return err
		}
	case FileRead:
		if id, ok := h.pickFile(); ok {
			buf := make([]byte, 256)
			_, _, err := h.Afs.FileRead(ctx, id, 0, buf)
			return err
		}
	case FileDelete:
		if id, ok := h.pickFile(); ok {
			res, err := h.Afs.ObjDelete(ctx, id)
			if err != nil {
				return err
			}
			if res.Ok() {
				h.removeFile(id)
			}
		}
	case DirDeleteRecursive:
		return h.actionDirDeleteRecursive(ctx, h.pickDir())
	}
	return nil
}

func (h *Harness) actionDirCreate(ctx context.Context) error {
	parent := h.pickDir()
	id, res, err := h.Afs.DirCreate(ctx, parent, h.randName("d"), nil)
	if err != nil {
		return err
	}
	if res.Ok() {
		h.dirs = append(h.dirs, id)
	}
	return nil
}

func (h *Harness) actionFileCreate(ctx context.Context) error {
	parent := h.pickDir()
	id, res, err := h.Afs.FileCreate(ctx, parent, h.randName("f"), nil)
	if err != nil {
		return err
	}
	if res.Ok() {
		h.files = append(h.files, id)
	}
	return nil
}

func (h *Harness) actionFileCreateDeleteMany(ctx context.Context) error {
	parent := h.pickDir()
	dirId, res, err := h.Afs.DirCreate(ctx, parent, h.randName("batch"), nil)
	if err != nil {
		return err
	}
	if !res.Ok() {
		return nil
	}
	for i := 0; i < 4; i++ {
		id, res, err := h.Afs.FileCreate(ctx, dirId, h.randName("bf"), nil)
		if err != nil {
			return err
		}
		if !res.Ok() {
			continue
		}
		if res, err := h.Afs.ObjDelete(ctx, id); err != nil {
			return err
		} else if !res.Ok() {
			return fmt.Errorf("afstest: delete of freshly created file returned %s", res)
		}
	}
	res, err = h.Afs.ObjDelete(ctx, dirId)
	if err != nil {
		return err
	}
	if res.Ok() {
		h.removeDir(dirId)
	}
	return nil
}

func (h *Harness) actionStat(ctx context.Context, id afs.ObjId) error {
	_, _, err := h.Afs.ObjStat(ctx, id)
	return err
}

func (h *Harness) actionSetStat(ctx context.Context, id afs.ObjId) error {
	_, res, err := h.Afs.ObjStat(ctx, id)
	if err != nil {
		return err
	}
	if !res.Ok() {
		return nil
	}
	_, err = h.Afs.ObjSetStat(ctx, id, afs.FieldMeta, time.Time{}, time.Time{}, []byte{byte(h.r.Intn(256))})
	return err
}

func (h *Harness) actionRename(ctx context.Context, id afs.ObjId) error {
	info, res, err := h.Afs.ObjStat(ctx, id)
	if err != nil {
		return err
	}
	if !res.Ok() {
		return nil
	}
	_, err = h.Afs.ObjMove(ctx, id, info.Parent, h.randName("renamed"))
	return err
}

func (h *Harness) actionMove(ctx context.Context, pool []afs.ObjId, isDir bool) error {
	if len(pool) == 0 {
		return nil
	}
	id := pool[h.r.Intn(len(pool))]
	newParent := h.pickDir()
	name := h.randName("moved")
	if isDir {
		name = h.randName("movedd")
	}
	_, err := h.Afs.ObjMove(ctx, id, newParent, name)
	return err
}

func (h *Harness) actionFileWrite(ctx context.Context, id afs.ObjId, n int) error {
	buf := make([]byte, n)
	h.r.Read(buf)
	offset := uint64(h.r.Intn(4096))
	_, err := h.Afs.FileWrite(ctx, id, offset, buf)
	return err
}

// actionDirDeleteRecursive removes id and everything under it, then drops
// every pool entry that no longer resolves: a recursive delete can take
// out dirs/files the harness otherwise still believes are live, and
// reusing their block indices for unrelated future objects would corrupt
// the harness's own bookkeeping rather than the filesystem.
func (h *Harness) actionDirDeleteRecursive(ctx context.Context, id afs.ObjId) error {
	if err := DeleteSubtree(ctx, h.Afs, id); err != nil {
		return err
	}
	return h.pruneDeadEntries(ctx)
}

// pruneDeadEntries drops pool entries whose ObjId no longer stats OK.
func (h *Harness) pruneDeadEntries(ctx context.Context) error {
	live := func(id afs.ObjId) (bool, error) {
		if id.Equal(afs.Root) {
			return true, nil
		}
		_, res, err := h.Afs.ObjStat(ctx, id)
		if err != nil {
			return false, err
		}
		return res.Ok(), nil
	}

	keptDirs := h.dirs[:0:0]
	for _, d := range h.dirs {
		ok, err := live(d)
		if err != nil {
			return err
		}
		if ok {
			keptDirs = append(keptDirs, d)
		}
	}
	h.dirs = keptDirs

	keptFiles := h.files[:0:0]
	for _, f := range h.files {
		ok, err := live(f)
		if err != nil {
			return err
		}
		if ok {
			keptFiles = append(keptFiles, f)
		}
	}
	h.files = keptFiles
	return nil
}

// DeleteSubtree recursively deletes id and, if it's a directory, every
// entry inside it, by repeatedly reading and deleting entries rather than
// assuming any particular traversal order survives concurrent mutation.
func DeleteSubtree(ctx context.Context, a *afs.Afs, id afs.ObjId) error {
	info, res, err := a.ObjStat(ctx, id)
	if err != nil {
		return err
	}
	if !res.Ok() {
		return nil
	}
	if info.Type == afs.TypeDir {
		for {
			entries, res, err := a.DirRead(ctx, id)
			if err != nil {
				return err
			}
			if !res.Ok() || len(entries) == 0 {
				break
			}
			if err := DeleteSubtree(ctx, a, entries[0].Id); err != nil {
				return err
			}
		}
	}
	if id.Equal(afs.Root) {
		return nil
	}
	res, err = a.ObjDelete(ctx, id)
	if err != nil {
		return err
	}
	if !res.Ok() {
		return fmt.Errorf("afstest: deleting %v returned %s", id, res)
	}
	return nil
}

// Run performs n steps, stopping at the first unexpected error.
func (h *Harness) Run(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := h.Step(ctx); err != nil {
			return fmt.Errorf("afstest: step %d (seed-derived): %w", i, err)
		}
	}
	return nil
}
