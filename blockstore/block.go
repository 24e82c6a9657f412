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

package blockstore

import "fmt"

// WriteScope is the handle returned by BeginJournaledWrite. Every AfsBlock
// obtained for overwrite, or newly added, while a write is open borrows
// from its WriteScope rather than holding a strong reference to it: the
// scope is a weak back-reference: it does not keep the scope alive. Once
// the write completes or aborts, the scope is closed and any AfsBlock that
// still points at it refuses further mutation.
type WriteScope struct {
	store  Store
	closed bool
}

// NewWriteScope constructs a WriteScope bound to store s. Store
// implementations call this from BeginJournaledWrite.
func NewWriteScope(s Store) *WriteScope {
	return &WriteScope{store: s}
}

// Close marks the scope closed; a Store implementation calls this from
// CompleteJournaledWrite and AbortJournaledWrite exactly once, regardless
// of outcome.
func (w *WriteScope) Close() {
	w.closed = true
}

// Open reports whether this scope can still accept mutations. A block that
// observes Open() == false must treat itself as write-aborted.
func (w *WriteScope) Open() bool {
	return w != nil && !w.closed
}

// AfsBlock is a handle on one block's buffer: a read pointer always, and a
// write pointer only while the block was obtained for overwrite or newly
// added within a still-open WriteScope. WritePtr marks the handle dirty
// (see Dirty); the caller lists the blocks it changed when it calls
// CompleteJournaledWrite.
type AfsBlock struct {
	store      Store
	index      uint64
	buf        []byte
	scope      *WriteScope
	dirty      bool
	overwrite  bool // obtained via AddNewBlock/ObtainBlockForOverwrite
}

// NewAfsBlock constructs a handle. scope is nil for blocks obtained purely
// for reading outside any write. Store implementations call this from
// AddNewBlock, ObtainBlock and ObtainBlockForOverwrite.
func NewAfsBlock(s Store, index uint64, buf []byte, scope *WriteScope, overwrite bool) *AfsBlock {
	return &AfsBlock{store: s, index: index, buf: buf, scope: scope, overwrite: overwrite}
}

// Index returns the block's zero-based index within its store.
func (b *AfsBlock) Index() uint64 {
	return b.index
}

// ReadPtr returns the block's contents for reading. Always available.
func (b *AfsBlock) ReadPtr() []byte {
	return b.buf
}

// WritePtr returns the block's contents for in-place mutation. It panics
// if this handle was not obtained for overwrite within a still-open write
// scope: that is a programming error, not a recoverable condition.
func (b *AfsBlock) WritePtr() []byte {
	if !b.overwrite {
		panic(fmt.Sprintf("blockstore: WritePtr on block %d not obtained for overwrite", b.index))
	}
	if !b.scope.Open() {
		panic(fmt.Sprintf("blockstore: WritePtr on block %d after write scope closed", b.index))
	}
	b.dirty = true
	return b.buf
}

// Dirty reports whether WritePtr has been called on this handle.
func (b *AfsBlock) Dirty() bool {
	return b.dirty
}

// Writable reports whether this handle was obtained for overwrite inside a
// currently-open write scope.
func (b *AfsBlock) Writable() bool {
	return b.overwrite && b.scope.Open()
}
