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

import "context"

// Store is the abstract BlockStore: a numbered sequence of fixed-size
// blocks with journaled, all-or-nothing multi-block writes. MemStore,
// filestore.FileStore and cryptstore.CryptStore all implement it; a
// CryptStore composes another Store as its "outer" storage.
//
// A Store is used from a single goroutine at a time and does no internal
// locking. Exactly one journaled write may be open at a time; calling
// BeginJournaledWrite while one is already open is a programming error
// and panics.
type Store interface {
	// BlockSize returns the fixed block payload size in bytes, constant
	// for the store's lifetime.
	BlockSize() int

	// MaxNrBlocks returns the hard cap on NrBlocks, or math.MaxUint64 if
	// the store has no cap of its own.
	MaxNrBlocks() uint64

	// NrBlocks returns the current block count. It only changes via a
	// committed journaled write that added blocks.
	NrBlocks() uint64

	// Allocator returns the block buffer pool backing this store.
	Allocator() *Allocator

	// BeginJournaledWrite opens a new write scope. The store must be
	// Ready; it transitions to WriteOpen.
	BeginJournaledWrite(ctx context.Context) (*WriteScope, error)

	// AddNewBlock appends a new zero-filled block and returns a handle
	// obtained for overwrite. scope must be the currently open scope.
	// Returns OutOfSpace if MaxNrBlocks would be exceeded.
	AddNewBlock(ctx context.Context, scope *WriteScope) (*AfsBlock, Result, error)

	// ObtainBlock returns a read-access handle on block idx. Valid at any
	// time, independent of any open write. Returns BlockIndexInvalid if
	// idx >= NrBlocks.
	ObtainBlock(ctx context.Context, idx uint64) (*AfsBlock, Result, error)

	// ObtainBlockForOverwrite returns a handle whose WritePtr may be used
	// to replace block idx's contents. Initial contents via ReadPtr are
	// unspecified until WritePtr is called; scope must be the currently
	// open scope.
	ObtainBlockForOverwrite(ctx context.Context, scope *WriteScope, idx uint64) (*AfsBlock, Result, error)

	// CompleteJournaledWrite atomically publishes every block in changed.
	// On success all changes become visible together; on OutOfSpace or any
	// other failure, no change in changed becomes visible and the store
	// remains Ready.
	CompleteJournaledWrite(ctx context.Context, scope *WriteScope, changed []*AfsBlock) (Result, error)

	// AbortJournaledWrite discards all staged changes in scope. It never
	// fails. Any AfsBlock still referencing scope must be treated by the
	// caller as write-aborted.
	AbortJournaledWrite(ctx context.Context, scope *WriteScope)
}
