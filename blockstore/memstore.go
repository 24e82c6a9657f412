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

import (
	"context"
	"fmt"
)

// MemStore is a straightforward in-memory Store: a slice of block buffers.
// CompleteJournaledWrite installs the staged buffers directly;
// AbortJournaledWrite just drops them. It is the reference model that
// FileStore and CryptStore are tested against.
type MemStore struct {
	blockSize   int
	maxNrBlocks uint64
	alloc       *Allocator

	blocks [][]byte

	open      bool
	scope     *WriteScope
	pending   map[uint64][]byte // staged new contents, index -> buf
	pendingNr int               // staged NrBlocks (>= len(blocks) while open)
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore with the given block size and cap.
// Pass maxNrBlocks = 0 for "no cap" (math.MaxUint64 is substituted).
func NewMemStore(blockSize int, maxNrBlocks uint64) *MemStore {
	if maxNrBlocks == 0 {
		maxNrBlocks = ^uint64(0)
	}
	return &MemStore{
		blockSize:   blockSize,
		maxNrBlocks: maxNrBlocks,
		alloc:       NewAllocator(blockSize),
	}
}

func (m *MemStore) BlockSize() int          { return m.blockSize }
func (m *MemStore) MaxNrBlocks() uint64     { return m.maxNrBlocks }
func (m *MemStore) NrBlocks() uint64        { return uint64(len(m.blocks)) }
func (m *MemStore) Allocator() *Allocator   { return m.alloc }

func (m *MemStore) BeginJournaledWrite(ctx context.Context) (*WriteScope, error) {
	if m.open {
		panic("blockstore: MemStore.BeginJournaledWrite called while a write is already open")
	}
	m.open = true
	m.scope = NewWriteScope(m)
	m.pending = make(map[uint64][]byte)
	m.pendingNr = len(m.blocks)
	return m.scope, nil
}

func (m *MemStore) requireOpenScope(scope *WriteScope) {
	if !m.open || scope != m.scope {
		panic("blockstore: MemStore operation requires the currently open write scope")
	}
}

func (m *MemStore) AddNewBlock(ctx context.Context, scope *WriteScope) (*AfsBlock, Result, error) {
	m.requireOpenScope(scope)
	if uint64(m.pendingNr) >= m.maxNrBlocks {
		return nil, OutOfSpace, nil
	}
	idx := uint64(m.pendingNr)
	m.pendingNr++
	buf := m.alloc.Acquire()
	for i := range buf {
		buf[i] = 0
	}
	m.pending[idx] = buf
	return NewAfsBlock(m, idx, buf, scope, true), OK, nil
}

func (m *MemStore) ObtainBlock(ctx context.Context, idx uint64) (*AfsBlock, Result, error) {
	if idx >= uint64(len(m.blocks)) {
		return nil, BlockIndexInvalid, nil
	}
	return NewAfsBlock(m, idx, m.blocks[idx], nil, false), OK, nil
}

func (m *MemStore) ObtainBlockForOverwrite(ctx context.Context, scope *WriteScope, idx uint64) (*AfsBlock, Result, error) {
	m.requireOpenScope(scope)
	if idx >= uint64(m.pendingNr) {
		return nil, BlockIndexInvalid, nil
	}
	if buf, ok := m.pending[idx]; ok {
		return NewAfsBlock(m, idx, buf, scope, true), OK, nil
	}
	buf := m.alloc.Acquire()
	copy(buf, m.blocks[idx])
	m.pending[idx] = buf
	return NewAfsBlock(m, idx, buf, scope, true), OK, nil
}

func (m *MemStore) CompleteJournaledWrite(ctx context.Context, scope *WriteScope, changed []*AfsBlock) (Result, error) {
	m.requireOpenScope(scope)
	defer m.endWrite()

	for _, b := range changed {
		if b.store != Store(m) {
			return OK, fmt.Errorf("blockstore: %w: changed block from a different store", ErrIntegrityViolation)
		}
	}

	if m.pendingNr > len(m.blocks) {
		grown := make([][]byte, m.pendingNr)
		copy(grown, m.blocks)
		m.blocks = grown
	}
	for idx, buf := range m.pending {
		m.blocks[idx] = buf
	}
	scope.Close()
	return OK, nil
}

func (m *MemStore) AbortJournaledWrite(ctx context.Context, scope *WriteScope) {
	m.requireOpenScope(scope)
	for _, buf := range m.pending {
		m.alloc.Release(buf)
	}
	scope.Close()
	m.endWrite()
}

func (m *MemStore) endWrite() {
	m.open = false
	m.scope = nil
	m.pending = nil
	m.pendingNr = 0
}
