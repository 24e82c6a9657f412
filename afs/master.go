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
	"encoding/binary"
	"fmt"

	"github.com/denisbider/Atomic-sub003/blockstore"
)

const (
	masterBlockIndex = 0
	masterMagic      = uint32(0x4d736641) // "AfsM"
	masterVersion    = uint32(1)
	masterBlockBytes = 4 + 4 + 4 + 8 + 8 + 8 + 8
)

// masterBlock is the decoded contents of block 0: everything Afs needs to
// find the root and the free list on reopen.
type masterBlock struct {
	blockSize     uint32
	rootDirBlock  uint64
	freeListHead  uint64
	freeListCount uint64
	nrObjects     uint64
}

func encodeMasterBlock(m *masterBlock, blockSize int) []byte {
	buf := make([]byte, blockSize)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], masterMagic)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], masterVersion)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], m.blockSize)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], m.rootDirBlock)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], m.freeListHead)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], m.freeListCount)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], m.nrObjects)
	return buf
}

func decodeMasterBlock(buf []byte) (*masterBlock, error) {
	if len(buf) < masterBlockBytes {
		return nil, fmt.Errorf("afs: %w: master block too short", blockstore.ErrIntegrityViolation)
	}
	off := 0
	magic := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if magic != masterMagic {
		return nil, fmt.Errorf("afs: %w: bad master block signature", blockstore.ErrIntegrityViolation)
	}
	version := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if version != masterVersion {
		return nil, fmt.Errorf("afs: %w: unsupported master block version %d", blockstore.ErrIntegrityViolation, version)
	}
	m := &masterBlock{}
	m.blockSize = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	m.rootDirBlock = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	m.freeListHead = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	m.freeListCount = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	m.nrObjects = binary.LittleEndian.Uint64(buf[off:])
	return m, nil
}
