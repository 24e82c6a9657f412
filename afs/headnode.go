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
	"time"

	"github.com/denisbider/Atomic-sub003/blockstore"
	"github.com/google/uuid"
)

// ObjType distinguishes a directory head node from a file head node.
type ObjType byte

const (
	TypeDir  ObjType = 1
	TypeFile ObjType = 2
)

func (t ObjType) String() string {
	switch t {
	case TypeDir:
		return "dir"
	case TypeFile:
		return "file"
	default:
		return fmt.Sprintf("ObjType(%d)", byte(t))
	}
}

// noBlock is the sentinel value meaning "no block", used for free-list
// heads, directory chain heads and index-block chain links.
const noBlock = ^uint64(0)

// fileRepr selects how a file's data is represented.
type fileRepr byte

const (
	reprMini fileRepr = 0
	reprTree fileRepr = 1
)

// headNode is the decoded contents of an object's head block. It is
// serialized into exactly one block; mini file data and metadata share
// that block's remaining space, which is what makes
// FileMaxMiniNodeBytes depend on metadata length.
type headNode struct {
	typ        ObjType
	parent     ObjId
	name       string
	meta       []byte
	createTime time.Time
	modifyTime time.Time

	// Dir fields.
	dirHead    uint64 // first directory-entry block, or noBlock
	entryCount uint32

	// File fields.
	size  uint64
	repr  fileRepr
	mini  []byte // used when repr == reprMini
	index uint64 // first index block, used when repr == reprTree
}

const headNodeFixedBytes = 1 /* type */ + 16 + 8 /* parent */ + 8 + 8 /* times */ + 2 /* nameLen */ + 2 /* metaLen */

func encodeHeadNode(h *headNode, blockSize int) ([]byte, error) {
	buf := make([]byte, blockSize)
	w := buf
	off := 0

	w[off] = byte(h.typ)
	off++
	copy(w[off:off+16], h.parent.Token[:])
	off += 16
	binary.LittleEndian.PutUint64(w[off:off+8], h.parent.BlockIndex)
	off += 8
	binary.LittleEndian.PutUint64(w[off:off+8], uint64(h.createTime.UnixNano()))
	off += 8
	binary.LittleEndian.PutUint64(w[off:off+8], uint64(h.modifyTime.UnixNano()))
	off += 8

	if len(h.name) > 0xFFFF {
		return nil, fmt.Errorf("afs: name too long to encode (%d bytes)", len(h.name))
	}
	binary.LittleEndian.PutUint16(w[off:off+2], uint16(len(h.name)))
	off += 2
	if len(h.meta) > 0xFFFF {
		return nil, fmt.Errorf("afs: metadata too long to encode (%d bytes)", len(h.meta))
	}
	binary.LittleEndian.PutUint16(w[off:off+2], uint16(len(h.meta)))
	off += 2

	need := off + len(h.name) + len(h.meta)
	if need > blockSize {
		return nil, fmt.Errorf("afs: %s", blockstore.OutOfSpace)
	}
	copy(w[off:], h.name)
	off += len(h.name)
	copy(w[off:], h.meta)
	off += len(h.meta)

	switch h.typ {
	case TypeDir:
		if off+8+4 > blockSize {
			return nil, fmt.Errorf("afs: %s", blockstore.OutOfSpace)
		}
		binary.LittleEndian.PutUint64(w[off:off+8], h.dirHead)
		off += 8
		binary.LittleEndian.PutUint32(w[off:off+4], h.entryCount)
		off += 4
	case TypeFile:
		if off+8+1+4 > blockSize {
			return nil, fmt.Errorf("afs: %s", blockstore.OutOfSpace)
		}
		binary.LittleEndian.PutUint64(w[off:off+8], h.size)
		off += 8
		w[off] = byte(h.repr)
		off++
		switch h.repr {
		case reprMini:
			if off+4+len(h.mini) > blockSize {
				return nil, fmt.Errorf("afs: %s", blockstore.OutOfSpace)
			}
			binary.LittleEndian.PutUint32(w[off:off+4], uint32(len(h.mini)))
			off += 4
			copy(w[off:], h.mini)
			off += len(h.mini)
		case reprTree:
			if off+8 > blockSize {
				return nil, fmt.Errorf("afs: %s", blockstore.OutOfSpace)
			}
			binary.LittleEndian.PutUint64(w[off:off+8], h.index)
			off += 8
		}
	default:
		return nil, fmt.Errorf("afs: unknown object type %d", h.typ)
	}

	return buf, nil
}

func decodeHeadNode(buf []byte) (*headNode, error) {
	if len(buf) < headNodeFixedBytes {
		return nil, fmt.Errorf("afs: %w: head block too short", blockstore.ErrIntegrityViolation)
	}
	h := &headNode{}
	off := 0
	h.typ = ObjType(buf[off])
	off++
	var token uuid.UUID
	copy(token[:], buf[off:off+16])
	off += 16
	blockIdx := binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	h.parent = ObjId{Token: token, BlockIndex: blockIdx}
	h.createTime = time.Unix(0, int64(binary.LittleEndian.Uint64(buf[off:off+8])))
	off += 8
	h.modifyTime = time.Unix(0, int64(binary.LittleEndian.Uint64(buf[off:off+8])))
	off += 8
	nameLen := int(binary.LittleEndian.Uint16(buf[off : off+2]))
	off += 2
	metaLen := int(binary.LittleEndian.Uint16(buf[off : off+2]))
	off += 2

	if off+nameLen+metaLen > len(buf) {
		return nil, fmt.Errorf("afs: %w: head block name/meta length overruns block", blockstore.ErrIntegrityViolation)
	}
	h.name = string(buf[off : off+nameLen])
	off += nameLen
	h.meta = append([]byte(nil), buf[off:off+metaLen]...)
	off += metaLen

	switch h.typ {
	case TypeDir:
		if off+8+4 > len(buf) {
			return nil, fmt.Errorf("afs: %w: dir head block truncated", blockstore.ErrIntegrityViolation)
		}
		h.dirHead = binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
		h.entryCount = binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
	case TypeFile:
		if off+8+1 > len(buf) {
			return nil, fmt.Errorf("afs: %w: file head block truncated", blockstore.ErrIntegrityViolation)
		}
		h.size = binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
		h.repr = fileRepr(buf[off])
		off++
		switch h.repr {
		case reprMini:
			if off+4 > len(buf) {
				return nil, fmt.Errorf("afs: %w: file head block truncated", blockstore.ErrIntegrityViolation)
			}
			miniLen := int(binary.LittleEndian.Uint32(buf[off : off+4]))
			off += 4
			if off+miniLen > len(buf) {
				return nil, fmt.Errorf("afs: %w: mini data overruns head block", blockstore.ErrIntegrityViolation)
			}
			h.mini = append([]byte(nil), buf[off:off+miniLen]...)
			off += miniLen
		case reprTree:
			if off+8 > len(buf) {
				return nil, fmt.Errorf("afs: %w: file head block truncated", blockstore.ErrIntegrityViolation)
			}
			h.index = binary.LittleEndian.Uint64(buf[off : off+8])
			off += 8
		default:
			return nil, fmt.Errorf("afs: %w: unknown file representation %d", blockstore.ErrIntegrityViolation, h.repr)
		}
	default:
		return nil, fmt.Errorf("afs: %w: unknown object type %d", blockstore.ErrIntegrityViolation, h.typ)
	}

	return h, nil
}

// maxMiniBytes returns how many bytes of inline file data can fit in a
// head block alongside the given name and metadata, for a store with the
// given block size.
func maxMiniBytes(blockSize int, nameLen, metaLen int) int {
	fixed := headNodeFixedBytes + nameLen + metaLen + 8 /* size */ + 1 /* repr */ + 4 /* mini len */
	room := blockSize - fixed
	if room < 0 {
		return 0
	}
	return room
}
