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

// Package afs implements the logical filesystem layer over a
// blockstore.Store: object identity, directories, files, a free list, and
// a path walker. An Afs is single-threaded (no internal locking) and owns
// its Store for the session.
//
// On-disk layout:
//
//   - Block 0 is the master block: magic/version, the store's block size,
//     the root directory's head block index, and the free list head.
//   - Every object (file or directory) has a head block holding its type,
//     parent ObjId, name, metadata, timestamps, and type-specific fields.
//   - A directory's entries live in a chain of directory blocks reachable
//     from the head block, kept sorted by (len(name) DESC, name ASC) at
//     all times (see dirblock.go).
//   - A file's data is either inlined in the head block ("mini" data) or
//     referenced through a chain of index blocks, each holding a run of
//     leaf data block indices plus a pointer to the next index block.
//
// Every block released by a delete or shrink is pushed onto the free
// list; AddNewBlock is only used once the free list is empty.
package afs

import "errors"

// ErrNotInitialized is returned by any operation attempted on an Afs
// before a successful Init or Open.
var ErrNotInitialized = errors.New("afs: not initialized")
