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

import "github.com/google/uuid"

// ObjId identifies an object (file or directory) for the lifetime of the
// Afs that created it. Token is a freshly generated 128-bit value at
// creation time; BlockIndex is the object's head block, stable for the
// object's lifetime since ObjMove only rewrites the head node's parent
// and name fields, never relocates it. Equality is by Token alone.
type ObjId struct {
	Token      uuid.UUID
	BlockIndex uint64
}

// Root is the sentinel ObjId meaning "the root directory", usable
// without knowing the root's actual head block index. Afs resolves it
// to the real ObjId (with BlockIndex set from the master block) before
// use.
var Root = ObjId{}

// IsRoot reports whether id refers to the root directory.
func (id ObjId) IsRoot() bool {
	return id.Token == uuid.Nil
}

// Equal reports whether id and other name the same object.
func (id ObjId) Equal(other ObjId) bool {
	return id.Token == other.Token
}

func newObjId(blockIndex uint64) ObjId {
	return ObjId{Token: uuid.New(), BlockIndex: blockIndex}
}
