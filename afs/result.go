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

import "github.com/denisbider/Atomic-sub003/blockstore"

// Result is the Afs-level outcome enum. It is the same stable,
// cross-layer integer type blockstore and cryptstore use, so that a
// Result returned from deep inside the stack (e.g. BlockIndexInvalid
// surfacing through a CryptStore wrapping a FileStore) needs no
// translation at the Afs boundary.
type Result = blockstore.Result

const (
	OK                = blockstore.OK
	NameExists        = blockstore.NameExists
	NameNotInDir      = blockstore.NameNotInDir
	ObjNotFound       = blockstore.ObjNotFound
	MoveDestInvalid   = blockstore.MoveDestInvalid
	BlockIndexInvalid = blockstore.BlockIndexInvalid
	OutOfSpace        = blockstore.OutOfSpace
)
