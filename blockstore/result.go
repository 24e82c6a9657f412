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

// Result is the stable, cross-layer operational error code shared by
// BlockStore, CryptStore and Afs. Operational results are expected outcomes
// of normal use; callers branch on them. They are distinct from integrity
// errors, which are plain Go errors wrapped with ErrIntegrityViolation and
// which poison the store (see doc.go).
type Result int

const (
	// OK indicates the operation completed as requested.
	OK Result = iota

	// NameExists indicates a create/rename would collide with an existing
	// directory entry.
	NameExists

	// NameNotInDir indicates a lookup or delete target does not exist under
	// the named parent.
	NameNotInDir

	// ObjNotFound indicates an ObjId no longer resolves to a live object.
	ObjNotFound

	// MoveDestInvalid indicates an ObjMove would move a directory into
	// itself or one of its own descendants.
	MoveDestInvalid

	// BlockIndexInvalid indicates a block index outside [0, NrBlocks).
	BlockIndexInvalid

	// OutOfSpace indicates the store cannot grow to satisfy the request.
	// The store remains internally consistent.
	OutOfSpace

	// MacMismatch indicates a CryptStore block failed MAC verification
	// under an otherwise-authenticated MAC key. This is an integrity
	// failure: it is represented here as a Result for parity with the
	// specified stable error codes, but CryptStore surfaces it wrapped in
	// an error, not as a bare Result return.
	MacMismatch

	// SignatureMismatch indicates a CryptStore key block does not begin
	// with the expected magic signatures.
	SignatureMismatch

	// VersionMismatch indicates a CryptStore key block carries a prefix or
	// payload version this build does not understand.
	VersionMismatch
)

var resultNames = [...]string{
	"OK",
	"NameExists",
	"NameNotInDir",
	"ObjNotFound",
	"MoveDestInvalid",
	"BlockIndexInvalid",
	"OutOfSpace",
	"MacMismatch",
	"SignatureMismatch",
	"VersionMismatch",
}

// String implements fmt.Stringer.
func (r Result) String() string {
	if r < 0 || int(r) >= len(resultNames) {
		return fmt.Sprintf("Result(%d)", int(r))
	}
	return resultNames[r]
}

// Ok reports whether r is the success value.
func (r Result) Ok() bool {
	return r == OK
}
