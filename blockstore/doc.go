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

// Package blockstore defines the BlockStore abstraction: read/write access
// to fixed-size numbered blocks, with journaled atomic multi-block writes.
// It provides a pool allocator for block buffers (Allocator), the shared
// Result error-code type, and MemStore, an in-memory reference
// implementation used as the model against which on-disk and encrypted
// implementations are tested.
//
// Errors come in two classes. Operational errors (Result) are expected
// outcomes of normal use and are returned, never panicked or wrapped.
// Integrity errors indicate the store has observed something that should
// be impossible under correct operation (a corrupt journal record, a MAC
// that fails under a known-correct key, a free-list cycle); these are
// returned as plain errors wrapping ErrIntegrityViolation, and the store
// that raises one must refuse further operations until reopened.
package blockstore

import "errors"

// ErrIntegrityViolation is wrapped by every integrity/invariant-violation
// error raised by a Store implementation. Use errors.Is to detect it.
var ErrIntegrityViolation = errors.New("blockstore: integrity violation")
