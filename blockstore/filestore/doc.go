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

// Package filestore is an on-disk blockstore.Store backed by a pair of
// files: a data file holding the current state, and a journal file used to
// publish multi-block writes atomically in Journal and VerifyJournal
// modes. See Mode for the supported consistency/durability tradeoffs.
package filestore

import "errors"

// ErrClosed is returned by any operation attempted after Close.
var ErrClosed = errors.New("filestore: store is closed")
