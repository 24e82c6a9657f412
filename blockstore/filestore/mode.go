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

package filestore

// Mode selects the durability/consistency tradeoff a FileStore makes for
// CompleteJournaledWrite.
type Mode int

const (
	// Journal commits through the journal file: a committed record is
	// appended and flushed before being applied to the data file, giving
	// crash consistency at the cost of a write amplification pass.
	Journal Mode = iota

	// Flush writes directly to the data file and flushes (fsync) after
	// each committed batch. No journal file is used; a crash mid-write can
	// leave a partially-applied batch.
	Flush

	// NoFlush writes directly to the data file without a following flush;
	// the OS may reorder or delay the write to disk. Intended for tests
	// and other non-durable workloads.
	NoFlush

	// VerifyJournal behaves like Journal, including re-applying a
	// committed-but-unapplied journal record at Open; after that recovery
	// it additionally checks the data file's length against its recorded
	// block count and syncs the data file.
	VerifyJournal
)

// usesJournal reports whether this mode writes through a journal file at
// all (Journal and VerifyJournal do; Flush and NoFlush do not).
func (m Mode) usesJournal() bool {
	return m == Journal || m == VerifyJournal
}

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case Journal:
		return "Journal"
	case Flush:
		return "Flush"
	case NoFlush:
		return "NoFlush"
	case VerifyJournal:
		return "VerifyJournal"
	default:
		return "Mode(unknown)"
	}
}
