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

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"
)

// commitMarker is the distinct magic written after a record's payload once
// that record is fully committed. Its absence (or a short read where it
// should be) means the record was never committed and must be discarded
// during recovery.
const commitMarker uint32 = 0xC0FFEE01

// journalTuple is one (blockIndex, contents) pair staged by a journaled
// write, either an overwrite of an existing block or a newly added one.
type journalTuple struct {
	blockIndex uint64
	contents   []byte
}

// encodeRecord serializes tuples into the on-disk record format:
//
//	recLen   uint32  (len of flags + digest + payload)
//	flags    uint32
//	digest   [32]byte  sha256 over payload
//	payload  count uint32, then count * (blockIndex uint64, contents)
//
// blockSize is needed because contents are not length-prefixed
// individually: every block is a fixed size. flags is reserved for
// future use and is always zero in this build.
func encodeRecord(tuples []journalTuple, blockSize int) ([]byte, error) {
	payload := new(bytes.Buffer)
	if err := binary.Write(payload, binary.LittleEndian, uint32(len(tuples))); err != nil {
		return nil, err
	}
	for _, t := range tuples {
		if len(t.contents) != blockSize {
			return nil, fmt.Errorf("filestore: tuple for block %d has %d bytes, want %d", t.blockIndex, len(t.contents), blockSize)
		}
		if err := binary.Write(payload, binary.LittleEndian, t.blockIndex); err != nil {
			return nil, err
		}
		if _, err := payload.Write(t.contents); err != nil {
			return nil, err
		}
	}

	digest := sha256.Sum256(payload.Bytes())

	out := new(bytes.Buffer)
	recLen := uint32(4 /* flags */ + len(digest) + payload.Len())
	if err := binary.Write(out, binary.LittleEndian, recLen); err != nil {
		return nil, err
	}
	if err := binary.Write(out, binary.LittleEndian, uint32(0) /* flags */); err != nil {
		return nil, err
	}
	if _, err := out.Write(digest[:]); err != nil {
		return nil, err
	}
	if _, err := out.Write(payload.Bytes()); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// appendJournalRecord appends one record plus its trailing commit marker to
// the journal file and flushes it to durable storage. For large tuple
// sets the per-tuple encoding is fanned out via errgroup; the digest and
// the single append+flush stay sequential.
func appendJournalRecord(f *os.File, tuples []journalTuple, blockSize int) error {
	const parallelDigestThreshold = 8

	var rec []byte
	if len(tuples) < parallelDigestThreshold {
		var err error
		rec, err = encodeRecord(tuples, blockSize)
		if err != nil {
			return err
		}
	} else {
		// Independent per-tuple encoding work (each tuple's bytes are
		// produced without depending on any other tuple) is fanned out;
		// only the final concatenation and digest are sequential.
		encoded := make([][]byte, len(tuples))
		g := new(errgroup.Group)
		for i, t := range tuples {
			i, t := i, t
			g.Go(func() error {
				buf := new(bytes.Buffer)
				if len(t.contents) != blockSize {
					return fmt.Errorf("filestore: tuple for block %d has %d bytes, want %d", t.blockIndex, len(t.contents), blockSize)
				}
				if err := binary.Write(buf, binary.LittleEndian, t.blockIndex); err != nil {
					return err
				}
				buf.Write(t.contents)
				encoded[i] = buf.Bytes()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		payload := new(bytes.Buffer)
		binary.Write(payload, binary.LittleEndian, uint32(len(tuples)))
		for _, e := range encoded {
			payload.Write(e)
		}
		digest := sha256.Sum256(payload.Bytes())

		out := new(bytes.Buffer)
		recLen := uint32(4 + len(digest) + payload.Len())
		binary.Write(out, binary.LittleEndian, recLen)
		binary.Write(out, binary.LittleEndian, uint32(0))
		out.Write(digest[:])
		out.Write(payload.Bytes())
		rec = out.Bytes()
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	if _, err := f.Write(rec); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, commitMarker); err != nil {
		return err
	}
	return f.Sync()
}

// readJournalRecord reads one record (including its trailing commit
// marker, if present) starting at the file's current offset. ok is false
// if no well-formed, digest-valid, committed record begins there; in that
// case nextOffset is that starting offset, and the journal must be
// truncated to it to discard the dangling tail.
func readJournalRecord(f *os.File, blockSize int) (tuples []journalTuple, ok bool, nextOffset int64, err error) {
	start, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, false, 0, err
	}

	var recLen uint32
	if err := binary.Read(f, binary.LittleEndian, &recLen); err != nil {
		if err == io.EOF {
			return nil, false, start, nil
		}
		return nil, false, start, nil
	}
	if recLen < 4+32+4 {
		return nil, false, start, nil
	}

	rest := make([]byte, recLen)
	if _, err := io.ReadFull(f, rest); err != nil {
		return nil, false, start, nil
	}

	r := bytes.NewReader(rest)
	var flags uint32
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return nil, false, start, nil
	}
	var digest [32]byte
	if _, err := io.ReadFull(r, digest[:]); err != nil {
		return nil, false, start, nil
	}
	payload := rest[4+32:]
	gotDigest := sha256.Sum256(payload)
	if !bytes.Equal(gotDigest[:], digest[:]) {
		return nil, false, start, nil
	}

	pr := bytes.NewReader(payload)
	var count uint32
	if err := binary.Read(pr, binary.LittleEndian, &count); err != nil {
		return nil, false, start, nil
	}
	tuples = make([]journalTuple, 0, count)
	for i := uint32(0); i < count; i++ {
		var idx uint64
		if err := binary.Read(pr, binary.LittleEndian, &idx); err != nil {
			return nil, false, start, nil
		}
		contents := make([]byte, blockSize)
		if _, err := io.ReadFull(pr, contents); err != nil {
			return nil, false, start, nil
		}
		tuples = append(tuples, journalTuple{blockIndex: idx, contents: contents})
	}

	var marker uint32
	if err := binary.Read(f, binary.LittleEndian, &marker); err != nil || marker != commitMarker {
		// Record is well-formed and its digest checks out, but it was
		// never committed: treat the whole thing (including the header
		// we've already read) as a dangling tail to discard.
		return nil, false, start, nil
	}

	end, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, false, start, err
	}
	return tuples, true, end, nil
}

// recoverJournal replays every committed record in the journal file into
// applyFn (typically a function that writes a block's contents into the
// data file), then truncates the journal to empty. It is idempotent: if
// called again with nothing left to recover, it is a no-op.
func recoverJournal(f *os.File, blockSize int, applyFn func(idx uint64, contents []byte) error) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	var lastGoodEnd int64
	for {
		tuples, ok, next, err := readJournalRecord(f, blockSize)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		for _, t := range tuples {
			if err := applyFn(t.blockIndex, t.contents); err != nil {
				return err
			}
		}
		lastGoodEnd = next
		if _, err := f.Seek(next, io.SeekStart); err != nil {
			return err
		}
	}
	_ = lastGoodEnd

	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return nil
}
