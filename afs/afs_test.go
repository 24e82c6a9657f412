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

package afs_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/suite"

	"github.com/denisbider/Atomic-sub003/afs"
	"github.com/denisbider/Atomic-sub003/blockstore"
	"github.com/denisbider/Atomic-sub003/clock"
)

// newTestAfs builds an Afs over a fresh in-memory store with a fixed
// simulated clock, so tests can assert on createTime/modifyTime exactly.
func newTestAfs(t *testing.T, blockSize int, maxBlocks uint64) (*afs.Afs, context.Context, *clock.SimulatedClock) {
	t.Helper()
	ctx := context.Background()
	store := blockstore.NewMemStore(blockSize, maxBlocks)
	clk := clock.NewSimulatedClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	a := afs.New(store, afs.Insensitive, clk)
	if err := a.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return a, ctx, clk
}

// AfsSuite exercises the logical filesystem layer over an in-memory store.
type AfsSuite struct {
	suite.Suite
	a   *afs.Afs
	ctx context.Context
	clk *clock.SimulatedClock
}

func (s *AfsSuite) SetupTest() {
	s.a, s.ctx, s.clk = newTestAfs(s.T(), 512, 4096)
}

func TestAfsSuite(t *testing.T) {
	suite.Run(t, new(AfsSuite))
}

func (s *AfsSuite) TestDirCreateAndRead() {
	_, res, err := s.a.DirCreate(s.ctx, afs.Root, "docs", nil)
	s.Require().NoError(err)
	s.Require().True(res.Ok())

	entries, res, err := s.a.DirRead(s.ctx, afs.Root)
	s.Require().NoError(err)
	s.Require().True(res.Ok())
	s.Require().Len(entries, 1)

	want := []afs.PathEntry{{Id: entries[0].Id, Name: "docs", Type: afs.TypeDir}}
	if diff := cmp.Diff(want, entries); diff != "" {
		s.Fail("directory entries mismatch (-want +got):\n" + diff)
	}
}

func (s *AfsSuite) TestDirCreateDuplicateNameFails() {
	_, res, err := s.a.DirCreate(s.ctx, afs.Root, "docs", nil)
	s.Require().NoError(err)
	s.Require().True(res.Ok())

	_, res, err = s.a.DirCreate(s.ctx, afs.Root, "docs", nil)
	s.Require().NoError(err)
	s.Assert().Equal(afs.NameExists, res)
}

func (s *AfsSuite) TestDirCreateIsCaseInsensitiveByDefault() {
	_, res, err := s.a.DirCreate(s.ctx, afs.Root, "Docs", nil)
	s.Require().NoError(err)
	s.Require().True(res.Ok())

	_, res, err = s.a.DirCreate(s.ctx, afs.Root, "docs", nil)
	s.Require().NoError(err)
	s.Assert().Equal(afs.NameExists, res)
}

func (s *AfsSuite) TestFileWriteReadMiniRoundTrip() {
	id, res, err := s.a.FileCreate(s.ctx, afs.Root, "a.txt", nil)
	s.Require().NoError(err)
	s.Require().True(res.Ok())

	payload := []byte("hello, afs")
	res, err = s.a.FileWrite(s.ctx, id, 0, payload)
	s.Require().NoError(err)
	s.Require().True(res.Ok())

	buf := make([]byte, len(payload))
	n, res, err := s.a.FileRead(s.ctx, id, 0, buf)
	s.Require().NoError(err)
	s.Require().True(res.Ok())
	s.Assert().Equal(len(payload), n)
	s.Assert().Equal(payload, buf)
}

func (s *AfsSuite) TestFilePromotesFromMiniToTreeOnGrowth() {
	id, res, err := s.a.FileCreate(s.ctx, afs.Root, "big.bin", nil)
	s.Require().NoError(err)
	s.Require().True(res.Ok())

	maxMini, err := s.a.FileMaxMiniNodeBytes(s.ctx, id)
	s.Require().NoError(err)

	big := make([]byte, maxMini+2000)
	for i := range big {
		big[i] = byte(i)
	}
	res, err = s.a.FileWrite(s.ctx, id, 0, big)
	s.Require().NoError(err)
	s.Require().True(res.Ok())

	buf := make([]byte, len(big))
	n, res, err := s.a.FileRead(s.ctx, id, 0, buf)
	s.Require().NoError(err)
	s.Require().True(res.Ok())
	s.Assert().Equal(len(big), n)
	s.Assert().Equal(big, buf)

	info, res, err := s.a.ObjStat(s.ctx, id)
	s.Require().NoError(err)
	s.Require().True(res.Ok())
	s.Assert().Equal(uint64(len(big)), info.Size)
}

func (s *AfsSuite) TestFileSetSizeGrowAndShrink() {
	id, res, err := s.a.FileCreate(s.ctx, afs.Root, "f", nil)
	s.Require().NoError(err)
	s.Require().True(res.Ok())

	got, res, err := s.a.FileSetSize(s.ctx, id, 10000)
	s.Require().NoError(err)
	s.Require().True(res.Ok())
	s.Assert().Equal(uint64(10000), got)

	got, res, err = s.a.FileSetSize(s.ctx, id, 5)
	s.Require().NoError(err)
	s.Require().True(res.Ok())
	s.Assert().Equal(uint64(5), got)

	info, res, err := s.a.ObjStat(s.ctx, id)
	s.Require().NoError(err)
	s.Require().True(res.Ok())
	s.Assert().Equal(uint64(5), info.Size)
}

// TestFileSetSizeStampsModifyTimeFromClock checks that mutating ops read
// their timestamp from the injected clock rather than the wall clock.
func (s *AfsSuite) TestFileSetSizeStampsModifyTimeFromClock() {
	id, res, err := s.a.FileCreate(s.ctx, afs.Root, "f", nil)
	s.Require().NoError(err)
	s.Require().True(res.Ok())

	s.clk.AdvanceTime(5 * time.Hour)
	_, res, err = s.a.FileSetSize(s.ctx, id, 10)
	s.Require().NoError(err)
	s.Require().True(res.Ok())

	info, res, err := s.a.ObjStat(s.ctx, id)
	s.Require().NoError(err)
	s.Require().True(res.Ok())
	s.Assert().True(info.ModifyTime.Equal(s.clk.Now()))
}

func (s *AfsSuite) TestObjMoveRejectsMovingDirectoryUnderItself() {
	parent, res, err := s.a.DirCreate(s.ctx, afs.Root, "parent", nil)
	s.Require().NoError(err)
	s.Require().True(res.Ok())

	child, res, err := s.a.DirCreate(s.ctx, parent, "child", nil)
	s.Require().NoError(err)
	s.Require().True(res.Ok())

	res, err = s.a.ObjMove(s.ctx, parent, child, "parent")
	s.Require().NoError(err)
	s.Assert().Equal(afs.MoveDestInvalid, res)
}

func (s *AfsSuite) TestObjMoveRenamesAndRelinks() {
	src, res, err := s.a.DirCreate(s.ctx, afs.Root, "src", nil)
	s.Require().NoError(err)
	s.Require().True(res.Ok())
	dst, res, err := s.a.DirCreate(s.ctx, afs.Root, "dst", nil)
	s.Require().NoError(err)
	s.Require().True(res.Ok())

	id, res, err := s.a.FileCreate(s.ctx, src, "f.txt", nil)
	s.Require().NoError(err)
	s.Require().True(res.Ok())

	res, err = s.a.ObjMove(s.ctx, id, dst, "g.txt")
	s.Require().NoError(err)
	s.Require().True(res.Ok())

	srcEntries, res, err := s.a.DirRead(s.ctx, src)
	s.Require().NoError(err)
	s.Require().True(res.Ok())
	s.Assert().Empty(srcEntries)

	dstEntries, res, err := s.a.DirRead(s.ctx, dst)
	s.Require().NoError(err)
	s.Require().True(res.Ok())
	s.Require().Len(dstEntries, 1)
	s.Assert().Equal("g.txt", dstEntries[0].Name)
}

func (s *AfsSuite) TestObjDeleteRejectsNonEmptyDirectory() {
	dir, res, err := s.a.DirCreate(s.ctx, afs.Root, "dir", nil)
	s.Require().NoError(err)
	s.Require().True(res.Ok())
	_, res, err = s.a.FileCreate(s.ctx, dir, "f", nil)
	s.Require().NoError(err)
	s.Require().True(res.Ok())

	res, err = s.a.ObjDelete(s.ctx, dir)
	s.Require().NoError(err)
	s.Assert().Equal(afs.NameExists, res)
}

func (s *AfsSuite) TestFreeListReconciledAfterDeletes() {
	ids := make([]afs.ObjId, 0, 20)
	for i := 0; i < 20; i++ {
		id, res, err := s.a.FileCreate(s.ctx, afs.Root, string(rune('a'+i)), nil)
		s.Require().NoError(err)
		s.Require().True(res.Ok())
		ids = append(ids, id)
	}
	for _, id := range ids {
		res, err := s.a.ObjDelete(s.ctx, id)
		s.Require().NoError(err)
		s.Require().True(res.Ok())
	}

	s.Require().NoError(s.a.VerifyFreeList(s.ctx))
	s.Assert().GreaterOrEqual(s.a.FreeSpaceBlocks(), uint64(20))
}

func (s *AfsSuite) TestCrackPathResolvesNestedPath() {
	sub, res, err := s.a.DirCreate(s.ctx, afs.Root, "a", nil)
	s.Require().NoError(err)
	s.Require().True(res.Ok())
	_, res, err = s.a.FileCreate(s.ctx, sub, "b", nil)
	s.Require().NoError(err)
	s.Require().True(res.Ok())

	entries, res, err := s.a.CrackPath(s.ctx, afs.Root, "/a/b")
	s.Require().NoError(err)
	s.Require().True(res.Ok())
	s.Require().Len(entries, 2)
	s.Assert().Equal("a", entries[0].Name)
	s.Assert().Equal("b", entries[1].Name)
}

// A store with barely enough blocks to hold the master block, the root
// head block and root's first (empty) directory block has no room left
// after Init: the very next create has nowhere to put its head block.
func (s *AfsSuite) TestOutOfSpaceOnMinimalStore() {
	a, ctx, _ := newTestAfs(s.T(), 512, 3)
	s.Assert().Equal(uint64(0), a.FreeSpaceBlocks())

	_, res, err := a.DirCreate(ctx, afs.Root, "a", nil)
	s.Require().NoError(err)
	s.Assert().Equal(afs.OutOfSpace, res)

	_, res, err = a.FileCreate(ctx, afs.Root, "a", nil)
	s.Require().NoError(err)
	s.Assert().Equal(afs.OutOfSpace, res)
}

// One block of slack is enough to create a single object, and deleting
// it returns that block to circulation so the next create can reuse it.
func (s *AfsSuite) TestFreeSpaceAccountingAcrossCreateAndDelete() {
	a, ctx, _ := newTestAfs(s.T(), 512, 4)
	s.Assert().Equal(uint64(1), a.FreeSpaceBlocks())

	dirId, res, err := a.DirCreate(ctx, afs.Root, "a", nil)
	s.Require().NoError(err)
	s.Require().True(res.Ok())
	s.Assert().Equal(uint64(0), a.FreeSpaceBlocks())

	_, res, err = a.DirCreate(ctx, afs.Root, "A", nil)
	s.Require().NoError(err)
	s.Assert().Equal(afs.NameExists, res)

	_, res, err = a.FileCreate(ctx, afs.Root, "a", nil)
	s.Require().NoError(err)
	s.Assert().Equal(afs.NameExists, res)

	_, res, err = a.FileCreate(ctx, afs.Root, "b", nil)
	s.Require().NoError(err)
	s.Assert().Equal(afs.OutOfSpace, res)

	entries, res, err := a.CrackPath(ctx, afs.Root, "/A")
	s.Require().NoError(err)
	s.Require().True(res.Ok())
	s.Require().Len(entries, 1)
	s.Assert().Equal("a", entries[0].Name)
	s.Assert().Equal(afs.TypeDir, entries[0].Type)
	s.Assert().Equal(dirId, entries[0].Id)

	res, err = a.ObjDelete(ctx, dirId)
	s.Require().NoError(err)
	s.Require().True(res.Ok())
	s.Assert().Equal(uint64(1), a.FreeSpaceBlocks())

	fileId, res, err := a.FileCreate(ctx, afs.Root, "a", nil)
	s.Require().NoError(err)
	s.Require().True(res.Ok())
	s.Assert().NotEqual(dirId, fileId)
}
