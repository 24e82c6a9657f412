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

package afstest_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/denisbider/Atomic-sub003/afs"
	"github.com/denisbider/Atomic-sub003/afstest"
	"github.com/denisbider/Atomic-sub003/blockstore"
	"github.com/denisbider/Atomic-sub003/clock"
)

// Randomized, weighted traffic against a small store, across several
// seeds and store sizes, always ends the same way: delete everything
// still reachable from root, and the store must report exactly the free
// space it started with and pass its own free-list check. A free-list
// leak or double-free would eventually show up here even though no
// individual assertion targets it directly.
func TestHarnessRandomizedTrafficReconcilesFreeListOnFullDelete(t *testing.T) {
	ctx := context.Background()
	configs := []struct {
		blockSize int
		maxBlocks uint64
		steps     int
	}{
		{blockSize: 256, maxBlocks: 128, steps: 400},
		{blockSize: 512, maxBlocks: 512, steps: 800},
		{blockSize: 4096, maxBlocks: 64, steps: 300},
	}

	for _, cfg := range configs {
		for _, seed := range []int64{1, 2, 3} {
			store := blockstore.NewMemStore(cfg.blockSize, cfg.maxBlocks)
			clk := clock.NewSimulatedClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
			a := afs.New(store, afs.Exact, clk)
			require.NoError(t, a.Init(ctx))

			baseline := a.FreeSpaceBlocks()

			h := afstest.NewHarness(a, seed)
			require.NoError(t, h.Run(ctx, cfg.steps))

			require.NoError(t, afstest.DeleteSubtree(ctx, a, afs.Root))
			require.NoError(t, a.VerifyFreeList(ctx))
			require.Equal(t, baseline, a.FreeSpaceBlocks(),
				"free space after deleting everything should match the post-Init baseline (blockSize=%d maxBlocks=%d seed=%d)",
				cfg.blockSize, cfg.maxBlocks, seed)

			entries, res, err := a.DirRead(ctx, afs.Root)
			require.NoError(t, err)
			require.True(t, res.Ok())
			require.Empty(t, entries)
		}
	}
}

// A single deterministic seed against a store too small to satisfy every
// request still must never surface a Go error: OutOfSpace and friends are
// expected outcomes of the traffic mix, not harness failures.
func TestHarnessToleratesOutOfSpaceUnderHeavyContention(t *testing.T) {
	ctx := context.Background()
	store := blockstore.NewMemStore(256, 12)
	clk := clock.NewSimulatedClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	a := afs.New(store, afs.Insensitive, clk)
	require.NoError(t, a.Init(ctx))

	h := afstest.NewHarness(a, 42)
	require.NoError(t, h.Run(ctx, 500))
	require.NoError(t, a.VerifyFreeList(ctx))
}
