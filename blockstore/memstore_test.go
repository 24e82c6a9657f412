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

package blockstore_test

import (
	"context"
	"testing"

	"github.com/denisbider/Atomic-sub003/blockstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreAddAndRead(t *testing.T) {
	ctx := context.Background()
	s := blockstore.NewMemStore(64, 16)

	scope, err := s.BeginJournaledWrite(ctx)
	require.NoError(t, err)

	b, res, err := s.AddNewBlock(ctx, scope)
	require.NoError(t, err)
	require.True(t, res.Ok())
	copy(b.WritePtr(), []byte("hello"))

	res, err = s.CompleteJournaledWrite(ctx, scope, []*blockstore.AfsBlock{b})
	require.NoError(t, err)
	require.True(t, res.Ok())

	rb, res, err := s.ObtainBlock(ctx, b.Index())
	require.NoError(t, err)
	require.True(t, res.Ok())
	assert.Equal(t, "hello", string(rb.ReadPtr()[:5]))
	assert.Equal(t, uint64(1), s.NrBlocks())
}

func TestMemStoreAbortDiscardsPendingBlocks(t *testing.T) {
	ctx := context.Background()
	s := blockstore.NewMemStore(64, 16)

	scope, err := s.BeginJournaledWrite(ctx)
	require.NoError(t, err)
	_, res, err := s.AddNewBlock(ctx, scope)
	require.NoError(t, err)
	require.True(t, res.Ok())

	s.AbortJournaledWrite(ctx, scope)

	assert.Equal(t, uint64(0), s.NrBlocks())
	assert.False(t, scope.Open())
}

func TestMemStoreWritePtrPanicsAfterScopeCloses(t *testing.T) {
	ctx := context.Background()
	s := blockstore.NewMemStore(64, 16)

	scope, err := s.BeginJournaledWrite(ctx)
	require.NoError(t, err)
	b, res, err := s.AddNewBlock(ctx, scope)
	require.NoError(t, err)
	require.True(t, res.Ok())
	res, err = s.CompleteJournaledWrite(ctx, scope, []*blockstore.AfsBlock{b})
	require.NoError(t, err)
	require.True(t, res.Ok())

	assert.Panics(t, func() {
		b.WritePtr()
	})
}

func TestMemStoreObtainBlockIndexInvalid(t *testing.T) {
	ctx := context.Background()
	s := blockstore.NewMemStore(64, 16)

	_, res, err := s.ObtainBlock(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, blockstore.BlockIndexInvalid, res)
	assert.False(t, res.Ok())
}
