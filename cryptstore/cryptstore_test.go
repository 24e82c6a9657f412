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

package cryptstore_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/denisbider/Atomic-sub003/blockstore"
	"github.com/denisbider/Atomic-sub003/cryptstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keys(t *testing.T) (encr, mac []byte) {
	t.Helper()
	encr = bytes.Repeat([]byte{0xAB}, cryptstore.EncrKeyBytes)
	mac = bytes.Repeat([]byte{0xCD}, cryptstore.MacKeyBytes)
	return
}

func TestCryptStoreRoundTripsBlockContent(t *testing.T) {
	ctx := context.Background()
	outer := blockstore.NewMemStore(4096, 1024)
	cs := cryptstore.New(outer, cryptstore.DefaultSuite())
	encr, mac := keys(t)

	ok, err := cs.Init(ctx, encr, mac)
	require.NoError(t, err)
	require.True(t, ok)

	scope, err := cs.BeginJournaledWrite(ctx)
	require.NoError(t, err)
	b, res, err := cs.AddNewBlock(ctx, scope)
	require.NoError(t, err)
	require.True(t, res.Ok())
	copy(b.WritePtr(), []byte("plaintext payload"))
	res, err = cs.CompleteJournaledWrite(ctx, scope, []*blockstore.AfsBlock{b})
	require.NoError(t, err)
	require.True(t, res.Ok())

	rb, res, err := cs.ObtainBlock(ctx, b.Index())
	require.NoError(t, err)
	require.True(t, res.Ok())
	assert.Equal(t, "plaintext payload", string(rb.ReadPtr()[:len("plaintext payload")]))
}

func TestCryptStoreReopenWithSameKeysSucceeds(t *testing.T) {
	ctx := context.Background()
	outer := blockstore.NewMemStore(4096, 1024)
	encr, mac := keys(t)

	cs1 := cryptstore.New(outer, cryptstore.DefaultSuite())
	ok, err := cs1.Init(ctx, encr, mac)
	require.NoError(t, err)
	require.True(t, ok)

	cs2 := cryptstore.New(outer, cryptstore.DefaultSuite())
	ok, err = cs2.Init(ctx, encr, mac)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCryptStoreReopenWithWrongMacKeyFails(t *testing.T) {
	ctx := context.Background()
	outer := blockstore.NewMemStore(4096, 1024)
	encr, mac := keys(t)

	cs1 := cryptstore.New(outer, cryptstore.DefaultSuite())
	ok, err := cs1.Init(ctx, encr, mac)
	require.NoError(t, err)
	require.True(t, ok)

	wrongMac := bytes.Repeat([]byte{0xEE}, cryptstore.MacKeyBytes)
	cs2 := cryptstore.New(outer, cryptstore.DefaultSuite())
	ok, err = cs2.Init(ctx, encr, wrongMac)
	assert.NoError(t, err)
	assert.False(t, ok)
}
