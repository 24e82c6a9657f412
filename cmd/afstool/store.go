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

package main

import (
	"context"
	"crypto/sha512"
	"fmt"
	"os"
	"strings"

	"github.com/denisbider/Atomic-sub003/afs"
	"github.com/denisbider/Atomic-sub003/blockstore"
	"github.com/denisbider/Atomic-sub003/blockstore/filestore"
	"github.com/denisbider/Atomic-sub003/cfg"
	"github.com/denisbider/Atomic-sub003/clock"
	"github.com/denisbider/Atomic-sub003/cryptstore"
)

func parseMode(s string) (filestore.Mode, error) {
	switch strings.ToLower(s) {
	case "journal":
		return filestore.Journal, nil
	case "flush":
		return filestore.Flush, nil
	case "noflush":
		return filestore.NoFlush, nil
	case "verifyjournal":
		return filestore.VerifyJournal, nil
	default:
		return 0, fmt.Errorf("afstool: unknown store mode %q", s)
	}
}

// openStore opens the on-disk FileStore and optionally wraps it in a
// CryptStore, per conf.
func openStore(ctx context.Context, conf cfg.Config) (blockstore.Store, error) {
	mode, err := parseMode(conf.Store.Mode)
	if err != nil {
		return nil, err
	}
	fs, err := filestore.Open(ctx, conf.Store.DataPath, conf.Store.JournalPath, conf.Store.BlockSize, conf.Store.MaxBlocks, mode)
	if err != nil {
		return nil, fmt.Errorf("afstool: opening file store: %w", err)
	}

	var store blockstore.Store = fs
	if conf.Crypt.Enabled {
		passphrase := os.Getenv(conf.Crypt.PassphraseEnv)
		if passphrase == "" {
			return nil, fmt.Errorf("afstool: environment variable %s is empty or unset", conf.Crypt.PassphraseEnv)
		}
		salt := sha512.Sum512([]byte("afstool:" + conf.Store.DataPath))
		encrKey, macKey, err := cryptstore.DeriveKeysFromPassphrase([]byte(passphrase), salt[:16], conf.Crypt.Pbkdf2Iterations)
		if err != nil {
			return nil, fmt.Errorf("afstool: deriving keys: %w", err)
		}
		cs := cryptstore.New(fs, cryptstore.DefaultSuite())
		ok, err := cs.Init(ctx, encrKey, macKey)
		if err != nil {
			return nil, fmt.Errorf("afstool: opening crypt store: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("afstool: passphrase does not match this store")
		}
		store = cs
	}
	return store, nil
}

// openFs opens the configured store and attaches an Afs to it, creating
// a fresh filesystem if create is true.
func openFs(ctx context.Context, conf cfg.Config, create bool) (*afs.Afs, error) {
	store, err := openStore(ctx, conf)
	if err != nil {
		return nil, err
	}
	a := afs.New(store, afs.Insensitive, clock.RealClock{})
	if create {
		if err := a.Init(ctx); err != nil {
			return nil, fmt.Errorf("afstool: initializing filesystem: %w", err)
		}
		return a, nil
	}
	if err := a.Open(ctx); err != nil {
		return nil, fmt.Errorf("afstool: opening filesystem: %w", err)
	}
	return a, nil
}
