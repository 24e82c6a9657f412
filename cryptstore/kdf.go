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

package cryptstore

import (
	"crypto/sha512"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// DefaultPBKDF2Iterations is used by DeriveKeysFromPassphrase when the
// caller does not have a stronger iteration count policy of its own.
const DefaultPBKDF2Iterations = 200_000

// DeriveKeysFromPassphrase turns a human passphrase and a random per-store
// salt into the (accessEncrKey, accessMacKey) pair Init expects, so callers
// do not need to manage raw 32/64-byte keys themselves. It stretches the
// passphrase with PBKDF2-HMAC-SHA512, then splits the stretched output
// into the encryption and MAC subkeys with HKDF, the same
// "stretch once, derive many" shape other golang.org/x/crypto users in
// the pack apply to their own at-rest encryption.
func DeriveKeysFromPassphrase(passphrase, salt []byte, iterations int) (accessEncrKey, accessMacKey []byte, err error) {
	if iterations <= 0 {
		iterations = DefaultPBKDF2Iterations
	}
	stretched := pbkdf2.Key(passphrase, salt, iterations, EncrKeyBytes+MacKeyBytes, sha512.New)

	kdf := hkdf.New(sha512.New, stretched, salt, []byte("afs-cryptstore-access-keys"))
	out := make([]byte, EncrKeyBytes+MacKeyBytes)
	if _, err := io.ReadFull(kdf, out); err != nil {
		return nil, nil, err
	}
	return out[:EncrKeyBytes], out[EncrKeyBytes:], nil
}
