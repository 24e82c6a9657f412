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
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha512"
	"fmt"
)

// Suite is the set of cryptographic capabilities CryptStore needs,
// injected as plain function values so callers can swap algorithms
// without reaching into CryptStore's internals. DefaultSuite wires them
// to the standard library primitives (SHA-512, HMAC-SHA-512,
// AES-256-CBC).
type Suite struct {
	// Random fills out with cryptographically strong random bytes.
	Random func(out []byte) error

	// Hash returns the 64-byte SHA-512-class digest of the concatenation
	// of parts.
	Hash func(parts ...[]byte) [HashDigestBytes]byte

	// Hmac returns the 64-byte HMAC over the concatenation of parts,
	// keyed by key (which must be MacKeyBytes long).
	Hmac func(key []byte, parts ...[]byte) [HashDigestBytes]byte

	// Encrypt returns the CBC encryption of plaintext (a multiple of
	// CipherBlockBytes) under key (EncrKeyBytes) and iv (CipherBlockBytes).
	Encrypt func(key, iv, plaintext []byte) ([]byte, error)

	// Decrypt is the inverse of Encrypt.
	Decrypt func(key, iv, ciphertext []byte) ([]byte, error)
}

// DefaultSuite returns the production Suite: crypto/rand for randomness,
// SHA-512 for hashing, HMAC-SHA-512 for the key block MAC, and AES-256 in
// CBC mode for encryption. This is the one place in the module that
// reaches for the standard library over a pack dependency: these exact
// primitives (SHA-512 / HMAC-SHA-512 / AES-256-CBC) are the ones the
// on-disk format requires, and no example repo wraps a third-party
// provider offering this precise combination — golang.org/x/crypto is
// used one layer up, for key derivation (see kdf.go).
func DefaultSuite() Suite {
	return Suite{
		Random: func(out []byte) error {
			_, err := crand.Read(out)
			return err
		},
		Hash: func(parts ...[]byte) [HashDigestBytes]byte {
			h := sha512.New()
			for _, p := range parts {
				h.Write(p)
			}
			var out [HashDigestBytes]byte
			copy(out[:], h.Sum(nil))
			return out
		},
		Hmac: func(key []byte, parts ...[]byte) [HashDigestBytes]byte {
			h := hmac.New(sha512.New, key)
			for _, p := range parts {
				h.Write(p)
			}
			var out [HashDigestBytes]byte
			copy(out[:], h.Sum(nil))
			return out
		},
		Encrypt: func(key, iv, plaintext []byte) ([]byte, error) {
			block, err := aes.NewCipher(key)
			if err != nil {
				return nil, fmt.Errorf("cryptstore: aes.NewCipher: %w", err)
			}
			out := make([]byte, len(plaintext))
			cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plaintext)
			return out, nil
		},
		Decrypt: func(key, iv, ciphertext []byte) ([]byte, error) {
			block, err := aes.NewCipher(key)
			if err != nil {
				return nil, fmt.Errorf("cryptstore: aes.NewCipher: %w", err)
			}
			out := make([]byte, len(ciphertext))
			cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
			return out, nil
		},
	}
}
