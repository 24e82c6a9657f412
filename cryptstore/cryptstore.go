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

// Package cryptstore implements CryptStore, a blockstore.Store that wraps
// another ("outer") Store and transparently encrypts and authenticates
// every block it exposes. Crypto primitives are injected (see Suite)
// rather than hardcoded, so callers can swap algorithms without touching
// the wire format, key derivation or per-block authentication scheme.
package cryptstore

import (
	"context"
	"crypto/subtle"
	"encoding/binary"
	"fmt"

	"github.com/denisbider/Atomic-sub003/blockstore"
)

const (
	// MinOuterBlockSize is the smallest outer block size CryptStore will
	// operate over.
	MinOuterBlockSize = 512

	// EncrKeyBytes is the required length of accessEncrKey.
	EncrKeyBytes = 32

	// MacKeyBytes is the required length of accessMacKey.
	MacKeyBytes = 64

	// HashDigestBytes is the digest size of the injected Hash/Hmac
	// functions (SHA-512-class).
	HashDigestBytes = 64

	// CipherBlockBytes is the cipher's block size (AES: 16).
	CipherBlockBytes = 16

	keyBlockSignature1      = uint32(0x43736641) // "AfsC" little-endian
	keyBlockSignature2      = uint32(0x74707972) // "rypt" little-endian
	keyBlockPrefixVersion   = uint32(0)
	keyBlockPayloadVersion  = uint32(0)
	masterSecretBytes       = 32
	keyBlockPrefixBytes     = 16 // sig1 + sig2 + prefixVersion + ciphertextLen, 4 bytes each
	keyBlockNonPayloadBytes = keyBlockPrefixBytes + CipherBlockBytes + HashDigestBytes

	blockSaltBytes = 16
	blockMacBytes  = 32
)

type state int

const (
	stateUninited state = iota
	stateReady
	stateJournaledWrite
)

// CryptStore is a blockstore.Store that encrypts and authenticates every
// block of an underlying ("outer") Store. Outer block 0 is the key block;
// inner block i is stored in outer block i+1 as a per-block salt, the
// ciphertext and a truncated MAC (see calcBlockMac and processBlock).
type CryptStore struct {
	outer blockstore.Store
	suite Suite
	state state

	outerBlockSize uint32
	innerBlockSize uint32
	nrInnerBlocks  uint64
	masterSecret   []byte
	alloc          *blockstore.Allocator

	outerScope    *blockstore.WriteScope
	nrBlocksToAdd uint64
}

var _ blockstore.Store = (*CryptStore)(nil)

// New returns a CryptStore wrapping outer. Call Init before any other
// method.
func New(outer blockstore.Store, suite Suite) *CryptStore {
	return &CryptStore{outer: outer, suite: suite}
}

// Init either initializes outer (if it has no blocks yet) with a freshly
// generated master secret under the given access keys, or opens an
// already-initialized outer store and authenticates accessMacKey against
// its stored MAC. accessEncrKey must be EncrKeyBytes long and accessMacKey
// must be MacKeyBytes long.
//
// Init returns (false, nil) if accessMacKey does not authenticate the
// existing key block: this is the one expected failure mode, returned
// as a plain bool rather than an error since a wrong passphrase is a
// routine caller mistake, not a store integrity problem. Any other
// mismatch (signature, version, length) is an integrity error.
func (c *CryptStore) Init(ctx context.Context, accessEncrKey, accessMacKey []byte) (bool, error) {
	if c.state != stateUninited {
		panic("cryptstore: Init called more than once")
	}
	if len(accessEncrKey) != EncrKeyBytes {
		return false, fmt.Errorf("cryptstore: accessEncrKey must be %d bytes, got %d", EncrKeyBytes, len(accessEncrKey))
	}
	if len(accessMacKey) != MacKeyBytes {
		return false, fmt.Errorf("cryptstore: accessMacKey must be %d bytes, got %d", MacKeyBytes, len(accessMacKey))
	}

	c.outerBlockSize = uint32(c.outer.BlockSize())
	if c.outerBlockSize < MinOuterBlockSize {
		return false, fmt.Errorf("cryptstore: outer block size %d is too small, required %d", c.outerBlockSize, MinOuterBlockSize)
	}
	if c.outerBlockSize%CipherBlockBytes != 0 {
		return false, fmt.Errorf("cryptstore: outer block size %d is not a multiple of cipher block size %d", c.outerBlockSize, CipherBlockBytes)
	}

	c.innerBlockSize = c.outerBlockSize - (blockSaltBytes + blockMacBytes)
	if c.innerBlockSize < CipherBlockBytes || c.innerBlockSize%CipherBlockBytes != 0 {
		return false, fmt.Errorf("cryptstore: %w: inner block size %d is not a positive multiple of %d", blockstore.ErrIntegrityViolation, c.innerBlockSize, CipherBlockBytes)
	}

	payloadBytes := c.outerBlockSize - keyBlockNonPayloadBytes

	if c.outer.NrBlocks() == 0 {
		if err := c.initFresh(ctx, accessEncrKey, accessMacKey, payloadBytes); err != nil {
			return false, err
		}
	} else {
		ok, err := c.initExisting(ctx, accessEncrKey, accessMacKey, payloadBytes)
		if err != nil || !ok {
			return ok, err
		}
	}

	c.alloc = blockstore.NewAllocator(int(c.innerBlockSize))

	nrStorageBlocks := c.outer.NrBlocks()
	if nrStorageBlocks < 1 {
		return false, fmt.Errorf("cryptstore: %w: outer store reports %d blocks after key block write", blockstore.ErrIntegrityViolation, nrStorageBlocks)
	}
	c.nrInnerBlocks = nrStorageBlocks - 1
	c.state = stateReady
	return true, nil
}

func (c *CryptStore) initFresh(ctx context.Context, accessEncrKey, accessMacKey []byte, payloadBytes uint32) error {
	payload := make([]byte, payloadBytes)
	binary.LittleEndian.PutUint32(payload[0:4], keyBlockPayloadVersion)
	binary.LittleEndian.PutUint32(payload[4:8], c.innerBlockSize)

	masterSecretOff := 8
	if uint32(masterSecretOff+masterSecretBytes) > payloadBytes {
		return fmt.Errorf("cryptstore: %w: payload too small for master secret", blockstore.ErrIntegrityViolation)
	}
	if err := c.suite.Random(payload[masterSecretOff : masterSecretOff+masterSecretBytes]); err != nil {
		return fmt.Errorf("cryptstore: generate master secret: %w", err)
	}
	c.masterSecret = append([]byte(nil), payload[masterSecretOff:masterSecretOff+masterSecretBytes]...)
	if err := c.suite.Random(payload[masterSecretOff+masterSecretBytes:]); err != nil {
		return fmt.Errorf("cryptstore: generate key block padding: %w", err)
	}

	scope, err := c.outer.BeginJournaledWrite(ctx)
	if err != nil {
		return err
	}
	keyBlock, res, err := c.outer.AddNewBlock(ctx, scope)
	if err != nil {
		c.outer.AbortJournaledWrite(ctx, scope)
		return err
	}
	if !res.Ok() {
		c.outer.AbortJournaledWrite(ctx, scope)
		return fmt.Errorf("cryptstore: could not create key block: %s", res)
	}
	if keyBlock.Index() != 0 {
		c.outer.AbortJournaledWrite(ctx, scope)
		return fmt.Errorf("cryptstore: %w: key block got index %d, want 0", blockstore.ErrIntegrityViolation, keyBlock.Index())
	}

	buf := keyBlock.WritePtr()
	w := buf[:0]
	w = appendUint32(w, keyBlockSignature1)
	w = appendUint32(w, keyBlockSignature2)
	w = appendUint32(w, keyBlockPrefixVersion)
	w = appendUint32(w, payloadBytes)

	iv := make([]byte, CipherBlockBytes)
	if err := c.suite.Random(iv); err != nil {
		c.outer.AbortJournaledWrite(ctx, scope)
		return fmt.Errorf("cryptstore: generate key block IV: %w", err)
	}
	w = append(w, iv...)

	ciphertext, err := c.suite.Encrypt(accessEncrKey, iv, payload)
	if err != nil {
		c.outer.AbortJournaledWrite(ctx, scope)
		return fmt.Errorf("cryptstore: encrypt key block payload: %w", err)
	}
	w = append(w, ciphertext...)

	mac := c.suite.Hmac(accessMacKey, buf[:len(w)])
	w = append(w, mac[:]...)

	if len(w) != len(buf) {
		c.outer.AbortJournaledWrite(ctx, scope)
		return fmt.Errorf("cryptstore: %w: key block assembled to %d bytes, want %d", blockstore.ErrIntegrityViolation, len(w), len(buf))
	}

	if res, err := c.outer.CompleteJournaledWrite(ctx, scope, []*blockstore.AfsBlock{keyBlock}); err != nil || !res.Ok() {
		if err == nil {
			err = fmt.Errorf("cryptstore: key block commit failed: %s", res)
		}
		return err
	}
	return nil
}

func (c *CryptStore) initExisting(ctx context.Context, accessEncrKey, accessMacKey []byte, payloadBytes uint32) (bool, error) {
	keyBlock, res, err := c.outer.ObtainBlock(ctx, 0)
	if err != nil {
		return false, err
	}
	if !res.Ok() {
		return false, fmt.Errorf("cryptstore: %w: could not read key block: %s", blockstore.ErrIntegrityViolation, res)
	}

	buf := keyBlock.ReadPtr()
	if uint32(len(buf)) != c.outerBlockSize {
		return false, fmt.Errorf("cryptstore: %w: key block is %d bytes, want %d", blockstore.ErrIntegrityViolation, len(buf), c.outerBlockSize)
	}

	r := buf
	sig1 := binary.LittleEndian.Uint32(r[0:4])
	sig2 := binary.LittleEndian.Uint32(r[4:8])
	prefixVer := binary.LittleEndian.Uint32(r[8:12])
	ciphertextLen := binary.LittleEndian.Uint32(r[12:16])

	if sig1 != keyBlockSignature1 || sig2 != keyBlockSignature2 {
		return false, fmt.Errorf("cryptstore: %w: unexpected key block signature", blockstore.ErrIntegrityViolation)
	}
	if prefixVer != keyBlockPrefixVersion {
		return false, fmt.Errorf("cryptstore: %w: unexpected key block prefix version %d", blockstore.ErrIntegrityViolation, prefixVer)
	}
	if ciphertextLen != payloadBytes {
		return false, fmt.Errorf("cryptstore: %w: key block ciphertext length %d does not match expected %d", blockstore.ErrIntegrityViolation, ciphertextLen, payloadBytes)
	}

	off := keyBlockPrefixBytes
	iv := r[off : off+CipherBlockBytes]
	off += CipherBlockBytes
	ciphertext := r[off : off+int(payloadBytes)]
	off += int(payloadBytes)
	mac := r[off : off+HashDigestBytes]
	off += HashDigestBytes
	if off != len(r) {
		return false, fmt.Errorf("cryptstore: %w: key block layout does not consume the whole block", blockstore.ErrIntegrityViolation)
	}

	macData := buf[:len(buf)-HashDigestBytes]
	digest := c.suite.Hmac(accessMacKey, macData)
	if subtle.ConstantTimeCompare(mac, digest[:]) != 1 {
		return false, nil
	}

	payload, err := c.suite.Decrypt(accessEncrKey, iv, ciphertext)
	if err != nil {
		return false, fmt.Errorf("cryptstore: decrypt key block payload: %w", err)
	}

	payloadVer := binary.LittleEndian.Uint32(payload[0:4])
	ibs := binary.LittleEndian.Uint32(payload[4:8])
	if payloadVer != keyBlockPayloadVersion {
		return false, fmt.Errorf("cryptstore: %w: unrecognized key block payload version %d", blockstore.ErrIntegrityViolation, payloadVer)
	}
	if ibs != c.innerBlockSize {
		return false, fmt.Errorf("cryptstore: %w: inner block size %d does not match expected %d", blockstore.ErrIntegrityViolation, ibs, c.innerBlockSize)
	}

	secretOff := 8
	if secretOff+masterSecretBytes > len(payload) {
		return false, fmt.Errorf("cryptstore: %w: key block payload too short for master secret", blockstore.ErrIntegrityViolation)
	}
	c.masterSecret = append([]byte(nil), payload[secretOff:secretOff+masterSecretBytes]...)
	return true, nil
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func (c *CryptStore) requireReady() {
	if c.state == stateUninited {
		panic("cryptstore: not initialized: call Init first")
	}
}

// BlockSize returns the inner (plaintext) block size exposed to callers.
func (c *CryptStore) BlockSize() int {
	c.requireReady()
	return int(c.innerBlockSize)
}

// MaxNrBlocks returns the outer store's cap minus one (the key block).
func (c *CryptStore) MaxNrBlocks() uint64 {
	c.requireReady()
	outerMax := c.outer.MaxNrBlocks()
	if outerMax == ^uint64(0) {
		return outerMax
	}
	if outerMax == 0 {
		return 0
	}
	return outerMax - 1
}

// NrBlocks returns the current inner block count.
func (c *CryptStore) NrBlocks() uint64 {
	c.requireReady()
	return c.nrInnerBlocks
}

// Allocator returns the inner-block-sized buffer pool.
func (c *CryptStore) Allocator() *blockstore.Allocator {
	c.requireReady()
	return c.alloc
}

func (c *CryptStore) BeginJournaledWrite(ctx context.Context) (*blockstore.WriteScope, error) {
	if c.state != stateReady {
		panic("cryptstore: BeginJournaledWrite requires Ready state")
	}
	if c.nrBlocksToAdd != 0 {
		panic("cryptstore: internal invariant violated: nrBlocksToAdd != 0 at BeginJournaledWrite")
	}
	c.state = stateJournaledWrite
	return blockstore.NewWriteScope(c), nil
}

func (c *CryptStore) AddNewBlock(ctx context.Context, scope *blockstore.WriteScope) (*blockstore.AfsBlock, blockstore.Result, error) {
	if c.state != stateJournaledWrite {
		panic("cryptstore: AddNewBlock requires an open write")
	}
	if 1+c.nrInnerBlocks+c.nrBlocksToAdd >= c.outer.MaxNrBlocks() {
		return nil, blockstore.OutOfSpace, nil
	}
	idx := c.nrInnerBlocks + c.nrBlocksToAdd
	c.nrBlocksToAdd++
	buf := c.alloc.Acquire()
	for i := range buf {
		buf[i] = 0
	}
	return blockstore.NewAfsBlock(c, idx, buf, scope, true), blockstore.OK, nil
}

func (c *CryptStore) ObtainBlock(ctx context.Context, blockIndex uint64) (*blockstore.AfsBlock, blockstore.Result, error) {
	c.requireReady()
	if blockIndex >= c.nrInnerBlocks {
		return nil, blockstore.BlockIndexInvalid, nil
	}
	outerIndex := 1 + blockIndex
	outerBlock, res, err := c.outer.ObtainBlock(ctx, outerIndex)
	if err != nil || !res.Ok() {
		return nil, res, err
	}

	r := outerBlock.ReadPtr()
	if uint32(len(r)) != c.outerBlockSize {
		return nil, blockstore.OK, fmt.Errorf("cryptstore: %w: outer block %d has %d bytes, want %d", blockstore.ErrIntegrityViolation, outerIndex, len(r), c.outerBlockSize)
	}
	blockSalt := r[0:blockSaltBytes]
	ciphertext := r[blockSaltBytes : blockSaltBytes+int(c.innerBlockSize)]
	mac := r[blockSaltBytes+int(c.innerBlockSize) : blockSaltBytes+int(c.innerBlockSize)+blockMacBytes]

	digest := c.calcBlockMac(blockIndex, blockSalt, ciphertext)
	if subtle.ConstantTimeCompare(mac, digest[:blockMacBytes]) != 1 {
		return nil, blockstore.OK, fmt.Errorf("cryptstore: %w: invalid block MAC at inner block index %d", blockstore.ErrIntegrityViolation, blockIndex)
	}

	plaintext, err := c.processBlock(blockIndex, blockSalt, ciphertext, decryptDir)
	if err != nil {
		return nil, blockstore.OK, err
	}
	return blockstore.NewAfsBlock(c, blockIndex, plaintext, nil, false), blockstore.OK, nil
}

func (c *CryptStore) ObtainBlockForOverwrite(ctx context.Context, scope *blockstore.WriteScope, blockIndex uint64) (*blockstore.AfsBlock, blockstore.Result, error) {
	if c.state != stateJournaledWrite {
		panic("cryptstore: ObtainBlockForOverwrite requires an open write")
	}
	if blockIndex >= c.nrInnerBlocks {
		return nil, blockstore.BlockIndexInvalid, nil
	}
	buf := c.alloc.Acquire()
	for i := range buf {
		buf[i] = 0
	}
	return blockstore.NewAfsBlock(c, blockIndex, buf, scope, true), blockstore.OK, nil
}

func (c *CryptStore) AbortJournaledWrite(ctx context.Context, scope *blockstore.WriteScope) {
	if c.state != stateJournaledWrite {
		panic("cryptstore: AbortJournaledWrite requires an open write")
	}
	c.nrBlocksToAdd = 0
	c.state = stateReady
	scope.Close()
}

func (c *CryptStore) CompleteJournaledWrite(ctx context.Context, scope *blockstore.WriteScope, changed []*blockstore.AfsBlock) (blockstore.Result, error) {
	if c.state != stateJournaledWrite {
		panic("cryptstore: CompleteJournaledWrite requires an open write")
	}
	if uint64(len(changed)) < c.nrBlocksToAdd {
		panic("cryptstore: CompleteJournaledWrite got fewer blocks than were added")
	}

	if len(changed) > 0 {
		outerScope, err := c.outer.BeginJournaledWrite(ctx)
		if err != nil {
			return blockstore.OK, err
		}

		outerBlocks := make([]*blockstore.AfsBlock, 0, len(changed))
		// Newly added inner blocks are created on the outer store first,
		// in ascending order, so blockIndex -> outer handle lookup below
		// does not depend on changed's iteration order.
		added := make(map[uint64]*blockstore.AfsBlock, c.nrBlocksToAdd)
		for i := uint64(0); i < c.nrBlocksToAdd; i++ {
			ob, res, err := c.outer.AddNewBlock(ctx, outerScope)
			if err != nil {
				c.outer.AbortJournaledWrite(ctx, outerScope)
				return blockstore.OK, err
			}
			if res == blockstore.OutOfSpace {
				c.outer.AbortJournaledWrite(ctx, outerScope)
				return blockstore.OutOfSpace, nil
			}
			if !res.Ok() {
				c.outer.AbortJournaledWrite(ctx, outerScope)
				return blockstore.OK, fmt.Errorf("cryptstore: unexpected result adding outer block: %s", res)
			}
			added[c.nrInnerBlocks+i] = ob
			outerBlocks = append(outerBlocks, ob)
		}

		var nrAdded, nrOverwritten int
		for _, block := range changed {
			blockIndex := block.Index()
			outerIndex := 1 + blockIndex

			var outerBlock *blockstore.AfsBlock
			if blockIndex >= c.nrInnerBlocks {
				ob, ok := added[blockIndex]
				if !ok {
					c.outer.AbortJournaledWrite(ctx, outerScope)
					return blockstore.OK, fmt.Errorf("cryptstore: %w: changed block %d has no matching newly added outer block", blockstore.ErrIntegrityViolation, blockIndex)
				}
				outerBlock = ob
				nrAdded++
			} else {
				ob, res, err := c.outer.ObtainBlockForOverwrite(ctx, outerScope, outerIndex)
				if err != nil {
					c.outer.AbortJournaledWrite(ctx, outerScope)
					return blockstore.OK, err
				}
				if !res.Ok() {
					c.outer.AbortJournaledWrite(ctx, outerScope)
					return blockstore.OK, fmt.Errorf("cryptstore: unexpected result overwriting outer block %d: %s", outerIndex, res)
				}
				outerBlock = ob
				outerBlocks = append(outerBlocks, ob)
				nrOverwritten++
			}

			salt := make([]byte, blockSaltBytes)
			if err := c.suite.Random(salt); err != nil {
				c.outer.AbortJournaledWrite(ctx, outerScope)
				return blockstore.OK, fmt.Errorf("cryptstore: generate block salt: %w", err)
			}

			plaintext := block.ReadPtr()[:c.innerBlockSize]
			ciphertext, err := c.processBlock(blockIndex, salt, plaintext, encryptDir)
			if err != nil {
				c.outer.AbortJournaledWrite(ctx, outerScope)
				return blockstore.OK, err
			}
			digest := c.calcBlockMac(blockIndex, salt, ciphertext)

			w := outerBlock.WritePtr()[:0]
			w = append(w, salt...)
			w = append(w, ciphertext...)
			w = append(w, digest[:blockMacBytes]...)
		}

		if nrAdded != int(c.nrBlocksToAdd) {
			c.outer.AbortJournaledWrite(ctx, outerScope)
			return blockstore.OK, fmt.Errorf("cryptstore: %w: expected %d newly added blocks, processed %d", blockstore.ErrIntegrityViolation, c.nrBlocksToAdd, nrAdded)
		}

		if res, err := c.outer.CompleteJournaledWrite(ctx, outerScope, outerBlocks); err != nil || !res.Ok() {
			if err == nil {
				err = fmt.Errorf("cryptstore: outer commit failed: %s", res)
			}
			return blockstore.OK, err
		}
		c.nrInnerBlocks += c.nrBlocksToAdd
	}

	c.nrBlocksToAdd = 0
	c.state = stateReady
	scope.Close()
	return blockstore.OK, nil
}

type cipherDir int

const (
	encryptDir cipherDir = iota
	decryptDir
)

// calcBlockMac computes H(masterSecret ∥ blockIndex ∥ salt ∥ "MAC" ∥
// ciphertext). Only the first blockMacBytes of the digest are used on
// the wire.
func (c *CryptStore) calcBlockMac(blockIndex uint64, salt, ciphertext []byte) [HashDigestBytes]byte {
	var idxBuf [8]byte
	binary.LittleEndian.PutUint64(idxBuf[:], blockIndex)
	return c.suite.Hash(c.masterSecret, idxBuf[:], salt, []byte("MAC"), ciphertext)
}

// processBlock derives a per-block key+IV from H(masterSecret ∥ blockIndex
// ∥ salt ∥ "ENC") and encrypts or decrypts input under it.
func (c *CryptStore) processBlock(blockIndex uint64, salt, input []byte, dir cipherDir) ([]byte, error) {
	var idxBuf [8]byte
	binary.LittleEndian.PutUint64(idxBuf[:], blockIndex)
	keyIV := c.suite.Hash(c.masterSecret, idxBuf[:], salt, []byte("ENC"))

	key := keyIV[:EncrKeyBytes]
	iv := keyIV[EncrKeyBytes : EncrKeyBytes+CipherBlockBytes]

	if dir == encryptDir {
		return c.suite.Encrypt(key, iv, input)
	}
	return c.suite.Decrypt(key, iv, input)
}
