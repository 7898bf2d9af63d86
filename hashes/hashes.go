// Copyright 2024 The Cockroach Authors
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

// Package hashes provides hash functions for openhash tables.
package hashes

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/xxh3"
)

// golden is 2^64 divided by the golden ratio.
const golden = 0x9e3779b97f4a7c13

// Mult is a simple and fast multiplicative hash that folds each of the key's
// eight little-endian bytes into a golden ratio multiplier. Mult(0) is 0.
func Mult(key uint64) uint64 {
	h := key
	for i := 0; i < 8; i++ {
		h = golden*h + (key >> (8 * i) & 0xff)
	}
	return h
}

// XXH3 hashes the key's little-endian bytes with XXH3-64.
func XXH3(key uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key)
	return xxh3.Hash(buf[:])
}

// XXHash hashes the key's little-endian bytes with XXH64.
func XXHash(key uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key)
	return xxhash.Sum64(buf[:])
}
