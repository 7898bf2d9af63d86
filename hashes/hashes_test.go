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

package hashes

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMult(t *testing.T) {
	testCases := []struct {
		key      uint64
		expected uint64
	}{
		{0, 0},
		{1, 0x2e7809f8fce2e59c},
		{2, 0x5cf013f1f9c5cb38},
		{0xdeadbeef, 0xd871347082d85177},
	}
	for _, c := range testCases {
		t.Run(fmt.Sprintf("%x", c.key), func(t *testing.T) {
			require.EqualValues(t, c.expected, Mult(c.key))
		})
	}
}

func TestSpread(t *testing.T) {
	// Sequential keys should spread over a small table. Mult only reaches
	// every fourth bucket for keys below 256, which is the floor here.
	const buckets = 64
	for name, hash := range map[string]func(uint64) uint64{
		"mult":   Mult,
		"xxh3":   XXH3,
		"xxhash": XXHash,
	} {
		t.Run(name, func(t *testing.T) {
			seen := make(map[uint64]struct{})
			for k := uint64(1); k <= buckets; k++ {
				seen[hash(k)&(buckets-1)] = struct{}{}
			}
			require.GreaterOrEqual(t, len(seen), buckets/4)
		})
	}
}

func TestDeterministic(t *testing.T) {
	for k := uint64(1); k < 1000; k += 37 {
		require.Equal(t, XXH3(k), XXH3(k))
		require.Equal(t, XXHash(k), XXHash(k))
		require.NotEqual(t, XXH3(k), XXH3(k+1))
	}
}
