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

package openhash

import "go.uber.org/zap"

// option provide an interface to do work on Table while it is being created.
type option interface {
	apply(t *Table)
}

type loggerOption struct {
	logger *zap.Logger
}

func (op loggerOption) apply(t *Table) {
	if op.logger != nil {
		t.logger = op.logger
	}
}

// WithLogger is an option to specify the logger a Table reports growth,
// allocation failures and stats to. By default nothing is logged.
func WithLogger(logger *zap.Logger) option {
	return loggerOption{logger}
}

// Allocator specifies an interface for allocating and releasing the bucket
// arrays used by a Table. The default allocator utilizes Go's builtin make()
// and allows the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that buckets be
// freed then Table.Close must be called in order to ensure Free is called for
// the final bucket array. Arrays replaced by growth are freed as part of the
// growth.
type Allocator interface {
	// Alloc should return a slice equivalent to make([]Bucket, n), or an
	// error if the memory cannot be obtained.
	Alloc(n int) ([]Bucket, error)

	// Free can optional release the memory associated with the supplied
	// slice that is guaranteed to have been allocated by Alloc.
	Free(b []Bucket)
}

type defaultAllocator struct{}

func (defaultAllocator) Alloc(n int) ([]Bucket, error) {
	return make([]Bucket, n), nil
}

func (defaultAllocator) Free(b []Bucket) {
}

type allocatorOption struct {
	allocator Allocator
}

func (op allocatorOption) apply(t *Table) {
	if op.allocator != nil {
		t.allocator = op.allocator
	}
}

// WithAllocator is an option for specify the Allocator to use for a Table.
func WithAllocator(allocator Allocator) option {
	return allocatorOption{allocator}
}
