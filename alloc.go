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

import (
	"unsafe"

	"github.com/edsrzf/mmap-go"
	"go.uber.org/zap"
)

// bucketsAddr returns the address of the first bucket in b, used to pair up
// allocations and frees in trace output.
func bucketsAddr(b []Bucket) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

type tracingAllocator struct {
	allocator Allocator
	logger    *zap.Logger
}

// NewTracingAllocator returns an Allocator that logs every allocation and
// free made through allocator at debug level. Every "alloc" entry carries an
// addr field that is matched by exactly one "free" entry once the owning
// Table has been closed, which makes leaks easy to spot.
func NewTracingAllocator(allocator Allocator, logger *zap.Logger) Allocator {
	if allocator == nil {
		allocator = defaultAllocator{}
	}
	return &tracingAllocator{
		allocator: allocator,
		logger:    logger,
	}
}

func (a *tracingAllocator) Alloc(n int) ([]Bucket, error) {
	b, err := a.allocator.Alloc(n)
	if err != nil {
		a.logger.Debug("alloc failed", zap.Int("buckets", n), zap.Error(err))
		return nil, err
	}
	a.logger.Debug("alloc",
		zap.Uintptr("addr", bucketsAddr(b)),
		zap.Int("buckets", n),
		zap.Uintptr("bytes", uintptr(n)*bucketSize))
	return b, nil
}

func (a *tracingAllocator) Free(b []Bucket) {
	addr := bucketsAddr(b)
	a.allocator.Free(b)
	a.logger.Debug("free",
		zap.Uintptr("addr", addr),
		zap.Int("buckets", len(b)))
}

type mmapAllocator struct{}

// NewMmapAllocator returns an Allocator that places bucket arrays in
// anonymous memory mappings outside of the Go heap. Buckets contain no
// pointers so the GC never needs to scan them. Tables using this allocator
// must be closed to release their final mapping.
func NewMmapAllocator() Allocator {
	return mmapAllocator{}
}

func (mmapAllocator) Alloc(n int) ([]Bucket, error) {
	m, err := mmap.MapRegion(nil, n*int(bucketSize), mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*Bucket)(unsafe.Pointer(unsafe.SliceData(m))), n), nil
}

func (mmapAllocator) Free(b []Bucket) {
	if len(b) == 0 {
		return
	}
	m := mmap.MMap(unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(b))), len(b)*int(bucketSize)))
	// The mapping was created by Alloc with exactly this length, so unmapping
	// can only fail on a programming error.
	if err := m.Unmap(); err != nil {
		panic(err)
	}
}
