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

import "errors"

var (
	// ErrInvalidKey is returned for key 0, which marks empty slots.
	ErrInvalidKey = errors.New("openhash: invalid key 0")
	// ErrNotFound is returned by Lookup for a key that is not in the table.
	ErrNotFound = errors.New("openhash: key not found")
	// ErrAllocationFailure is returned when a bucket array cannot be
	// allocated, either at construction or while growing.
	ErrAllocationFailure = errors.New("openhash: allocation failure")
	// ErrNilHash is returned by New when no hash function is supplied.
	ErrNilHash = errors.New("openhash: nil hash function")
)
