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

package openhash_test

import (
	"fmt"

	"github.com/witchel/openhash"
	"github.com/witchel/openhash/hashes"
)

func ExampleTable_InsertOrFind() {
	t, err := openhash.New("example", 16, hashes.XXH3)
	if err != nil {
		panic(err)
	}
	defer t.Close()

	for _, k := range []uint64{7, 42, 7} {
		ref, created, err := t.InsertOrFind(k)
		if err != nil {
			panic(err)
		}
		if created {
			t.SetValue(ref, k*10)
		}
		fmt.Println(k, created, t.Value(ref))
	}
	// Output:
	// 7 true 70
	// 42 true 420
	// 7 false 70
}
