// Copyright 2024 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dataset

import (
	"math/rand"

	"github.com/bits-and-blooms/bitset"
)

// Sample n values in [0, high) that are set in none of the exclude sets. All remaining
// candidates are returned when fewer than n exist.
func Sample(rng *rand.Rand, high, n int, exclude ...*bitset.BitSet) []int {
	excludeSet := bitset.New(uint(high))
	for _, set := range exclude {
		if set != nil {
			excludeSet.InPlaceUnion(set)
		}
	}
	available := high - int(excludeSet.Count())
	for i := uint(high); i < excludeSet.Len(); i++ {
		if excludeSet.Test(i) {
			available++
		}
	}
	sampled := make([]int, 0, n)
	if n >= available {
		for i := 0; i < high; i++ {
			if !excludeSet.Test(uint(i)) {
				sampled = append(sampled, i)
			}
		}
	} else {
		for len(sampled) < n {
			v := rng.Intn(high)
			if !excludeSet.Test(uint(v)) {
				sampled = append(sampled, v)
				excludeSet.Set(uint(v))
			}
		}
	}
	return sampled
}
