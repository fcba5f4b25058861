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

package block

import (
	"math/rand"

	"github.com/gorse-io/deeprec/common/nn"
)

// NewMLP stacks Linear -> BatchNorm -> ReLU -> Dropout for every hidden width and ends with
// a Linear projection to out. No activation follows the last layer.
func NewMLP(in int, hidden []int, out int, dropout float32, rng *rand.Rand) *nn.Sequential {
	var layers []nn.Layer
	for _, width := range hidden {
		layers = append(layers,
			nn.NewLinear(in, width, rng),
			nn.NewBatchNorm(width),
			nn.NewReLU(),
			nn.NewDropout(dropout, rng))
		in = width
	}
	layers = append(layers, nn.NewLinear(in, out, rng))
	return nn.NewSequential(layers...)
}
