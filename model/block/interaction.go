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
	"fmt"

	"github.com/gorse-io/deeprec/common/nn"
)

// Interaction computes the pairwise term of factorization machines
//
//	Σ_{i<j} <v_i, v_j> = ½ Σ_k [(Σ_i v_{i,k})² - Σ_i v_{i,k}²]
//
// for embeddings of shape [batch, fields, factors]. The result has shape [batch]. Masked
// positions are zero vectors and contribute nothing.
func Interaction(e *nn.Tensor) *nn.Tensor {
	if len(e.Shape()) != 3 {
		panic(fmt.Sprintf("interaction expects [batch, fields, factors] but got %v", e.Shape()))
	}
	squareOfSum := nn.Square(nn.SumAxis(e, 1))
	sumOfSquare := nn.SumAxis(nn.Square(e), 1)
	return nn.Mul(nn.SumAxis(nn.Sub(squareOfSum, sumOfSquare), 1), nn.NewScalar(0.5))
}

// NaiveInteraction sums dot products over every pair of fields in O(fields² × factors).
func NaiveInteraction(e *nn.Tensor) []float32 {
	shape := e.Shape()
	batch, fields, factors := shape[0], shape[1], shape[2]
	out := make([]float32, batch)
	for b := 0; b < batch; b++ {
		for i := 0; i < fields; i++ {
			for j := i + 1; j < fields; j++ {
				for k := 0; k < factors; k++ {
					out[b] += e.Get(b, i, k) * e.Get(b, j, k)
				}
			}
		}
	}
	return out
}
