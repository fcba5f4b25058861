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
	"github.com/juju/errors"
)

// Linear is the first-order term: one scalar weight per feature summed over valid features
// plus a global bias.
type Linear struct {
	W    *nn.EmbeddingLayer
	Bias *nn.Tensor
}

func NewLinear(n int, rng *rand.Rand, std float32) *Linear {
	return &Linear{
		W:    nn.NewEmbedding(n, 1, rng, 0, std),
		Bias: nn.Zeros(),
	}
}

// Forward returns [batch] scores.
func (l *Linear) Forward(x *nn.Indices) (*nn.Tensor, error) {
	w, err := l.W.Forward(x)
	if err != nil {
		return nil, errors.Trace(err)
	}
	// [batch, fields, 1] -> [batch]
	return nn.Add(nn.Reshape(nn.SumAxis(w, 1), x.Rows()), l.Bias), nil
}

func (l *Linear) Parameters() []*nn.Tensor {
	return []*nn.Tensor{l.W.W, l.Bias}
}
