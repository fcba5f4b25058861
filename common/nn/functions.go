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

package nn

import (
	"fmt"

	"github.com/chewxy/math32"
)

// MSE returns the mean squared error between predictions and targets.
func MSE(yPred, y *Tensor) *Tensor {
	return Mean(Square(Sub(yPred, y)))
}

type bceWithLogits struct {
	base
}

func (b *bceWithLogits) String() string {
	return "BCEWithLogits"
}

func (b *bceWithLogits) forward(inputs ...*Tensor) *Tensor {
	x, y := inputs[0], inputs[1]
	var loss float32
	for i := range x.data {
		// max(x, 0) - x * y + log(1 + exp(-|x|))
		loss += math32.Max(x.data[i], 0) - x.data[i]*y.data[i] + math32.Log1p(math32.Exp(-math32.Abs(x.data[i])))
	}
	return NewScalar(loss / float32(len(x.data)))
}

func (b *bceWithLogits) backward(dy *Tensor) []*Tensor {
	x, y := b.inputs[0], b.inputs[1]
	dx := x.clone()
	dx.sigmoid()
	n := float32(len(x.data))
	for i := range dx.data {
		dx.data[i] = dy.data[0] * (dx.data[i] - y.data[i]) / n
	}
	return []*Tensor{dx, nil}
}

// BCEWithLogits returns the mean binary cross entropy between sigmoid(logits) and
// targets. Targets receive no gradient.
func BCEWithLogits(logits, y *Tensor) *Tensor {
	if len(logits.data) != len(y.data) {
		panic(fmt.Sprintf("logits shape %v doesn't match target shape %v", logits.shape, y.shape))
	}
	return apply(&bceWithLogits{}, logits, y)
}
