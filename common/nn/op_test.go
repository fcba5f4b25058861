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
	"math/rand"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
)

const (
	eps  = 1e-3
	rtol = 1e-2
	atol = 5e-3
)

func numericalDiff(f func(*Tensor) *Tensor, x *Tensor) *Tensor {
	x0, x1 := x.clone(), x.clone()
	dx := make([]float32, len(x.data))
	for i, v := range x.data {
		x0.data[i] = v - eps
		x1.data[i] = v + eps
		y0 := f(x0)
		y1 := f(x1)
		for j := range y0.data {
			dx[i] += (y1.data[j] - y0.data[j]) / (2 * eps)
		}
		x0.data[i] = v
		x1.data[i] = v
	}
	return NewTensor(dx, x.shape...)
}

func allClose(t *testing.T, a, b *Tensor) {
	if !assert.Equal(t, a.shape, b.shape) {
		return
	}
	for i := range a.data {
		if math32.Abs(a.data[i]-b.data[i]) > atol+rtol*math32.Abs(b.data[i]) {
			t.Fatalf("a.data[%d] = %f, b.data[%d] = %f\n", i, a.data[i], i, b.data[i])
			return
		}
	}
}

func TestAdd(t *testing.T) {
	// (2,3) + (2,3) -> (2,3)
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := NewTensor([]float32{2, 3, 4, 5, 6, 7}, 2, 3)
	z := Add(x, y)
	assert.Equal(t, []float32{3, 5, 7, 9, 11, 13}, z.data)

	// Test gradient
	x = Rand(2, 3)
	y = Rand(2, 3)
	z = Add(x, y)
	z.Backward()
	dx := numericalDiff(func(x *Tensor) *Tensor { return Add(x, y) }, x)
	allClose(t, x.grad, dx)
	dy := numericalDiff(func(y *Tensor) *Tensor { return Add(x, y) }, y)
	allClose(t, y.grad, dy)

	// (2,3) + () -> (2,3)
	x = NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y = NewScalar(2)
	z = Add(x, y)
	assert.Equal(t, []float32{3, 4, 5, 6, 7, 8}, z.data)

	// Test gradient
	z.Backward()
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1}, x.grad.data)
	assert.Equal(t, []float32{6}, y.grad.data)

	// (3) + (2,3) -> (2,3)
	x = NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y = NewTensor([]float32{2, 3, 4}, 3)
	z = Add(y, x)
	assert.Equal(t, []float32{3, 5, 7, 6, 8, 10}, z.data)

	// Test gradient
	z.Backward()
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1}, x.grad.data)
	assert.Equal(t, []float32{2, 2, 2}, y.grad.data)
}

func TestSub(t *testing.T) {
	// (2,3) - (2,3) -> (2,3)
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := NewTensor([]float32{2, 3, 4, 5, 6, 7}, 2, 3)
	z := Sub(x, y)
	assert.Equal(t, []float32{-1, -1, -1, -1, -1, -1}, z.data)

	// Test gradient
	x = Rand(2, 3)
	y = Rand(2, 3)
	z = Sub(x, y)
	z.Backward()
	dx := numericalDiff(func(x *Tensor) *Tensor { return Sub(x, y) }, x)
	allClose(t, x.grad, dx)
	dy := numericalDiff(func(y *Tensor) *Tensor { return Sub(x, y) }, y)
	allClose(t, y.grad, dy)

	// (2,3) - (3) -> (2,3)
	x = NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y = NewTensor([]float32{2, 3, 4}, 3)
	z = Sub(x, y)
	assert.Equal(t, []float32{-1, -1, -1, 2, 2, 2}, z.data)

	// Test gradient
	z.Backward()
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1}, x.grad.data)
	assert.Equal(t, []float32{-2, -2, -2}, y.grad.data)

	// the subtrahend must be the broadcast operand
	assert.Panics(t, func() { Sub(y, x) })
}

func TestMul(t *testing.T) {
	// (2,3) * (2,3) -> (2,3)
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := NewTensor([]float32{2, 3, 4, 5, 6, 7}, 2, 3)
	z := Mul(x, y)
	assert.Equal(t, []float32{2, 6, 12, 20, 30, 42}, z.data)

	// Test gradient
	x = Rand(2, 3)
	y = Rand(2, 3)
	z = Mul(x, y)
	z.Backward()
	dx := numericalDiff(func(x *Tensor) *Tensor { return Mul(x, y) }, x)
	allClose(t, x.grad, dx)
	dy := numericalDiff(func(y *Tensor) *Tensor { return Mul(x, y) }, y)
	allClose(t, y.grad, dy)

	// (2,3) * (3) -> (2,3)
	x = NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y = NewTensor([]float32{2, 3, 4}, 3)
	z = Mul(x, y)
	assert.Equal(t, []float32{2, 6, 12, 8, 15, 24}, z.data)

	// Test gradient
	z.Backward()
	assert.Equal(t, []float32{2, 3, 4, 2, 3, 4}, x.grad.data)
	assert.Equal(t, []float32{5, 7, 9}, y.grad.data)
}

func TestDiv(t *testing.T) {
	// (2,3) / (2,3) -> (2,3)
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := NewTensor([]float32{2, 4, 6, 8, 10, 12}, 2, 3)
	z := Div(x, y)
	assert.Equal(t, []float32{0.5, 0.5, 0.5, 0.5, 0.5, 0.5}, z.data)

	// Test gradient
	x = Rand(2, 3)
	y = Add(Rand(2, 3), NewScalar(1)).NoGrad()
	z = Div(x, y)
	z.Backward()
	dx := numericalDiff(func(x *Tensor) *Tensor { return Div(x, y) }, x)
	allClose(t, x.grad, dx)
	dy := numericalDiff(func(y *Tensor) *Tensor { return Div(x, y) }, y)
	allClose(t, y.grad, dy)

	// (2,3) / (3) -> (2,3)
	x = NewTensor([]float32{2, 4, 6, 8, 10, 12}, 2, 3)
	y = NewTensor([]float32{2, 4, 6}, 3)
	z = Div(x, y)
	assert.Equal(t, []float32{1, 1, 1, 4, 2.5, 2}, z.data)
	z.Backward()
	dy = numericalDiff(func(y *Tensor) *Tensor { return Div(x, y) }, y)
	allClose(t, y.grad, dy)
}

func TestSquare(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := Square(x)
	assert.Equal(t, []float32{1, 4, 9, 16, 25, 36}, y.data)

	// Test gradient
	x = Rand(2, 3)
	y = Square(x)
	y.Backward()
	dx := numericalDiff(Square, x)
	allClose(t, x.grad, dx)
}

func TestSqrt(t *testing.T) {
	x := NewTensor([]float32{1, 4, 9, 16}, 2, 2)
	y := Sqrt(x)
	assert.Equal(t, []float32{1, 2, 3, 4}, y.data)

	// Test gradient
	x = Add(Rand(2, 3), NewScalar(0.5)).NoGrad()
	y = Sqrt(x)
	y.Backward()
	dx := numericalDiff(Sqrt, x)
	allClose(t, x.grad, dx)
}

func TestExp(t *testing.T) {
	x := NewTensor([]float32{0, 1}, 2)
	y := Exp(x)
	assert.InDelta(t, 1, y.data[0], 1e-6)
	assert.InDelta(t, math32.E, y.data[1], 1e-6)

	// Test gradient
	x = Rand(2, 3)
	y = Exp(x)
	y.Backward()
	dx := numericalDiff(Exp, x)
	allClose(t, x.grad, dx)
}

func TestLog(t *testing.T) {
	x := NewTensor([]float32{1, math32.E}, 2)
	y := Log(x)
	assert.InDelta(t, 0, y.data[0], 1e-6)
	assert.InDelta(t, 1, y.data[1], 1e-6)

	// Test gradient
	x = Add(Rand(2, 3), NewScalar(0.5)).NoGrad()
	y = Log(x)
	y.Backward()
	dx := numericalDiff(Log, x)
	allClose(t, x.grad, dx)
}

func TestNeg(t *testing.T) {
	x := NewTensor([]float32{1, -2, 3}, 3)
	y := Neg(x)
	assert.Equal(t, []float32{-1, 2, -3}, y.data)
	y.Backward()
	assert.Equal(t, []float32{-1, -1, -1}, x.grad.data)
}

func TestSum(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := Sum(x)
	assert.Equal(t, []float32{21}, y.data)
	assert.Empty(t, y.shape)

	// Test gradient
	y.Backward()
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1}, x.grad.data)
}

func TestMean(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := Mean(x)
	assert.Equal(t, []float32{3.5}, y.data)

	// Test gradient
	y.Backward()
	for _, g := range x.grad.data {
		assert.InDelta(t, float32(1)/6, g, 1e-7)
	}
}

func TestSumAxis(t *testing.T) {
	x := NewTensor([]float32{
		1, 2, 3,
		4, 5, 6,

		7, 8, 9,
		10, 11, 12,
	}, 2, 2, 3)
	assert.Equal(t, []float32{5, 7, 9, 17, 19, 21}, SumAxis(x, 1).data)
	assert.Equal(t, []int{2, 3}, SumAxis(x, 1).shape)
	assert.Equal(t, []float32{8, 10, 12, 14, 16, 18}, SumAxis(x, 0).data)
	assert.Equal(t, []float32{6, 15, 24, 33}, SumAxis(x, 2).data)
	assert.Equal(t, []int{2, 2}, SumAxis(x, 2).shape)

	// Test gradient
	w := Rand(2, 3)
	x = Rand(2, 2, 3)
	y := Mul(SumAxis(x, 1), w)
	y.Backward()
	dx := numericalDiff(func(x *Tensor) *Tensor { return Mul(SumAxis(x, 1), w) }, x)
	allClose(t, x.grad, dx)

	assert.Panics(t, func() { SumAxis(x, 3) })
}

func TestMatMul(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4}, 2, 2)
	y := NewTensor([]float32{5, 6, 7, 8}, 2, 2)
	z := MatMul(x, y)
	assert.Equal(t, []float32{19, 22, 43, 50}, z.data)

	// Test transposed kernels
	assert.Equal(t, []float32{26, 30, 38, 44}, x.matMul(y, true, false).data)
	assert.Equal(t, []float32{17, 23, 39, 53}, x.matMul(y, false, true).data)

	// Test gradient
	x = Rand(3, 4)
	y = Rand(4, 2)
	z = MatMul(x, y)
	z.Backward()
	dx := numericalDiff(func(x *Tensor) *Tensor { return MatMul(x, y) }, x)
	allClose(t, x.grad, dx)
	dy := numericalDiff(func(y *Tensor) *Tensor { return MatMul(x, y) }, y)
	allClose(t, y.grad, dy)

	assert.Panics(t, func() { MatMul(Rand(2, 3), Rand(2, 3)) })
}

func TestReshape(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := Reshape(x, 3, 2)
	assert.Equal(t, []int{3, 2}, y.shape)
	assert.Equal(t, float32(4), y.Get(1, 1))
	w := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 3, 2)
	z := Mul(y, w)
	z.Backward()
	assert.Equal(t, []int{2, 3}, x.grad.shape)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, x.grad.data)

	x = NewTensor([]float32{1, 2, 3, 4, 5, 6, 7, 8}, 2, 2, 2)
	assert.Equal(t, []int{2, 4}, Flatten(x).shape)
	assert.Panics(t, func() { Reshape(x, 3, 3) })
}

func TestConcat(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4}, 2, 2)
	y := NewTensor([]float32{5, 6, 7, 8, 9, 10}, 2, 3)
	z := Concat(x, y)
	assert.Equal(t, []int{2, 5}, z.shape)
	assert.Equal(t, []float32{1, 2, 5, 6, 7, 3, 4, 8, 9, 10}, z.data)

	// Test gradient
	w := Rand(2, 5)
	z = Mul(Concat(x, y), w)
	z.Backward()
	dx := numericalDiff(func(x *Tensor) *Tensor { return Mul(Concat(x, y), w) }, x)
	allClose(t, x.grad, dx)
	dy := numericalDiff(func(y *Tensor) *Tensor { return Mul(Concat(x, y), w) }, y)
	allClose(t, y.grad, dy)

	assert.Panics(t, func() { Concat(Rand(2, 2), Rand(3, 2)) })
}

func TestSigmoid(t *testing.T) {
	x := NewTensor([]float32{0}, 1)
	assert.Equal(t, []float32{0.5}, Sigmoid(x).data)

	// Test gradient
	x = LinSpace(-3, 3, 2, 3)
	y := Sigmoid(x)
	y.Backward()
	dx := numericalDiff(Sigmoid, x)
	allClose(t, x.grad, dx)
}

func TestReLu(t *testing.T) {
	x := LinSpace(-1, 1, 2, 3)
	y := ReLu(x)
	assert.Equal(t, float32(0), y.data[0])
	assert.InDelta(t, 1, y.data[5], 1e-6)

	// Test gradient
	y.Backward()
	dx := numericalDiff(ReLu, x)
	allClose(t, x.grad, dx)
}

func TestEmbedding(t *testing.T) {
	w := NewTensor([]float32{
		0, 0,
		1, 2,
		3, 4,
		5, 6,
	}, 4, 2)
	x := NewIndices(2, 2)
	x.Set(0, 0, 1)
	x.Set(0, 1, 3)
	x.Set(1, 0, 2)
	y := Embedding(w, x)
	assert.Equal(t, []int{2, 2, 2}, y.shape)
	assert.Equal(t, []float32{1, 2, 5, 6, 3, 4, 0, 0}, y.data)

	// only gathered rows receive gradient
	y.Backward()
	assert.Equal(t, []float32{0, 0, 1, 1, 1, 1, 1, 1}, w.grad.data)

	// repeated rows accumulate gradient
	w.grad = nil
	x = NewIndicesFromRows([][]int32{{1, 1}, {1}}, 3)
	y = Embedding(w, x)
	y.Backward()
	assert.Equal(t, []float32{0, 0, 3, 3, 0, 0, 0, 0}, w.grad.data)

	assert.Panics(t, func() { Embedding(w, NewIndicesFromRows([][]int32{{4}}, 1)) })
}

func TestBackwardAccumulate(t *testing.T) {
	// y = x * x + x
	x := NewTensor([]float32{1, 2, 3}, 3)
	y := Add(Mul(x, x), x)
	y.Backward()
	assert.Equal(t, []float32{3, 5, 7}, x.grad.data)

	// diamond: b = 2x + 2x, z = sum(b * b)
	x = NewTensor([]float32{1, 2}, 2)
	a := Mul(x, NewScalar(2))
	b := Add(a, a)
	z := Sum(Square(b))
	z.Backward()
	// dz/dx = 2 * b * 4 = 32 * x
	assert.Equal(t, []float32{32, 64}, x.grad.data)

	// Test against numerical gradient
	x = Rand(2, 3)
	f := func(x *Tensor) *Tensor {
		s := Sigmoid(x)
		return Mul(Add(s, x), Sub(s, x))
	}
	f(x).Backward()
	allClose(t, x.grad, numericalDiff(f, x))
}

func TestBCEWithLogits(t *testing.T) {
	x := NewTensor([]float32{0, 2, -1}, 3)
	y := NewTensor([]float32{1, 0, 1}, 3)
	loss := BCEWithLogits(x, y)
	var expected float32
	for i := range x.data {
		p := 1 / (1 + math32.Exp(-x.data[i]))
		expected -= y.data[i]*math32.Log(p) + (1-y.data[i])*math32.Log(1-p)
	}
	assert.InDelta(t, expected/3, loss.data[0], 1e-5)

	// extreme logits stay finite
	assert.True(t, BCEWithLogits(NewTensor([]float32{100, -100}, 2), NewTensor([]float32{0, 1}, 2)).IsFinite())

	// Test gradient
	x = NewTensor([]float32{0.5, -0.3, 1.2, -2}, 4)
	y = NewTensor([]float32{1, 0, 0, 1}, 4)
	loss = BCEWithLogits(x, y)
	loss.Backward()
	dx := numericalDiff(func(x *Tensor) *Tensor { return BCEWithLogits(x, y) }, x)
	allClose(t, x.grad, dx)
	assert.Nil(t, y.grad)
}

func TestMSE(t *testing.T) {
	yPred := NewTensor([]float32{1, 2, 3}, 3)
	y := NewTensor([]float32{1, 0, 0}, 3)
	loss := MSE(yPred, y)
	assert.InDelta(t, float32(13)/3, loss.data[0], 1e-6)

	// Test gradient
	yPred = Rand(5)
	y = Rand(5)
	MSE(yPred, y).Backward()
	dx := numericalDiff(func(x *Tensor) *Tensor { return MSE(x, y) }, yPred)
	allClose(t, yPred.grad, dx)
}

func TestNormal(t *testing.T) {
	a := Normal(rand.New(rand.NewSource(0)), 1, 0.1, 100)
	b := Normal(rand.New(rand.NewSource(0)), 1, 0.1, 100)
	assert.Equal(t, a.data, b.data)
	var mean float32
	for _, v := range a.data {
		mean += v
	}
	assert.InDelta(t, 1, mean/100, 0.05)
}
