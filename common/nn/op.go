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
)

type op interface {
	String() string
	forward(inputs ...*Tensor) *Tensor
	backward(dy *Tensor) []*Tensor
	inputsAndOutput() ([]*Tensor, *Tensor)
	setInputs(inputs ...*Tensor)
	setOutput(y *Tensor)
}

type base struct {
	inputs []*Tensor
	output *Tensor
}

func (b *base) inputsAndOutput() ([]*Tensor, *Tensor) {
	return b.inputs, b.output
}

func (b *base) setInputs(inputs ...*Tensor) {
	b.inputs = inputs
}

func (b *base) setOutput(y *Tensor) {
	b.output = y
}

func apply[T op](f T, inputs ...*Tensor) *Tensor {
	y := f.forward(inputs...)
	f.setInputs(inputs...)
	f.setOutput(y)
	y.op = f
	return y
}

// reduceTo sums dy over the leading axes that were broadcast into shape.
func reduceTo(dy *Tensor, shape []int) *Tensor {
	g := Zeros(shape...)
	wSize := len(g.data)
	for i := range dy.data {
		g.data[i%wSize] += dy.data[i]
	}
	return g
}

type add struct {
	base
}

func (a *add) String() string {
	return "Add"
}

func (a *add) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.add(inputs[1])
	return y
}

func (a *add) backward(dy *Tensor) []*Tensor {
	return []*Tensor{dy, reduceTo(dy, a.inputs[1].shape)}
}

type sub struct {
	base
}

func (s *sub) String() string {
	return "Sub"
}

func (s *sub) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.sub(inputs[1])
	return y
}

func (s *sub) backward(dy *Tensor) []*Tensor {
	gx1 := reduceTo(dy, s.inputs[1].shape)
	gx1.neg()
	return []*Tensor{dy, gx1}
}

type mul struct {
	base
}

func (m *mul) String() string {
	return "Mul"
}

func (m *mul) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.mul(inputs[1])
	return y
}

func (m *mul) backward(dy *Tensor) []*Tensor {
	gx0 := dy.clone()
	gx0.mul(m.inputs[1])
	gx1 := Zeros(m.inputs[1].shape...)
	wSize := len(gx1.data)
	for i := range dy.data {
		gx1.data[i%wSize] += dy.data[i] * m.inputs[0].data[i]
	}
	return []*Tensor{gx0, gx1}
}

type div struct {
	base
}

func (d *div) String() string {
	return "Div"
}

func (d *div) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.div(inputs[1])
	return y
}

func (d *div) backward(dy *Tensor) []*Tensor {
	wSize := len(d.inputs[1].data)
	gx0 := Zeros(d.inputs[0].shape...)
	for i := range dy.data {
		gx0.data[i] = dy.data[i] / d.inputs[1].data[i%wSize]
	}
	gx1 := Zeros(d.inputs[1].shape...)
	for i := range dy.data {
		gx1.data[i%wSize] -= dy.data[i] * d.inputs[0].data[i] / d.inputs[1].data[i%wSize] / d.inputs[1].data[i%wSize]
	}
	return []*Tensor{gx0, gx1}
}

type square struct {
	base
}

func (s *square) String() string {
	return "Square"
}

func (s *square) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.square()
	return y
}

func (s *square) backward(dy *Tensor) []*Tensor {
	dx := s.inputs[0].clone()
	dx.mul(dy)
	for i := range dx.data {
		dx.data[i] *= 2
	}
	return []*Tensor{dx}
}

type sqrt struct {
	base
}

func (s *sqrt) String() string {
	return "Sqrt"
}

func (s *sqrt) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.sqrt()
	return y
}

func (s *sqrt) backward(dy *Tensor) []*Tensor {
	// dx = dy / (2 * y)
	dx := dy.clone()
	for i := range dx.data {
		dx.data[i] /= 2 * s.output.data[i]
	}
	return []*Tensor{dx}
}

type exp struct {
	base
}

func (e *exp) String() string {
	return "Exp"
}

func (e *exp) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.exp()
	return y
}

func (e *exp) backward(dy *Tensor) []*Tensor {
	dx := e.output.clone()
	dx.mul(dy)
	return []*Tensor{dx}
}

type log struct {
	base
}

func (l *log) String() string {
	return "Log"
}

func (l *log) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.log()
	return y
}

func (l *log) backward(dy *Tensor) []*Tensor {
	dx := dy.clone()
	dx.div(l.inputs[0])
	return []*Tensor{dx}
}

type neg struct {
	base
}

func (n *neg) String() string {
	return "Neg"
}

func (n *neg) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.neg()
	return y
}

func (n *neg) backward(dy *Tensor) []*Tensor {
	dx := dy.clone()
	dx.neg()
	return []*Tensor{dx}
}

type sum struct {
	base
}

func (s *sum) String() string {
	return "Sum"
}

func (s *sum) forward(inputs ...*Tensor) *Tensor {
	return NewScalar(inputs[0].sum())
}

func (s *sum) backward(dy *Tensor) []*Tensor {
	dx := Ones(s.inputs[0].shape...)
	dx.mul(dy)
	return []*Tensor{dx}
}

type mean struct {
	base
}

func (m *mean) String() string {
	return "Mean"
}

func (m *mean) forward(inputs ...*Tensor) *Tensor {
	x := inputs[0]
	return NewScalar(x.sum() / float32(len(x.data)))
}

func (m *mean) backward(dy *Tensor) []*Tensor {
	dx := Zeros(m.inputs[0].shape...)
	for i := range dx.data {
		dx.data[i] = dy.data[0] / float32(len(dx.data))
	}
	return []*Tensor{dx}
}

// sumAxis reduces one axis. The shape [outer, n, inner] is reduced to [outer, inner].
type sumAxis struct {
	base
	axis int
}

func (s *sumAxis) String() string {
	return "SumAxis"
}

func (s *sumAxis) dims(shape []int) (outer, n, inner int) {
	return numel(shape[:s.axis]), shape[s.axis], numel(shape[s.axis+1:])
}

func (s *sumAxis) forward(inputs ...*Tensor) *Tensor {
	x := inputs[0]
	outer, n, inner := s.dims(x.shape)
	shape := make([]int, 0, len(x.shape)-1)
	shape = append(shape, x.shape[:s.axis]...)
	shape = append(shape, x.shape[s.axis+1:]...)
	y := Zeros(shape...)
	for o := 0; o < outer; o++ {
		for k := 0; k < n; k++ {
			src := x.data[(o*n+k)*inner : (o*n+k+1)*inner]
			dst := y.data[o*inner : (o+1)*inner]
			for i := range dst {
				dst[i] += src[i]
			}
		}
	}
	return y
}

func (s *sumAxis) backward(dy *Tensor) []*Tensor {
	outer, n, inner := s.dims(s.inputs[0].shape)
	dx := Zeros(s.inputs[0].shape...)
	for o := 0; o < outer; o++ {
		for k := 0; k < n; k++ {
			copy(dx.data[(o*n+k)*inner:(o*n+k+1)*inner], dy.data[o*inner:(o+1)*inner])
		}
	}
	return []*Tensor{dx}
}

type matMul struct {
	base
}

func (m *matMul) String() string {
	return "MatMul"
}

func (m *matMul) forward(inputs ...*Tensor) *Tensor {
	return inputs[0].matMul(inputs[1], false, false)
}

func (m *matMul) backward(dy *Tensor) []*Tensor {
	dx0 := dy.matMul(m.inputs[1], false, true)
	dx1 := m.inputs[0].matMul(dy, true, false)
	return []*Tensor{dx0, dx1}
}

type reshape struct {
	base
	shape []int
}

func (r *reshape) String() string {
	return "Reshape"
}

func (r *reshape) forward(inputs ...*Tensor) *Tensor {
	return NewTensor(inputs[0].data, r.shape...)
}

func (r *reshape) backward(dy *Tensor) []*Tensor {
	return []*Tensor{NewTensor(dy.data, r.inputs[0].shape...)}
}

// concat joins tensors along the last axis.
type concat struct {
	base
}

func (c *concat) String() string {
	return "Concat"
}

func (c *concat) forward(inputs ...*Tensor) *Tensor {
	last := len(inputs[0].shape) - 1
	outer := numel(inputs[0].shape[:last])
	total := 0
	for _, x := range inputs {
		total += x.shape[last]
	}
	shape := append(append([]int{}, inputs[0].shape[:last]...), total)
	y := Zeros(shape...)
	for o := 0; o < outer; o++ {
		offset := o * total
		for _, x := range inputs {
			width := x.shape[last]
			copy(y.data[offset:offset+width], x.data[o*width:(o+1)*width])
			offset += width
		}
	}
	return y
}

func (c *concat) backward(dy *Tensor) []*Tensor {
	last := len(c.inputs[0].shape) - 1
	outer := numel(c.inputs[0].shape[:last])
	total := dy.shape[len(dy.shape)-1]
	grads := make([]*Tensor, len(c.inputs))
	for i, x := range c.inputs {
		grads[i] = Zeros(x.shape...)
	}
	for o := 0; o < outer; o++ {
		offset := o * total
		for i, x := range c.inputs {
			width := x.shape[last]
			copy(grads[i].data[o*width:(o+1)*width], dy.data[offset:offset+width])
			offset += width
		}
	}
	return grads
}

type sigmoid struct {
	base
}

func (s *sigmoid) String() string {
	return "Sigmoid"
}

func (s *sigmoid) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.sigmoid()
	return y
}

func (s *sigmoid) backward(dy *Tensor) []*Tensor {
	// dx = dy * y * (1 - y)
	dx := dy.clone()
	for i := range dx.data {
		dx.data[i] *= s.output.data[i] * (1 - s.output.data[i])
	}
	return []*Tensor{dx}
}

type relu struct {
	base
}

func (r *relu) String() string {
	return "ReLU"
}

func (r *relu) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.maximum(0)
	return y
}

func (r *relu) backward(dy *Tensor) []*Tensor {
	dx := dy.clone()
	for i := range dx.data {
		if r.inputs[0].data[i] <= 0 {
			dx.data[i] = 0
		}
	}
	return []*Tensor{dx}
}

// embedding gathers rows of a weight table. Masked positions produce zero rows.
type embedding struct {
	base
	indices *Indices
}

func (e *embedding) String() string {
	return "Embedding"
}

func (e *embedding) forward(inputs ...*Tensor) *Tensor {
	w := inputs[0]
	dim := numel(w.shape[1:])
	shape := append([]int{e.indices.rows, e.indices.cols}, w.shape[1:]...)
	y := Zeros(shape...)
	for p, idx := range e.indices.data {
		if e.indices.valid[p] {
			copy(y.data[p*dim:(p+1)*dim], w.data[int(idx)*dim:(int(idx)+1)*dim])
		}
	}
	return y
}

func (e *embedding) backward(dy *Tensor) []*Tensor {
	w := e.inputs[0]
	dim := numel(w.shape[1:])
	dw := Zeros(w.shape...)
	for p, idx := range e.indices.data {
		if e.indices.valid[p] {
			dst := dw.data[int(idx)*dim : (int(idx)+1)*dim]
			src := dy.data[p*dim : (p+1)*dim]
			for i := range dst {
				dst[i] += src[i]
			}
		}
	}
	return []*Tensor{dw}
}

func checkSuffix(x0, x1 *Tensor) {
	if len(x0.shape) < len(x1.shape) {
		panic(fmt.Sprintf("shape %v is not a suffix of shape %v", x1.shape, x0.shape))
	}
	for i := 0; i < len(x1.shape); i++ {
		if x0.shape[len(x0.shape)-len(x1.shape)+i] != x1.shape[i] {
			panic(fmt.Sprintf("shape %v is not a suffix of shape %v", x1.shape, x0.shape))
		}
	}
}

// Add returns the element-wise sum of two tensors. The shape of the smaller tensor must be a suffix sequence of the shape of the larger tensor.
func Add(x0, x1 *Tensor) *Tensor {
	if len(x0.shape) < len(x1.shape) {
		x0, x1 = x1, x0
	}
	checkSuffix(x0, x1)
	return apply(&add{}, x0, x1)
}

// Sub returns the element-wise difference of two tensors. The shape of the second tensor must be a suffix sequence of the shape of the first tensor.
func Sub(x0, x1 *Tensor) *Tensor {
	checkSuffix(x0, x1)
	return apply(&sub{}, x0, x1)
}

// Mul returns the element-wise product of two tensors. The shape of the smaller tensor must be a suffix sequence of the shape of the larger tensor.
func Mul(x0, x1 *Tensor) *Tensor {
	if len(x0.shape) < len(x1.shape) {
		x0, x1 = x1, x0
	}
	checkSuffix(x0, x1)
	return apply(&mul{}, x0, x1)
}

// Div returns the element-wise division of two tensors. The shape of the second tensor must be a suffix sequence of the shape of the first tensor.
func Div(x0, x1 *Tensor) *Tensor {
	checkSuffix(x0, x1)
	return apply(&div{}, x0, x1)
}

// Square returns the element-wise square of a tensor.
func Square(x *Tensor) *Tensor {
	return apply(&square{}, x)
}

// Sqrt returns the element-wise square root of a tensor.
func Sqrt(x *Tensor) *Tensor {
	return apply(&sqrt{}, x)
}

// Exp returns the element-wise exponential of a tensor.
func Exp(x *Tensor) *Tensor {
	return apply(&exp{}, x)
}

// Log returns the element-wise natural logarithm of a tensor.
func Log(x *Tensor) *Tensor {
	return apply(&log{}, x)
}

func Neg(x *Tensor) *Tensor {
	return apply(&neg{}, x)
}

// Sum returns the sum of all elements in a tensor.
func Sum(x *Tensor) *Tensor {
	return apply(&sum{}, x)
}

// Mean returns the mean of all elements in a tensor.
func Mean(x *Tensor) *Tensor {
	return apply(&mean{}, x)
}

// SumAxis sums a tensor along one axis and drops that axis.
func SumAxis(x *Tensor, axis int) *Tensor {
	if axis < 0 || axis >= len(x.shape) {
		panic(fmt.Sprintf("axis %d out of range for shape %v", axis, x.shape))
	}
	return apply(&sumAxis{axis: axis}, x)
}

func MatMul(x, y *Tensor) *Tensor {
	return apply(&matMul{}, x, y)
}

func Reshape(x *Tensor, shape ...int) *Tensor {
	if numel(shape) != len(x.data) {
		panic(fmt.Sprintf("cannot reshape %v into %v", x.shape, shape))
	}
	return apply(&reshape{shape: shape}, x)
}

// Flatten keeps the first axis and merges the rest.
func Flatten(x *Tensor) *Tensor {
	if len(x.shape) == 0 {
		return Reshape(x, 1)
	}
	return Reshape(x, x.shape[0], numel(x.shape[1:]))
}

// Concat joins tensors along the last axis. All leading axes must match.
func Concat(xs ...*Tensor) *Tensor {
	if len(xs) == 0 {
		panic("nothing to concat")
	}
	for _, x := range xs[1:] {
		if len(x.shape) != len(xs[0].shape) {
			panic(fmt.Sprintf("cannot concat %v with %v", xs[0].shape, x.shape))
		}
		for i := 0; i < len(x.shape)-1; i++ {
			if x.shape[i] != xs[0].shape[i] {
				panic(fmt.Sprintf("cannot concat %v with %v", xs[0].shape, x.shape))
			}
		}
	}
	return apply(&concat{}, xs...)
}

func Sigmoid(x *Tensor) *Tensor {
	return apply(&sigmoid{}, x)
}

func ReLu(x *Tensor) *Tensor {
	return apply(&relu{}, x)
}

// Embedding gathers rows of w for every valid position of x. The result has shape
// [rows, cols, w.shape[1:]...]. Indices must be in range; use EmbeddingLayer.Forward
// to get an error instead of a panic.
func Embedding(w *Tensor, x *Indices) *Tensor {
	for p, idx := range x.data {
		if x.valid[p] && (idx < 0 || int(idx) >= w.shape[0]) {
			panic(fmt.Sprintf("index %d out of range [0, %d)", idx, w.shape[0]))
		}
	}
	return apply(&embedding{indices: x}, w)
}

// Dot returns the row-wise inner products of two [B, K] matrices.
func Dot(x, y *Tensor) *Tensor {
	return SumAxis(Mul(x, y), len(x.shape)-1)
}
