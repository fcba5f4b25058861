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

	"github.com/chewxy/math32"
	"github.com/juju/errors"
)

var (
	ErrIndexOutOfRange  = errors.New("feature index out of range")
	ErrPaddingCollision = errors.New("valid position refers to the padding row")
	ErrBatchTooSmall    = errors.New("batch normalization requires batch size > 1 in training mode")
	ErrShapeMismatch    = errors.New("shape mismatch")
)

const (
	defaultBatchNormEps  float32 = 1e-5
	defaultBatchMomentum float32 = 0.1
)

// Mode switches layers between training and evaluation behavior. It is passed to every
// forward call instead of being stored in the layer.
type Mode int

const (
	Train Mode = iota
	Eval
)

func (m Mode) String() string {
	if m == Train {
		return "train"
	}
	return "eval"
}

type Layer interface {
	Parameters() []*Tensor
	Forward(x *Tensor, mode Mode) (*Tensor, error)
}

// Stateful layers keep buffers that are not trained by the optimizer but must be saved.
type Stateful interface {
	Buffers() []*Tensor
}

type LinearLayer struct {
	W *Tensor
	B *Tensor
}

func NewLinear(in, out int, rng *rand.Rand) *LinearLayer {
	return &LinearLayer{
		W: Normal(rng, 0, 1.0/math32.Sqrt(float32(in)), in, out),
		B: Zeros(out),
	}
}

func (l *LinearLayer) Forward(x *Tensor, _ Mode) (*Tensor, error) {
	if len(x.shape) != 2 || x.shape[1] != l.W.shape[0] {
		return nil, errors.Annotatef(ErrShapeMismatch, "linear layer expects [*, %d] but got %v", l.W.shape[0], x.shape)
	}
	return Add(MatMul(x, l.W), l.B), nil
}

func (l *LinearLayer) Parameters() []*Tensor {
	return []*Tensor{l.W, l.B}
}

// BatchNormLayer normalizes [batch, features] inputs. Batch statistics are used in
// training mode and running statistics in evaluation mode.
type BatchNormLayer struct {
	Gamma       *Tensor
	Beta        *Tensor
	RunningMean *Tensor
	RunningVar  *Tensor
	momentum    float32
	eps         float32
}

func NewBatchNorm(n int) *BatchNormLayer {
	return &BatchNormLayer{
		Gamma:       Ones(n),
		Beta:        Zeros(n),
		RunningMean: Zeros(n),
		RunningVar:  Ones(n),
		momentum:    defaultBatchMomentum,
		eps:         defaultBatchNormEps,
	}
}

func (b *BatchNormLayer) Parameters() []*Tensor {
	return []*Tensor{b.Gamma, b.Beta}
}

func (b *BatchNormLayer) Buffers() []*Tensor {
	return []*Tensor{b.RunningMean, b.RunningVar}
}

func (b *BatchNormLayer) Forward(x *Tensor, mode Mode) (*Tensor, error) {
	if len(x.shape) != 2 || x.shape[1] != b.Gamma.shape[0] {
		return nil, errors.Annotatef(ErrShapeMismatch, "batch norm expects [*, %d] but got %v", b.Gamma.shape[0], x.shape)
	}
	var xHat *Tensor
	if mode == Train {
		n := x.shape[0]
		if n < 2 {
			return nil, errors.Trace(ErrBatchTooSmall)
		}
		mean := Div(SumAxis(x, 0), NewScalar(float32(n)))
		xc := Sub(x, mean)
		variance := Div(SumAxis(Square(xc), 0), NewScalar(float32(n)))
		xHat = Div(xc, Sqrt(Add(variance, NewScalar(b.eps))))
		// update running statistics with unbiased variance
		for i := range b.RunningMean.data {
			b.RunningMean.data[i] = (1-b.momentum)*b.RunningMean.data[i] + b.momentum*mean.data[i]
			unbiased := variance.data[i] * float32(n) / float32(n-1)
			b.RunningVar.data[i] = (1-b.momentum)*b.RunningVar.data[i] + b.momentum*unbiased
		}
	} else {
		runningMean := b.RunningMean.clone()
		runningStd := b.RunningVar.clone()
		for i := range runningStd.data {
			runningStd.data[i] = math32.Sqrt(runningStd.data[i] + b.eps)
		}
		xHat = Div(Sub(x, runningMean), runningStd)
	}
	return Add(Mul(xHat, b.Gamma), b.Beta), nil
}

// DropoutLayer zeroes inputs with probability p in training mode and scales the rest
// by 1/(1-p). It is an identity in evaluation mode.
type DropoutLayer struct {
	p   float32
	rng *rand.Rand
}

func NewDropout(p float32, rng *rand.Rand) *DropoutLayer {
	return &DropoutLayer{p: p, rng: rng}
}

func (d *DropoutLayer) Parameters() []*Tensor {
	return nil
}

func (d *DropoutLayer) Forward(x *Tensor, mode Mode) (*Tensor, error) {
	if mode == Eval || d.p <= 0 {
		return x, nil
	}
	mask := Zeros(x.shape...)
	scale := 1 / (1 - d.p)
	for i := range mask.data {
		if d.rng.Float32() >= d.p {
			mask.data[i] = scale
		}
	}
	return Mul(x, mask), nil
}

type sigmoidLayer struct{}

func NewSigmoid() Layer {
	return &sigmoidLayer{}
}

func (s *sigmoidLayer) Parameters() []*Tensor {
	return nil
}

func (s *sigmoidLayer) Forward(x *Tensor, _ Mode) (*Tensor, error) {
	return Sigmoid(x), nil
}

type reluLayer struct{}

func NewReLU() Layer {
	return &reluLayer{}
}

func (r *reluLayer) Parameters() []*Tensor {
	return nil
}

func (r *reluLayer) Forward(x *Tensor, _ Mode) (*Tensor, error) {
	return ReLu(x), nil
}

type Sequential struct {
	Layers []Layer
}

func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{Layers: layers}
}

func (s *Sequential) Parameters() []*Tensor {
	var params []*Tensor
	for _, l := range s.Layers {
		params = append(params, l.Parameters()...)
	}
	return params
}

func (s *Sequential) Buffers() []*Tensor {
	var buffers []*Tensor
	for _, l := range s.Layers {
		if stateful, ok := l.(Stateful); ok {
			buffers = append(buffers, stateful.Buffers()...)
		}
	}
	return buffers
}

func (s *Sequential) Forward(x *Tensor, mode Mode) (*Tensor, error) {
	var err error
	for i, l := range s.Layers {
		if x, err = l.Forward(x, mode); err != nil {
			return nil, errors.Annotatef(err, "layer %d", i)
		}
	}
	return x, nil
}

// EmbeddingLayer maps feature indices to trainable vectors. Row 0 is reserved for
// padding: it starts at zero and is never gathered, so it never receives gradient.
type EmbeddingLayer struct {
	W *Tensor
}

// NewEmbedding creates a table of n rows (including the padding row) of dim columns.
func NewEmbedding(n, dim int, rng *rand.Rand, mean, std float32) *EmbeddingLayer {
	w := Normal(rng, mean, std, n, dim)
	for i := 0; i < dim; i++ {
		w.data[i] = 0
	}
	return &EmbeddingLayer{W: w}
}

func (e *EmbeddingLayer) Parameters() []*Tensor {
	return []*Tensor{e.W}
}

func (e *EmbeddingLayer) Len() int {
	return e.W.shape[0]
}

func (e *EmbeddingLayer) Dim() int {
	return e.W.shape[1]
}

// Forward returns [rows, cols, dim] embeddings. Masked positions are zero vectors.
func (e *EmbeddingLayer) Forward(x *Indices) (*Tensor, error) {
	n := int32(e.W.shape[0])
	for p, idx := range x.data {
		if !x.valid[p] {
			continue
		}
		if idx == PaddingIndex {
			return nil, errors.Annotatef(ErrPaddingCollision, "position (%d, %d)", p/x.cols, p%x.cols)
		}
		if idx < 0 || idx >= n {
			return nil, errors.Annotatef(ErrIndexOutOfRange, "index %d not in [1, %d)", idx, n)
		}
	}
	return apply(&embedding{indices: x}, e.W), nil
}
