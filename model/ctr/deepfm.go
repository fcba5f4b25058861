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

package ctr

import (
	"slices"

	"github.com/gorse-io/deeprec/common/nn"
	"github.com/gorse-io/deeprec/dataset"
	"github.com/gorse-io/deeprec/model"
	"github.com/gorse-io/deeprec/model/block"
	"github.com/juju/errors"
)

// deep holds the embedding table and the MLP shared by DeepFM and Wide & Deep.
type deep struct {
	model.BaseModel
	width     int
	linear    *block.Linear
	embedding *nn.EmbeddingLayer
	mlp       *nn.Sequential

	// Hyper parameters
	nFactors     int
	initMean     float32
	initStdDev   float32
	hiddenLayers []int
	dropout      float32
}

func (d *deep) SetParams(params model.Params) {
	d.BaseModel.SetParams(params)
	d.nFactors = d.Params.GetInt(model.NFactors, 8)
	d.initMean = d.Params.GetFloat32(model.InitMean, 0)
	d.initStdDev = d.Params.GetFloat32(model.InitStdDev, 0.01)
	d.hiddenLayers = d.Params.GetIntSlice(model.HiddenLayers, []int{64, 32})
	d.dropout = d.Params.GetFloat32(model.Dropout, 0)
}

func (d *deep) Init(schema *dataset.Schema) error {
	if d.nFactors < 1 {
		return errors.NotValidf("%s %d", model.NFactors, d.nFactors)
	}
	if d.dropout < 0 || d.dropout >= 1 {
		return errors.NotValidf("%s %v", model.Dropout, d.dropout)
	}
	rng := d.GetRandomGenerator()
	d.width = schema.Width(dataset.UserSide) + schema.Width(dataset.ItemSide)
	d.linear = block.NewLinear(schema.NumFeatures(), rng, d.initStdDev)
	d.embedding = nn.NewEmbedding(schema.NumFeatures(), d.nFactors, rng, d.initMean, d.initStdDev)
	d.mlp = block.NewMLP(d.width*d.nFactors, d.hiddenLayers, 1, d.dropout, rng)
	return nil
}

// forward returns the linear term, the embeddings and the MLP output over flattened embeddings.
func (d *deep) forward(x *nn.Indices, mode nn.Mode) (linear, e, deep *nn.Tensor, err error) {
	if x.Cols() != d.width {
		return nil, nil, nil, errors.Annotatef(nn.ErrShapeMismatch, "expect %d columns but got %d", d.width, x.Cols())
	}
	if linear, err = d.linear.Forward(x); err != nil {
		return nil, nil, nil, errors.Trace(err)
	}
	if e, err = d.embedding.Forward(x); err != nil {
		return nil, nil, nil, errors.Trace(err)
	}
	if deep, err = d.mlp.Forward(nn.Flatten(e), mode); err != nil {
		return nil, nil, nil, errors.Trace(err)
	}
	return linear, e, nn.Reshape(deep, x.Rows()), nil
}

func (d *deep) Parameters() []*nn.Tensor {
	params := slices.Clone(d.linear.Parameters())
	params = append(params, d.embedding.Parameters()...)
	return append(params, d.mlp.Parameters()...)
}

func (d *deep) Buffers() []*nn.Tensor {
	return d.mlp.Buffers()
}

func (d *deep) Task() model.Task {
	return model.Classification
}

// DeepFM adds an MLP over the factorization machine embeddings:
//
//	y = b + Σ_i w_i + Σ_{i<j} <v_i, v_j> + MLP([v_1, ..., v_n])
type DeepFM struct {
	deep
}

func NewDeepFM(params model.Params) *DeepFM {
	fm := new(DeepFM)
	fm.SetParams(params)
	return fm
}

func (fm *DeepFM) Forward(x *nn.Indices, mode nn.Mode) (*nn.Tensor, error) {
	linear, e, deep, err := fm.forward(x, mode)
	if err != nil {
		return nil, err
	}
	return nn.Add(nn.Add(linear, block.Interaction(e)), deep), nil
}

// WideDeep joins a linear model and an MLP over embeddings:
//
//	y = b + Σ_i w_i + MLP([v_1, ..., v_n])
type WideDeep struct {
	deep
}

func NewWideDeep(params model.Params) *WideDeep {
	wd := new(WideDeep)
	wd.SetParams(params)
	return wd
}

func (wd *WideDeep) Forward(x *nn.Indices, mode nn.Mode) (*nn.Tensor, error) {
	linear, _, deep, err := wd.forward(x, mode)
	if err != nil {
		return nil, err
	}
	return nn.Add(linear, deep), nil
}
