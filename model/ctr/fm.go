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
	"github.com/gorse-io/deeprec/common/nn"
	"github.com/gorse-io/deeprec/dataset"
	"github.com/gorse-io/deeprec/model"
	"github.com/gorse-io/deeprec/model/block"
	"github.com/juju/errors"
)

// FM is a factorization machine over binary features:
//
//	y = b + Σ_i w_i + Σ_{i<j} <v_i, v_j>
//
// List fields such as genres become several valid positions of the same sample, which
// makes it a hybrid (content-based) model when side fields are present in the schema.
type FM struct {
	model.BaseModel
	task      model.Task
	linear    *block.Linear
	embedding *nn.EmbeddingLayer

	// Hyper parameters
	nFactors   int
	initMean   float32
	initStdDev float32
}

// NewFM creates a factorization machine for binary targets.
func NewFM(params model.Params) *FM {
	fm := &FM{task: model.Classification}
	fm.SetParams(params)
	return fm
}

// NewFMRegressor creates a factorization machine for ratings.
func NewFMRegressor(params model.Params) *FM {
	fm := &FM{task: model.Regression}
	fm.SetParams(params)
	return fm
}

func (fm *FM) SetParams(params model.Params) {
	fm.BaseModel.SetParams(params)
	fm.nFactors = fm.Params.GetInt(model.NFactors, 8)
	fm.initMean = fm.Params.GetFloat32(model.InitMean, 0)
	fm.initStdDev = fm.Params.GetFloat32(model.InitStdDev, 0.01)
}

func (fm *FM) Init(schema *dataset.Schema) error {
	if fm.nFactors < 1 {
		return errors.NotValidf("%s %d", model.NFactors, fm.nFactors)
	}
	rng := fm.GetRandomGenerator()
	fm.linear = block.NewLinear(schema.NumFeatures(), rng, fm.initStdDev)
	fm.embedding = nn.NewEmbedding(schema.NumFeatures(), fm.nFactors, rng, fm.initMean, fm.initStdDev)
	return nil
}

func (fm *FM) Forward(x *nn.Indices, _ nn.Mode) (*nn.Tensor, error) {
	linear, err := fm.linear.Forward(x)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e, err := fm.embedding.Forward(x)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return nn.Add(linear, block.Interaction(e)), nil
}

func (fm *FM) Parameters() []*nn.Tensor {
	return append(fm.linear.Parameters(), fm.embedding.Parameters()...)
}

func (fm *FM) Buffers() []*nn.Tensor {
	return nil
}

func (fm *FM) Task() model.Task {
	return fm.task
}
