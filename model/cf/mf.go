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

package cf

import (
	"github.com/gorse-io/deeprec/common/nn"
	"github.com/gorse-io/deeprec/dataset"
	"github.com/gorse-io/deeprec/model"
	"github.com/juju/errors"
)

// MF is the vanilla matrix factorization: user rows and item rows are gathered from one
// shared table and scored by their dot product. Scores are raw ratings.
type MF struct {
	model.BaseModel
	embedding        *nn.EmbeddingLayer
	userFrom, userTo int
	itemFrom, itemTo int

	// Hyper parameters
	nFactors   int
	initMean   float32
	initStdDev float32
}

func NewMF(params model.Params) *MF {
	mf := new(MF)
	mf.SetParams(params)
	return mf
}

func (mf *MF) SetParams(params model.Params) {
	mf.BaseModel.SetParams(params)
	mf.nFactors = mf.Params.GetInt(model.NFactors, 16)
	mf.initMean = mf.Params.GetFloat32(model.InitMean, 0)
	mf.initStdDev = mf.Params.GetFloat32(model.InitStdDev, 0.1)
}

func (mf *MF) Init(schema *dataset.Schema) error {
	if err := model.RequireFields(schema, dataset.UserField, dataset.ItemField); err != nil {
		return errors.Trace(err)
	}
	if mf.nFactors < 1 {
		return errors.NotValidf("%s %d", model.NFactors, mf.nFactors)
	}
	mf.userFrom, mf.userTo = schema.Columns(dataset.UserField)
	mf.itemFrom, mf.itemTo = schema.Columns(dataset.ItemField)
	mf.embedding = nn.NewEmbedding(schema.NumFeatures(), mf.nFactors, mf.GetRandomGenerator(), mf.initMean, mf.initStdDev)
	return nil
}

func (mf *MF) Forward(x *nn.Indices, _ nn.Mode) (*nn.Tensor, error) {
	if x.Cols() < mf.itemTo {
		return nil, errors.Annotatef(nn.ErrShapeMismatch, "expect at least %d columns but got %d", mf.itemTo, x.Cols())
	}
	users, err := mf.embedding.Forward(x.Columns(mf.userFrom, mf.userTo))
	if err != nil {
		return nil, errors.Trace(err)
	}
	items, err := mf.embedding.Forward(x.Columns(mf.itemFrom, mf.itemTo))
	if err != nil {
		return nil, errors.Trace(err)
	}
	return nn.Dot(
		nn.Reshape(users, x.Rows(), mf.nFactors),
		nn.Reshape(items, x.Rows(), mf.nFactors)), nil
}

func (mf *MF) Parameters() []*nn.Tensor {
	return mf.embedding.Parameters()
}

func (mf *MF) Buffers() []*nn.Tensor {
	return nil
}

func (mf *MF) Task() model.Task {
	return model.Regression
}
