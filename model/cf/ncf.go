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
	"github.com/gorse-io/deeprec/model/block"
	"github.com/juju/errors"
)

// NCF is neural collaborative filtering. The generalized matrix factorization path and the
// MLP path gather user and item vectors from two separate tables. Outputs of both paths
// are concatenated and projected to a single logit.
type NCF struct {
	model.BaseModel
	gmf              *nn.EmbeddingLayer
	mlp              *nn.EmbeddingLayer
	hidden           *nn.Sequential
	output           *nn.LinearLayer
	userFrom, userTo int
	itemFrom, itemTo int

	// Hyper parameters
	nFactors     int
	initMean     float32
	initStdDev   float32
	hiddenLayers []int
	dropout      float32
}

func NewNCF(params model.Params) *NCF {
	ncf := new(NCF)
	ncf.SetParams(params)
	return ncf
}

func (ncf *NCF) SetParams(params model.Params) {
	ncf.BaseModel.SetParams(params)
	ncf.nFactors = ncf.Params.GetInt(model.NFactors, 8)
	ncf.initMean = ncf.Params.GetFloat32(model.InitMean, 0)
	ncf.initStdDev = ncf.Params.GetFloat32(model.InitStdDev, 0.01)
	ncf.hiddenLayers = ncf.Params.GetIntSlice(model.HiddenLayers, []int{32, 16})
	ncf.dropout = ncf.Params.GetFloat32(model.Dropout, 0)
}

func (ncf *NCF) Init(schema *dataset.Schema) error {
	if err := model.RequireFields(schema, dataset.UserField, dataset.ItemField); err != nil {
		return errors.Trace(err)
	}
	if ncf.nFactors < 1 {
		return errors.NotValidf("%s %d", model.NFactors, ncf.nFactors)
	}
	if ncf.dropout < 0 || ncf.dropout >= 1 {
		return errors.NotValidf("%s %v", model.Dropout, ncf.dropout)
	}
	rng := ncf.GetRandomGenerator()
	ncf.userFrom, ncf.userTo = schema.Columns(dataset.UserField)
	ncf.itemFrom, ncf.itemTo = schema.Columns(dataset.ItemField)
	ncf.gmf = nn.NewEmbedding(schema.NumFeatures(), ncf.nFactors, rng, ncf.initMean, ncf.initStdDev)
	ncf.mlp = nn.NewEmbedding(schema.NumFeatures(), ncf.nFactors, rng, ncf.initMean, ncf.initStdDev)
	ncf.hidden = block.NewMLP(2*ncf.nFactors, ncf.hiddenLayers, ncf.nFactors, ncf.dropout, rng)
	ncf.output = nn.NewLinear(2*ncf.nFactors, 1, rng)
	return nil
}

// gather returns [batch, factors] user and item vectors from a table.
func (ncf *NCF) gather(table *nn.EmbeddingLayer, x *nn.Indices) (users, items *nn.Tensor, err error) {
	if users, err = table.Forward(x.Columns(ncf.userFrom, ncf.userTo)); err != nil {
		return nil, nil, errors.Trace(err)
	}
	if items, err = table.Forward(x.Columns(ncf.itemFrom, ncf.itemTo)); err != nil {
		return nil, nil, errors.Trace(err)
	}
	return nn.Reshape(users, x.Rows(), ncf.nFactors), nn.Reshape(items, x.Rows(), ncf.nFactors), nil
}

// Paths returns the outputs of the GMF path and the MLP path, both [batch, factors].
func (ncf *NCF) Paths(x *nn.Indices, mode nn.Mode) (gmf, mlp *nn.Tensor, err error) {
	if x.Cols() < ncf.itemTo {
		return nil, nil, errors.Annotatef(nn.ErrShapeMismatch, "expect at least %d columns but got %d", ncf.itemTo, x.Cols())
	}
	users, items, err := ncf.gather(ncf.gmf, x)
	if err != nil {
		return nil, nil, err
	}
	gmf = nn.Mul(users, items)
	if users, items, err = ncf.gather(ncf.mlp, x); err != nil {
		return nil, nil, err
	}
	if mlp, err = ncf.hidden.Forward(nn.Concat(users, items), mode); err != nil {
		return nil, nil, errors.Trace(err)
	}
	return gmf, mlp, nil
}

func (ncf *NCF) Forward(x *nn.Indices, mode nn.Mode) (*nn.Tensor, error) {
	gmf, mlp, err := ncf.Paths(x, mode)
	if err != nil {
		return nil, err
	}
	y, err := ncf.output.Forward(nn.Concat(gmf, mlp), mode)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return nn.Reshape(y, x.Rows()), nil
}

func (ncf *NCF) Parameters() []*nn.Tensor {
	var params []*nn.Tensor
	params = append(params, ncf.gmf.Parameters()...)
	params = append(params, ncf.mlp.Parameters()...)
	params = append(params, ncf.hidden.Parameters()...)
	return append(params, ncf.output.Parameters()...)
}

func (ncf *NCF) Buffers() []*nn.Tensor {
	return ncf.hidden.Buffers()
}

func (ncf *NCF) Task() model.Task {
	return model.Classification
}
