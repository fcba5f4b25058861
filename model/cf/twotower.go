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

// tower embeds the fields of one side from its own table and maps them to a vector.
type tower struct {
	from, to  int   // columns of the side
	lo, hi    int32 // feature indices of the side
	embedding *nn.EmbeddingLayer
	mlp       *nn.Sequential
}

func (t *tower) gather(x *nn.Indices) (*nn.Tensor, error) {
	cols := x.Columns(t.from, t.to)
	for i := 0; i < cols.Rows(); i++ {
		for j := 0; j < cols.Cols(); j++ {
			if idx, valid := cols.Get(i, j); valid && (idx < t.lo || idx >= t.hi) {
				return nil, errors.Annotatef(nn.ErrIndexOutOfRange, "index %d outside [%d, %d)", idx, t.lo, t.hi)
			}
		}
	}
	// rows 1, 2, ... hold the indices lo, lo+1, ...
	e, err := t.embedding.Forward(cols.Shift(1 - t.lo))
	if err != nil {
		return nil, errors.Trace(err)
	}
	return e, nil
}

func (t *tower) forward(x *nn.Indices, mode nn.Mode) (*nn.Tensor, error) {
	e, err := t.gather(x)
	if err != nil {
		return nil, err
	}
	return t.mlp.Forward(nn.Flatten(e), mode)
}

// TwoTower scores a sample by the dot product of a user vector and an item vector. Each
// tower owns a table covering only the feature indices of its side, so a tower can never
// read a row of the other side.
type TwoTower struct {
	model.BaseModel
	user *tower
	item *tower

	// Hyper parameters
	nFactors     int
	initMean     float32
	initStdDev   float32
	hiddenLayers []int
	dropout      float32
}

func NewTwoTower(params model.Params) *TwoTower {
	tt := new(TwoTower)
	tt.SetParams(params)
	return tt
}

func (tt *TwoTower) SetParams(params model.Params) {
	tt.BaseModel.SetParams(params)
	tt.nFactors = tt.Params.GetInt(model.NFactors, 8)
	tt.initMean = tt.Params.GetFloat32(model.InitMean, 0)
	tt.initStdDev = tt.Params.GetFloat32(model.InitStdDev, 0.01)
	tt.hiddenLayers = tt.Params.GetIntSlice(model.HiddenLayers, []int{32})
	tt.dropout = tt.Params.GetFloat32(model.Dropout, 0)
}

func (tt *TwoTower) Init(schema *dataset.Schema) error {
	if tt.nFactors < 1 {
		return errors.NotValidf("%s %d", model.NFactors, tt.nFactors)
	}
	if tt.dropout < 0 || tt.dropout >= 1 {
		return errors.NotValidf("%s %v", model.Dropout, tt.dropout)
	}
	rng := tt.GetRandomGenerator()
	newTower := func(side dataset.Side) (*tower, error) {
		width := schema.Width(side)
		if width == 0 {
			return nil, errors.NotFoundf("%s fields", side)
		}
		lo, hi := schema.SideRange(side)
		from, to := schema.SideColumns(side)
		return &tower{
			from:      from,
			to:        to,
			lo:        lo,
			hi:        hi,
			embedding: nn.NewEmbedding(int(hi-lo)+1, tt.nFactors, rng, tt.initMean, tt.initStdDev),
			mlp:       block.NewMLP(width*tt.nFactors, tt.hiddenLayers, tt.nFactors, tt.dropout, rng),
		}, nil
	}
	var err error
	if tt.user, err = newTower(dataset.UserSide); err != nil {
		return errors.Trace(err)
	}
	if tt.item, err = newTower(dataset.ItemSide); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// Gather returns raw user-side and item-side embeddings [batch, width, factors] looked up
// from the table of each tower.
func (tt *TwoTower) Gather(x *nn.Indices) (users, items *nn.Tensor, err error) {
	if x.Cols() != tt.item.to {
		return nil, nil, errors.Annotatef(nn.ErrShapeMismatch, "expect %d columns but got %d", tt.item.to, x.Cols())
	}
	if users, err = tt.user.gather(x); err != nil {
		return nil, nil, err
	}
	if items, err = tt.item.gather(x); err != nil {
		return nil, nil, err
	}
	return users, items, nil
}

// Towers returns the user vectors and the item vectors, both [batch, factors].
func (tt *TwoTower) Towers(x *nn.Indices, mode nn.Mode) (users, items *nn.Tensor, err error) {
	if x.Cols() != tt.item.to {
		return nil, nil, errors.Annotatef(nn.ErrShapeMismatch, "expect %d columns but got %d", tt.item.to, x.Cols())
	}
	if users, err = tt.user.forward(x, mode); err != nil {
		return nil, nil, errors.Annotate(err, "user tower")
	}
	if items, err = tt.item.forward(x, mode); err != nil {
		return nil, nil, errors.Annotate(err, "item tower")
	}
	return users, items, nil
}

func (tt *TwoTower) Forward(x *nn.Indices, mode nn.Mode) (*nn.Tensor, error) {
	users, items, err := tt.Towers(x, mode)
	if err != nil {
		return nil, err
	}
	return nn.Dot(users, items), nil
}

func (tt *TwoTower) Parameters() []*nn.Tensor {
	var params []*nn.Tensor
	for _, t := range []*tower{tt.user, tt.item} {
		params = append(params, t.embedding.Parameters()...)
		params = append(params, t.mlp.Parameters()...)
	}
	return params
}

func (tt *TwoTower) Buffers() []*nn.Tensor {
	return append(tt.user.mlp.Buffers(), tt.item.mlp.Buffers()...)
}

func (tt *TwoTower) Task() model.Task {
	return model.Classification
}
