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
	"slices"
	"testing"

	"github.com/gorse-io/deeprec/common/nn"
	"github.com/gorse-io/deeprec/dataset"
	"github.com/gorse-io/deeprec/model"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func fit(t *testing.T, m model.Model, d *dataset.Dataset, lr float32, epochs int) (first, last float32) {
	optimizer := nn.NewAdam(m.Parameters(), lr)
	x, y := d.Batch(d.Batches(d.Count(), nil)[0])
	for epoch := 0; epoch < epochs; epoch++ {
		output, err := m.Forward(x, nn.Train)
		if !assert.NoError(t, err) {
			return
		}
		var loss *nn.Tensor
		if m.Task() == model.Classification {
			loss = nn.BCEWithLogits(output, y)
		} else {
			loss = nn.MSE(output, y)
		}
		optimizer.ZeroGrad()
		loss.Backward()
		optimizer.Step()
		if epoch == 0 {
			first = loss.Data()[0]
		}
		last = loss.Data()[0]
	}
	return
}

func parity(n int) *dataset.Dataset {
	d := dataset.NewIdDataset(n, n)
	for u := 0; u < n; u++ {
		for i := 0; i < n; i++ {
			var target float32
			if (u+i)%2 == 0 {
				target = 1
			}
			_ = d.AddSample(u, i, target)
		}
	}
	return d
}

func TestMF(t *testing.T) {
	// rank 2
	users := [][]float32{{1, 0}, {0, 1}, {1, 1}, {1, -1}}
	items := [][]float32{{1, 0.5}, {0.5, 1}, {1, 0}, {0, 1}}
	d := dataset.NewIdDataset(4, 4)
	for u := range users {
		for i := range items {
			assert.NoError(t, d.AddSample(u, i, users[u][0]*items[i][0]+users[u][1]*items[i][1]))
		}
	}
	mf := NewMF(model.Params{model.NFactors: 2, model.RandomState: int64(0)})
	assert.NoError(t, mf.Init(d.Schema()))
	assert.Equal(t, model.Regression, mf.Task())
	assert.Len(t, mf.Parameters(), 1)
	_, last := fit(t, mf, d, 0.05, 2000)
	assert.Less(t, last, float32(0.01))

	// raw scores without activation
	x, y := d.Batch([]int{0, 5})
	predictions, err := model.Predict(mf, x)
	assert.NoError(t, err)
	assert.InDeltaSlice(t, y.Data(), predictions, 0.4)

	_, err = mf.Forward(nn.NewIndices(1, 1), nn.Eval)
	assert.True(t, errors.Is(err, nn.ErrShapeMismatch))
	assert.True(t, errors.Is(NewMF(nil).Init(dataset.NewSchemaBuilder().Build()), errors.NotFound))
}

func TestNCF(t *testing.T) {
	d := parity(6)
	ncf := NewNCF(model.Params{
		model.NFactors:     4,
		model.InitStdDev:   float32(0.1),
		model.HiddenLayers: []int{8},
	})
	assert.NoError(t, ncf.Init(d.Schema()))
	assert.Equal(t, model.Classification, ncf.Task())
	// two tables, an MLP with one hidden layer and the output layer
	assert.Len(t, ncf.Parameters(), 2+4+2+2)
	assert.Len(t, ncf.Buffers(), 2)
	first, last := fit(t, ncf, d, 0.05, 200)
	assert.Less(t, last, first/2)
}

func TestNCF_IndependentTables(t *testing.T) {
	d := parity(4)
	for _, reg := range []float32{0, 0.1} {
		ncf := NewNCF(model.Params{
			model.NFactors:     4,
			model.InitStdDev:   float32(0.1),
			model.HiddenLayers: []int{8},
		})
		assert.NoError(t, ncf.Init(d.Schema()))
		gmfTable := slices.Clone(ncf.gmf.W.Data())
		mlpTable := slices.Clone(ncf.mlp.W.Data())

		x, _ := d.Batch(d.Batches(d.Count(), nil)[0])
		gmf, mlp, err := ncf.Paths(x, nn.Train)
		assert.NoError(t, err)
		assert.Equal(t, []int{d.Count(), 4}, gmf.Shape())
		assert.Equal(t, []int{d.Count(), 4}, mlp.Shape())
		// only the MLP path contributes to the loss
		loss := nn.Add(nn.Sum(nn.Mul(gmf, nn.NewScalar(0))), nn.Mean(nn.Square(mlp)))
		optimizer := nn.NewAdam(ncf.Parameters(), 0.01)
		optimizer.SetWeightDecay(reg)
		for step := 0; step < 3; step++ {
			optimizer.ZeroGrad()
			if step > 0 {
				gmf, mlp, err = ncf.Paths(x, nn.Train)
				assert.NoError(t, err)
				loss = nn.Add(nn.Sum(nn.Mul(gmf, nn.NewScalar(0))), nn.Mean(nn.Square(mlp)))
			}
			loss.Backward()
			optimizer.Step()
		}

		assert.Equal(t, gmfTable, ncf.gmf.W.Data(), "reg %v", reg)
		assert.NotEqual(t, mlpTable, ncf.mlp.W.Data(), "reg %v", reg)
		// padding rows of both tables stay zero
		for k := 0; k < 4; k++ {
			assert.Equal(t, float32(0), ncf.gmf.W.Get(0, k))
			assert.Equal(t, float32(0), ncf.mlp.W.Get(0, k))
		}
	}
}

func TestTwoTower(t *testing.T) {
	d := parity(6)
	tt := NewTwoTower(model.Params{
		model.NFactors:     4,
		model.InitStdDev:   float32(0.1),
		model.HiddenLayers: []int{8},
	})
	assert.NoError(t, tt.Init(d.Schema()))
	assert.Equal(t, model.Classification, tt.Task())
	assert.Len(t, tt.Parameters(), 2*(1+4+2))
	assert.Len(t, tt.Buffers(), 2*2)
	first, last := fit(t, tt, d, 0.05, 200)
	assert.Less(t, last, first/2)

	x, _ := d.Batch([]int{0, 7})
	y, err := model.Predict(tt, x)
	assert.NoError(t, err)
	assert.Len(t, y, 2)
}

func TestTwoTower_DisjointTables(t *testing.T) {
	d := dataset.NewIdDataset(3, 3)
	tt := NewTwoTower(model.Params{model.NFactors: 2, model.InitStdDev: float32(1)})
	assert.NoError(t, tt.Init(d.Schema()))
	// each table only covers its own side and the padding row
	assert.Equal(t, 4, tt.user.embedding.Len())
	assert.Equal(t, 4, tt.item.embedding.Len())

	x := d.Encode([]int{0, 1, 2}, []int{2, 0, 1})
	users, items, err := tt.Gather(x)
	assert.NoError(t, err)
	userLo, _ := d.Schema().SideRange(dataset.UserSide)
	itemLo, _ := d.Schema().SideRange(dataset.ItemSide)
	for b := 0; b < 3; b++ {
		user, _ := x.Get(b, 0)
		item, _ := x.Get(b, 1)
		for k := 0; k < 2; k++ {
			assert.Equal(t, tt.user.embedding.W.Get(int(user-userLo)+1, k), users.Get(b, 0, k))
			assert.Equal(t, tt.item.embedding.W.Get(int(item-itemLo)+1, k), items.Get(b, 0, k))
		}
	}

	// an item index in a user column and a user index in an item column
	_, _, err = tt.Gather(nn.NewIndicesFromRows([][]int32{{itemLo, itemLo}}, 2))
	assert.True(t, errors.Is(err, nn.ErrIndexOutOfRange))
	_, _, err = tt.Gather(nn.NewIndicesFromRows([][]int32{{userLo, userLo}}, 2))
	assert.True(t, errors.Is(err, nn.ErrIndexOutOfRange))
	// indices right next to the other side's range
	_, _, err = tt.Gather(nn.NewIndicesFromRows([][]int32{{userLo, itemLo - 1}}, 2))
	assert.True(t, errors.Is(err, nn.ErrIndexOutOfRange))
	_, _, err = tt.Gather(nn.NewIndicesFromRows([][]int32{{itemLo, itemLo}}, 2))
	assert.True(t, errors.Is(err, nn.ErrIndexOutOfRange))
	_, _, err = tt.Gather(nn.NewIndices(1, 3))
	assert.True(t, errors.Is(err, nn.ErrShapeMismatch))
}
