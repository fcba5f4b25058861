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

package dataset

import (
	"math/rand"
	"strconv"

	"github.com/bits-and-blooms/bitset"
	"github.com/gorse-io/deeprec/common/nn"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"modernc.org/mathutil"
)

// Dataset is a list of (user, item, target) samples. Features of users and items are stored
// once per entity and joined into samples on demand.
type Dataset struct {
	schema  *Schema
	users   *nn.Indices
	items   *nn.Indices
	userIds []int
	itemIds []int
	target  []float32
}

// NewDataset creates an empty dataset. Row u of users holds the user-side columns of user u
// and row i of items holds the item-side columns of item i.
func NewDataset(schema *Schema, users, items *nn.Indices) *Dataset {
	return &Dataset{
		schema: schema,
		users:  users,
		items:  items,
	}
}

// NewIdDataset creates a dataset whose only fields are user and item ids.
func NewIdDataset(nUsers, nItems int) *Dataset {
	builder := NewSchemaBuilder()
	lo.Must0(builder.AddField(UserField, UserSide, 1))
	lo.Must0(builder.AddField(ItemField, ItemSide, 1))
	for i := 0; i < nUsers; i++ {
		lo.Must0(builder.Add(UserField, strconv.Itoa(i)))
	}
	for i := 0; i < nItems; i++ {
		lo.Must0(builder.Add(ItemField, strconv.Itoa(i)))
	}
	schema := builder.Build()
	users := nn.NewIndices(nUsers, 1)
	for i := 0; i < nUsers; i++ {
		schema.EncodeRow(users, i, UserSide, map[string][]string{UserField: {strconv.Itoa(i)}})
	}
	items := nn.NewIndices(nItems, 1)
	for i := 0; i < nItems; i++ {
		schema.EncodeRow(items, i, ItemSide, map[string][]string{ItemField: {strconv.Itoa(i)}})
	}
	return NewDataset(schema, users, items)
}

// AddSample appends a sample.
func (d *Dataset) AddSample(user, item int, target float32) error {
	if user < 0 || user >= d.users.Rows() {
		return errors.NotValidf("user %d", user)
	}
	if item < 0 || item >= d.items.Rows() {
		return errors.NotValidf("item %d", item)
	}
	d.userIds = append(d.userIds, user)
	d.itemIds = append(d.itemIds, item)
	d.target = append(d.target, target)
	return nil
}

func (d *Dataset) Schema() *Schema {
	return d.schema
}

func (d *Dataset) Count() int {
	return len(d.target)
}

func (d *Dataset) UserCount() int {
	return d.users.Rows()
}

func (d *Dataset) ItemCount() int {
	return d.items.Rows()
}

// Get returns the i-th sample.
func (d *Dataset) Get(i int) (user, item int, target float32) {
	return d.userIds[i], d.itemIds[i], d.target[i]
}

// Encode joins user and item features into samples of shape [len(users), width].
func (d *Dataset) Encode(users, items []int) *nn.Indices {
	return nn.ConcatIndices(d.users.Select(users), d.items.Select(items))
}

// Batch returns features and targets of the given samples.
func (d *Dataset) Batch(ids []int) (*nn.Indices, *nn.Tensor) {
	users := make([]int, len(ids))
	items := make([]int, len(ids))
	target := make([]float32, len(ids))
	for i, id := range ids {
		users[i], items[i], target[i] = d.Get(id)
	}
	return d.Encode(users, items), nn.NewTensor(target, len(ids))
}

// Batches splits sample ids into chunks of batchSize. Ids are shuffled if rng is not nil.
func (d *Dataset) Batches(batchSize int, rng *rand.Rand) [][]int {
	var ids []int
	if rng != nil {
		ids = rng.Perm(d.Count())
	} else {
		ids = lo.Range(d.Count())
	}
	return lo.Chunk(ids, batchSize)
}

// Split samples into a train set and a test set. Both share features with d.
func (d *Dataset) Split(testRatio float32, seed int64) (*Dataset, *Dataset) {
	train := NewDataset(d.schema, d.users, d.items)
	test := NewDataset(d.schema, d.users, d.items)
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(d.Count())
	testSize := mathutil.Min(int(float32(d.Count())*testRatio), d.Count())
	for i, id := range perm {
		if i < testSize {
			test.add(d.Get(id))
		} else {
			train.add(d.Get(id))
		}
	}
	return train, test
}

func (d *Dataset) add(user, item int, target float32) {
	d.userIds = append(d.userIds, user)
	d.itemIds = append(d.itemIds, item)
	d.target = append(d.target, target)
}

// UserFeedback returns the set of items of each user. Only samples with a positive target
// are counted if positiveOnly is set.
func (d *Dataset) UserFeedback(positiveOnly bool) []*bitset.BitSet {
	feedback := make([]*bitset.BitSet, d.UserCount())
	for i := range feedback {
		feedback[i] = bitset.New(uint(d.ItemCount()))
	}
	for i := 0; i < d.Count(); i++ {
		user, item, target := d.Get(i)
		if !positiveOnly || target > 0 {
			feedback[user].Set(uint(item))
		}
	}
	return feedback
}

// NegativeSample returns a copy of d with n sampled negatives per positive sample. A negative
// is an item the user never interacted with in d or in any exclude set.
func (d *Dataset) NegativeSample(n int, seed int64, exclude ...*Dataset) *Dataset {
	rng := rand.New(rand.NewSource(seed))
	seen := d.UserFeedback(false)
	for _, e := range exclude {
		for u, s := range e.UserFeedback(false) {
			seen[u].InPlaceUnion(s)
		}
	}
	sampled := NewDataset(d.schema, d.users, d.items)
	for i := 0; i < d.Count(); i++ {
		user, item, target := d.Get(i)
		sampled.add(user, item, target)
		if target <= 0 {
			continue
		}
		for _, negative := range Sample(rng, d.ItemCount(), n, seen[user]) {
			sampled.add(user, negative, 0)
		}
	}
	return sampled
}

// Targets returns all targets.
func (d *Dataset) Targets() []float32 {
	return d.target
}
