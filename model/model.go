// Copyright 2020 gorse Project Authors
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

package model

import (
	"math/rand"

	"github.com/gorse-io/deeprec/common/nn"
	"github.com/gorse-io/deeprec/dataset"
	"github.com/juju/errors"
)

// Task is the kind of target a model is trained for.
type Task int

const (
	Classification Task = iota
	Regression
)

func (t Task) String() string {
	switch t {
	case Classification:
		return "classification"
	case Regression:
		return "regression"
	default:
		return "unknown"
	}
}

// Model is the interface for all models. Any model in this
// package should implement it.
type Model interface {
	// SetParams sets hyper-parameters.
	SetParams(params Params)
	// GetParams returns hyper-parameters.
	GetParams() Params
	// Init creates parameter tensors for the feature layout of a schema.
	Init(schema *dataset.Schema) error
	// Forward returns raw scores of shape [batch].
	Forward(x *nn.Indices, mode nn.Mode) (*nn.Tensor, error)
	// Parameters returns trainable tensors.
	Parameters() []*nn.Tensor
	// Buffers returns tensors that are saved but not trained.
	Buffers() []*nn.Tensor
	// Task returns the kind of target.
	Task() Task
}

// Creator creates a model from hyper-parameters.
type Creator func(params Params) Model

// BaseModel model must be included by every recommendation model. Hyper-parameters
// and the random generator are managed by the BaseModel model.
type BaseModel struct {
	Params    Params // Hyper-parameters
	rng       *rand.Rand
	randState int64
}

// SetParams sets hyper-parameters for the BaseModel model.
func (model *BaseModel) SetParams(params Params) {
	model.Params = params
	model.randState = model.Params.GetInt64(RandomState, 0)
	model.rng = rand.New(rand.NewSource(model.randState))
}

// GetParams returns all hyper-parameters.
func (model *BaseModel) GetParams() Params {
	return model.Params
}

func (model *BaseModel) GetRandomGenerator() *rand.Rand {
	if model.rng == nil {
		model.rng = rand.New(rand.NewSource(model.randState))
	}
	return model.rng
}

// Predict scores samples in evaluation mode. Sigmoid is applied to classification scores.
func Predict(m Model, x *nn.Indices) ([]float32, error) {
	y, err := m.Forward(x, nn.Eval)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if m.Task() == Classification {
		y = nn.Sigmoid(y)
	}
	return y.Data(), nil
}

// RequireFields checks that a schema has the given fields.
func RequireFields(schema *dataset.Schema, names ...string) error {
	for _, name := range names {
		if schema.Field(name) == nil {
			return errors.NotFoundf("field %s", name)
		}
	}
	return nil
}
