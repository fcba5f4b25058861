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

package model

import (
	"io"
	"slices"

	"github.com/gorse-io/deeprec/common/encoding"
	"github.com/gorse-io/deeprec/common/nn"
	"github.com/gorse-io/deeprec/dataset"
	"github.com/juju/errors"
)

func tensors(m Model) []*nn.Tensor {
	return append(slices.Clone(m.Parameters()), m.Buffers()...)
}

// Marshal writes the model name, hyper-parameters, schema and every tensor of a model.
func Marshal(w io.Writer, name string, m Model, schema *dataset.Schema) error {
	if err := encoding.WriteString(w, name); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteGob(w, m.GetParams()); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteGob(w, schema); err != nil {
		return errors.Trace(err)
	}
	for _, t := range tensors(m) {
		if err := encoding.WriteGob(w, t.Shape()); err != nil {
			return errors.Trace(err)
		}
		if err := encoding.WriteFloat32s(w, t.Data()); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Unmarshal restores a model written by Marshal. The model is created by the creator
// registered under its name and initialized with the saved schema.
func Unmarshal(r io.Reader, creators map[string]Creator) (string, Model, *dataset.Schema, error) {
	name, err := encoding.ReadString(r)
	if err != nil {
		return "", nil, nil, errors.Trace(err)
	}
	creator, exist := creators[name]
	if !exist {
		return "", nil, nil, errors.NotSupportedf("model %s", name)
	}
	var params Params
	if err = encoding.ReadGob(r, &params); err != nil {
		return "", nil, nil, errors.Trace(err)
	}
	schema := new(dataset.Schema)
	if err = encoding.ReadGob(r, schema); err != nil {
		return "", nil, nil, errors.Trace(err)
	}
	m := creator(params)
	if err = m.Init(schema); err != nil {
		return "", nil, nil, errors.Trace(err)
	}
	for i, t := range tensors(m) {
		var shape []int
		if err = encoding.ReadGob(r, &shape); err != nil {
			return "", nil, nil, errors.Trace(err)
		}
		if !slices.Equal(shape, t.Shape()) {
			return "", nil, nil, errors.Errorf("tensor %d: expect shape %v but got %v", i, t.Shape(), shape)
		}
		if err = encoding.ReadFloat32s(r, t.Data()); err != nil {
			return "", nil, nil, errors.Trace(err)
		}
	}
	return name, m, schema, nil
}
