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
	"github.com/gorse-io/deeprec/common/nn"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// Side tells which entity a field describes.
type Side int

const (
	UserSide Side = iota
	ItemSide
)

func (s Side) String() string {
	switch s {
	case UserSide:
		return "user"
	case ItemSide:
		return "item"
	default:
		return "unknown"
	}
}

// Names of the identifier fields.
const (
	UserField = "user"
	ItemField = "item"
)

// Field is a categorical field packed into the global feature index space. Values of the
// field are encoded as Offset, Offset+1, ..., Offset+len(Values)-1.
type Field struct {
	Name   string
	Side   Side
	Width  int
	Offset int32
	Values []string
}

func (f *Field) Size() int32 {
	return int32(len(f.Values))
}

type fieldBuilder struct {
	name     string
	side     Side
	width    int
	minCount int
	dict     *FreqDict
}

// SchemaBuilder collects field values before offsets are assigned.
type SchemaBuilder struct {
	fields []*fieldBuilder
	lookup map[string]*fieldBuilder
}

func NewSchemaBuilder() *SchemaBuilder {
	return &SchemaBuilder{lookup: make(map[string]*fieldBuilder)}
}

// AddField declares a field. Width is the number of columns the field occupies in a sample:
// 1 for a scalar field and the maximum list length for a list field.
func (b *SchemaBuilder) AddField(name string, side Side, width int) error {
	if _, exist := b.lookup[name]; exist {
		return errors.AlreadyExistsf("field %s", name)
	}
	if width < 1 {
		return errors.NotValidf("width %d of field %s", width, name)
	}
	f := &fieldBuilder{name: name, side: side, width: width, minCount: 1, dict: NewFreqDict()}
	b.fields = append(b.fields, f)
	b.lookup[name] = f
	return nil
}

// SetMinCount drops values seen less than n times when the schema is built.
func (b *SchemaBuilder) SetMinCount(name string, n int) error {
	f, exist := b.lookup[name]
	if !exist {
		return errors.NotFoundf("field %s", name)
	}
	f.minCount = n
	return nil
}

// Add counts one occurrence of each value.
func (b *SchemaBuilder) Add(name string, values ...string) error {
	f, exist := b.lookup[name]
	if !exist {
		return errors.NotFoundf("field %s", name)
	}
	for _, v := range values {
		f.dict.Id(v)
	}
	return nil
}

// Build assigns offsets. User fields come first, then item fields, each group in declaration
// order. Offsets start at 1 since index 0 is reserved for padding.
func (b *SchemaBuilder) Build() *Schema {
	s := &Schema{}
	offset := int32(1)
	for _, side := range []Side{UserSide, ItemSide} {
		for _, fb := range b.fields {
			if fb.side != side {
				continue
			}
			f := &Field{Name: fb.name, Side: fb.side, Width: fb.width, Offset: offset}
			for id := 0; id < fb.dict.Count(); id++ {
				if fb.dict.Freq(id) >= fb.minCount {
					f.Values = append(f.Values, lo.Must(fb.dict.String(id)))
				}
			}
			offset += f.Size()
			s.Fields = append(s.Fields, f)
		}
	}
	s.buildIndex()
	return s
}

// Schema is the frozen layout of fields. Unknown values are not encoded.
type Schema struct {
	Fields []*Field

	index  map[string]map[string]int32
	fields map[string]int
}

func (s *Schema) buildIndex() {
	s.index = make(map[string]map[string]int32, len(s.Fields))
	s.fields = make(map[string]int, len(s.Fields))
	for i, f := range s.Fields {
		values := make(map[string]int32, len(f.Values))
		for j, v := range f.Values {
			values[v] = f.Offset + int32(j)
		}
		s.index[f.Name] = values
		s.fields[f.Name] = i
	}
}

// NumFeatures returns the size of the global index space including the padding index.
func (s *Schema) NumFeatures() int {
	n := 1
	for _, f := range s.Fields {
		n += len(f.Values)
	}
	return n
}

// Field returns the field with the given name or nil.
func (s *Schema) Field(name string) *Field {
	if s.fields == nil {
		s.buildIndex()
	}
	if i, ok := s.fields[name]; ok {
		return s.Fields[i]
	}
	return nil
}

// Encode returns the global index of a value.
func (s *Schema) Encode(name, value string) (int32, bool) {
	if s.index == nil {
		s.buildIndex()
	}
	idx, ok := s.index[name][value]
	return idx, ok
}

// Width returns the number of columns of a side.
func (s *Schema) Width(side Side) int {
	w := 0
	for _, f := range s.Fields {
		if f.Side == side {
			w += f.Width
		}
	}
	return w
}

// Columns returns the column range [from, to) of a field in a full sample.
func (s *Schema) Columns(name string) (from, to int) {
	for _, f := range s.Fields {
		if f.Name == name {
			return from, from + f.Width
		}
		from += f.Width
	}
	return -1, -1
}

// SideColumns returns the column range [from, to) of a side in a full sample.
func (s *Schema) SideColumns(side Side) (from, to int) {
	if side == UserSide {
		return 0, s.Width(UserSide)
	}
	return s.Width(UserSide), s.Width(UserSide) + s.Width(ItemSide)
}

// SideRange returns the global index range [lo, hi) of a side.
func (s *Schema) SideRange(side Side) (lo, hi int32) {
	lo, hi = -1, -1
	for _, f := range s.Fields {
		if f.Side != side {
			continue
		}
		if lo < 0 {
			lo = f.Offset
		}
		hi = f.Offset + f.Size()
	}
	if lo < 0 {
		return 0, 0
	}
	return lo, hi
}

// EncodeRow writes values of side fields into row i of x. List values beyond the field width
// are dropped and unknown values stay masked. It returns the number of dropped values.
func (s *Schema) EncodeRow(x *nn.Indices, i int, side Side, values map[string][]string) int {
	dropped := 0
	col := 0
	for _, f := range s.Fields {
		if f.Side != side {
			continue
		}
		j := 0
		for _, v := range values[f.Name] {
			if j >= f.Width {
				dropped++
				continue
			}
			if idx, ok := s.Encode(f.Name, v); ok {
				x.Set(i, col+j, idx)
				j++
			} else {
				dropped++
			}
		}
		col += f.Width
	}
	return dropped
}
