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

package nn

import "fmt"

// PaddingIndex is the row reserved for padded positions in every embedding table.
const PaddingIndex int32 = 0

// Indices is a batch of fixed-width rows of feature indices. Each position carries
// an explicit validity flag: invalid positions hold PaddingIndex and never gather
// from or scatter gradients into an embedding table.
type Indices struct {
	data  []int32
	valid []bool
	rows  int
	cols  int
}

// NewIndices creates an empty batch where every position is padding.
func NewIndices(rows, cols int) *Indices {
	return &Indices{
		data:  make([]int32, rows*cols),
		valid: make([]bool, rows*cols),
		rows:  rows,
		cols:  cols,
	}
}

// NewIndicesFromRows creates a batch from variable-length rows, right-padding every
// row up to width.
func NewIndicesFromRows(rows [][]int32, width int) *Indices {
	x := NewIndices(len(rows), width)
	for i, row := range rows {
		if len(row) > width {
			panic(fmt.Sprintf("row %d has %d indices but width is %d", i, len(row), width))
		}
		for j, idx := range row {
			x.Set(i, j, idx)
		}
	}
	return x
}

func (x *Indices) Rows() int {
	return x.rows
}

func (x *Indices) Cols() int {
	return x.cols
}

// Set stores a valid index at (i, j).
func (x *Indices) Set(i, j int, idx int32) {
	x.data[i*x.cols+j] = idx
	x.valid[i*x.cols+j] = true
}

// Mask marks (i, j) as padding.
func (x *Indices) Mask(i, j int) {
	x.data[i*x.cols+j] = PaddingIndex
	x.valid[i*x.cols+j] = false
}

// Get returns the index at (i, j) and whether it is valid.
func (x *Indices) Get(i, j int) (int32, bool) {
	return x.data[i*x.cols+j], x.valid[i*x.cols+j]
}

// Row returns the valid indices of row i.
func (x *Indices) Row(i int) []int32 {
	var row []int32
	for j := 0; j < x.cols; j++ {
		if x.valid[i*x.cols+j] {
			row = append(row, x.data[i*x.cols+j])
		}
	}
	return row
}

// CountValid returns the number of valid positions in row i.
func (x *Indices) CountValid(i int) int {
	n := 0
	for j := 0; j < x.cols; j++ {
		if x.valid[i*x.cols+j] {
			n++
		}
	}
	return n
}

// Columns returns a copy of columns [from, to).
func (x *Indices) Columns(from, to int) *Indices {
	if from < 0 || to > x.cols || from > to {
		panic(fmt.Sprintf("invalid columns [%d, %d) of width %d", from, to, x.cols))
	}
	y := NewIndices(x.rows, to-from)
	for i := 0; i < x.rows; i++ {
		copy(y.data[i*y.cols:(i+1)*y.cols], x.data[i*x.cols+from:i*x.cols+to])
		copy(y.valid[i*y.cols:(i+1)*y.cols], x.valid[i*x.cols+from:i*x.cols+to])
	}
	return y
}

// Select returns a copy of the given rows.
func (x *Indices) Select(rows []int) *Indices {
	y := NewIndices(len(rows), x.cols)
	for i, r := range rows {
		copy(y.data[i*y.cols:(i+1)*y.cols], x.data[r*x.cols:(r+1)*x.cols])
		copy(y.valid[i*y.cols:(i+1)*y.cols], x.valid[r*x.cols:(r+1)*x.cols])
	}
	return y
}

// Shift returns a copy where every valid index is moved by delta. Padding stays padding.
func (x *Indices) Shift(delta int32) *Indices {
	y := NewIndices(x.rows, x.cols)
	copy(y.valid, x.valid)
	for p, idx := range x.data {
		if x.valid[p] {
			y.data[p] = idx + delta
		}
	}
	return y
}

// ConcatIndices joins batches with the same number of rows along the column axis.
func ConcatIndices(xs ...*Indices) *Indices {
	if len(xs) == 0 {
		return NewIndices(0, 0)
	}
	cols := 0
	for _, x := range xs {
		if x.rows != xs[0].rows {
			panic(fmt.Sprintf("cannot concat %d rows with %d rows", xs[0].rows, x.rows))
		}
		cols += x.cols
	}
	y := NewIndices(xs[0].rows, cols)
	for i := 0; i < y.rows; i++ {
		offset := i * cols
		for _, x := range xs {
			copy(y.data[offset:offset+x.cols], x.data[i*x.cols:(i+1)*x.cols])
			copy(y.valid[offset:offset+x.cols], x.valid[i*x.cols:(i+1)*x.cols])
			offset += x.cols
		}
	}
	return y
}
