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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeFile(t *testing.T, dir, name string, lines ...string) string {
	path := filepath.Join(dir, name)
	assert.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path
}

func genreFlags(genres ...int) string {
	flags := make([]string, len(Genres))
	for i := range flags {
		flags[i] = "0"
	}
	for _, g := range genres {
		flags[g] = "1"
	}
	return strings.Join(flags, "|")
}

func TestLoadMovieLens(t *testing.T) {
	dir := t.TempDir()
	ratings := writeFile(t, dir, "u.data",
		"1\t10\t5\t881250949",
		"1\t20\t3\t881250950",
		"2\t10\t4\t881250951",
		"",
	)
	items := writeFile(t, dir, "u.item",
		"10|Toy Story (1995)|01-Jan-1995||http://example.com|"+genreFlags(3, 4, 5),
		"20|GoldenEye (1995)|01-Jan-1995||http://example.com|"+genreFlags(1, 2, 16),
		"30|Four Rooms (1995)|||http://example.com|"+genreFlags(16),
	)
	users := writeFile(t, dir, "u.user",
		"1|24|M|technician|85711",
		"2|53|F|other|94043",
		"3|23|M|writer|32067",
	)
	d, err := LoadMovieLens(LoaderConfig{
		RatingsPath: ratings,
		ItemsPath:   items,
		UsersPath:   users,
		LabelRule:   "Rating >= 4",
		MaxGenres:   2,
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, d.Count())
	// user 3 and item 30 come from side tables only
	assert.Equal(t, 3, d.UserCount())
	assert.Equal(t, 3, d.ItemCount())
	assert.Equal(t, []float32{1, 0, 1}, d.Targets())

	s := d.Schema()
	assert.Equal(t, 5, s.Width(UserSide))
	assert.Equal(t, 4, s.Width(ItemSide))
	assert.Equal(t, []string{"1990s"}, s.Field(DecadeField).Values)
	assert.Equal(t, []string{"20s", "50s"}, s.Field(AgeField).Values)

	// first sample: user 1 and Toy Story with two of three genres
	x, y := d.Batch([]int{0})
	assert.Equal(t, []float32{1}, y.Data())
	assert.Equal(t, 9, x.Cols())
	userIndex, _ := s.Encode(UserField, "1")
	itemIndex, _ := s.Encode(ItemField, "10")
	animation, _ := s.Encode(GenreField, "Animation")
	children, _ := s.Encode(GenreField, "Children's")
	decade, _ := s.Encode(DecadeField, "1990s")
	row := x.Row(0)
	assert.Equal(t, userIndex, row[0])
	assert.Contains(t, row, itemIndex)
	assert.Contains(t, row, animation)
	assert.Contains(t, row, children)
	assert.Contains(t, row, decade)
	assert.Equal(t, 9, len(row))

	// item without release date has a masked decade
	x = d.Encode([]int{2}, []int{2})
	_, valid := x.Get(0, 8)
	assert.False(t, valid)
	assert.Equal(t, 5+2, x.CountValid(0))
}

func TestLoadMovieLens_Regression(t *testing.T) {
	dir := t.TempDir()
	ratings := writeFile(t, dir, "ratings.csv",
		"userId,movieId,rating,timestamp",
		"1,10,3.5,881250949",
		"2,10,4,881250951",
	)
	d, err := LoadMovieLens(LoaderConfig{RatingsPath: ratings, Separator: ",", Header: true})
	assert.NoError(t, err)
	assert.Equal(t, []float32{3.5, 4}, d.Targets())
	assert.Equal(t, 1+2+1, d.Schema().NumFeatures())
}

func TestLoadMovieLens_Error(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadMovieLens(LoaderConfig{RatingsPath: filepath.Join(dir, "missing")})
	assert.Error(t, err)

	bad := writeFile(t, dir, "bad.data", "1\t2")
	_, err = LoadMovieLens(LoaderConfig{RatingsPath: bad})
	assert.Error(t, err)

	bad = writeFile(t, dir, "bad_rating.data", "1\t2\tx")
	_, err = LoadMovieLens(LoaderConfig{RatingsPath: bad})
	assert.Error(t, err)

	ok := writeFile(t, dir, "ok.data", "1\t2\t3")
	_, err = LoadMovieLens(LoaderConfig{RatingsPath: ok, LabelRule: "Rating >="})
	assert.Error(t, err)
	_, err = LoadMovieLens(LoaderConfig{RatingsPath: ok, LabelRule: "Rating + 1"})
	assert.Error(t, err)
}

func TestLabelRule(t *testing.T) {
	rule, err := CompileLabelRule("Rating >= 4 && Timestamp > 100")
	assert.NoError(t, err)
	label, err := rule.Label(RatingEnv{Rating: 4, Timestamp: 101})
	assert.NoError(t, err)
	assert.Equal(t, float32(1), label)
	label, err = rule.Label(RatingEnv{Rating: 4, Timestamp: 100})
	assert.NoError(t, err)
	assert.Equal(t, float32(0), label)
}

func TestParseDecade(t *testing.T) {
	decade, ok := ParseDecade("01-Jan-1995")
	assert.True(t, ok)
	assert.Equal(t, "1990s", decade)
	decade, ok = ParseDecade("2003-05-01")
	assert.True(t, ok)
	assert.Equal(t, "2000s", decade)
	_, ok = ParseDecade("")
	assert.False(t, ok)
	_, ok = ParseDecade("not a date")
	assert.False(t, ok)
}
