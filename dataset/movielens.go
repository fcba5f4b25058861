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
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/araddon/dateparse"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/gorse-io/deeprec/common/log"
	"github.com/gorse-io/deeprec/common/nn"
	"github.com/gorse-io/deeprec/common/util"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Names of side fields.
const (
	GenreField      = "genre"
	DecadeField     = "decade"
	AgeField        = "age"
	GenderField     = "gender"
	OccupationField = "occupation"
	ZipField        = "zip"
)

// Genres of the MovieLens 100K item table in column order.
var Genres = []string{
	"unknown", "Action", "Adventure", "Animation", "Children's", "Comedy", "Crime",
	"Documentary", "Drama", "Fantasy", "Film-Noir", "Horror", "Musical", "Mystery",
	"Romance", "Sci-Fi", "Thriller", "War", "Western",
}

// LoaderConfig describes the files of a MovieLens-style dataset.
type LoaderConfig struct {
	RatingsPath string
	ItemsPath   string
	UsersPath   string
	Separator   string
	Header      bool
	// LabelRule turns ratings into binary labels. Raw ratings are kept if it is empty.
	LabelRule string
	MaxGenres int
	MinCount  int
}

// RatingEnv is the environment of label rules.
type RatingEnv struct {
	Rating    float64
	Timestamp int64
}

// LabelRule is a compiled implicit feedback rule.
type LabelRule struct {
	program *vm.Program
}

// CompileLabelRule compiles a boolean expression over Rating and Timestamp.
func CompileLabelRule(rule string) (*LabelRule, error) {
	program, err := expr.Compile(rule, expr.Env(RatingEnv{}), expr.AsBool())
	if err != nil {
		return nil, errors.Annotatef(err, "compile label rule %q", rule)
	}
	return &LabelRule{program: program}, nil
}

// Label returns 1 if the rule matches and 0 otherwise.
func (r *LabelRule) Label(env RatingEnv) (float32, error) {
	output, err := expr.Run(r.program, env)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if output.(bool) {
		return 1, nil
	}
	return 0, nil
}

type rating struct {
	user      string
	item      string
	rating    float64
	timestamp int64
}

// LoadMovieLens loads ratings and optional side tables into a dataset.
func LoadMovieLens(cfg LoaderConfig) (*Dataset, error) {
	if cfg.Separator == "" {
		cfg.Separator = "\t"
	}
	var rule *LabelRule
	if cfg.LabelRule != "" {
		var err error
		if rule, err = CompileLabelRule(cfg.LabelRule); err != nil {
			return nil, errors.Trace(err)
		}
	}
	ratings, err := loadRatings(cfg.RatingsPath, cfg.Separator, cfg.Header)
	if err != nil {
		return nil, errors.Trace(err)
	}

	builder := NewSchemaBuilder()
	lo.Must0(builder.AddField(UserField, UserSide, 1))
	lo.Must0(builder.AddField(ItemField, ItemSide, 1))
	for _, r := range ratings {
		lo.Must0(builder.Add(UserField, r.user))
		lo.Must0(builder.Add(ItemField, r.item))
	}

	// side tables
	var (
		itemIds, userIds       []string
		itemValues, userValues map[string]map[string][]string
	)
	if cfg.ItemsPath != "" {
		maxGenres := cfg.MaxGenres
		if maxGenres <= 0 {
			maxGenres = len(Genres)
		}
		lo.Must0(builder.AddField(GenreField, ItemSide, maxGenres))
		lo.Must0(builder.AddField(DecadeField, ItemSide, 1))
		if itemIds, itemValues, err = loadSideTable(cfg.ItemsPath, parseItem); err != nil {
			return nil, errors.Trace(err)
		}
		for _, id := range itemIds {
			values := itemValues[id]
			lo.Must0(builder.Add(ItemField, id))
			lo.Must0(builder.Add(GenreField, values[GenreField]...))
			lo.Must0(builder.Add(DecadeField, values[DecadeField]...))
		}
	}
	if cfg.UsersPath != "" {
		for _, name := range []string{AgeField, GenderField, OccupationField, ZipField} {
			lo.Must0(builder.AddField(name, UserSide, 1))
		}
		if cfg.MinCount > 1 {
			lo.Must0(builder.SetMinCount(ZipField, cfg.MinCount))
		}
		if userIds, userValues, err = loadSideTable(cfg.UsersPath, parseUser); err != nil {
			return nil, errors.Trace(err)
		}
		for _, id := range userIds {
			values := userValues[id]
			lo.Must0(builder.Add(UserField, id))
			for _, name := range []string{AgeField, GenderField, OccupationField, ZipField} {
				lo.Must0(builder.Add(name, values[name]...))
			}
		}
	}
	schema := builder.Build()

	// encode users and items
	userField, itemField := schema.Field(UserField), schema.Field(ItemField)
	users := nn.NewIndices(len(userField.Values), schema.Width(UserSide))
	for i, id := range userField.Values {
		values := map[string][]string{UserField: {id}}
		for name, v := range userValues[id] {
			values[name] = v
		}
		schema.EncodeRow(users, i, UserSide, values)
	}
	items := nn.NewIndices(len(itemField.Values), schema.Width(ItemSide))
	truncated := 0
	for i, id := range itemField.Values {
		values := map[string][]string{ItemField: {id}}
		for name, v := range itemValues[id] {
			values[name] = v
		}
		if genre := schema.Field(GenreField); genre != nil && len(values[GenreField]) > genre.Width {
			truncated++
		}
		schema.EncodeRow(items, i, ItemSide, values)
	}

	d := NewDataset(schema, users, items)
	for _, r := range ratings {
		userIndex, _ := schema.Encode(UserField, r.user)
		itemIndex, _ := schema.Encode(ItemField, r.item)
		target := float32(r.rating)
		if rule != nil {
			if target, err = rule.Label(RatingEnv{Rating: r.rating, Timestamp: r.timestamp}); err != nil {
				return nil, errors.Trace(err)
			}
		}
		if err = d.AddSample(int(userIndex-userField.Offset), int(itemIndex-itemField.Offset), target); err != nil {
			return nil, errors.Trace(err)
		}
	}
	log.Logger().Info("load dataset",
		zap.Int("n_ratings", d.Count()),
		zap.Int("n_users", d.UserCount()),
		zap.Int("n_items", d.ItemCount()),
		zap.Int("n_features", schema.NumFeatures()),
		zap.Int("n_truncated_genres", truncated))
	return d, nil
}

func loadRatings(path, sep string, header bool) ([]rating, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	var ratings []rating
	scanner := bufio.NewScanner(file)
	for lineNumber := 1; scanner.Scan(); lineNumber++ {
		if header && lineNumber == 1 {
			continue
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, sep)
		if len(fields) < 3 {
			return nil, errors.NotValidf("line %d of %s: %q", lineNumber, path, line)
		}
		r := rating{user: fields[0], item: fields[1]}
		if r.rating, err = util.ParseFloat[float64](fields[2]); err != nil {
			return nil, errors.Annotatef(err, "line %d of %s", lineNumber, path)
		}
		if len(fields) > 3 {
			if r.timestamp, err = util.ParseInt[int64](fields[3]); err != nil {
				return nil, errors.Annotatef(err, "line %d of %s", lineNumber, path)
			}
		}
		ratings = append(ratings, r)
	}
	return ratings, errors.Trace(scanner.Err())
}

// loadSideTable reads a "|" separated table whose first column is the entity id.
func loadSideTable(path string, parse func(fields []string) (map[string][]string, error)) ([]string, map[string]map[string][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	defer file.Close()
	var ids []string
	table := make(map[string]map[string][]string)
	scanner := bufio.NewScanner(file)
	for lineNumber := 1; scanner.Scan(); lineNumber++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) < 5 {
			return nil, nil, errors.NotValidf("line %d of %s: %q", lineNumber, path, line)
		}
		values, err := parse(fields)
		if err != nil {
			return nil, nil, errors.Annotatef(err, "line %d of %s", lineNumber, path)
		}
		if _, exist := table[fields[0]]; !exist {
			ids = append(ids, fields[0])
		}
		table[fields[0]] = values
	}
	return ids, table, errors.Trace(scanner.Err())
}

// parseItem parses "id|title|release date|video release date|url|genre flags...".
func parseItem(fields []string) (map[string][]string, error) {
	values := make(map[string][]string)
	if decade, ok := ParseDecade(fields[2]); ok {
		values[DecadeField] = []string{decade}
	}
	for i, flag := range fields[5:] {
		if i < len(Genres) && flag == "1" {
			values[GenreField] = append(values[GenreField], Genres[i])
		}
	}
	return values, nil
}

// parseUser parses "id|age|gender|occupation|zip".
func parseUser(fields []string) (map[string][]string, error) {
	age, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, errors.Trace(err)
	}
	return map[string][]string{
		AgeField:        {fmt.Sprintf("%ds", age/10*10)},
		GenderField:     {fields[2]},
		OccupationField: {fields[3]},
		ZipField:        {fields[4]},
	}, nil
}

// ParseDecade converts a release date such as "01-Jan-1995" into "1990s".
func ParseDecade(date string) (string, bool) {
	date = strings.TrimSpace(date)
	if date == "" {
		return "", false
	}
	t, err := dateparse.ParseAny(date)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%ds", t.Year()/10*10), true
}
