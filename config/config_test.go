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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gorse-io/deeprec/model"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, text string) string {
	path := filepath.Join(t.TempDir(), "config.toml")
	assert.NoError(t, os.WriteFile(path, []byte(text), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
[data]
ratings_path = "u.data"
items_path = "u.item"
test_ratio = 0.1
max_genres = 6

[model]
type = "deepfm"
n_factors = 16
hidden_layers = [32, 16, 8]
dropout = 0.2
lr = 0.001

[fit]
jobs = 4
patience = 3

[search]
trials = 20
models = ["fm", "ncf"]
`)
	config, err := LoadConfig(path)
	assert.NoError(t, err)
	// [data]
	assert.Equal(t, "u.data", config.Data.RatingsPath)
	assert.Equal(t, "u.item", config.Data.ItemsPath)
	assert.Equal(t, "\t", config.Data.Separator)
	assert.Equal(t, "Rating >= 4", config.Data.LabelRule)
	assert.Equal(t, float32(0.1), config.Data.TestRatio)
	assert.Equal(t, 6, config.Data.MaxGenres)
	// [model]
	assert.Equal(t, "deepfm", config.Model.Type)
	assert.Equal(t, 16, config.Model.NFactors)
	assert.Equal(t, []int{32, 16, 8}, config.Model.HiddenLayers)
	assert.Equal(t, float32(0.2), config.Model.Dropout)
	assert.Equal(t, float32(0.001), config.Model.Lr)
	assert.Equal(t, 256, config.Model.BatchSize)
	// [fit]
	assert.Equal(t, 4, config.Fit.Jobs)
	assert.Equal(t, 3, config.Fit.Patience)
	assert.Equal(t, 10, config.Fit.TopK)
	// [search]
	assert.Equal(t, 20, config.Search.Trials)
	assert.Equal(t, []string{"fm", "ncf"}, config.Search.Models)

	loader := config.Data.LoaderConfig()
	assert.Equal(t, "u.item", loader.ItemsPath)
	assert.Equal(t, 6, loader.MaxGenres)
	params := config.Model.Params()
	assert.Equal(t, 16, params.GetInt(model.NFactors, 0))
	assert.Equal(t, []int{32, 16, 8}, params.GetIntSlice(model.HiddenLayers, nil))
	fitConfig := config.Fit.FitConfig()
	assert.Equal(t, 4, fitConfig.Jobs)
	assert.Equal(t, 3, fitConfig.Patience)
}

func TestLoadConfig_Default(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, "[data]\nratings_path = \"ratings.csv\"\n"))
	assert.NoError(t, err)
	assert.Equal(t, "fm", config.Model.Type)
	assert.Equal(t, 8, config.Model.NFactors)
	assert.Equal(t, []int{64, 32}, config.Model.HiddenLayers)
	assert.Equal(t, float32(0.01), config.Model.Lr)
	assert.Equal(t, float32(0.01), config.Model.InitStdDev)
	assert.Equal(t, 20, config.Model.NEpochs)
	assert.Equal(t, float32(0.2), config.Data.TestRatio)
	assert.Equal(t, 100, config.Fit.Negatives)
	assert.Equal(t, 10, config.Search.Trials)
	assert.Empty(t, config.Search.Models)
}

func TestBindEnv(t *testing.T) {
	t.Setenv("DEEPREC_DATA_RATINGS_PATH", "env.data")
	t.Setenv("DEEPREC_MODEL_TYPE", "ncf")
	t.Setenv("DEEPREC_MODEL_N_FACTORS", "32")
	t.Setenv("DEEPREC_MODEL_HIDDEN_LAYERS", "16,8")
	t.Setenv("DEEPREC_FIT_JOBS", "2")
	config, err := LoadConfig("")
	assert.NoError(t, err)
	assert.Equal(t, "env.data", config.Data.RatingsPath)
	assert.Equal(t, "ncf", config.Model.Type)
	assert.Equal(t, 32, config.Model.NFactors)
	assert.Equal(t, []int{16, 8}, config.Model.HiddenLayers)
	assert.Equal(t, 2, config.Fit.Jobs)
}

func TestValidate(t *testing.T) {
	// ratings path is required
	_, err := LoadConfig("")
	assert.True(t, errors.Is(err, errors.NotValid))

	for _, text := range []string{
		"[data]\nratings_path = \"r\"\n[model]\ntype = \"svm\"",
		"[data]\nratings_path = \"r\"\n[model]\ndropout = 1.0",
		"[data]\nratings_path = \"r\"\n[model]\nhidden_layers = [8, 0]",
		"[data]\nratings_path = \"r\"\ntest_ratio = 1.0",
		"[data]\nratings_path = \"r\"\n[fit]\njobs = 0",
		"[data]\nratings_path = \"r\"\n[search]\nmodels = [\"svm\"]",
		"[data]\nratings_path = \"r\"\n[search]\nmodels = [\"fm\", \"mf\"]",
	} {
		_, err = LoadConfig(writeConfig(t, text))
		assert.True(t, errors.Is(err, errors.NotValid), text)
	}

	// models of one task can be searched together
	_, err = LoadConfig(writeConfig(t, "[data]\nratings_path = \"r\"\n[search]\nmodels = [\"mf\", \"fm-regressor\"]"))
	assert.NoError(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestSearchConfig_Creators(t *testing.T) {
	// all models of the task of the configured model
	creators, err := (&SearchConfig{}).Creators("mf")
	assert.NoError(t, err)
	assert.Len(t, creators, 2)
	assert.Contains(t, creators, "fm-regressor")

	creators, err = (&SearchConfig{Models: []string{"deepfm", "ncf"}}).Creators("mf")
	assert.NoError(t, err)
	assert.Len(t, creators, 2)
	assert.Contains(t, creators, "ncf")

	_, err = (&SearchConfig{Models: []string{"deepfm", "mf"}}).Creators("fm")
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = (&SearchConfig{}).Creators("svm")
	assert.True(t, errors.Is(err, errors.NotFound))
}
