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
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/gorse-io/deeprec/dataset"
	"github.com/gorse-io/deeprec/model"
	"github.com/gorse-io/deeprec/model/trainer"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

// Config is the configuration of a training run.
type Config struct {
	Data   DataConfig   `mapstructure:"data"`
	Model  ModelConfig  `mapstructure:"model"`
	Fit    FitConfig    `mapstructure:"fit"`
	Search SearchConfig `mapstructure:"search"`
}

type DataConfig struct {
	RatingsPath string  `mapstructure:"ratings_path" validate:"required"`
	ItemsPath   string  `mapstructure:"items_path"`
	UsersPath   string  `mapstructure:"users_path"`
	Separator   string  `mapstructure:"separator" validate:"required"`
	Header      bool    `mapstructure:"header"`
	LabelRule   string  `mapstructure:"label_rule"`
	TestRatio   float32 `mapstructure:"test_ratio" validate:"gte=0,lt=1"`
	Seed        int64   `mapstructure:"seed"`
	MaxGenres   int     `mapstructure:"max_genres" validate:"gte=0"`
	MinCount    int     `mapstructure:"min_count" validate:"gte=0"`
	Negatives   int     `mapstructure:"negatives" validate:"gte=0"`
}

// LoaderConfig returns the loader configuration of the dataset.
func (c *DataConfig) LoaderConfig() dataset.LoaderConfig {
	return dataset.LoaderConfig{
		RatingsPath: c.RatingsPath,
		ItemsPath:   c.ItemsPath,
		UsersPath:   c.UsersPath,
		Separator:   c.Separator,
		Header:      c.Header,
		LabelRule:   c.LabelRule,
		MaxGenres:   c.MaxGenres,
		MinCount:    c.MinCount,
	}
}

type ModelConfig struct {
	Type         string  `mapstructure:"type" validate:"oneof=fm fm-regressor deepfm widedeep mf ncf twotower"`
	NFactors     int     `mapstructure:"n_factors" validate:"gt=0"`
	HiddenLayers []int   `mapstructure:"hidden_layers" validate:"dive,gt=0"`
	Dropout      float32 `mapstructure:"dropout" validate:"gte=0,lt=1"`
	Lr           float32 `mapstructure:"lr" validate:"gt=0"`
	Reg          float32 `mapstructure:"reg" validate:"gte=0"`
	InitStdDev   float32 `mapstructure:"init_std" validate:"gt=0"`
	NEpochs      int     `mapstructure:"n_epochs" validate:"gt=0"`
	BatchSize    int     `mapstructure:"batch_size" validate:"gt=0"`
	RandomState  int64   `mapstructure:"random_state"`
}

// Params returns hyper-parameters of the model.
func (c *ModelConfig) Params() model.Params {
	return model.Params{
		model.NFactors:     c.NFactors,
		model.HiddenLayers: c.HiddenLayers,
		model.Dropout:      c.Dropout,
		model.Lr:           c.Lr,
		model.Reg:          c.Reg,
		model.InitStdDev:   c.InitStdDev,
		model.NEpochs:      c.NEpochs,
		model.BatchSize:    c.BatchSize,
		model.RandomState:  c.RandomState,
	}
}

type FitConfig struct {
	Verbose     int    `mapstructure:"verbose" validate:"gte=0"`
	Jobs        int    `mapstructure:"jobs" validate:"gt=0"`
	Patience    int    `mapstructure:"patience" validate:"gte=0"`
	TopK        int    `mapstructure:"top_k" validate:"gt=0"`
	Negatives   int    `mapstructure:"n_negatives" validate:"gte=0"`
	MetricsPath string `mapstructure:"metrics_path"`
}

// FitConfig returns the configuration of the training loop.
func (c *FitConfig) FitConfig() *trainer.FitConfig {
	return trainer.NewFitConfig().
		SetVerbose(c.Verbose).
		SetJobs(c.Jobs).
		SetPatience(c.Patience)
}

type SearchConfig struct {
	Trials int      `mapstructure:"trials" validate:"gt=0"`
	Models []string `mapstructure:"models" validate:"dive,oneof=fm fm-regressor deepfm widedeep mf ncf twotower"`
}

func setDefault(v *viper.Viper) {
	// [data]
	v.SetDefault("data.ratings_path", "")
	v.SetDefault("data.items_path", "")
	v.SetDefault("data.users_path", "")
	v.SetDefault("data.separator", "\t")
	v.SetDefault("data.header", false)
	v.SetDefault("data.label_rule", "Rating >= 4")
	v.SetDefault("data.test_ratio", 0.2)
	v.SetDefault("data.seed", 0)
	v.SetDefault("data.max_genres", 0)
	v.SetDefault("data.min_count", 0)
	v.SetDefault("data.negatives", 0)
	// [model]
	v.SetDefault("model.type", "fm")
	v.SetDefault("model.n_factors", 8)
	v.SetDefault("model.hidden_layers", []int{64, 32})
	v.SetDefault("model.dropout", 0)
	v.SetDefault("model.lr", 0.01)
	v.SetDefault("model.reg", 0)
	v.SetDefault("model.init_std", 0.01)
	v.SetDefault("model.n_epochs", 20)
	v.SetDefault("model.batch_size", 256)
	v.SetDefault("model.random_state", 0)
	// [fit]
	v.SetDefault("fit.verbose", 1)
	v.SetDefault("fit.jobs", 1)
	v.SetDefault("fit.patience", 0)
	v.SetDefault("fit.top_k", 10)
	v.SetDefault("fit.n_negatives", 100)
	v.SetDefault("fit.metrics_path", "")
	// [search]
	v.SetDefault("search.trials", 10)
	v.SetDefault("search.models", []string{})
}

// LoadConfig loads a TOML file. Every key can be overridden by an environment variable such
// as DEEPREC_MODEL_TYPE for model.type. Missing keys take default values.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefault(v)
	v.SetEnvPrefix("deeprec")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Annotatef(err, "read config %s", path)
		}
	}
	var config Config
	// lists such as hidden layers can be set by comma separated environment variables
	if err := v.Unmarshal(&config, viper.DecodeHook(mapstructure.StringToSliceHookFunc(","))); err != nil {
		return nil, errors.Trace(err)
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &config, nil
}

// Validate checks the configuration against the validate tags. Searched models must share
// one task since scores of different tasks are not comparable.
func (config *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(config); err != nil {
		return errors.NewNotValid(err, "invalid config")
	}
	if _, err := config.Search.Creators(config.Model.Type); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// Creators returns the models to search. All models of the task of fallback are searched if
// no model is listed.
func (c *SearchConfig) Creators(fallback string) (map[string]model.Creator, error) {
	if len(c.Models) == 0 {
		task, exist := trainer.TaskOf(fallback)
		if !exist {
			return nil, errors.NotFoundf("model %s", fallback)
		}
		return trainer.ModelsOfTask(task), nil
	}
	task, _ := trainer.TaskOf(c.Models[0])
	for _, name := range c.Models[1:] {
		if t, _ := trainer.TaskOf(name); t != task {
			return nil, errors.NotValidf("%s model %s and %s model %s in one search", task, c.Models[0], t, name)
		}
	}
	return lo.PickByKeys(trainer.Models, c.Models), nil
}
