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

package trainer

import (
	"context"
	"math"
	"slices"
	"strconv"
	"sync"

	"github.com/c-bata/goptuna"
	"github.com/c-bata/goptuna/tpe"
	"github.com/gorse-io/deeprec/common/log"
	"github.com/gorse-io/deeprec/dataset"
	"github.com/gorse-io/deeprec/model"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// SearchResult is the best trial of a search.
type SearchResult struct {
	Type   string
	Params model.Params
	Score  Score
	Model  model.Model
}

// ModelSearch tunes the model type and hyper-parameters with goptuna. Every trial fits a new
// model on the train set and is scored on the test set. All candidates share one task so
// that their scores are comparable.
type ModelSearch struct {
	ctx           context.Context
	task          model.Task
	modelCreators map[string]model.Creator
	modelTypes    []string
	factors       []string
	baseParams    model.Params
	trainSet      *dataset.Dataset
	testSet       *dataset.Dataset
	config        *FitConfig

	mu     sync.Mutex
	result SearchResult
	found  bool
}

// NewModelSearch creates a search over models. Mixing classification and regression models
// is not valid.
func NewModelSearch(models map[string]model.Creator, trainSet, testSet *dataset.Dataset, config *FitConfig) (*ModelSearch, error) {
	task, err := checkSameTask(models)
	if err != nil {
		return nil, errors.Trace(err)
	}
	modelTypes := lo.Keys(models)
	slices.Sort(modelTypes)
	return &ModelSearch{
		ctx:           context.Background(),
		task:          task,
		modelCreators: models,
		modelTypes:    modelTypes,
		factors:       []string{"4", "8", "16", "32"},
		baseParams:    model.Params{},
		trainSet:      trainSet,
		testSet:       testSet,
		config:        config,
	}, nil
}

// Task returns the task shared by all candidates.
func (ms *ModelSearch) Task() model.Task {
	return ms.task
}

// SetBaseParams sets hyper-parameters shared by every trial, such as the number of epochs.
func (ms *ModelSearch) SetBaseParams(params model.Params) *ModelSearch {
	ms.baseParams = params
	return ms
}

// SuggestParams suggests a learning rate, a regularization strength and the standard deviation
// of initial embeddings on a log scale, and the number of factors from a list.
func (ms *ModelSearch) SuggestParams(trial goptuna.Trial) (model.Params, error) {
	lr, err := trial.SuggestLogFloat(string(model.Lr), 0.001, 0.1)
	if err != nil {
		return nil, errors.Trace(err)
	}
	reg, err := trial.SuggestLogFloat(string(model.Reg), 1e-6, 0.01)
	if err != nil {
		return nil, errors.Trace(err)
	}
	initStdDev, err := trial.SuggestLogFloat(string(model.InitStdDev), 0.001, 0.1)
	if err != nil {
		return nil, errors.Trace(err)
	}
	factors, err := trial.SuggestCategorical(string(model.NFactors), ms.factors)
	if err != nil {
		return nil, errors.Trace(err)
	}
	nFactors, err := strconv.Atoi(factors)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return ms.baseParams.Overwrite(model.Params{
		model.Lr:         float32(lr),
		model.Reg:        float32(reg),
		model.InitStdDev: float32(initStdDev),
		model.NFactors:   nFactors,
	}), nil
}

// Objective fits the suggested model and returns AUC for classification or negative RMSE
// for regression. A diverged trial gets the lowest value.
func (ms *ModelSearch) Objective(trial goptuna.Trial) (float64, error) {
	if len(ms.modelCreators) == 0 {
		return 0, errors.New("no model to search")
	}
	if err := ms.ctx.Err(); err != nil {
		return 0, errors.Trace(err)
	}
	modelType, err := trial.SuggestCategorical("Model", ms.modelTypes)
	if err != nil {
		return 0, errors.Trace(err)
	}
	params, err := ms.SuggestParams(trial)
	if err != nil {
		return 0, errors.Trace(err)
	}
	m := ms.modelCreators[modelType](params)
	config := *ms.config.LoadDefaultIfNil()
	config.Name = modelType
	score, err := Fit(ms.ctx, m, ms.trainSet, ms.testSet, &config)
	if errors.Is(err, ErrDiverged) {
		log.Logger().Warn("skip diverged trial", zap.String("model", modelType), zap.String("params", params.ToString()))
		return -math.MaxFloat32, nil
	} else if err != nil {
		return 0, errors.Trace(err)
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if !ms.found || score.BetterThan(ms.result.Score) {
		ms.found = true
		ms.result = SearchResult{
			Type:   modelType,
			Params: m.GetParams(),
			Score:  score,
			Model:  m,
		}
	}
	return float64(score.GetValue()), nil
}

func (ms *ModelSearch) Result() SearchResult {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.result
}

// Optimize runs nTrials trials with the TPE sampler and returns the best one. Cancelling ctx
// stops the running trial between batches.
func (ms *ModelSearch) Optimize(ctx context.Context, nTrials int) (SearchResult, error) {
	ms.ctx = ctx
	study, err := goptuna.CreateStudy("deeprec",
		goptuna.StudyOptionDirection(goptuna.StudyDirectionMaximize),
		goptuna.StudyOptionSampler(tpe.NewSampler()))
	if err != nil {
		return SearchResult{}, errors.Trace(err)
	}
	err = study.Optimize(ms.Objective, nTrials)
	if ctx.Err() != nil {
		return SearchResult{}, errors.Trace(ctx.Err())
	} else if err != nil {
		return SearchResult{}, errors.Trace(err)
	}
	result := ms.Result()
	log.Logger().Info("complete model search",
		zap.String("task", ms.task.String()),
		zap.String("model", result.Type),
		zap.Float32("score", result.Score.GetValue()),
		zap.String("params", result.Params.ToString()))
	return result, nil
}
