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
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorse-io/deeprec/common/log"
	"github.com/gorse-io/deeprec/common/nn"
	"github.com/gorse-io/deeprec/dataset"
	"github.com/gorse-io/deeprec/model"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// ErrDiverged is returned when the training loss becomes NaN or infinite.
var ErrDiverged = errors.New("training diverged")

type FitConfig struct {
	Jobs     int
	Verbose  int
	Patience int
	Name     string
	Progress io.Writer
	Metrics  *Metrics
}

func NewFitConfig() *FitConfig {
	return &FitConfig{
		Jobs:     1,
		Verbose:  10,
		Name:     "model",
		Progress: os.Stderr,
	}
}

func (config *FitConfig) SetVerbose(verbose int) *FitConfig {
	config.Verbose = verbose
	return config
}

func (config *FitConfig) SetJobs(jobs int) *FitConfig {
	config.Jobs = jobs
	return config
}

// SetPatience stops training if the score has not improved for patience epochs. Zero
// disables early stopping.
func (config *FitConfig) SetPatience(patience int) *FitConfig {
	config.Patience = patience
	return config
}

func (config *FitConfig) SetName(name string) *FitConfig {
	config.Name = name
	return config
}

// SetProgress sets the writer of the progress bar. Nil hides the progress bar.
func (config *FitConfig) SetProgress(w io.Writer) *FitConfig {
	config.Progress = w
	return config
}

func (config *FitConfig) SetMetrics(metrics *Metrics) *FitConfig {
	config.Metrics = metrics
	return config
}

func (config *FitConfig) LoadDefaultIfNil() *FitConfig {
	if config == nil {
		return NewFitConfig()
	}
	return config
}

// Fit initializes a model for the schema of the train set and trains it with Adam. Samples
// are shuffled every epoch by a generator seeded with RandomState. The model is evaluated on
// the test set every Verbose epochs and after the last epoch. The last score is returned.
func Fit(ctx context.Context, m model.Model, trainSet, testSet *dataset.Dataset, config *FitConfig) (Score, error) {
	config = config.LoadDefaultIfNil()
	params := m.GetParams()
	nEpochs := params.GetInt(model.NEpochs, 20)
	batchSize := params.GetInt(model.BatchSize, 256)
	lr := params.GetFloat32(model.Lr, 0.01)
	reg := params.GetFloat32(model.Reg, 0)
	if nEpochs < 1 || batchSize < 1 {
		return Score{}, errors.NotValidf("%s %d, %s %d", model.NEpochs, nEpochs, model.BatchSize, batchSize)
	}
	if err := m.Init(trainSet.Schema()); err != nil {
		return Score{}, errors.Trace(err)
	}
	logger := log.RunLogger(uuid.NewString())
	logger.Info("fit "+config.Name,
		zap.Int("train_set_size", trainSet.Count()),
		zap.Int("test_set_size", testSet.Count()),
		zap.String("task", m.Task().String()),
		zap.String("params", params.ToString()),
		zap.Int("n_parameters", lo.SumBy(m.Parameters(), func(t *nn.Tensor) int { return t.Size() })))

	optimizer := nn.NewAdam(m.Parameters(), lr)
	optimizer.SetWeightDecay(reg)
	rng := rand.New(rand.NewSource(params.GetInt64(model.RandomState, 0)))
	// batch normalization rejects single-sample batches in training mode
	skipSingle := len(m.Buffers()) > 0

	var bar *progressbar.ProgressBar
	if config.Progress != nil {
		bar = progressbar.NewOptions(nEpochs,
			progressbar.OptionSetWriter(config.Progress),
			progressbar.OptionSetDescription(config.Name))
		defer func() { _ = bar.Finish() }()
	}

	var (
		score  Score
		scores []lo.Tuple2[int, float32]
	)
	for epoch := 1; epoch <= nEpochs; epoch++ {
		fitStart := time.Now()
		var sum float32
		var count, skipped int
		for _, ids := range trainSet.Batches(batchSize, rng) {
			if err := ctx.Err(); err != nil {
				return score, errors.Trace(err)
			}
			if skipSingle && len(ids) < 2 {
				skipped += len(ids)
				continue
			}
			x, y := trainSet.Batch(ids)
			output, err := m.Forward(x, nn.Train)
			if err != nil {
				return score, errors.Trace(err)
			}
			var loss *nn.Tensor
			if m.Task() == model.Classification {
				loss = nn.BCEWithLogits(output, y)
			} else {
				loss = nn.MSE(output, y)
			}
			if !loss.IsFinite() {
				logger.Warn("training diverged", zap.String("model", config.Name), zap.Int("epoch", epoch))
				if config.Metrics != nil {
					config.Metrics.DivergedTotal.WithLabelValues(config.Name).Inc()
				}
				return score, errors.Annotatef(ErrDiverged, "epoch %d", epoch)
			}
			optimizer.ZeroGrad()
			loss.Backward()
			optimizer.Step()
			sum += loss.Data()[0] * float32(len(ids))
			count += len(ids)
		}
		if skipped > 0 {
			if count == 0 {
				return score, errors.Annotatef(nn.ErrBatchTooSmall, "epoch %d has no batch of at least 2 samples", epoch)
			}
			logger.Warn("skip single-sample batch", zap.Int("epoch", epoch), zap.Int("n_skipped", skipped))
		}
		fitTime := time.Since(fitStart)
		if count > 0 {
			sum /= float32(count)
		}
		if config.Metrics != nil {
			config.Metrics.Loss.WithLabelValues(config.Name).Set(float64(sum))
			config.Metrics.EpochsTotal.WithLabelValues(config.Name).Inc()
			config.Metrics.SamplesTotal.WithLabelValues(config.Name).Add(float64(count))
		}
		if bar != nil {
			_ = bar.Add(1)
		}

		if (config.Verbose > 0 && epoch%config.Verbose == 0) || epoch == nEpochs {
			evalStart := time.Now()
			var err error
			if score, err = Evaluate(ctx, m, testSet, config.Jobs); err != nil {
				return score, errors.Trace(err)
			}
			scores = append(scores, lo.Tuple2[int, float32]{A: epoch, B: score.GetValue()})
			fields := append([]zap.Field{
				zap.Float32("loss", sum),
				zap.String("fit_time", fitTime.String()),
				zap.String("eval_time", time.Since(evalStart).String()),
			}, score.ZapFields()...)
			logger.Info(fmt.Sprintf("fit %s %v/%v", config.Name, epoch, nEpochs), fields...)
			if config.Metrics != nil {
				config.Metrics.Score.WithLabelValues(config.Name, "value").Set(float64(score.GetValue()))
			}

			if config.Patience > 0 && epoch > config.Patience {
				best := lo.MaxBy(scores, func(a, b lo.Tuple2[int, float32]) bool { return a.B > b.B })
				if best.A <= epoch-config.Patience {
					logger.Info("early stopping",
						zap.Int("best_epoch", best.A),
						zap.Float32("best_score", best.B),
						zap.Int("patience", config.Patience))
					break
				}
			}
		}
	}
	return score, nil
}
