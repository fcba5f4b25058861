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
	"math/rand"
	"slices"
	"sort"

	"github.com/chewxy/math32"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/deeprec/common/heap"
	"github.com/gorse-io/deeprec/common/nn"
	"github.com/gorse-io/deeprec/common/parallel"
	"github.com/gorse-io/deeprec/dataset"
	"github.com/gorse-io/deeprec/model"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"modernc.org/sortutil"
)

const evalBatchSize = 1024

// Scores returns raw model outputs (logits for classification) of all samples. Batches are
// scored by jobs workers in evaluation mode.
func Scores(ctx context.Context, m model.Model, testSet *dataset.Dataset, jobs int) ([]float32, error) {
	batches := testSet.Batches(evalBatchSize, nil)
	scores := make([]float32, testSet.Count())
	err := parallel.Parallel(ctx, len(batches), jobs, func(_, jobId int) error {
		x, _ := testSet.Batch(batches[jobId])
		y, err := m.Forward(x, nn.Eval)
		if err != nil {
			return errors.Trace(err)
		}
		for i, id := range batches[jobId] {
			scores[id] = y.Data()[i]
		}
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return scores, nil
}

// Evaluate scores a model on a test set according to its task.
func Evaluate(ctx context.Context, m model.Model, testSet *dataset.Dataset, jobs int) (Score, error) {
	if m.Task() == model.Regression {
		return EvaluateRegression(ctx, m, testSet, jobs)
	}
	return EvaluateClassification(ctx, m, testSet, jobs)
}

// EvaluateRegression evaluates a model in regression task.
func EvaluateRegression(ctx context.Context, m model.Model, testSet *dataset.Dataset, jobs int) (Score, error) {
	predictions, err := Scores(ctx, m, testSet, jobs)
	if err != nil {
		return Score{}, errors.Trace(err)
	}
	return Score{
		Task: model.Regression,
		RMSE: RMSE(predictions, testSet.Targets()),
		MAE:  MAE(predictions, testSet.Targets()),
	}, nil
}

// EvaluateClassification evaluates a model in classification task. Samples with positive
// targets are positives.
func EvaluateClassification(ctx context.Context, m model.Model, testSet *dataset.Dataset, jobs int) (Score, error) {
	predictions, err := Scores(ctx, m, testSet, jobs)
	if err != nil {
		return Score{}, errors.Trace(err)
	}
	var posPrediction, negPrediction []float32
	for i, target := range testSet.Targets() {
		if target > 0 {
			posPrediction = append(posPrediction, predictions[i])
		} else {
			negPrediction = append(negPrediction, predictions[i])
		}
	}
	return Score{
		Task:      model.Classification,
		Precision: Precision(posPrediction, negPrediction),
		Recall:    Recall(posPrediction, negPrediction),
		Accuracy:  Accuracy(posPrediction, negPrediction),
		F1:        F1(posPrediction, negPrediction),
		AUC:       AUC(posPrediction, negPrediction),
		Confusion: Confusion(posPrediction, negPrediction),
	}, nil
}

// Confusion counts positive logits of positive and negative samples.
func Confusion(posPrediction, negPrediction []float32) ConfusionMatrix {
	var c ConfusionMatrix
	for _, p := range posPrediction {
		if p > 0 {
			c.TP++
		} else {
			c.FN++
		}
	}
	for _, p := range negPrediction {
		if p > 0 {
			c.FP++
		} else {
			c.TN++
		}
	}
	return c
}

func Precision(posPrediction, negPrediction []float32) float32 {
	c := Confusion(posPrediction, negPrediction)
	if c.TP+c.FP == 0 {
		return 0
	}
	return float32(c.TP) / float32(c.TP+c.FP)
}

func Recall(posPrediction, _ []float32) float32 {
	c := Confusion(posPrediction, nil)
	if c.TP+c.FN == 0 {
		return 0
	}
	return float32(c.TP) / float32(c.TP+c.FN)
}

func Accuracy(posPrediction, negPrediction []float32) float32 {
	if len(posPrediction)+len(negPrediction) == 0 {
		return 0
	}
	c := Confusion(posPrediction, negPrediction)
	return float32(c.TP+c.TN) / float32(len(posPrediction)+len(negPrediction))
}

// F1 is the harmonic mean of precision and recall.
func F1(posPrediction, negPrediction []float32) float32 {
	precision := Precision(posPrediction, negPrediction)
	recall := Recall(posPrediction, negPrediction)
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

// AUC is the fraction of (positive, negative) pairs ranked correctly. Ties count as wrong.
func AUC(posPrediction, negPrediction []float32) float32 {
	if len(posPrediction)*len(negPrediction) == 0 {
		return 0
	}
	pos := sortutil.Float32Slice(slices.Clone(posPrediction))
	neg := sortutil.Float32Slice(slices.Clone(negPrediction))
	sort.Sort(pos)
	sort.Sort(neg)
	var sum float32
	var nPos int
	for pPos := range pos {
		// find the negative sample with the greatest prediction less than current positive sample
		for nPos < len(neg) && neg[nPos] < pos[pPos] {
			nPos++
		}
		// add the number of negative samples have less prediction than current positive sample
		sum += float32(nPos)
	}
	return sum / float32(len(pos)*len(neg))
}

func RMSE(predictions, targets []float32) float32 {
	if len(predictions) == 0 {
		return 0
	}
	var sum float32
	for i := range predictions {
		sum += (predictions[i] - targets[i]) * (predictions[i] - targets[i])
	}
	return math32.Sqrt(sum / float32(len(predictions)))
}

func MAE(predictions, targets []float32) float32 {
	if len(predictions) == 0 {
		return 0
	}
	var sum float32
	for i := range predictions {
		sum += math32.Abs(predictions[i] - targets[i])
	}
	return sum / float32(len(predictions))
}

// RankingScore is the mean top-k precision and recall over users.
type RankingScore struct {
	K         int
	Precision float32
	Recall    float32
	NUsers    int
}

// EvaluateRanking ranks the positive test items of every user among nNegatives sampled items
// the user never interacted with in the test set or in any exclude set. Users without positive
// test items are skipped.
func EvaluateRanking(ctx context.Context, m model.Model, testSet *dataset.Dataset, k, nNegatives int, seed int64, jobs int, exclude ...*dataset.Dataset) (RankingScore, error) {
	if k < 1 {
		return RankingScore{}, errors.NotValidf("k %d", k)
	}
	positives := make([]mapset.Set[int], testSet.UserCount())
	for i := 0; i < testSet.Count(); i++ {
		user, item, target := testSet.Get(i)
		if target <= 0 {
			continue
		}
		if positives[user] == nil {
			positives[user] = mapset.NewThreadUnsafeSet[int]()
		}
		positives[user].Add(item)
	}
	seen := testSet.UserFeedback(false)
	for _, e := range exclude {
		for u, s := range e.UserFeedback(false) {
			seen[u].InPlaceUnion(s)
		}
	}
	users := lo.Filter(lo.Range(testSet.UserCount()), func(u, _ int) bool { return positives[u] != nil })
	precisions := make([]float32, len(users))
	recalls := make([]float32, len(users))
	err := parallel.Parallel(ctx, len(users), jobs, func(_, jobId int) error {
		user := users[jobId]
		rng := rand.New(rand.NewSource(seed + int64(user)))
		candidates := positives[user].ToSlice()
		slices.Sort(candidates)
		candidates = append(candidates, dataset.Sample(rng, testSet.ItemCount(), nNegatives, seen[user])...)
		x := testSet.Encode(lo.Times(len(candidates), func(_ int) int { return user }), candidates)
		y, err := m.Forward(x, nn.Eval)
		if err != nil {
			return errors.Trace(err)
		}
		filter := heap.NewTopKFilter[int, float32](k)
		for i, item := range candidates {
			filter.Push(item, y.Data()[i])
		}
		var hit int
		for _, item := range filter.PopAllValues() {
			if positives[user].Contains(item) {
				hit++
			}
		}
		precisions[jobId] = float32(hit) / float32(k)
		recalls[jobId] = float32(hit) / float32(positives[user].Cardinality())
		return nil
	})
	if err != nil {
		return RankingScore{}, errors.Trace(err)
	}
	score := RankingScore{K: k, NUsers: len(users)}
	if len(users) > 0 {
		score.Precision = lo.Sum(precisions) / float32(len(users))
		score.Recall = lo.Sum(recalls) / float32(len(users))
	}
	return score, nil
}
