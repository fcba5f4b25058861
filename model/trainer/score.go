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
	"github.com/gorse-io/deeprec/model"
	"go.uber.org/zap"
)

// ConfusionMatrix counts predictions of a binary classifier.
type ConfusionMatrix struct {
	TP int
	FP int
	TN int
	FN int
}

type Score struct {
	Task      model.Task
	RMSE      float32
	MAE       float32
	Precision float32
	Recall    float32
	Accuracy  float32
	F1        float32
	AUC       float32
	Confusion ConfusionMatrix
}

func (score Score) ZapFields() []zap.Field {
	if score.Task == model.Regression {
		return []zap.Field{
			zap.Float32("RMSE", score.RMSE),
			zap.Float32("MAE", score.MAE),
		}
	}
	return []zap.Field{
		zap.Float32("Accuracy", score.Accuracy),
		zap.Float32("Precision", score.Precision),
		zap.Float32("Recall", score.Recall),
		zap.Float32("F1", score.F1),
		zap.Float32("AUC", score.AUC),
	}
}

// GetValue returns the value to maximize: AUC for classification and negative RMSE for
// regression.
func (score Score) GetValue() float32 {
	if score.Task == model.Regression {
		return -score.RMSE
	}
	return score.AUC
}

func (score Score) BetterThan(s Score) bool {
	return score.GetValue() > s.GetValue()
}
