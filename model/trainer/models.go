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
	"slices"

	"github.com/gorse-io/deeprec/model"
	"github.com/gorse-io/deeprec/model/cf"
	"github.com/gorse-io/deeprec/model/ctr"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// Models are creators of all built-in models by name.
var Models = map[string]model.Creator{
	"fm":           func(params model.Params) model.Model { return ctr.NewFM(params) },
	"fm-regressor": func(params model.Params) model.Model { return ctr.NewFMRegressor(params) },
	"deepfm":       func(params model.Params) model.Model { return ctr.NewDeepFM(params) },
	"widedeep":     func(params model.Params) model.Model { return ctr.NewWideDeep(params) },
	"mf":           func(params model.Params) model.Model { return cf.NewMF(params) },
	"ncf":          func(params model.Params) model.Model { return cf.NewNCF(params) },
	"twotower":     func(params model.Params) model.Model { return cf.NewTwoTower(params) },
}

// TaskOf returns the task of a built-in model.
func TaskOf(name string) (model.Task, bool) {
	creator, exist := Models[name]
	if !exist {
		return 0, false
	}
	return creator(nil).Task(), true
}

// ModelsOfTask returns the built-in models trained for a task.
func ModelsOfTask(task model.Task) map[string]model.Creator {
	models := make(map[string]model.Creator)
	for name, creator := range Models {
		if creator(nil).Task() == task {
			models[name] = creator
		}
	}
	return models
}

// checkSameTask returns an error unless every model is trained for the same task. Scores of
// different tasks are not comparable.
func checkSameTask(models map[string]model.Creator) (model.Task, error) {
	names := lo.Keys(models)
	slices.Sort(names)
	var task model.Task
	for i, name := range names {
		t := models[name](nil).Task()
		if i == 0 {
			task = t
		} else if t != task {
			return task, errors.NotValidf("%s model %s and %s model %s in one search", task, names[0], t, name)
		}
	}
	return task, nil
}
