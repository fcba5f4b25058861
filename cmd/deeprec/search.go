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

package main

import (
	"github.com/gorse-io/deeprec/common/log"
	"github.com/gorse-io/deeprec/model/trainer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var searchCommand = &cobra.Command{
	Use:   "search",
	Short: "Search model types and hyper-parameters with TPE",
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		models, err := conf.Search.Creators(conf.Model.Type)
		if err != nil {
			log.Logger().Fatal("invalid search models", zap.Error(err))
		}
		trainSet, testSet, err := loadData(&conf.Data)
		if err != nil {
			log.Logger().Fatal("failed to load dataset", zap.Error(err))
		}

		metrics := trainer.NewMetrics()
		fitConfig := conf.Fit.FitConfig().SetVerbose(0).SetProgress(nil).SetMetrics(metrics)
		search, err := trainer.NewModelSearch(models, trainSet, testSet, fitConfig)
		if err != nil {
			log.Logger().Fatal("failed to create model search", zap.Error(err))
		}
		search.SetBaseParams(conf.Model.Params())
		result, err := search.Optimize(cmd.Context(), conf.Search.Trials)
		if err != nil {
			log.Logger().Fatal("failed to search models", zap.Error(err))
		}
		if result.Model == nil {
			log.Logger().Fatal("every trial diverged")
		}
		log.Logger().Info("best model",
			zap.String("model", result.Type),
			zap.String("params", result.Params.ToString()))
		if err = evaluate(cmd.Context(), cmd.OutOrStdout(), result.Type, result.Model, result.Score, conf, trainSet, testSet); err != nil {
			log.Logger().Fatal("failed to evaluate model", zap.Error(err))
		}

		if output, _ := cmd.Flags().GetString("output"); output != "" {
			if err = save(output, result.Type, result.Model, trainSet.Schema()); err != nil {
				log.Logger().Fatal("failed to save model", zap.Error(err))
			}
		}
		if conf.Fit.MetricsPath != "" {
			if err = metrics.WriteToTextfile(conf.Fit.MetricsPath); err != nil {
				log.Logger().Fatal("failed to write metrics", zap.Error(err))
			}
		}
	},
}

func init() {
	rootCommand.AddCommand(searchCommand)
	searchCommand.Flags().StringP("output", "o", "", "path to save the best model")
}
