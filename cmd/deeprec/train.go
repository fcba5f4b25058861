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

var trainCommand = &cobra.Command{
	Use:   "train",
	Short: "Train a model and evaluate it on the test split",
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		if cmd.Flags().Changed("model") {
			conf.Model.Type, _ = cmd.Flags().GetString("model")
		}
		creator, exist := trainer.Models[conf.Model.Type]
		if !exist {
			log.Logger().Fatal("unknown model", zap.String("model", conf.Model.Type))
		}
		trainSet, testSet, err := loadData(&conf.Data)
		if err != nil {
			log.Logger().Fatal("failed to load dataset", zap.Error(err))
		}

		metrics := trainer.NewMetrics()
		m := creator(conf.Model.Params())
		fitConfig := conf.Fit.FitConfig().SetName(conf.Model.Type).SetMetrics(metrics)
		score, err := trainer.Fit(cmd.Context(), m, trainSet, testSet, fitConfig)
		if err != nil {
			log.Logger().Fatal("failed to fit model", zap.Error(err))
		}
		if err = evaluate(cmd.Context(), cmd.OutOrStdout(), conf.Model.Type, m, score, conf, trainSet, testSet); err != nil {
			log.Logger().Fatal("failed to evaluate model", zap.Error(err))
		}

		if output, _ := cmd.Flags().GetString("output"); output != "" {
			if err = save(output, conf.Model.Type, m, trainSet.Schema()); err != nil {
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
	rootCommand.AddCommand(trainCommand)
	trainCommand.Flags().StringP("model", "m", "", "model type (overrides model.type)")
	trainCommand.Flags().StringP("output", "o", "", "path to save the trained model")
}
