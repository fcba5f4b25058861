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
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"

	"github.com/gorse-io/deeprec/common/log"
	"github.com/gorse-io/deeprec/config"
	"github.com/gorse-io/deeprec/dataset"
	"github.com/gorse-io/deeprec/model"
	"github.com/gorse-io/deeprec/model/trainer"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Default build-time variables. These values are overridden via ldflags.
var (
	Version   = "unknown-version"
	GitCommit = "unknown-commit"
	BuildTime = "unknown-buildtime"
)

var rootCommand = &cobra.Command{
	Use:   "deeprec",
	Short: "Train and evaluate recommender models on MovieLens-style ratings.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
	},
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Show the version of deeprec",
	Run: func(cmd *cobra.Command, args []string) {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Version:\t", Version)
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Go version:\t", runtime.Version())
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Git commit:\t", GitCommit)
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Built:\t\t", BuildTime)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch:\t %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	rootCommand.AddCommand(versionCommand)
}

// loadConfig loads the configuration given by the --config flag.
func loadConfig(cmd *cobra.Command) *config.Config {
	configPath, _ := cmd.Flags().GetString("config")
	log.Logger().Info("load config", zap.String("config", configPath))
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		log.Logger().Fatal("failed to load config", zap.Error(err))
	}
	return conf
}

// loadData loads ratings and splits them. Negatives are sampled into both sets if configured.
func loadData(conf *config.DataConfig) (trainSet, testSet *dataset.Dataset, err error) {
	data, err := dataset.LoadMovieLens(conf.LoaderConfig())
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	trainSet, testSet = data.Split(conf.TestRatio, conf.Seed)
	if conf.Negatives > 0 {
		trainSet, testSet = trainSet.NegativeSample(conf.Negatives, conf.Seed, testSet),
			testSet.NegativeSample(conf.Negatives, conf.Seed+1, trainSet)
	}
	log.Logger().Info("split dataset",
		zap.Int("train_set_size", trainSet.Count()),
		zap.Int("test_set_size", testSet.Count()))
	return trainSet, testSet, nil
}

// evaluate prints scores of a trained model. Classification models are also evaluated by
// top-k ranking.
func evaluate(ctx context.Context, w io.Writer, name string, m model.Model, score trainer.Score, conf *config.Config, trainSet, testSet *dataset.Dataset) error {
	table := tablewriter.NewWriter(w)
	table.Header("Model", "Metric", "Value")
	rows := [][]string{}
	if m.Task() == model.Regression {
		rows = append(rows,
			[]string{name, "RMSE", fmt.Sprintf("%.4f", score.RMSE)},
			[]string{name, "MAE", fmt.Sprintf("%.4f", score.MAE)})
	} else {
		ranking, err := trainer.EvaluateRanking(ctx, m, testSet, conf.Fit.TopK, conf.Fit.Negatives, conf.Data.Seed, conf.Fit.Jobs, trainSet)
		if err != nil {
			return errors.Trace(err)
		}
		c := score.Confusion
		rows = append(rows,
			[]string{name, "Accuracy", fmt.Sprintf("%.4f", score.Accuracy)},
			[]string{name, "Precision", fmt.Sprintf("%.4f", score.Precision)},
			[]string{name, "Recall", fmt.Sprintf("%.4f", score.Recall)},
			[]string{name, "F1", fmt.Sprintf("%.4f", score.F1)},
			[]string{name, "AUC", fmt.Sprintf("%.4f", score.AUC)},
			[]string{name, "Confusion (TP/FP/TN/FN)", fmt.Sprintf("%d/%d/%d/%d", c.TP, c.FP, c.TN, c.FN)},
			[]string{name, fmt.Sprintf("Precision@%d", ranking.K), fmt.Sprintf("%.4f", ranking.Precision)},
			[]string{name, fmt.Sprintf("Recall@%d", ranking.K), fmt.Sprintf("%.4f", ranking.Recall)})
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(table.Render())
}

// save writes a trained model to path.
func save(path, name string, m model.Model, schema *dataset.Schema) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		if closeErr := f.Close(); err == nil && closeErr != nil {
			err = errors.Annotatef(closeErr, "close %s", path)
		}
	}()
	if err = model.Marshal(f, name, m, schema); err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("save model", zap.String("model", name), zap.String("path", path))
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCommand.ExecuteContext(ctx); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
