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
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelModel  = "model"
	LabelMetric = "metric"
)

// Metrics of training runs. They are registered once and shared by every run.
type Metrics struct {
	registry *prometheus.Registry

	Loss          *prometheus.GaugeVec
	EpochsTotal   *prometheus.CounterVec
	SamplesTotal  *prometheus.CounterVec
	DivergedTotal *prometheus.CounterVec
	Score         *prometheus.GaugeVec
}

// NewMetrics creates training metrics in a new registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		Loss: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "deeprec",
			Subsystem: "trainer",
			Name:      "loss",
			Help:      "Mean training loss of the last epoch.",
		}, []string{LabelModel}),
		EpochsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deeprec",
			Subsystem: "trainer",
			Name:      "epochs_total",
		}, []string{LabelModel}),
		SamplesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deeprec",
			Subsystem: "trainer",
			Name:      "samples_total",
		}, []string{LabelModel}),
		DivergedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deeprec",
			Subsystem: "trainer",
			Name:      "diverged_total",
		}, []string{LabelModel}),
		Score: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "deeprec",
			Subsystem: "trainer",
			Name:      "score",
			Help:      "Last evaluation score on the test set.",
		}, []string{LabelModel, LabelMetric}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteToTextfile writes all metrics in the text exposition format.
func (m *Metrics) WriteToTextfile(path string) error {
	return errors.Trace(prometheus.WriteToTextfile(path, m.registry))
}
