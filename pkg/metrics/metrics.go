// Copyright 2025 The fpcore authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes the prometheus instrumentation shared by all
// framework components.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	// Component labels.
	ComponentEventLoop = "event_loop"
	ComponentDevice    = "device"
	ComponentSSM       = "ssm"
	ComponentThermal   = "thermal"
	ComponentTransfer  = "transfer"
	ComponentRegistry  = "registry"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "fpcore"
	subsystem = "device"

	// Error counters.
	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component", "instance"},
	)

	// Action timing.
	actionDuration = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "action_duration_milliseconds",
			Help:      "Time taken by device actions (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01, // 50th percentile with 1% error
				0.9:  0.01, // 90th percentile with 1% error
				0.95: 0.01, // 95th percentile with 1% error
				0.99: 0.01, // 99th percentile with 1% error
			},
		},
		[]string{"instance", "action"},
	)

	actionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "actions_total",
			Help:      "Total number of started actions by kind and result",
		},
		[]string{"instance", "action", "result"},
	)

	// Thermal model state.
	thermalRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "thermal_ratio",
			Help:      "Current duty-cycle ratio of the thermal model (0..1)",
		},
		[]string{"instance"},
	)

	temperatureState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "temperature_state",
			Help:      "Discrete device temperature (0=Cold, 1=Warm, 2=Hot)",
		},
		[]string{"instance"},
	)

	// Event loop pressure.
	loopTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "event_loop_tasks_total",
			Help:      "Total number of tasks executed by the event loop by queue",
		},
		[]string{"queue"},
	)

	loopStallSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "event_loop_stall_seconds_total",
			Help:      "Cumulative seconds the event loop spent stalled past the watchdog threshold",
		},
	)
)

// IncErrorCountAndLog increments the error counter and logs the error.
func IncErrorCountAndLog(component, instance string, err error, log *zap.SugaredLogger) {
	IncErrorCount(component, instance)

	if log != nil {
		log.Errorf("Error in %s.%s: %v", component, instance, err)
	}
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Inc()
}

// InitErrorCounter initializes the error counter for a component so the
// series exists before the first error.
func InitErrorCounter(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Add(0)
}

// ObserveActionDuration records the wall-clock duration of a finished action.
func ObserveActionDuration(instance, action string, duration time.Duration) {
	actionDuration.WithLabelValues(instance, action).Observe(float64(duration.Milliseconds()))
}

// IncActionCount counts a finished action by result ("ok" or "error").
func IncActionCount(instance, action, result string) {
	actionsTotal.WithLabelValues(instance, action, result).Inc()
}

// UpdateThermalState publishes the thermal model state for an instance.
func UpdateThermalState(instance string, ratio float64, temperature int) {
	thermalRatio.WithLabelValues(instance).Set(ratio)
	temperatureState.WithLabelValues(instance).Set(float64(temperature))
}

// IncLoopTask counts one executed event-loop task ("task" or "idle").
func IncLoopTask(queue string) {
	loopTasksTotal.WithLabelValues(queue).Inc()
}

// AddLoopStallTime accumulates observed event loop stall time.
func AddLoopStallTime(seconds float64) {
	loopStallSeconds.Add(seconds)
}
