// Copyright 2026 The Relay Authors
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

// Package metrics exposes relayd's Prometheus collectors. A nil *Collector
// is valid everywhere one is accepted; its methods are no-ops, so callers
// never need to guard metric recording.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the relayd metric instruments.
type Collector struct {
	triggerFires   *prometheus.CounterVec
	dispatches     *prometheus.CounterVec
	reaperPasses   prometheus.Counter
	reaperActions  *prometheus.CounterVec
	activeTriggers prometheus.Gauge
}

// NewCollector registers the relayd instruments with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		triggerFires: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_trigger_fires_total",
			Help: "Trigger fires by trigger type and dispatch result.",
		}, []string{"trigger_type", "result"}),
		dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_dispatches_total",
			Help: "Execution dispatch attempts by result.",
		}, []string{"result"}),
		reaperPasses: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_reaper_passes_total",
			Help: "Completed pause reaper passes.",
		}),
		reaperActions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_reaper_actions_total",
			Help: "Pause timeout actions taken by the reaper.",
		}, []string{"action"}),
		activeTriggers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_triggers",
			Help: "Currently deployed triggers.",
		}),
	}
}

// TriggerFired records one trigger fire and its dispatch result.
func (c *Collector) TriggerFired(triggerType, result string) {
	if c == nil {
		return
	}
	c.triggerFires.WithLabelValues(triggerType, result).Inc()
}

// DispatchCompleted records one dispatch attempt outcome.
func (c *Collector) DispatchCompleted(result string) {
	if c == nil {
		return
	}
	c.dispatches.WithLabelValues(result).Inc()
}

// ReaperPass records one completed reaper pass.
func (c *Collector) ReaperPass() {
	if c == nil {
		return
	}
	c.reaperPasses.Inc()
}

// ReaperAction records one timeout action (resume, cancel, fail, warn).
func (c *Collector) ReaperAction(action string) {
	if c == nil {
		return
	}
	c.reaperActions.WithLabelValues(action).Inc()
}

// AddActiveTriggers moves the deployed-trigger gauge by delta.
func (c *Collector) AddActiveTriggers(delta int) {
	if c == nil {
		return
	}
	c.activeTriggers.Add(float64(delta))
}
