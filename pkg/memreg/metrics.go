// Copyright 2022 Intel Corporation. All Rights Reserved.
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

package memreg

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/intel/memreg/pkg/metrics"
)

var (
	callsDesc = prometheus.NewDesc(
		"memreg_calls_total",
		"Number of memory registry operations.",
		[]string{"op"}, nil,
	)
	failuresDesc = prometheus.NewDesc(
		"memreg_failures_total",
		"Number of failed memory registry operations, by error.",
		[]string{"op", "error"}, nil,
	)
	notificationsDesc = prometheus.NewDesc(
		"memreg_notifications_total",
		"Number of notifications sent to subscribers.",
		[]string{"action"}, nil,
	)
	notifyFailuresDesc = prometheus.NewDesc(
		"memreg_notification_failures_total",
		"Number of notifications rejected by subscribers.",
		[]string{"action"}, nil,
	)
	rollbacksDesc = prometheus.NewDesc(
		"memreg_rollbacks_total",
		"Number of rolled back notification sequences.",
		nil, nil,
	)
	registeredBytesDesc = prometheus.NewDesc(
		"memreg_registered_bytes",
		"Amount of registered memory.",
		nil, nil,
	)
	regionsDesc = prometheus.NewDesc(
		"memreg_regions",
		"Number of registered regions.",
		nil, nil,
	)
	subscribersDesc = prometheus.NewDesc(
		"memreg_subscribers",
		"Number of subscriber maps.",
		nil, nil,
	)
	leavesDesc = prometheus.NewDesc(
		"memreg_leaf_tables",
		"Number of allocated leaf tables.",
		[]string{"table"}, nil,
	)
)

// Describe implements prometheus.Collector.
func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	ch <- callsDesc
	ch <- failuresDesc
	ch <- notificationsDesc
	ch <- notifyFailuresDesc
	ch <- rollbacksDesc
	ch <- registeredBytesDesc
	ch <- regionsDesc
	ch <- subscribersDesc
	ch <- leavesDesc
}

// Collect implements prometheus.Collector.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	regions := r.Regions()
	bytes := uint64(0)
	for _, region := range regions {
		bytes += region.Size
	}

	r.Lock()
	subscribers := len(r.maps)
	regLeaves := r.table.leafCount()
	mapLeaves := 0
	for _, m := range r.maps {
		mapLeaves += m.table.leafCount()
	}
	r.Unlock()

	ch <- prometheus.MustNewConstMetric(registeredBytesDesc, prometheus.GaugeValue, float64(bytes))
	ch <- prometheus.MustNewConstMetric(regionsDesc, prometheus.GaugeValue, float64(len(regions)))
	ch <- prometheus.MustNewConstMetric(subscribersDesc, prometheus.GaugeValue, float64(subscribers))
	ch <- prometheus.MustNewConstMetric(leavesDesc, prometheus.GaugeValue, float64(regLeaves), "registration")
	ch <- prometheus.MustNewConstMetric(leavesDesc, prometheus.GaugeValue, float64(mapLeaves), "subscribers")

	s := r.stats
	s.Lock()
	defer s.Unlock()

	for op, cnt := range s.calls {
		ch <- prometheus.MustNewConstMetric(callsDesc, prometheus.CounterValue, float64(cnt), op)
	}
	for op, errs := range s.failures {
		for name, cnt := range errs {
			ch <- prometheus.MustNewConstMetric(failuresDesc, prometheus.CounterValue, float64(cnt), op, name)
		}
	}
	for _, action := range []Action{ActionRegister, ActionUnregister} {
		ch <- prometheus.MustNewConstMetric(notificationsDesc, prometheus.CounterValue,
			float64(s.notifications[action]), action.String())
		ch <- prometheus.MustNewConstMetric(notifyFailuresDesc, prometheus.CounterValue,
			float64(s.notifyFailures[action]), action.String())
	}
	ch <- prometheus.MustNewConstMetric(rollbacksDesc, prometheus.CounterValue, float64(s.rollbacks))
}

func init() {
	err := metrics.RegisterCollector("memreg", func() (prometheus.Collector, error) {
		return Default(), nil
	})
	if err != nil {
		log.Error("failed to register memreg collector: %v", err)
	}
}
