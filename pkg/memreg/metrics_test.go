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
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

// gather collects the metrics of a registry, indexed by name and labels.
func gather(t *testing.T, r *Registry) map[string]float64 {
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(r))

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			values[metricKey(f.GetName(), m)] = metricValue(m)
		}
	}
	return values
}

func metricKey(name string, m *dto.Metric) string {
	labels := []string{}
	for _, l := range m.GetLabel() {
		labels = append(labels, l.GetName()+"="+l.GetValue())
	}
	if len(labels) == 0 {
		return name
	}
	return name + "{" + strings.Join(labels, ",") + "}"
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	}
	return 0
}

func TestStats(t *testing.T) {
	r := NewRegistry()
	rec := &recorder{fail: failAt(addrB, errRejected)}
	m, err := r.AllocMap(0, WithNotify(rec), WithName("m"))
	require.NoError(t, err)
	defer m.Free()

	require.NoError(t, r.Register(addrA, 2*mb2))
	require.Error(t, r.Register(addrA, mb2))
	require.Error(t, r.Register(addrB, mb2))
	require.Error(t, r.Unregister(addrA+mb2, mb2))
	require.NoError(t, r.Unregister(addrA, 2*mb2))

	s := r.Stats()
	require.Equal(t, uint64(3), s.Calls(opRegister))
	require.Equal(t, uint64(2), s.Calls(opUnregister))
	require.Equal(t, uint64(1), s.Calls(opAllocMap))
	require.Equal(t, uint64(1), s.Failures(opRegister, "EBUSY"))
	require.Equal(t, uint64(1), s.Failures(opRegister, "subscriber"))
	require.Equal(t, uint64(2), s.Failures(opRegister, ""))
	require.Equal(t, uint64(1), s.Failures(opUnregister, "ERANGE"))

	sent, failed := s.Notifications(ActionRegister)
	require.Equal(t, uint64(2), sent)
	require.Equal(t, uint64(1), failed)
	sent, failed = s.Notifications(ActionUnregister)
	require.Equal(t, uint64(1), sent)
	require.Equal(t, uint64(0), failed)

	summary := s.Summarize()
	require.Contains(t, summary, "register")
	require.Contains(t, summary, "EBUSY:1,subscriber:1")
	require.Contains(t, summary, "notify-register")
	require.Contains(t, summary, "rollbacks")
}

func TestCollect(t *testing.T) {
	r := NewRegistry()
	m, err := r.AllocMap(0, WithNotify(&recorder{}))
	require.NoError(t, err)
	defer m.Free()
	require.NoError(t, m.SetTranslation(addrA, mb2, 1))

	require.NoError(t, r.Register(addrA, 2*mb2))
	require.NoError(t, r.Register(addrB, mb2))
	require.Error(t, r.Register(addrB, mb2))

	values := gather(t, r)
	require.Equal(t, float64(3*mb2), values["memreg_registered_bytes"])
	require.Equal(t, float64(2), values["memreg_regions"])
	require.Equal(t, float64(1), values["memreg_subscribers"])
	require.Equal(t, float64(2), values["memreg_leaf_tables{table=registration}"])
	require.Equal(t, float64(1), values["memreg_leaf_tables{table=subscribers}"])
	require.Equal(t, float64(3), values["memreg_calls_total{op=register}"])
	require.Equal(t, float64(1), values["memreg_failures_total{error=EBUSY,op=register}"])
	require.Equal(t, float64(2), values["memreg_notifications_total{action=register}"])
	require.Equal(t, float64(0), values["memreg_rollbacks_total"])
}
