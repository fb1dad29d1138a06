// Copyright 2026 fanjia1024
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

package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// DefaultRegistry is shared by the CLI and the HTTP API.
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		ExtractTotal, ExtractInvocations, DiagnosticsTotal,
		ValidationTotal, RepairTotal, OrphansDropped,
		CompressionsTotal, HistoryTokens, StreamFragments,
		ExtractDuration,
	)
}

// ExtractTotal extraction runs by winning strategy ("none" when nothing matched).
var ExtractTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "toolwire_extract_total",
		Help: "Extraction runs by winning strategy",
	},
	[]string{"strategy"},
)

// ExtractInvocations invocations produced by extraction.
var ExtractInvocations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "toolwire_extract_invocations_total",
		Help: "Invocations produced by extraction",
	},
	[]string{"strategy"},
)

// ExtractDuration extraction latency in seconds.
var ExtractDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "toolwire_extract_duration_seconds",
		Help:    "Extraction latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
	},
)

// DiagnosticsTotal non-fatal diagnostics by component and kind.
var DiagnosticsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "toolwire_diagnostics_total",
		Help: "Non-fatal diagnostics by component and kind",
	},
	[]string{"component", "kind"},
)

// ValidationTotal validation outcomes.
var ValidationTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "toolwire_validation_total",
		Help: "Validation outcomes",
	},
	[]string{"tool", "outcome"}, // valid | invalid
)

// RepairTotal repairs produced.
var RepairTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "toolwire_repair_total",
		Help: "Repaired invocations produced",
	},
	[]string{"tool"},
)

// OrphansDropped entries or calls pruned from the request view.
var OrphansDropped = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "toolwire_history_orphans_dropped_total",
		Help: "Orphaned tool calls and results pruned from the request view",
	},
	[]string{"kind"}, // call | result
)

// CompressionsTotal history compressions.
var CompressionsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "toolwire_history_compressions_total",
		Help: "History compressions performed",
	},
)

// HistoryTokens estimated token total of the most recently updated history.
var HistoryTokens = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "toolwire_history_tokens",
		Help: "Estimated tokens of the most recently updated history",
	},
)

// StreamFragments streamed fragments accumulated.
var StreamFragments = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "toolwire_stream_fragments_total",
		Help: "Streamed tool-call fragments accumulated",
	},
)

// WritePrometheus writes the registry in Prometheus text format to w.
func WritePrometheus(w io.Writer) error {
	families, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
