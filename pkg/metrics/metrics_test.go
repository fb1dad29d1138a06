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
	"bytes"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestWritePrometheus(t *testing.T) {
	ExtractTotal.WithLabelValues("tagged").Inc()
	var buf bytes.Buffer
	if err := WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	if !strings.Contains(buf.String(), "toolwire_extract_total") {
		t.Errorf("missing toolwire_extract_total in output:\n%s", buf.String())
	}
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(OrphansDropped.WithLabelValues("call"))
	OrphansDropped.WithLabelValues("call").Add(2)
	if got := testutil.ToFloat64(OrphansDropped.WithLabelValues("call")); got != before+2 {
		t.Errorf("OrphansDropped: got %v want %v", got, before+2)
	}
}
