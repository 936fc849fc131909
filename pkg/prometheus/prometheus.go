// Copyright 2024 The gVisor Authors.
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

// Package prometheus exports kernel metrics in the Prometheus text format,
// documented at:
// https://prometheus.io/docs/instrumenting/exposition_formats/
package prometheus

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
	"pikernel.dev/pikernel/pkg/metric"
)

// timeNow is the time.Now() function. Can be mocked in tests.
var timeNow = time.Now

// ExportOptions contains options that control how metric data is exported.
type ExportOptions struct {
	// CommentHeader is printed as a comment before the metrics.
	CommentHeader string

	// ExporterPrefix is prepended to all metric names.
	ExporterPrefix string

	// ExtraLabels is added as labels for all metric values.
	ExtraLabels map[string]string
}

// Name converts a metric name such as "/kernel/syscalls" into a Prometheus
// metric name such as "kernel_syscalls".
func Name(prefix, name string) string {
	return prefix + strings.ReplaceAll(strings.TrimPrefix(name, "/"), "/", "_")
}

// Family converts one metric snapshot into a Prometheus metric family.
func Family(s metric.Snapshot, options ExportOptions, when time.Time) *dto.MetricFamily {
	typ := dto.MetricType_GAUGE
	if s.Cumulative {
		typ = dto.MetricType_COUNTER
	}
	mf := &dto.MetricFamily{
		Name: proto.String(Name(options.ExporterPrefix, s.Name)),
		Type: typ.Enum(),
	}
	if s.Description != "" {
		mf.Help = proto.String(s.Description)
	}
	for _, p := range s.Points {
		m := &dto.Metric{
			Label:       labels(s.Fields, p.FieldValues, options.ExtraLabels),
			TimestampMs: proto.Int64(when.UnixMilli()),
		}
		if s.Cumulative {
			m.Counter = &dto.Counter{Value: proto.Float64(float64(p.Value))}
		} else {
			m.Gauge = &dto.Gauge{Value: proto.Float64(float64(p.Value))}
		}
		mf.Metric = append(mf.Metric, m)
	}
	return mf
}

// labels returns the label pairs of one point, ordered by name.
func labels(fields, values []string, extra map[string]string) []*dto.LabelPair {
	pairs := make([]*dto.LabelPair, 0, len(fields)+len(extra))
	for i, f := range fields {
		pairs = append(pairs, &dto.LabelPair{Name: proto.String(f), Value: proto.String(values[i])})
	}
	for k, v := range extra {
		pairs = append(pairs, &dto.LabelPair{Name: proto.String(k), Value: proto.String(v)})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].GetName() < pairs[j].GetName()
	})
	return pairs
}

// countingWriter wraps a buffered writer and counts bytes written to it.
type countingWriter struct {
	w       *bufio.Writer
	written int
}

// Write implements io.Writer.Write.
func (w *countingWriter) Write(b []byte) (int, error) {
	written, err := w.w.Write(b)
	w.written += written
	return written, err
}

// Written returns the number of bytes written to the underlying writer (minus buffered writes).
func (w *countingWriter) Written() int {
	return w.written - w.w.Buffered()
}

// Write writes the given snapshots to w. It returns the number of bytes
// written.
func Write(w io.Writer, options ExportOptions, snaps []metric.Snapshot) (int, error) {
	cw := &countingWriter{w: bufio.NewWriter(w)}
	if options.CommentHeader != "" {
		for _, commentLine := range strings.Split(options.CommentHeader, "\n") {
			if _, err := fmt.Fprintf(cw, "# %s\n", commentLine); err != nil {
				return cw.Written(), err
			}
		}
	}
	when := timeNow()
	for _, s := range snaps {
		if len(s.Points) == 0 {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(cw, Family(s, options, when)); err != nil {
			return cw.Written(), fmt.Errorf("writing metric %q: %w", s.Name, err)
		}
	}
	if err := cw.w.Flush(); err != nil {
		return cw.Written(), err
	}
	return cw.Written(), nil
}

// WriteAll writes every registered metric to w.
func WriteAll(w io.Writer, options ExportOptions) (int, error) {
	return Write(w, options, metric.Values())
}
