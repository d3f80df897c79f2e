// Copyright 2024
// SPDX-License-Identifier: Apache-2.0
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
package data

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// MetricSharesOutstanding is the feature name of the reported share count
const MetricSharesOutstanding = "sharesOutstanding"

// MetricSnapshot holds the value of every metric of a series on one date.
// Missing values are NaN; a key is never absent.
type MetricSnapshot struct {
	Date   time.Time
	Values map[string]float64
}

// MetricSeries is the fundamentals time series of a single ticker. Dates are
// the day the values became public (see AvailableOn), not the raw report date.
type MetricSeries struct {
	Ticker  string
	Metrics []string

	snapshots []*MetricSnapshot
}

func NewMetricSeries(ticker string, metrics []string) *MetricSeries {
	metricsCopy := make([]string, len(metrics))
	copy(metricsCopy, metrics)

	return &MetricSeries{
		Ticker:    ticker,
		Metrics:   metricsCopy,
		snapshots: make([]*MetricSnapshot, 0, 64),
	}
}

// Set stores value for metric on date, creating a NaN-filled snapshot for
// date if one does not exist yet.
func (series *MetricSeries) Set(date time.Time, metric string, value float64) error {
	if !series.hasMetric(metric) {
		return fmt.Errorf("%w: %s", ErrUnknownMetric, metric)
	}

	snapshot := series.snapshot(Day(date))
	snapshot.Values[metric] = value

	return nil
}

// Touch makes sure a snapshot exists for date even if no metric is set on it
func (series *MetricSeries) Touch(date time.Time) {
	series.snapshot(Day(date))
}

// AsOf returns the snapshot with the latest date on or before t. The second
// return value is false when the series is empty or starts after t.
func (series *MetricSeries) AsOf(t time.Time) (*MetricSnapshot, bool) {
	t = Day(t)

	// index of the first snapshot strictly after t
	idx := sort.Search(len(series.snapshots), func(i int) bool {
		return series.snapshots[i].Date.After(t)
	})

	if idx == 0 {
		return nil, false
	}

	return series.snapshots[idx-1], true
}

// Len returns the number of dates in the series
func (series *MetricSeries) Len() int {
	return len(series.snapshots)
}

// Snapshots returns the snapshots in ascending date order
func (series *MetricSeries) Snapshots() []*MetricSnapshot {
	return series.snapshots
}

// Dates returns the snapshot dates in ascending order
func (series *MetricSeries) Dates() []time.Time {
	dates := make([]time.Time, len(series.snapshots))
	for idx, snapshot := range series.snapshots {
		dates[idx] = snapshot.Date
	}

	return dates
}

func (series *MetricSeries) hasMetric(metric string) bool {
	for _, m := range series.Metrics {
		if m == metric {
			return true
		}
	}

	return false
}

func (series *MetricSeries) snapshot(date time.Time) *MetricSnapshot {
	idx := sort.Search(len(series.snapshots), func(i int) bool {
		return !series.snapshots[i].Date.Before(date)
	})

	if idx < len(series.snapshots) && series.snapshots[idx].Date.Equal(date) {
		return series.snapshots[idx]
	}

	snapshot := &MetricSnapshot{
		Date:   date,
		Values: make(map[string]float64, len(series.Metrics)),
	}

	for _, metric := range series.Metrics {
		snapshot.Values[metric] = math.NaN()
	}

	series.snapshots = append(series.snapshots, nil)
	copy(series.snapshots[idx+1:], series.snapshots[idx:])
	series.snapshots[idx] = snapshot

	return snapshot
}

// Vector returns the snapshot values in the order given by metrics. Metrics
// the snapshot does not know are NaN.
func (snapshot *MetricSnapshot) Vector(metrics []string) []float64 {
	vec := make([]float64, len(metrics))
	for idx, metric := range metrics {
		val, ok := snapshot.Values[metric]
		if !ok {
			val = math.NaN()
		}

		vec[idx] = val
	}

	return vec
}

func (series *MetricSeries) MarshalZerologObject(e *zerolog.Event) {
	e.Str("Ticker", series.Ticker)
	e.Int("NumDates", len(series.snapshots))
	if len(series.snapshots) > 0 {
		e.Str("FirstDate", series.snapshots[0].Date.Format(DateFormat))
		e.Str("LastDate", series.snapshots[len(series.snapshots)-1].Date.Format(DateFormat))
	}
}
