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
	"time"
)

// RowKey identifies the (ticker, aligned report date) a dataset row was built from
type RowKey struct {
	Ticker string
	Date   time.Time
}

// Dataset is a feature matrix and its label vector. Rows are only ever added
// whole, so len(features) == len(labels) at all times.
type Dataset struct {
	Metrics []string

	keys     []RowKey
	features [][]float64
	labels   []float64
}

func NewDataset(metrics []string) *Dataset {
	metricsCopy := make([]string, len(metrics))
	copy(metricsCopy, metrics)

	return &Dataset{
		Metrics:  metricsCopy,
		keys:     make([]RowKey, 0, 1024),
		features: make([][]float64, 0, 1024),
		labels:   make([]float64, 0, 1024),
	}
}

// Append commits one row. If features does not have one value per metric the
// dataset is left unchanged and an error is returned.
func (ds *Dataset) Append(key RowKey, features []float64, label float64) error {
	if len(features) != len(ds.Metrics) {
		return fmt.Errorf("%w: got %d values for %d metrics", ErrFeatureWidth, len(features), len(ds.Metrics))
	}

	row := make([]float64, len(features))
	copy(row, features)

	key.Date = Day(key.Date)

	ds.keys = append(ds.keys, key)
	ds.features = append(ds.features, row)
	ds.labels = append(ds.labels, label)

	return nil
}

// Len returns the number of committed rows
func (ds *Dataset) Len() int {
	return len(ds.labels)
}

// Width returns the number of features per row
func (ds *Dataset) Width() int {
	return len(ds.Metrics)
}

func (ds *Dataset) Features() [][]float64 {
	return ds.features
}

func (ds *Dataset) Labels() []float64 {
	return ds.labels
}

func (ds *Dataset) Keys() []RowKey {
	return ds.keys
}

// Row returns the key, feature vector and label of row idx
func (ds *Dataset) Row(idx int) (RowKey, []float64, float64) {
	return ds.keys[idx], ds.features[idx], ds.labels[idx]
}
