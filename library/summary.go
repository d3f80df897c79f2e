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
package library

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/penny-vault/pvdataset/data"
	"github.com/xeonx/timeago"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Stats describes the contents of a dataset
type Stats struct {
	NumRows         int
	NumMetrics      int
	NumTickers      int
	FirstDate       time.Time
	LastDate        time.Time
	LabelMean       float64
	LabelMin        float64
	LabelMax        float64
	MissingByMetric map[string]int
}

// ComputeStats walks the dataset once
func ComputeStats(ds *data.Dataset) *Stats {
	stats := &Stats{
		NumRows:         ds.Len(),
		NumMetrics:      ds.Width(),
		LabelMin:        math.Inf(1),
		LabelMax:        math.Inf(-1),
		MissingByMetric: make(map[string]int, ds.Width()),
	}

	tickers := make(map[string]bool)
	sum := 0.0

	for idx := 0; idx < ds.Len(); idx++ {
		key, features, label := ds.Row(idx)
		tickers[key.Ticker] = true

		if stats.FirstDate.IsZero() || key.Date.Before(stats.FirstDate) {
			stats.FirstDate = key.Date
		}

		if key.Date.After(stats.LastDate) {
			stats.LastDate = key.Date
		}

		sum += label
		stats.LabelMin = math.Min(stats.LabelMin, label)
		stats.LabelMax = math.Max(stats.LabelMax, label)

		for col, val := range features {
			if math.IsNaN(val) {
				stats.MissingByMetric[ds.Metrics[col]]++
			}
		}
	}

	stats.NumTickers = len(tickers)
	if stats.NumRows > 0 {
		stats.LabelMean = sum / float64(stats.NumRows)
	} else {
		stats.LabelMin = math.NaN()
		stats.LabelMax = math.NaN()
		stats.LabelMean = math.NaN()
	}

	return stats
}

// Summary returns a description of the dataset file in markdown
func (file *DatasetFile) Summary() (string, error) {
	p := message.NewPrinter(language.English)
	builder := strings.Builder{}

	title := file.Name
	if title == "" {
		title = file.Path
	}

	if _, err := builder.WriteString(fmt.Sprintf("# %s\n", title)); err != nil {
		return "", err
	}

	if _, err := builder.WriteString("## Details\n\n"); err != nil {
		return "", err
	}

	if _, err := builder.WriteString(fmt.Sprintf("File: %s\n\n", file.Path)); err != nil {
		return "", err
	}

	stats := ComputeStats(file.Dataset)

	if _, err := builder.WriteString(p.Sprintf("  * Rows: %d\n", stats.NumRows)); err != nil {
		return "", err
	}

	if _, err := builder.WriteString(p.Sprintf("  * Metrics: %d\n", stats.NumMetrics)); err != nil {
		return "", err
	}

	if _, err := builder.WriteString(p.Sprintf("  * Tickers: %d\n", stats.NumTickers)); err != nil {
		return "", err
	}

	if stats.NumRows > 0 {
		if _, err := builder.WriteString(fmt.Sprintf("  * Dates: %s - %s\n", stats.FirstDate.Format(data.DateFormat),
			stats.LastDate.Format(data.DateFormat))); err != nil {
			return "", err
		}

		if _, err := builder.WriteString(p.Sprintf("  * Label: mean %.4f, min %.4f, max %.4f\n", stats.LabelMean,
			stats.LabelMin, stats.LabelMax)); err != nil {
			return "", err
		}
	}

	if _, err := builder.WriteString("\n"); err != nil {
		return "", err
	}

	if file.CreatedOn.Equal(time.Time{}) {
		if _, err := builder.WriteString("Created: Unknown\n\n"); err != nil {
			return "", err
		}
	} else {
		age := timeago.English.Format(file.CreatedOn)
		if _, err := builder.WriteString(fmt.Sprintf("Created: %s (%s)\n\n", age, file.CreatedOn.Local().Format("01/02/2006"))); err != nil {
			return "", err
		}
	}

	if _, err := builder.WriteString("## Metrics\n\n"); err != nil {
		return "", err
	}

	for _, metric := range file.Dataset.Metrics {
		missing := stats.MissingByMetric[metric]
		if _, err := builder.WriteString(p.Sprintf("  * %s (%d missing)\n", metric, missing)); err != nil {
			return "", err
		}
	}

	return builder.String(), nil
}
