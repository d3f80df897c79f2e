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
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SkipReason classifies why a (ticker, date) unit produced no row
type SkipReason string

const (
	SkipNotAligned        SkipReason = "not-aligned"
	SkipDataUnavailable   SkipReason = "data-unavailable"
	SkipRetriesExhausted  SkipReason = "retries-exhausted"
	SkipMalformedResponse SkipReason = "malformed-response"
	SkipNoData            SkipReason = "no-data"
	SkipError             SkipReason = "error"
)

type RunSummary struct {
	RunID     uuid.UUID
	StartTime time.Time
	EndTime   time.Time

	NumTickers        int
	NumRebalanceDates int
	RowsProduced      int

	// UnitsSkipped counts (ticker, date) units without a row, by reason
	UnitsSkipped map[SkipReason]int

	// TickersSkipped lists tickers whose metric series could not be fetched
	TickersSkipped []string
}

func NewRunSummary() *RunSummary {
	return &RunSummary{
		RunID:          uuid.New(),
		StartTime:      time.Now(),
		UnitsSkipped:   make(map[SkipReason]int),
		TickersSkipped: make([]string, 0),
	}
}

// Skip records a unit skipped for reason
func (summary *RunSummary) Skip(reason SkipReason) {
	summary.UnitsSkipped[reason]++
}

// TotalSkipped returns the number of units skipped for any reason
func (summary *RunSummary) TotalSkipped() int {
	total := 0
	for _, cnt := range summary.UnitsSkipped {
		total += cnt
	}

	return total
}

// Reasons returns the skip reasons present in the summary in a stable order
func (summary *RunSummary) Reasons() []SkipReason {
	reasons := make([]SkipReason, 0, len(summary.UnitsSkipped))
	for reason := range summary.UnitsSkipped {
		reasons = append(reasons, reason)
	}

	sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })

	return reasons
}

func (summary *RunSummary) MarshalZerologObject(e *zerolog.Event) {
	e.Str("RunID", summary.RunID.String())
	e.Int("NumTickers", summary.NumTickers)
	e.Int("NumRebalanceDates", summary.NumRebalanceDates)
	e.Int("RowsProduced", summary.RowsProduced)
	e.Int("UnitsSkipped", summary.TotalSkipped())
	e.Int("TickersSkipped", len(summary.TickersSkipped))
	for _, reason := range summary.Reasons() {
		e.Int(string(reason), summary.UnitsSkipped[reason])
	}
}
