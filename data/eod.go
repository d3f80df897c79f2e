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
	"sort"
	"time"
)

type Eod struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Split is a corporate split; Ratio is the number of new shares per old share
type Split struct {
	Date  time.Time `json:"date"`
	Ratio float64   `json:"ratio"`
}

// PriceSeries is the daily price history of a ticker. SplitAdjusted reports
// whether the provider already restated historical prices for splits.
type PriceSeries struct {
	Ticker        string
	SplitAdjusted bool
	Quotes        []*Eod
}

// NewPriceSeries normalizes quote dates and sorts them. Two quotes on the
// same day are rejected.
func NewPriceSeries(ticker string, splitAdjusted bool, quotes []*Eod) (*PriceSeries, error) {
	for _, quote := range quotes {
		quote.Date = Day(quote.Date)
	}

	sort.SliceStable(quotes, func(i, j int) bool {
		return quotes[i].Date.Before(quotes[j].Date)
	})

	for idx := 1; idx < len(quotes); idx++ {
		if quotes[idx].Date.Equal(quotes[idx-1].Date) {
			return nil, fmt.Errorf("%w: duplicate quote for %s on %s", ErrMalformedResponse, ticker, quotes[idx].Date.Format(DateFormat))
		}
	}

	return &PriceSeries{
		Ticker:        ticker,
		SplitAdjusted: splitAdjusted,
		Quotes:        quotes,
	}, nil
}

// Window returns the quotes dated within [start, end]
func (series *PriceSeries) Window(start, end time.Time) []*Eod {
	start = Day(start)
	end = Day(end)

	first := sort.Search(len(series.Quotes), func(i int) bool {
		return !series.Quotes[i].Date.Before(start)
	})

	last := sort.Search(len(series.Quotes), func(i int) bool {
		return series.Quotes[i].Date.After(end)
	})

	if first >= last {
		return []*Eod{}
	}

	return series.Quotes[first:last]
}

func (series *PriceSeries) Len() int {
	return len(series.Quotes)
}
