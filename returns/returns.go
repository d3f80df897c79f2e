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

// Package returns computes forward cumulative returns from daily prices.
//
// Returns are always measured on a split-adjusted basis: when a price series
// is not already restated for splits, the closing price at the end of the
// window is multiplied by every split ratio that took effect after the first
// quote of the window. The ticker and its benchmark go through the same
// normalization, so an adjusted series is never compared to an unadjusted one.
package returns

import (
	"context"
	"fmt"
	"time"

	"github.com/penny-vault/pvdataset/data"
	"github.com/rs/zerolog"
)

// PriceSource is the subset of a price provider the calculator needs
type PriceSource interface {
	Prices(ctx context.Context, ticker string, start, end time.Time) (*data.PriceSeries, error)
	Splits(ctx context.Context, ticker string, start, end time.Time) ([]*data.Split, error)
}

type Calculator struct {
	prices PriceSource
}

func New(prices PriceSource) *Calculator {
	return &Calculator{
		prices: prices,
	}
}

// Window returns the inclusive date range covered by a horizon of years
// starting on start.
func Window(start time.Time, years int) (time.Time, time.Time) {
	start = data.Day(start)
	return start, start.AddDate(years, 0, 0)
}

// RelativeReturn is the cumulative return of ticker minus the cumulative
// return of benchmark over [start, start + years].
func (calc *Calculator) RelativeReturn(ctx context.Context, ticker, benchmark string, start time.Time, years int) (float64, error) {
	stockReturn, err := calc.Return(ctx, ticker, start, years)
	if err != nil {
		return 0, err
	}

	benchmarkReturn, err := calc.Return(ctx, benchmark, start, years)
	if err != nil {
		return 0, err
	}

	zerolog.Ctx(ctx).Debug().Str("Ticker", ticker).Str("Benchmark", benchmark).
		Str("StartDate", start.Format(data.DateFormat)).Int("Years", years).
		Float64("StockReturn", stockReturn).Float64("BenchmarkReturn", benchmarkReturn).
		Msg("computed relative return")

	return stockReturn - benchmarkReturn, nil
}

// Return is close[last] / open[first] - 1 over the trading days in
// [start, start + years].
func (calc *Calculator) Return(ctx context.Context, ticker string, start time.Time, years int) (float64, error) {
	windowStart, windowEnd := Window(start, years)

	series, err := calc.prices.Prices(ctx, ticker, windowStart, windowEnd)
	if err != nil {
		return 0, err
	}

	quotes := series.Window(windowStart, windowEnd)
	if len(quotes) == 0 {
		return 0, fmt.Errorf("%w: no prices for %s between %s and %s", data.ErrDataUnavailable, ticker,
			windowStart.Format(data.DateFormat), windowEnd.Format(data.DateFormat))
	}

	first := quotes[0]
	last := quotes[len(quotes)-1]

	if first.Open <= 0 {
		return 0, fmt.Errorf("%w: non-positive open %f for %s on %s", data.ErrMalformedResponse, first.Open, ticker,
			first.Date.Format(data.DateFormat))
	}

	factor := 1.0
	if !series.SplitAdjusted {
		splits, err := calc.prices.Splits(ctx, ticker, windowStart, windowEnd)
		if err != nil {
			return 0, err
		}

		factor, err = SplitFactor(splits, first.Date, last.Date)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", ticker, err)
		}
	}

	return (last.Close*factor)/first.Open - 1, nil
}

// SplitFactor multiplies the ratios of all splits effective in (after, through]
func SplitFactor(splits []*data.Split, after, through time.Time) (float64, error) {
	after = data.Day(after)
	through = data.Day(through)

	factor := 1.0
	for _, split := range splits {
		splitDate := data.Day(split.Date)
		if !splitDate.After(after) || splitDate.After(through) {
			continue
		}

		if split.Ratio <= 0 {
			return 0, fmt.Errorf("%w: split ratio %f on %s", data.ErrMalformedResponse, split.Ratio, splitDate.Format(data.DateFormat))
		}

		factor *= split.Ratio
	}

	return factor, nil
}
