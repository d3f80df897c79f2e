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

// Package builder assembles a point-in-time dataset by crossing a grid of
// rebalance dates with a ticker universe. For every (ticker, date) unit the
// latest fundamentals known on that date become the feature vector and the
// forward return relative to a benchmark becomes the label.
package builder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/penny-vault/pvdataset/data"
	"github.com/penny-vault/pvdataset/provider"
	"github.com/penny-vault/pvdataset/retry"
	"github.com/penny-vault/pvdataset/returns"
	"github.com/rs/zerolog"
)

type Options struct {
	Tickers        []string
	Metrics        []string
	Benchmark      string
	Start          time.Time
	End            time.Time
	IntervalMonths int
	HorizonYears   int

	Retry retry.Policy
}

// Validate checks the options for errors that would make every unit fail
func (opts *Options) Validate() error {
	switch {
	case len(opts.Tickers) == 0:
		return fmt.Errorf("%w: ticker universe is empty", data.ErrInvalidConfig)
	case len(opts.Metrics) == 0:
		return fmt.Errorf("%w: metric list is empty", data.ErrInvalidConfig)
	case opts.Benchmark == "":
		return fmt.Errorf("%w: benchmark ticker is not set", data.ErrInvalidConfig)
	case !opts.Start.Before(opts.End):
		return fmt.Errorf("%w: start date %s is not before end date %s", data.ErrInvalidConfig,
			opts.Start.Format(data.DateFormat), opts.End.Format(data.DateFormat))
	case opts.IntervalMonths < 1:
		return fmt.Errorf("%w: rebalance interval must be at least 1 month", data.ErrInvalidConfig)
	case opts.HorizonYears < 1:
		return fmt.Errorf("%w: horizon must be at least 1 year", data.ErrInvalidConfig)
	case opts.Retry.MaxRetries < 0:
		return fmt.Errorf("%w: max retries must not be negative", data.ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(opts.Metrics))
	for _, metric := range opts.Metrics {
		if seen[metric] {
			return fmt.Errorf("%w: metric %s listed twice", data.ErrInvalidConfig, metric)
		}
		seen[metric] = true
	}

	seen = make(map[string]bool, len(opts.Tickers))
	for _, ticker := range opts.Tickers {
		if seen[ticker] {
			return fmt.Errorf("%w: ticker %s listed twice", data.ErrInvalidConfig, ticker)
		}
		seen[ticker] = true
	}

	return nil
}

type Builder struct {
	opts         Options
	fundamentals provider.FundamentalsProvider
	prices       provider.PriceProvider
	calc         *returns.Calculator
}

// New creates a builder. When opts.Retry has no probe the price provider's
// Ping is used.
func New(opts Options, fundamentals provider.FundamentalsProvider, prices provider.PriceProvider) *Builder {
	if opts.Retry.Probe == nil {
		opts.Retry.Probe = prices.Ping
	}

	return &Builder{
		opts:         opts,
		fundamentals: fundamentals,
		prices:       prices,
		calc:         returns.New(prices),
	}
}

// RebalanceDates returns every date months apart from start through end
// (inclusive). Each date is computed from start so month-end clamping does
// not accumulate.
func RebalanceDates(start, end time.Time, months int) []time.Time {
	start = data.Day(start)
	end = data.Day(end)

	dates := make([]time.Time, 0)
	if months < 1 {
		return dates
	}

	for step := 0; ; step++ {
		dt := data.AddMonths(start, step*months)
		if dt.After(end) {
			break
		}

		dates = append(dates, dt)
	}

	return dates
}

// Build runs the whole grid. Only invalid options return an error; failed
// units are counted in the summary and skipped.
func (builder *Builder) Build(ctx context.Context) (*data.Dataset, *data.RunSummary, error) {
	logger := zerolog.Ctx(ctx)
	summary := data.NewRunSummary()

	if err := builder.opts.Validate(); err != nil {
		return nil, nil, err
	}

	dates := RebalanceDates(builder.opts.Start, builder.opts.End, builder.opts.IntervalMonths)
	summary.NumTickers = len(builder.opts.Tickers)
	summary.NumRebalanceDates = len(dates)

	logger.Info().Int("NumTickers", summary.NumTickers).Int("NumRebalanceDates", len(dates)).
		Str("Benchmark", builder.opts.Benchmark).Str("RunID", summary.RunID.String()).Msg("starting dataset build")

	series := builder.fetchFundamentals(ctx, summary)
	firstQuotes := builder.fetchFirstQuotes(ctx, series)
	dataset := data.NewDataset(builder.opts.Metrics)

	for idx, rebalanceDate := range dates {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		before := dataset.Len()
		for _, ticker := range builder.opts.Tickers {
			metricSeries, ok := series[ticker]
			if !ok {
				continue
			}

			builder.buildUnit(ctx, dataset, summary, firstQuotes, metricSeries, rebalanceDate)
		}

		logger.Info().Str("Date", rebalanceDate.Format(data.DateFormat)).Int("Progress", idx+1).
			Int("Total", len(dates)).Int("RowsAdded", dataset.Len()-before).Msg("rebalance date complete")
	}

	summary.RowsProduced = dataset.Len()
	summary.EndTime = time.Now()

	logger.Info().Object("Summary", summary).Msg("dataset build finished")

	return dataset, summary, nil
}

// fetchFundamentals downloads each ticker's metric series once. Tickers the
// provider cannot serve are dropped from the run.
func (builder *Builder) fetchFundamentals(ctx context.Context, summary *data.RunSummary) map[string]*data.MetricSeries {
	logger := zerolog.Ctx(ctx)
	series := make(map[string]*data.MetricSeries, len(builder.opts.Tickers))

	for _, ticker := range builder.opts.Tickers {
		var metricSeries *data.MetricSeries
		err := builder.opts.Retry.Do(ctx, func(ctx context.Context) error {
			var err error
			metricSeries, err = builder.fundamentals.Metrics(ctx, ticker, builder.opts.Metrics)
			return err
		})

		if err != nil {
			if errors.Is(err, data.ErrNoDataForTicker) {
				logger.Warn().Str("Ticker", ticker).Msg("provider has no fundamentals for ticker, skipping")
			} else {
				logger.Error().Err(err).Str("Ticker", ticker).Msg("could not fetch fundamentals, skipping ticker")
			}

			summary.TickersSkipped = append(summary.TickersSkipped, ticker)
			continue
		}

		logger.Debug().Object("Series", metricSeries).Msg("fetched fundamentals")
		series[ticker] = metricSeries
	}

	return series
}

// fetchFirstQuotes looks up the first price date of every fetched ticker and
// the benchmark. Tickers whose date cannot be determined are left out and
// their units go straight to the return calculation.
func (builder *Builder) fetchFirstQuotes(ctx context.Context, series map[string]*data.MetricSeries) map[string]time.Time {
	logger := zerolog.Ctx(ctx)
	firstQuotes := make(map[string]time.Time, len(series)+1)

	tickers := make([]string, 0, len(series)+1)
	tickers = append(tickers, builder.opts.Benchmark)
	for _, ticker := range builder.opts.Tickers {
		if _, ok := series[ticker]; ok && ticker != builder.opts.Benchmark {
			tickers = append(tickers, ticker)
		}
	}

	for _, ticker := range tickers {
		var firstDate time.Time
		err := builder.opts.Retry.Do(ctx, func(ctx context.Context) error {
			var err error
			firstDate, err = builder.prices.FirstQuoteDate(ctx, ticker)
			return err
		})

		if err != nil || firstDate.IsZero() {
			logger.Debug().Err(err).Str("Ticker", ticker).Msg("first quote date unknown")
			continue
		}

		firstQuotes[ticker] = data.Day(firstDate)
	}

	return firstQuotes
}

func (builder *Builder) buildUnit(ctx context.Context, dataset *data.Dataset, summary *data.RunSummary, firstQuotes map[string]time.Time, metricSeries *data.MetricSeries, rebalanceDate time.Time) {
	ticker := metricSeries.Ticker
	logger := zerolog.Ctx(ctx).With().Str("Ticker", ticker).Str("Date", rebalanceDate.Format(data.DateFormat)).Logger()

	snapshot, ok := metricSeries.AsOf(rebalanceDate)
	if !ok {
		logger.Debug().Msg("no fundamentals known on rebalance date")
		summary.Skip(data.SkipNotAligned)
		return
	}

	_, windowEnd := returns.Window(snapshot.Date, builder.opts.HorizonYears)
	for _, priced := range []string{ticker, builder.opts.Benchmark} {
		if firstDate, ok := firstQuotes[priced]; ok && windowEnd.Before(firstDate) {
			logger.Debug().Str("PricedTicker", priced).Str("FirstQuoteDate", firstDate.Format(data.DateFormat)).
				Msg("label window ends before the first quote")
			summary.Skip(data.SkipDataUnavailable)
			return
		}
	}

	var label float64
	err := builder.opts.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		label, err = builder.calc.RelativeReturn(ctx, ticker, builder.opts.Benchmark, snapshot.Date, builder.opts.HorizonYears)
		return err
	})

	if err != nil {
		reason := classify(err)
		logger.Warn().Err(err).Str("Reason", string(reason)).Str("AlignedDate", snapshot.Date.Format(data.DateFormat)).
			Msg("skipping unit")
		summary.Skip(reason)
		return
	}

	key := data.RowKey{Ticker: ticker, Date: snapshot.Date}
	if err := dataset.Append(key, snapshot.Vector(builder.opts.Metrics), label); err != nil {
		logger.Error().Err(err).Msg("could not append row")
		summary.Skip(data.SkipError)
		return
	}

	logger.Debug().Str("AlignedDate", snapshot.Date.Format(data.DateFormat)).Float64("Label", label).Msg("row appended")
}

func classify(err error) data.SkipReason {
	switch {
	case errors.Is(err, retry.ErrRetriesExhausted):
		return data.SkipRetriesExhausted
	case errors.Is(err, data.ErrDataUnavailable):
		return data.SkipDataUnavailable
	case errors.Is(err, data.ErrMalformedResponse):
		return data.SkipMalformedResponse
	case errors.Is(err, data.ErrNoDataForTicker):
		return data.SkipNoData
	default:
		return data.SkipError
	}
}
