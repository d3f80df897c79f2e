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
package provider

import (
	"context"
	"errors"
	"slices"

	"github.com/penny-vault/pvdataset/data"
	"github.com/rs/zerolog"
)

// SharesFundamentals adds shares outstanding to the series of a fundamentals
// provider. Each snapshot gets the latest share count public on its date;
// share reports never add snapshot dates of their own.
type SharesFundamentals struct {
	FundamentalsProvider

	shares SharesProvider
}

func NewSharesFundamentals(p FundamentalsProvider, shares SharesProvider) *SharesFundamentals {
	return &SharesFundamentals{
		FundamentalsProvider: p,
		shares:               shares,
	}
}

// Metrics fetches metrics from the wrapped provider and fills in
// data.MetricSharesOutstanding when it is requested. A ticker without share
// data keeps NaN in that column.
func (sf *SharesFundamentals) Metrics(ctx context.Context, ticker string, metrics []string) (*data.MetricSeries, error) {
	if !slices.Contains(metrics, data.MetricSharesOutstanding) {
		return sf.FundamentalsProvider.Metrics(ctx, ticker, metrics)
	}

	base := make([]string, 0, len(metrics))
	for _, metric := range metrics {
		if metric != data.MetricSharesOutstanding {
			base = append(base, metric)
		}
	}

	if len(base) == 0 {
		return sf.shares.SharesOutstanding(ctx, ticker)
	}

	fundamentals, err := sf.FundamentalsProvider.Metrics(ctx, ticker, base)
	if err != nil {
		return nil, err
	}

	shares, err := sf.shares.SharesOutstanding(ctx, ticker)
	if err != nil {
		if !errors.Is(err, data.ErrNoDataForTicker) {
			return nil, err
		}

		zerolog.Ctx(ctx).Warn().Str("Ticker", ticker).Msg("no shares outstanding for ticker")
		shares = nil
	}

	merged := data.NewMetricSeries(ticker, metrics)
	for _, snapshot := range fundamentals.Snapshots() {
		merged.Touch(snapshot.Date)

		for _, metric := range base {
			if val, ok := snapshot.Values[metric]; ok {
				if err := merged.Set(snapshot.Date, metric, val); err != nil {
					return nil, err
				}
			}
		}

		if shares == nil {
			continue
		}

		if count, ok := shares.AsOf(snapshot.Date); ok {
			if err := merged.Set(snapshot.Date, data.MetricSharesOutstanding, count.Values[data.MetricSharesOutstanding]); err != nil {
				return nil, err
			}
		}
	}

	return merged, nil
}
