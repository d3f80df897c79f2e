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
	"fmt"
	"math"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/penny-vault/pvdataset/data"
	"github.com/penny-vault/pvdataset/pkginfo"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const FinnhubBaseURL = "https://finnhub.io/api/v1"

// DefaultFinnhubMetrics is the quarterly basic-financials feature set
var DefaultFinnhubMetrics = []string{
	"assetTurnoverTTM", "bookValue", "cashRatio", "currentRatio",
	"ebitPerShare", "eps", "ev", "fcfMargin", "fcfPerShareTTM",
	"grossMargin", "inventoryTurnoverTTM", "longtermDebtTotalAsset",
	"longtermDebtTotalCapital", "longtermDebtTotalEquity",
	"netDebtToTotalCapital", "netDebtToTotalEquity", "netMargin",
	"operatingMargin", "payoutRatioTTM", "pb", "peTTM", "pfcfTTM",
	"pretaxMargin", "psTTM", "quickRatio", "receivablesTurnoverTTM",
	"roaTTM", "roeTTM", "roicTTM", "rotcTTM", "salesPerShare", "sgaToSale",
	"totalDebtToEquity", "totalDebtToTotalAsset", "totalDebtToTotalCapital",
	"totalRatio", "ptbv", "tangibleBookValue",
}

type Finnhub struct {
	client  *resty.Client
	baseURL string
	limiter *rate.Limiter
}

// NewFinnhub creates a Finnhub fundamentals client. Requests are spaced at
// least requestDelay apart. An empty baseURL selects FinnhubBaseURL.
func NewFinnhub(apiKey, baseURL string, requestDelay time.Duration) *Finnhub {
	if baseURL == "" {
		baseURL = FinnhubBaseURL
	}

	return &Finnhub{
		client:  resty.New().SetQueryParam("token", apiKey).SetHeader("User-Agent", pkginfo.UserAgent()).SetTimeout(30 * time.Second),
		baseURL: baseURL,
		limiter: newLimiter(requestDelay),
	}
}

func (finnhub *Finnhub) Name() string {
	return "finnhub"
}

func (finnhub *Finnhub) ConfigDescription() map[string]string {
	return map[string]string{
		"apiKey":         "Enter your Finnhub API key:",
		"requestDelayMs": "How many milliseconds should pass between requests?",
	}
}

func (finnhub *Finnhub) Description() string {
	return `Finnhub basic financials provide quarterly and annual time series of
company ratios (margins, turnover, leverage, valuation multiples and per-share
values) derived from reported financial statements.`
}

// Metrics downloads the quarterly basic-financials series of ticker. Each
// value is keyed by its fiscal period end plus the availability lag.
func (finnhub *Finnhub) Metrics(ctx context.Context, ticker string, metrics []string) (*data.MetricSeries, error) {
	logger := zerolog.Ctx(ctx)

	if err := finnhub.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/stock/metric", finnhub.baseURL)
	resp, err := finnhub.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", ticker).
		SetQueryParam("metric", "all").
		Get(url)
	if err := checkResponse(resp, err, ticker); err != nil {
		logger.Error().Err(err).Str("Ticker", ticker).Str("Url", url).Msg("finnhub basic financials request failed")
		return nil, err
	}

	body := resp.Body()
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: finnhub returned invalid json for %s", data.ErrMalformedResponse, ticker)
	}

	seriesResult := gjson.GetBytes(body, "series")
	if !seriesResult.Exists() {
		return nil, fmt.Errorf("%w: finnhub response for %s has no series field", data.ErrMalformedResponse, ticker)
	}

	if !seriesResult.IsObject() || len(seriesResult.Map()) == 0 {
		return nil, fmt.Errorf("%w: %s", data.ErrNoDataForTicker, ticker)
	}

	quarterly := seriesResult.Get("quarterly")
	series := data.NewMetricSeries(ticker, metrics)

	for _, metric := range metrics {
		entries := quarterly.Get(metric)
		if !entries.Exists() {
			continue
		}

		for _, entry := range entries.Array() {
			period := entry.Get("period")
			if !period.Exists() {
				return nil, fmt.Errorf("%w: finnhub %s entry for %s has no period", data.ErrMalformedResponse, metric, ticker)
			}

			reportDate, err := data.ParseDay(period.String())
			if err != nil {
				return nil, fmt.Errorf("%w: finnhub period %q for %s: %w", data.ErrMalformedResponse, period.String(), ticker, err)
			}

			value := math.NaN()
			if v := entry.Get("v"); v.Type == gjson.Number {
				value = v.Float()
			}

			if err := series.Set(data.AvailableOn(reportDate), metric, value); err != nil {
				return nil, err
			}
		}
	}

	if series.Len() == 0 {
		return nil, fmt.Errorf("%w: %s has none of the requested quarterly metrics", data.ErrNoDataForTicker, ticker)
	}

	logger.Debug().Object("Series", series).Msg("downloaded finnhub metrics")

	return series, nil
}
