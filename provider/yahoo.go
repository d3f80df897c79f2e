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
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/penny-vault/pvdataset/data"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	YahooBaseURL    = "https://query1.finance.yahoo.com"
	yahooSharesType = "quarterlyOrdinarySharesNumber"
)

var sharesHistoryStart = time.Date(1985, 1, 1, 0, 0, 0, 0, time.UTC)

type Yahoo struct {
	client  *resty.Client
	baseURL string
	limiter *rate.Limiter
}

type yahooChart struct {
	quotes []*data.Eod
	splits []*data.Split
}

func NewYahoo(baseURL string, requestsPerMinute int) *Yahoo {
	if baseURL == "" {
		baseURL = YahooBaseURL
	}

	return &Yahoo{
		client:  resty.New().SetHeader("User-Agent", "Mozilla/5.0").SetTimeout(30 * time.Second),
		baseURL: baseURL,
		limiter: perMinuteLimiter(requestsPerMinute),
	}
}

func (yahoo *Yahoo) Name() string {
	return "yahoo"
}

func (yahoo *Yahoo) ConfigDescription() map[string]string {
	return map[string]string{
		"rateLimit": "What is the maximum number of requests per minute?",
	}
}

func (yahoo *Yahoo) Description() string {
	return `Yahoo Finance chart data. Daily open and close prices are already
restated for splits; split events are reported alongside the prices. Quarterly
shares outstanding are available as an extra feature.`
}

// Prices returns split-adjusted daily quotes for ticker in [start, end]
func (yahoo *Yahoo) Prices(ctx context.Context, ticker string, start, end time.Time) (*data.PriceSeries, error) {
	chart, err := yahoo.chart(ctx, ticker, start, end)
	if err != nil {
		return nil, err
	}

	return data.NewPriceSeries(ticker, true, chart.quotes)
}

func (yahoo *Yahoo) Splits(ctx context.Context, ticker string, start, end time.Time) ([]*data.Split, error) {
	chart, err := yahoo.chart(ctx, ticker, start, end)
	if err != nil {
		return nil, err
	}

	return chart.splits, nil
}

func (yahoo *Yahoo) Ping(ctx context.Context) error {
	resp, err := yahoo.client.R().
		SetContext(ctx).
		SetQueryParam("range", "1d").
		SetQueryParam("interval", "1d").
		Get(fmt.Sprintf("%s/v8/finance/chart/SPY", yahoo.baseURL))
	return checkResponse(resp, err, "SPY")
}

func (yahoo *Yahoo) chart(ctx context.Context, ticker string, start, end time.Time) (*yahooChart, error) {
	// period2 is exclusive
	body, err := yahoo.get(ctx, ticker, yahooChartPath(ticker), map[string]string{
		"period1":  strconv.FormatInt(data.Day(start).Unix(), 10),
		"period2":  strconv.FormatInt(data.Day(end).AddDate(0, 0, 1).Unix(), 10),
		"interval": "1d",
		"events":   "split",
	})
	if err != nil {
		return nil, err
	}

	result, err := chartResult(body, ticker)
	if err != nil {
		return nil, err
	}

	timestamps := result.Get("timestamp").Array()
	quote := result.Get("indicators.quote.0")
	opens := quote.Get("open").Array()
	highs := quote.Get("high").Array()
	lows := quote.Get("low").Array()
	closes := quote.Get("close").Array()
	volumes := quote.Get("volume").Array()

	if len(opens) != len(timestamps) || len(closes) != len(timestamps) {
		return nil, fmt.Errorf("%w: yahoo quote arrays for %s do not match timestamps", data.ErrMalformedResponse, ticker)
	}

	chart := &yahooChart{
		quotes: make([]*data.Eod, 0, len(timestamps)),
		splits: make([]*data.Split, 0),
	}

	for idx, ts := range timestamps {
		// skip null bars (holidays, halted days)
		if opens[idx].Type == gjson.Null || closes[idx].Type == gjson.Null {
			continue
		}

		chart.quotes = append(chart.quotes, &data.Eod{
			Date:   time.Unix(ts.Int(), 0).UTC(),
			Open:   opens[idx].Float(),
			High:   valueAt(highs, idx),
			Low:    valueAt(lows, idx),
			Close:  closes[idx].Float(),
			Volume: valueAt(volumes, idx),
		})
	}

	result.Get("events.splits").ForEach(func(_, split gjson.Result) bool {
		numerator := split.Get("numerator").Float()
		denominator := split.Get("denominator").Float()
		if denominator == 0 {
			return true
		}

		chart.splits = append(chart.splits, &data.Split{
			Date:  data.Day(time.Unix(split.Get("date").Int(), 0).UTC()),
			Ratio: numerator / denominator,
		})

		return true
	})

	return chart, nil
}

// FirstQuoteDate returns the first trading day yahoo has for ticker
func (yahoo *Yahoo) FirstQuoteDate(ctx context.Context, ticker string) (time.Time, error) {
	body, err := yahoo.get(ctx, ticker, yahooChartPath(ticker), map[string]string{
		"range":    "max",
		"interval": "3mo",
	})
	if err != nil {
		return time.Time{}, err
	}

	result, err := chartResult(body, ticker)
	if err != nil {
		return time.Time{}, err
	}

	if firstTrade := result.Get("meta.firstTradeDate"); firstTrade.Type == gjson.Number {
		return data.Day(time.Unix(firstTrade.Int(), 0).UTC()), nil
	}

	if first := result.Get("timestamp.0"); first.Type == gjson.Number {
		return data.Day(time.Unix(first.Int(), 0).UTC()), nil
	}

	return time.Time{}, fmt.Errorf("%w: %s", data.ErrNoDataForTicker, ticker)
}

// SharesOutstanding returns the reported quarterly share count of ticker.
// Each value is dated the day after its as-of date, like fundamentals.
func (yahoo *Yahoo) SharesOutstanding(ctx context.Context, ticker string) (*data.MetricSeries, error) {
	body, err := yahoo.get(ctx, ticker, fmt.Sprintf("/ws/fundamentals-timeseries/v1/finance/timeseries/%s", url.PathEscape(yahooTicker(ticker))),
		map[string]string{
			"symbol":  yahooTicker(ticker),
			"type":    yahooSharesType,
			"period1": strconv.FormatInt(sharesHistoryStart.Unix(), 10),
			"period2": strconv.FormatInt(time.Now().Unix(), 10),
		})
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: yahoo returned invalid json for %s", data.ErrMalformedResponse, ticker)
	}

	if tsErr := gjson.GetBytes(body, "timeseries.error"); tsErr.Exists() && tsErr.Type != gjson.Null {
		return nil, fmt.Errorf("%w: yahoo timeseries error for %s: %s", data.ErrMalformedResponse, ticker, tsErr.Get("description").String())
	}

	results := gjson.GetBytes(body, "timeseries.result")
	if !results.IsArray() {
		return nil, fmt.Errorf("%w: yahoo timeseries for %s has no result", data.ErrMalformedResponse, ticker)
	}

	series := data.NewMetricSeries(ticker, []string{data.MetricSharesOutstanding})
	var parseErr error
	results.ForEach(func(_, result gjson.Result) bool {
		result.Get(yahooSharesType).ForEach(func(_, point gjson.Result) bool {
			if point.Type == gjson.Null {
				return true
			}

			raw := point.Get("reportedValue.raw")
			if raw.Type != gjson.Number {
				return true
			}

			asOf, err := data.ParseDay(point.Get("asOfDate").String())
			if err != nil {
				parseErr = fmt.Errorf("%w: yahoo asOfDate %q for %s: %w", data.ErrMalformedResponse, point.Get("asOfDate").String(), ticker, err)
				return false
			}

			parseErr = series.Set(data.AvailableOn(asOf), data.MetricSharesOutstanding, raw.Float())
			return parseErr == nil
		})

		return parseErr == nil
	})

	if parseErr != nil {
		return nil, parseErr
	}

	if series.Len() == 0 {
		return nil, fmt.Errorf("%w: %s", data.ErrNoDataForTicker, ticker)
	}

	return series, nil
}

// get issues a rate limited GET against the yahoo host
func (yahoo *Yahoo) get(ctx context.Context, ticker, path string, params map[string]string) ([]byte, error) {
	logger := zerolog.Ctx(ctx)

	if err := yahoo.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := yahoo.baseURL + path
	resp, err := yahoo.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(reqURL)
	if err := checkResponse(resp, err, ticker); err != nil {
		logger.Error().Err(err).Str("Ticker", ticker).Str("Url", reqURL).Msg("yahoo request failed")
		return nil, err
	}

	return resp.Body(), nil
}

// chartResult validates a chart response and returns its first result
func chartResult(body []byte, ticker string) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%w: yahoo returned invalid json for %s", data.ErrMalformedResponse, ticker)
	}

	if chartErr := gjson.GetBytes(body, "chart.error"); chartErr.Exists() && chartErr.Type != gjson.Null {
		if chartErr.Get("code").String() == "Not Found" {
			return gjson.Result{}, fmt.Errorf("%w: %s", data.ErrNoDataForTicker, ticker)
		}

		return gjson.Result{}, fmt.Errorf("%w: yahoo error for %s: %s", data.ErrMalformedResponse, ticker, chartErr.Get("description").String())
	}

	result := gjson.GetBytes(body, "chart.result.0")
	if !result.Exists() {
		return gjson.Result{}, fmt.Errorf("%w: yahoo response for %s has no chart result", data.ErrMalformedResponse, ticker)
	}

	return result, nil
}

// yahoo uses '-' for share classes, e.g. BRK/B -> BRK-B
func yahooTicker(ticker string) string {
	return strings.ReplaceAll(ticker, "/", "-")
}

func yahooChartPath(ticker string) string {
	return fmt.Sprintf("/v8/finance/chart/%s", url.PathEscape(yahooTicker(ticker)))
}

func valueAt(values []gjson.Result, idx int) float64 {
	if idx >= len(values) {
		return 0
	}

	return values[idx].Float()
}
