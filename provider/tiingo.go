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
	"strings"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/penny-vault/pvdataset/data"
	"github.com/penny-vault/pvdataset/pkginfo"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const TiingoBaseURL = "https://api.tiingo.com"

type Tiingo struct {
	client  *resty.Client
	baseURL string
	limiter *rate.Limiter

	// raw rows per window; Prices and Splits of one window share a download
	rows *haxmap.Map[string, []*tiingoEod]
}

type tiingoMeta struct {
	Ticker    string `json:"ticker"`
	Name      string `json:"name"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type tiingoEod struct {
	Date     string  `json:"date"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	Dividend float64 `json:"divCash"`
	Split    float64 `json:"splitFactor"`
}

// NewTiingo creates a Tiingo end-of-day price client limited to
// requestsPerMinute (0 means unlimited).
func NewTiingo(apiKey, baseURL string, requestsPerMinute int) *Tiingo {
	if baseURL == "" {
		baseURL = TiingoBaseURL
	}

	return &Tiingo{
		client:  resty.New().SetQueryParam("token", apiKey).SetHeader("User-Agent", pkginfo.UserAgent()).SetTimeout(30 * time.Second),
		baseURL: baseURL,
		limiter: perMinuteLimiter(requestsPerMinute),
		rows:    haxmap.New[string, []*tiingoEod](),
	}
}

func (tiingo *Tiingo) Name() string {
	return "tiingo"
}

func (tiingo *Tiingo) ConfigDescription() map[string]string {
	return map[string]string{
		"apiKey":    "Enter your tiingo API key:",
		"rateLimit": "What is the maximum number of requests per minute?",
	}
}

func (tiingo *Tiingo) Description() string {
	return `Tiingo end-of-day prices for US stocks and ETFs. Prices are returned
unadjusted; split factors are reported on the day a split takes effect.`
}

// Prices returns unadjusted daily quotes for ticker in [start, end]
func (tiingo *Tiingo) Prices(ctx context.Context, ticker string, start, end time.Time) (*data.PriceSeries, error) {
	rows, err := tiingo.eod(ctx, ticker, start, end)
	if err != nil {
		return nil, err
	}

	quotes := make([]*data.Eod, 0, len(rows))
	for _, row := range rows {
		quoteDate, err := tiingoDate(row.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: tiingo date %q for %s: %w", data.ErrMalformedResponse, row.Date, ticker, err)
		}

		quotes = append(quotes, &data.Eod{
			Date:   quoteDate,
			Open:   row.Open,
			High:   row.High,
			Low:    row.Low,
			Close:  row.Close,
			Volume: row.Volume,
		})
	}

	return data.NewPriceSeries(ticker, false, quotes)
}

// Splits returns the days in [start, end] with a split factor other than 1
func (tiingo *Tiingo) Splits(ctx context.Context, ticker string, start, end time.Time) ([]*data.Split, error) {
	rows, err := tiingo.eod(ctx, ticker, start, end)
	if err != nil {
		return nil, err
	}

	splits := make([]*data.Split, 0)
	for _, row := range rows {
		if row.Split == 0 || row.Split == 1 {
			continue
		}

		splitDate, err := tiingoDate(row.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: tiingo date %q for %s: %w", data.ErrMalformedResponse, row.Date, ticker, err)
		}

		splits = append(splits, &data.Split{
			Date:  splitDate,
			Ratio: row.Split,
		})
	}

	return splits, nil
}

// FirstQuoteDate returns the first day tiingo has a price for ticker
func (tiingo *Tiingo) FirstQuoteDate(ctx context.Context, ticker string) (time.Time, error) {
	logger := zerolog.Ctx(ctx)

	if err := tiingo.limiter.Wait(ctx); err != nil {
		return time.Time{}, err
	}

	url := fmt.Sprintf("%s/tiingo/daily/%s", tiingo.baseURL, tiingoTicker(ticker))
	resp, err := tiingo.client.R().SetContext(ctx).Get(url)
	if err := checkResponse(resp, err, ticker); err != nil {
		logger.Error().Err(err).Str("Ticker", ticker).Str("Url", url).Msg("tiingo returned an invalid HTTP response")
		return time.Time{}, err
	}

	meta := tiingoMeta{}
	if err := json.Unmarshal(resp.Body(), &meta); err != nil {
		return time.Time{}, fmt.Errorf("%w: tiingo meta for %s: %w", data.ErrMalformedResponse, ticker, err)
	}

	if meta.StartDate == "" {
		return time.Time{}, fmt.Errorf("%w: %s", data.ErrNoDataForTicker, ticker)
	}

	firstDate, err := tiingoDate(meta.StartDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: tiingo start date %q for %s: %w", data.ErrMalformedResponse, meta.StartDate, ticker, err)
	}

	return firstDate, nil
}

// Ping calls the tiingo connectivity test endpoint
func (tiingo *Tiingo) Ping(ctx context.Context) error {
	resp, err := tiingo.client.R().SetContext(ctx).Get(fmt.Sprintf("%s/api/test", tiingo.baseURL))
	return checkResponse(resp, err, "")
}

func (tiingo *Tiingo) eod(ctx context.Context, ticker string, start, end time.Time) ([]*tiingoEod, error) {
	logger := zerolog.Ctx(ctx)

	key := memoKey(ticker, start, end)
	if rows, ok := tiingo.rows.Get(key); ok {
		return rows, nil
	}

	if err := tiingo.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/tiingo/daily/%s/prices", tiingo.baseURL, tiingoTicker(ticker))

	resp, err := tiingo.client.R().
		SetContext(ctx).
		SetQueryParam("startDate", start.Format(data.DateFormat)).
		SetQueryParam("endDate", end.Format(data.DateFormat)).
		Get(url)
	if err := checkResponse(resp, err, ticker); err != nil {
		logger.Error().Err(err).Str("Ticker", ticker).Str("Url", url).Msg("tiingo returned an invalid HTTP response")
		return nil, err
	}

	respContent := make([]*tiingoEod, 0)
	if err := json.Unmarshal(resp.Body(), &respContent); err != nil {
		return nil, fmt.Errorf("%w: tiingo prices for %s: %w", data.ErrMalformedResponse, ticker, err)
	}

	tiingo.rows.Set(key, respContent)
	return respContent, nil
}

// tiingoTicker converts the share class separator, e.g. BRK/A -> BRK-A
func tiingoTicker(ticker string) string {
	return strings.ReplaceAll(ticker, "/", "-")
}

// tiingoDate parses the date portion of a tiingo timestamp (2020-01-02T00:00:00.000Z)
func tiingoDate(s string) (time.Time, error) {
	if len(s) >= 10 {
		s = s[:10]
	}

	return data.ParseDay(s)
}
