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
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/penny-vault/pvdataset/data"
	"github.com/penny-vault/pvdataset/pkginfo"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const AlphaVantageBaseURL = "https://www.alphavantage.co"

type AlphaVantage struct {
	client  *resty.Client
	baseURL string
	limiter *rate.Limiter
}

type alphaVantageEarnings struct {
	Symbol            string                `json:"symbol"`
	QuarterlyEarnings []alphaVantageQuarter `json:"quarterlyEarnings"`
	Note              string                `json:"Note"`
	Information       string                `json:"Information"`
	ErrorMessage      string                `json:"Error Message"`
}

type alphaVantageQuarter struct {
	FiscalDateEnding   string `json:"fiscalDateEnding"`
	ReportedDate       string `json:"reportedDate"`
	ReportedEPS        string `json:"reportedEPS"`
	EstimatedEPS       string `json:"estimatedEPS"`
	Surprise           string `json:"surprise"`
	SurprisePercentage string `json:"surprisePercentage"`
}

// alphaVantageFields maps metric names onto quarterly earnings fields
var alphaVantageFields = map[string]func(*alphaVantageQuarter) string{
	"eps":                func(q *alphaVantageQuarter) string { return q.ReportedEPS },
	"estimatedEPS":       func(q *alphaVantageQuarter) string { return q.EstimatedEPS },
	"surprise":           func(q *alphaVantageQuarter) string { return q.Surprise },
	"surprisePercentage": func(q *alphaVantageQuarter) string { return q.SurprisePercentage },
}

func NewAlphaVantage(apiKey, baseURL string, requestDelay time.Duration) *AlphaVantage {
	if baseURL == "" {
		baseURL = AlphaVantageBaseURL
	}

	return &AlphaVantage{
		client:  resty.New().SetQueryParam("apikey", apiKey).SetHeader("User-Agent", pkginfo.UserAgent()).SetTimeout(30 * time.Second),
		baseURL: baseURL,
		limiter: newLimiter(requestDelay),
	}
}

func (alpha *AlphaVantage) Name() string {
	return "alphavantage"
}

func (alpha *AlphaVantage) ConfigDescription() map[string]string {
	return map[string]string{
		"apiKey":         "Enter your Alpha Vantage API key:",
		"requestDelayMs": "How many milliseconds should pass between requests?",
	}
}

func (alpha *AlphaVantage) Description() string {
	return `Alpha Vantage earnings provide reported and estimated quarterly EPS and
the earnings surprise. Supported metrics: eps, estimatedEPS, surprise,
surprisePercentage.`
}

// Metrics downloads quarterly earnings for ticker. Quarters reporting "None"
// for a metric leave that metric NaN.
func (alpha *AlphaVantage) Metrics(ctx context.Context, ticker string, metrics []string) (*data.MetricSeries, error) {
	logger := zerolog.Ctx(ctx)

	if err := alpha.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/query", alpha.baseURL)
	resp, err := alpha.client.R().
		SetContext(ctx).
		SetQueryParam("function", "EARNINGS").
		SetQueryParam("symbol", ticker).
		Get(url)
	if err := checkResponse(resp, err, ticker); err != nil {
		logger.Error().Err(err).Str("Ticker", ticker).Msg("alpha vantage earnings request failed")
		return nil, err
	}

	var earnings alphaVantageEarnings
	if err := json.Unmarshal(resp.Body(), &earnings); err != nil {
		return nil, fmt.Errorf("%w: alpha vantage earnings for %s: %w", data.ErrMalformedResponse, ticker, err)
	}

	// throttling is reported in-band with a 200 status
	if earnings.Note != "" || earnings.Information != "" {
		return nil, fmt.Errorf("%w: alpha vantage throttled request: %s%s", data.ErrProviderUnreachable, earnings.Note, earnings.Information)
	}

	if earnings.ErrorMessage != "" {
		return nil, fmt.Errorf("%w: %s: %s", data.ErrNoDataForTicker, ticker, earnings.ErrorMessage)
	}

	if earnings.QuarterlyEarnings == nil {
		return nil, fmt.Errorf("%w: alpha vantage response for %s has no quarterlyEarnings", data.ErrMalformedResponse, ticker)
	}

	series := data.NewMetricSeries(ticker, metrics)
	for idx := range earnings.QuarterlyEarnings {
		quarter := &earnings.QuarterlyEarnings[idx]

		reportDate, err := data.ParseDay(quarter.FiscalDateEnding)
		if err != nil {
			return nil, fmt.Errorf("%w: fiscalDateEnding %q for %s: %w", data.ErrMalformedResponse, quarter.FiscalDateEnding, ticker, err)
		}

		for _, metric := range metrics {
			field, ok := alphaVantageFields[metric]
			if !ok {
				continue
			}

			value, err := strconv.ParseFloat(field(quarter), 64)
			if err != nil {
				continue
			}

			if err := series.Set(data.AvailableOn(reportDate), metric, value); err != nil {
				return nil, err
			}
		}
	}

	if series.Len() == 0 {
		return nil, fmt.Errorf("%w: %s", data.ErrNoDataForTicker, ticker)
	}

	return series, nil
}
