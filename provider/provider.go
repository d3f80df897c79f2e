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
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/penny-vault/pvdataset/data"
	"golang.org/x/time/rate"
)

var (
	ErrInvalidStatusCode = errors.New("invalid status code received")
	ErrUnknownProvider   = errors.New("unknown provider")
)

type Provider interface {
	Name() string
	ConfigDescription() map[string]string
	Description() string
}

// FundamentalsProvider returns per-ticker quarterly metric series. Series
// dates are report dates shifted by data.AvailabilityLag.
type FundamentalsProvider interface {
	Provider

	Metrics(ctx context.Context, ticker string, metrics []string) (*data.MetricSeries, error)
}

// PriceProvider returns daily prices and splits. Each returned PriceSeries
// states whether its prices are already split-adjusted.
type PriceProvider interface {
	Provider

	Prices(ctx context.Context, ticker string, start, end time.Time) (*data.PriceSeries, error)
	Splits(ctx context.Context, ticker string, start, end time.Time) ([]*data.Split, error)

	// FirstQuoteDate is the earliest day the provider has a price for ticker
	FirstQuoteDate(ctx context.Context, ticker string) (time.Time, error)

	// Ping checks that the provider is reachable
	Ping(ctx context.Context) error
}

// SharesProvider reports historical shares outstanding as a single-metric
// series named data.MetricSharesOutstanding.
type SharesProvider interface {
	SharesOutstanding(ctx context.Context, ticker string) (*data.MetricSeries, error)
}

// Available lists every provider pvdataset knows about
func Available() []Provider {
	return []Provider{
		&Finnhub{},
		&AlphaVantage{},
		&Tiingo{},
		&Yahoo{},
	}
}

// Lookup finds a provider description by name
func Lookup(name string) (Provider, error) {
	for _, p := range Available() {
		if p.Name() == name {
			return p, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
}

// checkResponse maps transport failures and HTTP status codes onto the data
// error taxonomy.
func checkResponse(resp *resty.Response, err error, ticker string) error {
	if err != nil {
		return fmt.Errorf("%w: %w", data.ErrProviderUnreachable, err)
	}

	statusCode := resp.StatusCode()
	switch {
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		return fmt.Errorf("%w: status code %d", data.ErrProviderUnreachable, statusCode)
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", data.ErrNoDataForTicker, ticker)
	case statusCode >= 300:
		return fmt.Errorf("%w: %d", ErrInvalidStatusCode, statusCode)
	}

	return nil
}

// newLimiter allows one request every delay; a non-positive delay disables limiting
func newLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}

	return rate.NewLimiter(rate.Every(delay), 1)
}

func perMinuteLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}

	return rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/float64(61)), 1)
}
