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
	"time"

	"github.com/alphadose/haxmap"
	"github.com/penny-vault/pvdataset/data"
)

// PriceMemo remembers successful price and split downloads for the lifetime
// of a run. Errors are never memoized so transient failures can be retried.
type PriceMemo struct {
	PriceProvider

	prices      *haxmap.Map[string, *data.PriceSeries]
	splits      *haxmap.Map[string, []*data.Split]
	firstQuotes *haxmap.Map[string, time.Time]
}

func NewPriceMemo(p PriceProvider) *PriceMemo {
	return &PriceMemo{
		PriceProvider: p,
		prices:        haxmap.New[string, *data.PriceSeries](),
		splits:        haxmap.New[string, []*data.Split](),
		firstQuotes:   haxmap.New[string, time.Time](),
	}
}

func memoKey(ticker string, start, end time.Time) string {
	return fmt.Sprintf("%s|%s|%s", ticker, start.Format(data.DateFormat), end.Format(data.DateFormat))
}

func (memo *PriceMemo) Prices(ctx context.Context, ticker string, start, end time.Time) (*data.PriceSeries, error) {
	key := memoKey(ticker, start, end)
	if series, ok := memo.prices.Get(key); ok {
		return series, nil
	}

	series, err := memo.PriceProvider.Prices(ctx, ticker, start, end)
	if err != nil {
		return nil, err
	}

	memo.prices.Set(key, series)
	return series, nil
}

func (memo *PriceMemo) Splits(ctx context.Context, ticker string, start, end time.Time) ([]*data.Split, error) {
	key := memoKey(ticker, start, end)
	if splits, ok := memo.splits.Get(key); ok {
		return splits, nil
	}

	splits, err := memo.PriceProvider.Splits(ctx, ticker, start, end)
	if err != nil {
		return nil, err
	}

	memo.splits.Set(key, splits)
	return splits, nil
}

func (memo *PriceMemo) FirstQuoteDate(ctx context.Context, ticker string) (time.Time, error) {
	if firstDate, ok := memo.firstQuotes.Get(ticker); ok {
		return firstDate, nil
	}

	firstDate, err := memo.PriceProvider.FirstQuoteDate(ctx, ticker)
	if err != nil {
		return time.Time{}, err
	}

	memo.firstQuotes.Set(ticker, firstDate)
	return firstDate, nil
}

// Len is the number of memoized price windows
func (memo *PriceMemo) Len() int {
	return int(memo.prices.Len())
}
