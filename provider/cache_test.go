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
package provider_test

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/dgraph-io/badger/v4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pvdataset/data"
	"github.com/penny-vault/pvdataset/provider"
)

type countingFundamentals struct {
	calls  int
	series *data.MetricSeries
	err    error
}

func (c *countingFundamentals) Name() string                         { return "counting" }
func (c *countingFundamentals) Description() string                  { return "" }
func (c *countingFundamentals) ConfigDescription() map[string]string { return nil }

func (c *countingFundamentals) Metrics(_ context.Context, ticker string, metrics []string) (*data.MetricSeries, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}

	series := data.NewMetricSeries(ticker, metrics)
	for _, snapshot := range c.series.Snapshots() {
		for _, metric := range metrics {
			if val, ok := snapshot.Values[metric]; ok {
				if err := series.Set(snapshot.Date, metric, val); err != nil {
					return nil, err
				}
			}
		}
	}

	return series, nil
}

var _ = Describe("MetricCache", func() {
	var (
		ctx   context.Context
		db    *badger.DB
		inner *countingFundamentals
		cache *provider.MetricCache
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		db, err = provider.OpenCacheDB("", true)
		Expect(err).NotTo(HaveOccurred())

		source := data.NewMetricSeries("AAPL", []string{"eps", "pb"})
		Expect(source.Set(day("2020-01-01"), "eps", 1.0)).To(Succeed())
		Expect(source.Set(day("2020-04-01"), "eps", 1.2)).To(Succeed())
		Expect(source.Set(day("2020-04-01"), "pb", 30.5)).To(Succeed())

		inner = &countingFundamentals{series: source}
		cache = provider.NewMetricCache(inner, db)
	})

	AfterEach(func() {
		Expect(db.Close()).To(Succeed())
	})

	It("serves repeated requests from the cache", func() {
		metrics := []string{"eps", "pb"}
		first, err := cache.Metrics(ctx, "AAPL", metrics)
		Expect(err).NotTo(HaveOccurred())

		second, err := cache.Metrics(ctx, "AAPL", metrics)
		Expect(err).NotTo(HaveOccurred())

		Expect(inner.calls).To(Equal(1))
		Expect(second.Dates()).To(Equal(first.Dates()))

		snapshot, ok := second.AsOf(day("2020-02-01"))
		Expect(ok).To(BeTrue())
		Expect(snapshot.Values["eps"]).To(Equal(1.0))
		Expect(math.IsNaN(snapshot.Values["pb"])).To(BeTrue())

		snapshot, _ = second.AsOf(day("2020-04-01"))
		Expect(snapshot.Vector(metrics)).To(Equal([]float64{1.2, 30.5}))
	})

	It("refetches when the metric list changes", func() {
		_, err := cache.Metrics(ctx, "AAPL", []string{"eps"})
		Expect(err).NotTo(HaveOccurred())

		series, err := cache.Metrics(ctx, "AAPL", []string{"eps", "pb"})
		Expect(err).NotTo(HaveOccurred())
		Expect(series.Metrics).To(Equal([]string{"eps", "pb"}))
		Expect(inner.calls).To(Equal(2))
	})

	It("remembers tickers without data", func() {
		inner.err = data.ErrNoDataForTicker

		_, err := cache.Metrics(ctx, "ZZZZ", []string{"eps"})
		Expect(err).To(MatchError(data.ErrNoDataForTicker))

		_, err = cache.Metrics(ctx, "ZZZZ", []string{"eps"})
		Expect(err).To(MatchError(data.ErrNoDataForTicker))
		Expect(inner.calls).To(Equal(1))
	})

	It("does not cache transient failures", func() {
		inner.err = data.ErrProviderUnreachable

		_, err := cache.Metrics(ctx, "AAPL", []string{"eps"})
		Expect(errors.Is(err, data.ErrProviderUnreachable)).To(BeTrue())

		inner.err = nil
		_, err = cache.Metrics(ctx, "AAPL", []string{"eps"})
		Expect(err).NotTo(HaveOccurred())
		Expect(inner.calls).To(Equal(2))
	})

	It("lists and clears entries", func() {
		_, err := cache.Metrics(ctx, "AAPL", []string{"eps"})
		Expect(err).NotTo(HaveOccurred())

		inner.err = data.ErrNoDataForTicker
		_, _ = cache.Metrics(ctx, "ZZZZ", []string{"eps"})

		entries, err := cache.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(2))
		Expect(entries[0].Ticker).To(Equal("AAPL"))
		Expect(entries[0].Provider).To(Equal("counting"))
		Expect(entries[0].Key()).To(Equal("counting/AAPL"))
		Expect(entries[1].NoData).To(BeTrue())

		Expect(provider.FilterCacheEntries(entries, "counting")).To(HaveLen(2))
		Expect(provider.FilterCacheEntries(entries, "other")).To(BeEmpty())

		Expect(provider.ClearCache(db, "other")).To(Succeed())
		entries, err = provider.ListCache(db)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(2))

		Expect(provider.ClearCache(db, "counting")).To(Succeed())
		entries, err = provider.ListCache(db)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(BeEmpty())
	})
})

type countingPrices struct {
	priceCalls int
	splitCalls int
	firstCalls int
	err        error
}

func (c *countingPrices) Name() string                         { return "counting" }
func (c *countingPrices) Description() string                  { return "" }
func (c *countingPrices) ConfigDescription() map[string]string { return nil }
func (c *countingPrices) Ping(context.Context) error           { return nil }

func (c *countingPrices) Prices(_ context.Context, ticker string, start, _ time.Time) (*data.PriceSeries, error) {
	c.priceCalls++
	if c.err != nil {
		return nil, c.err
	}

	return data.NewPriceSeries(ticker, false, []*data.Eod{{Date: start, Open: 1, Close: 1}})
}

func (c *countingPrices) Splits(context.Context, string, time.Time, time.Time) ([]*data.Split, error) {
	c.splitCalls++
	return []*data.Split{}, nil
}

func (c *countingPrices) FirstQuoteDate(context.Context, string) (time.Time, error) {
	c.firstCalls++
	if c.err != nil {
		return time.Time{}, c.err
	}

	return time.Date(1993, 1, 29, 0, 0, 0, 0, time.UTC), nil
}

var _ = Describe("PriceMemo", func() {
	var (
		ctx   context.Context
		inner *countingPrices
		memo  *provider.PriceMemo
	)

	BeforeEach(func() {
		ctx = context.Background()
		inner = &countingPrices{}
		memo = provider.NewPriceMemo(inner)
	})

	It("memoizes prices and splits per window", func() {
		for ii := 0; ii < 3; ii++ {
			_, err := memo.Prices(ctx, "SPY", day("2020-01-02"), day("2021-01-02"))
			Expect(err).NotTo(HaveOccurred())
			_, err = memo.Splits(ctx, "SPY", day("2020-01-02"), day("2021-01-02"))
			Expect(err).NotTo(HaveOccurred())
		}

		Expect(inner.priceCalls).To(Equal(1))
		Expect(inner.splitCalls).To(Equal(1))

		_, err := memo.Prices(ctx, "SPY", day("2020-04-02"), day("2021-04-02"))
		Expect(err).NotTo(HaveOccurred())
		Expect(inner.priceCalls).To(Equal(2))
		Expect(memo.Len()).To(Equal(2))
	})

	It("does not memoize errors", func() {
		inner.err = data.ErrProviderUnreachable
		_, err := memo.Prices(ctx, "SPY", day("2020-01-02"), day("2021-01-02"))
		Expect(err).To(MatchError(data.ErrProviderUnreachable))

		inner.err = nil
		_, err = memo.Prices(ctx, "SPY", day("2020-01-02"), day("2021-01-02"))
		Expect(err).NotTo(HaveOccurred())
		Expect(inner.priceCalls).To(Equal(2))
	})

	It("memoizes first quote dates per ticker", func() {
		inner.err = data.ErrProviderUnreachable
		_, err := memo.FirstQuoteDate(ctx, "SPY")
		Expect(err).To(MatchError(data.ErrProviderUnreachable))

		inner.err = nil
		for ii := 0; ii < 3; ii++ {
			firstDate, err := memo.FirstQuoteDate(ctx, "SPY")
			Expect(err).NotTo(HaveOccurred())
			Expect(firstDate).To(Equal(day("1993-01-29")))
		}

		Expect(inner.firstCalls).To(Equal(2))
	})

	It("passes pings through", func() {
		Expect(memo.Ping(ctx)).To(Succeed())
	})
})
