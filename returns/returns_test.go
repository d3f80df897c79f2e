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
package returns_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pvdataset/data"
	"github.com/penny-vault/pvdataset/returns"
)

type fakePrices struct {
	series      map[string]*data.PriceSeries
	splits      map[string][]*data.Split
	err         error
	splitsCalls int
}

func (f *fakePrices) Prices(_ context.Context, ticker string, start, end time.Time) (*data.PriceSeries, error) {
	if f.err != nil {
		return nil, f.err
	}

	series, ok := f.series[ticker]
	if !ok {
		return &data.PriceSeries{Ticker: ticker}, nil
	}

	return series, nil
}

func (f *fakePrices) Splits(_ context.Context, ticker string, start, end time.Time) ([]*data.Split, error) {
	f.splitsCalls++
	return f.splits[ticker], nil
}

func day(s string) time.Time {
	GinkgoHelper()
	dt, err := data.ParseDay(s)
	Expect(err).NotTo(HaveOccurred())
	return dt
}

func priceSeries(ticker string, adjusted bool, quotes ...*data.Eod) *data.PriceSeries {
	GinkgoHelper()
	series, err := data.NewPriceSeries(ticker, adjusted, quotes)
	Expect(err).NotTo(HaveOccurred())
	return series
}

var _ = Describe("Calculator", func() {
	var (
		ctx    context.Context
		prices *fakePrices
		calc   *returns.Calculator
	)

	BeforeEach(func() {
		ctx = context.Background()
		prices = &fakePrices{
			series: map[string]*data.PriceSeries{
				"AAPL": priceSeries("AAPL", false,
					&data.Eod{Date: day("2020-01-02"), Open: 100, Close: 101},
					&data.Eod{Date: day("2020-06-01"), Open: 105, Close: 104},
					&data.Eod{Date: day("2020-12-31"), Open: 109, Close: 110},
				),
				"SPY": priceSeries("SPY", false,
					&data.Eod{Date: day("2020-01-02"), Open: 200, Close: 199},
					&data.Eod{Date: day("2020-12-31"), Open: 218, Close: 220},
				),
			},
			splits: map[string][]*data.Split{},
		}
		calc = returns.New(prices)
	})

	It("computes the horizon window", func() {
		start, end := returns.Window(day("2020-01-02"), 1)
		Expect(start).To(Equal(day("2020-01-02")))
		Expect(end).To(Equal(day("2021-01-02")))
	})

	It("measures from the first open to the last close", func() {
		ret, err := calc.Return(ctx, "AAPL", day("2020-01-02"), 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(ret).To(BeNumerically("~", 0.10, 1e-12))
	})

	It("returns zero when the stock matches the benchmark", func() {
		ret, err := calc.RelativeReturn(ctx, "AAPL", "SPY", day("2020-01-02"), 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(ret).To(BeNumerically("~", 0.0, 1e-12))
	})

	It("subtracts the benchmark return", func() {
		prices.series["MSFT"] = priceSeries("MSFT", false,
			&data.Eod{Date: day("2020-01-02"), Open: 50, Close: 50},
			&data.Eod{Date: day("2020-12-31"), Open: 60, Close: 60},
		)

		ret, err := calc.RelativeReturn(ctx, "MSFT", "SPY", day("2020-01-02"), 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(ret).To(BeNumerically("~", 0.10, 1e-12))
	})

	It("fails with data unavailable when the window is empty", func() {
		_, err := calc.RelativeReturn(ctx, "GONE", "SPY", day("2020-01-02"), 1)
		Expect(err).To(MatchError(data.ErrDataUnavailable))
	})

	It("fails with data unavailable when the benchmark window is empty", func() {
		prices.series["LATE"] = priceSeries("LATE", false,
			&data.Eod{Date: day("2022-01-03"), Open: 10, Close: 10},
			&data.Eod{Date: day("2022-12-30"), Open: 11, Close: 11},
		)

		_, err := calc.RelativeReturn(ctx, "LATE", "SPY", day("2022-01-03"), 1)
		Expect(err).To(MatchError(data.ErrDataUnavailable))
	})

	It("rejects a non-positive opening price", func() {
		prices.series["ZERO"] = priceSeries("ZERO", false,
			&data.Eod{Date: day("2020-01-02"), Open: 0, Close: 1},
		)

		_, err := calc.Return(ctx, "ZERO", day("2020-01-02"), 1)
		Expect(err).To(MatchError(data.ErrMalformedResponse))
	})

	It("passes provider errors through", func() {
		prices.err = data.ErrProviderUnreachable
		_, err := calc.Return(ctx, "AAPL", day("2020-01-02"), 1)
		Expect(errors.Is(err, data.ErrProviderUnreachable)).To(BeTrue())
	})

	Context("splits", func() {
		BeforeEach(func() {
			// 2-for-1 split in the middle of the window; raw close halves
			prices.series["NVDA"] = priceSeries("NVDA", false,
				&data.Eod{Date: day("2020-01-02"), Open: 100, Close: 100},
				&data.Eod{Date: day("2020-12-31"), Open: 55, Close: 55},
			)
			prices.splits["NVDA"] = []*data.Split{
				{Date: day("2020-07-01"), Ratio: 2},
			}
		})

		It("adjusts unadjusted prices for splits inside the window", func() {
			ret, err := calc.Return(ctx, "NVDA", day("2020-01-02"), 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(ret).To(BeNumerically("~", 0.10, 1e-12))
		})

		It("does not apply splits to adjusted series", func() {
			prices.series["NVDA"].SplitAdjusted = true
			ret, err := calc.Return(ctx, "NVDA", day("2020-01-02"), 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(ret).To(BeNumerically("~", -0.45, 1e-12))
			Expect(prices.splitsCalls).To(Equal(0))
		})
	})

	DescribeTable("split factor",
		func(after, through string, expected float64) {
			splits := []*data.Split{
				{Date: day("2020-01-02"), Ratio: 2},
				{Date: day("2020-06-01"), Ratio: 3},
				{Date: day("2020-12-31"), Ratio: 4},
			}

			factor, err := returns.SplitFactor(splits, day(after), day(through))
			Expect(err).NotTo(HaveOccurred())
			Expect(factor).To(Equal(expected))
		},
		Entry("split on the first day is already priced in", "2020-01-02", "2020-12-30", 3.0),
		Entry("split on the last day applies", "2020-01-02", "2020-12-31", 12.0),
		Entry("all splits", "2019-12-31", "2021-01-01", 24.0),
		Entry("no splits", "2021-01-01", "2021-12-31", 1.0),
	)

	It("rejects a non-positive split ratio", func() {
		_, err := returns.SplitFactor([]*data.Split{{Date: day("2020-06-01"), Ratio: 0}}, day("2020-01-01"), day("2020-12-31"))
		Expect(err).To(MatchError(data.ErrMalformedResponse))
	})
})
