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
	"math"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pvdataset/data"
	"github.com/penny-vault/pvdataset/provider"
)

func day(s string) time.Time {
	GinkgoHelper()
	dt, err := data.ParseDay(s)
	Expect(err).NotTo(HaveOccurred())
	return dt
}

// serve returns a test server that answers every request with status and body
func serve(status int, body string, inspect func(*http.Request)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inspect != nil {
			inspect(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

const finnhubBody = `{
  "metric": {"52WeekHigh": 310.4},
  "metricType": "all",
  "series": {
    "annual": {"eps": [{"period": "2019-12-31", "v": 3.1}]},
    "quarterly": {
      "eps": [{"period": "2020-03-31", "v": 1.2}, {"period": "2019-12-31", "v": 1.0}],
      "pb": [{"period": "2020-03-31", "v": null}, {"period": "2019-12-31", "v": 12.5}]
    }
  },
  "symbol": "AAPL"
}`

var _ = Describe("Finnhub", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("parses quarterly series keyed by availability date", func() {
		var query map[string][]string
		var path string
		server := serve(http.StatusOK, finnhubBody, func(r *http.Request) {
			query = r.URL.Query()
			path = r.URL.Path
		})
		defer server.Close()

		finnhub := provider.NewFinnhub("secret", server.URL, 0)
		series, err := finnhub.Metrics(ctx, "AAPL", []string{"eps", "pb", "roeTTM"})
		Expect(err).NotTo(HaveOccurred())

		Expect(path).To(Equal("/stock/metric"))
		Expect(query["symbol"]).To(Equal([]string{"AAPL"}))
		Expect(query["metric"]).To(Equal([]string{"all"}))
		Expect(query["token"]).To(Equal([]string{"secret"}))

		Expect(series.Dates()).To(Equal([]time.Time{day("2020-01-01"), day("2020-04-01")}))

		snapshot, ok := series.AsOf(day("2020-03-01"))
		Expect(ok).To(BeTrue())
		vec := snapshot.Vector(series.Metrics)
		Expect(vec[0]).To(Equal(1.0))
		Expect(vec[1]).To(Equal(12.5))
		Expect(math.IsNaN(vec[2])).To(BeTrue())

		snapshot, _ = series.AsOf(day("2020-04-01"))
		Expect(snapshot.Values["eps"]).To(Equal(1.2))
		Expect(math.IsNaN(snapshot.Values["pb"])).To(BeTrue())
	})

	It("reports no data for an empty series", func() {
		server := serve(http.StatusOK, `{"metric": {}, "series": {}, "symbol": "ZZZZ"}`, nil)
		defer server.Close()

		_, err := provider.NewFinnhub("", server.URL, 0).Metrics(ctx, "ZZZZ", []string{"eps"})
		Expect(err).To(MatchError(data.ErrNoDataForTicker))
	})

	It("reports no data when none of the metrics are present", func() {
		server := serve(http.StatusOK, `{"series": {"quarterly": {"roeTTM": []}}}`, nil)
		defer server.Close()

		_, err := provider.NewFinnhub("", server.URL, 0).Metrics(ctx, "AAPL", []string{"eps"})
		Expect(err).To(MatchError(data.ErrNoDataForTicker))
	})

	It("treats a missing series field as malformed", func() {
		server := serve(http.StatusOK, `{"metric": {}}`, nil)
		defer server.Close()

		_, err := provider.NewFinnhub("", server.URL, 0).Metrics(ctx, "AAPL", []string{"eps"})
		Expect(err).To(MatchError(data.ErrMalformedResponse))
	})

	It("treats an entry without a period as malformed", func() {
		server := serve(http.StatusOK, `{"series": {"quarterly": {"eps": [{"v": 1.0}]}}}`, nil)
		defer server.Close()

		_, err := provider.NewFinnhub("", server.URL, 0).Metrics(ctx, "AAPL", []string{"eps"})
		Expect(err).To(MatchError(data.ErrMalformedResponse))
	})

	It("treats invalid json as malformed", func() {
		server := serve(http.StatusOK, `{"series": `, nil)
		defer server.Close()

		_, err := provider.NewFinnhub("", server.URL, 0).Metrics(ctx, "AAPL", []string{"eps"})
		Expect(err).To(MatchError(data.ErrMalformedResponse))
	})

	DescribeTable("maps HTTP status codes",
		func(status int, expected error) {
			server := serve(status, `{"error": "nope"}`, nil)
			defer server.Close()

			_, err := provider.NewFinnhub("", server.URL, 0).Metrics(ctx, "AAPL", []string{"eps"})
			Expect(err).To(MatchError(expected))
		},
		Entry("rate limited", http.StatusTooManyRequests, data.ErrProviderUnreachable),
		Entry("server error", http.StatusBadGateway, data.ErrProviderUnreachable),
		Entry("not found", http.StatusNotFound, data.ErrNoDataForTicker),
		Entry("forbidden", http.StatusForbidden, provider.ErrInvalidStatusCode),
	)

	It("reports an unreachable provider when the connection fails", func() {
		server := serve(http.StatusOK, finnhubBody, nil)
		url := server.URL
		server.Close()

		_, err := provider.NewFinnhub("", url, 0).Metrics(ctx, "AAPL", []string{"eps"})
		Expect(err).To(MatchError(data.ErrProviderUnreachable))
	})
})

const alphaVantageBody = `{
  "symbol": "IBM",
  "annualEarnings": [{"fiscalDateEnding": "2019-12-31", "reportedEPS": "12.81"}],
  "quarterlyEarnings": [
    {"fiscalDateEnding": "2020-03-31", "reportedDate": "2020-04-20", "reportedEPS": "1.84",
     "estimatedEPS": "1.8", "surprise": "0.04", "surprisePercentage": "2.2222"},
    {"fiscalDateEnding": "2019-12-31", "reportedDate": "2020-01-21", "reportedEPS": "4.71",
     "estimatedEPS": "None", "surprise": "None", "surprisePercentage": "None"}
  ]
}`

var _ = Describe("AlphaVantage", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("parses quarterly earnings", func() {
		var query map[string][]string
		server := serve(http.StatusOK, alphaVantageBody, func(r *http.Request) {
			query = r.URL.Query()
		})
		defer server.Close()

		alpha := provider.NewAlphaVantage("secret", server.URL, 0)
		series, err := alpha.Metrics(ctx, "IBM", []string{"eps", "estimatedEPS"})
		Expect(err).NotTo(HaveOccurred())

		Expect(query["function"]).To(Equal([]string{"EARNINGS"}))
		Expect(query["symbol"]).To(Equal([]string{"IBM"}))
		Expect(query["apikey"]).To(Equal([]string{"secret"}))

		Expect(series.Dates()).To(Equal([]time.Time{day("2020-01-01"), day("2020-04-01")}))

		snapshot, _ := series.AsOf(day("2020-01-01"))
		Expect(snapshot.Values["eps"]).To(Equal(4.71))
		Expect(math.IsNaN(snapshot.Values["estimatedEPS"])).To(BeTrue())

		snapshot, _ = series.AsOf(day("2020-06-30"))
		Expect(snapshot.Values["estimatedEPS"]).To(Equal(1.8))
	})

	It("treats throttling notes as an unreachable provider", func() {
		server := serve(http.StatusOK, `{"Note": "Thank you for using Alpha Vantage! Our standard API rate limit is 25 requests per day."}`, nil)
		defer server.Close()

		_, err := provider.NewAlphaVantage("", server.URL, 0).Metrics(ctx, "IBM", []string{"eps"})
		Expect(err).To(MatchError(data.ErrProviderUnreachable))
	})

	It("reports no data for unknown symbols", func() {
		server := serve(http.StatusOK, `{"Error Message": "Invalid API call. Please retry or visit the documentation."}`, nil)
		defer server.Close()

		_, err := provider.NewAlphaVantage("", server.URL, 0).Metrics(ctx, "ZZZZ", []string{"eps"})
		Expect(err).To(MatchError(data.ErrNoDataForTicker))
	})

	It("treats a response without earnings as malformed", func() {
		server := serve(http.StatusOK, `{"symbol": "IBM"}`, nil)
		defer server.Close()

		_, err := provider.NewAlphaVantage("", server.URL, 0).Metrics(ctx, "IBM", []string{"eps"})
		Expect(err).To(MatchError(data.ErrMalformedResponse))
	})
})

const tiingoBody = `[
  {"date": "2020-01-02T00:00:00.000Z", "open": 100.0, "high": 101.0, "low": 99.0, "close": 100.5,
   "volume": 1000, "divCash": 0.0, "splitFactor": 1.0},
  {"date": "2020-06-01T00:00:00.000Z", "open": 52.0, "high": 53.0, "low": 51.0, "close": 52.5,
   "volume": 2000, "divCash": 0.0, "splitFactor": 2.0},
  {"date": "2020-12-31T00:00:00.000Z", "open": 54.0, "high": 56.0, "low": 53.0, "close": 55.0,
   "volume": 3000, "divCash": 0.0, "splitFactor": 1.0}
]`

var _ = Describe("Tiingo", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("returns unadjusted prices", func() {
		var path string
		var query map[string][]string
		server := serve(http.StatusOK, tiingoBody, func(r *http.Request) {
			path = r.URL.Path
			query = r.URL.Query()
		})
		defer server.Close()

		tiingo := provider.NewTiingo("secret", server.URL, 0)
		series, err := tiingo.Prices(ctx, "BRK/A", day("2020-01-01"), day("2021-01-01"))
		Expect(err).NotTo(HaveOccurred())

		Expect(path).To(Equal("/tiingo/daily/BRK-A/prices"))
		Expect(query["startDate"]).To(Equal([]string{"2020-01-01"}))
		Expect(query["endDate"]).To(Equal([]string{"2021-01-01"}))
		Expect(query["token"]).To(Equal([]string{"secret"}))

		Expect(series.SplitAdjusted).To(BeFalse())
		Expect(series.Len()).To(Equal(3))
		Expect(series.Quotes[0].Date).To(Equal(day("2020-01-02")))
		Expect(series.Quotes[2].Close).To(Equal(55.0))
	})

	It("reports splits on the day they take effect", func() {
		server := serve(http.StatusOK, tiingoBody, nil)
		defer server.Close()

		splits, err := provider.NewTiingo("", server.URL, 0).Splits(ctx, "AAPL", day("2020-01-01"), day("2021-01-01"))
		Expect(err).NotTo(HaveOccurred())
		Expect(splits).To(HaveLen(1))
		Expect(splits[0].Date).To(Equal(day("2020-06-01")))
		Expect(splits[0].Ratio).To(Equal(2.0))
	})

	It("treats an unknown ticker as no data", func() {
		server := serve(http.StatusNotFound, `{"detail": "Error: Ticker 'ZZZZ' not found"}`, nil)
		defer server.Close()

		_, err := provider.NewTiingo("", server.URL, 0).Prices(ctx, "ZZZZ", day("2020-01-01"), day("2021-01-01"))
		Expect(err).To(MatchError(data.ErrNoDataForTicker))
	})

	It("downloads a window once for prices and splits", func() {
		requests := 0
		server := serve(http.StatusOK, tiingoBody, func(*http.Request) {
			requests++
		})
		defer server.Close()

		tiingo := provider.NewTiingo("", server.URL, 0)
		_, err := tiingo.Prices(ctx, "AAPL", day("2020-01-01"), day("2021-01-01"))
		Expect(err).NotTo(HaveOccurred())

		splits, err := tiingo.Splits(ctx, "AAPL", day("2020-01-01"), day("2021-01-01"))
		Expect(err).NotTo(HaveOccurred())
		Expect(splits).To(HaveLen(1))
		Expect(requests).To(Equal(1))

		_, err = tiingo.Splits(ctx, "AAPL", day("2020-02-01"), day("2021-02-01"))
		Expect(err).NotTo(HaveOccurred())
		Expect(requests).To(Equal(2))
	})

	It("reads the first quote date from the ticker metadata", func() {
		var path string
		server := serve(http.StatusOK, `{"ticker": "AAPL", "name": "Apple Inc", "exchangeCode": "NASDAQ",
  "startDate": "1980-12-12", "endDate": "2024-05-01", "description": "Apple"}`, func(r *http.Request) {
			path = r.URL.Path
		})
		defer server.Close()

		firstDate, err := provider.NewTiingo("", server.URL, 0).FirstQuoteDate(ctx, "AAPL")
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal("/tiingo/daily/AAPL"))
		Expect(firstDate).To(Equal(day("1980-12-12")))
	})

	It("reports no data when the metadata has no start date", func() {
		server := serve(http.StatusOK, `{"ticker": "NEWCO", "startDate": null, "endDate": null}`, nil)
		defer server.Close()

		_, err := provider.NewTiingo("", server.URL, 0).FirstQuoteDate(ctx, "NEWCO")
		Expect(err).To(MatchError(data.ErrNoDataForTicker))
	})

	It("pings the test endpoint", func() {
		var path string
		server := serve(http.StatusOK, `{"message": "You successfully sent a request"}`, func(r *http.Request) {
			path = r.URL.Path
		})
		defer server.Close()

		Expect(provider.NewTiingo("", server.URL, 0).Ping(ctx)).To(Succeed())
		Expect(path).To(Equal("/api/test"))
	})
})

const yahooBody = `{
  "chart": {
    "result": [{
      "meta": {"currency": "USD", "symbol": "AAPL"},
      "timestamp": [1577975400, 1578061800, 1578321000],
      "events": {
        "splits": {
          "1598880600": {"date": 1598880600, "numerator": 4, "denominator": 1, "splitRatio": "4:1"}
        }
      },
      "indicators": {
        "quote": [{
          "open": [74.06, null, 73.45],
          "high": [75.15, null, 74.99],
          "low": [73.8, null, 73.19],
          "close": [75.09, null, 74.95],
          "volume": [135480400, null, 118387200]
        }]
      }
    }],
    "error": null
  }
}`

var _ = Describe("Yahoo", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("returns split-adjusted prices and skips empty bars", func() {
		var query map[string][]string
		server := serve(http.StatusOK, yahooBody, func(r *http.Request) {
			query = r.URL.Query()
		})
		defer server.Close()

		yahoo := provider.NewYahoo(server.URL, 0)
		series, err := yahoo.Prices(ctx, "AAPL", day("2020-01-01"), day("2020-01-06"))
		Expect(err).NotTo(HaveOccurred())

		Expect(query["events"]).To(Equal([]string{"split"}))
		Expect(query["period1"]).To(Equal([]string{"1577836800"}))
		Expect(query["period2"]).To(Equal([]string{"1578355200"}))

		Expect(series.SplitAdjusted).To(BeTrue())
		Expect(series.Len()).To(Equal(2))
		Expect(series.Quotes[0].Date).To(Equal(day("2020-01-02")))
		Expect(series.Quotes[1].Date).To(Equal(day("2020-01-06")))
		Expect(series.Quotes[1].Close).To(Equal(74.95))
	})

	It("reads split events", func() {
		server := serve(http.StatusOK, yahooBody, nil)
		defer server.Close()

		splits, err := provider.NewYahoo(server.URL, 0).Splits(ctx, "AAPL", day("2020-01-01"), day("2020-12-31"))
		Expect(err).NotTo(HaveOccurred())
		Expect(splits).To(HaveLen(1))
		Expect(splits[0].Date).To(Equal(day("2020-08-31")))
		Expect(splits[0].Ratio).To(Equal(4.0))
	})

	It("treats a not found chart error as no data", func() {
		server := serve(http.StatusOK, `{"chart": {"result": null, "error": {"code": "Not Found", "description": "No data found, symbol may be delisted"}}}`, nil)
		defer server.Close()

		_, err := provider.NewYahoo(server.URL, 0).Prices(ctx, "ZZZZ", day("2020-01-01"), day("2020-12-31"))
		Expect(err).To(MatchError(data.ErrNoDataForTicker))
	})

	It("treats mismatched quote arrays as malformed", func() {
		server := serve(http.StatusOK, `{"chart": {"result": [{"timestamp": [1577975400], "indicators": {"quote": [{"open": [], "close": []}]}}], "error": null}}`, nil)
		defer server.Close()

		_, err := provider.NewYahoo(server.URL, 0).Prices(ctx, "AAPL", day("2020-01-01"), day("2020-12-31"))
		Expect(err).To(MatchError(data.ErrMalformedResponse))
	})
})

const yahooSharesBody = `{
  "timeseries": {
    "result": [{
      "meta": {"symbol": ["AAPL"], "type": ["quarterlyOrdinarySharesNumber"]},
      "timestamp": [1601424000, 1609372800, 1617148800],
      "quarterlyOrdinarySharesNumber": [
        {"dataId": 20010, "asOfDate": "2020-09-30", "periodType": "3M", "currencyCode": "USD",
         "reportedValue": {"raw": 17001802000, "fmt": "17B"}},
        null,
        {"dataId": 20010, "asOfDate": "2021-03-31", "periodType": "3M", "currencyCode": "USD",
         "reportedValue": {"raw": 16753476000, "fmt": "16.75B"}}
      ]
    }],
    "error": null
  }
}`

var _ = Describe("Yahoo extras", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("reads the first trade date over the full range", func() {
		var query map[string][]string
		server := serve(http.StatusOK, `{"chart": {"result": [{"meta": {"symbol": "AAPL", "firstTradeDate": 345479400},
  "timestamp": [346978800], "indicators": {"quote": [{"open": [0.1], "close": [0.1]}]}}], "error": null}}`, func(r *http.Request) {
			query = r.URL.Query()
		})
		defer server.Close()

		firstDate, err := provider.NewYahoo(server.URL, 0).FirstQuoteDate(ctx, "AAPL")
		Expect(err).NotTo(HaveOccurred())
		Expect(query["range"]).To(Equal([]string{"max"}))
		Expect(firstDate).To(Equal(day("1980-12-12")))
	})

	It("falls back to the first timestamp", func() {
		server := serve(http.StatusOK, `{"chart": {"result": [{"meta": {"symbol": "SPY", "firstTradeDate": null},
  "timestamp": [728317800, 736185600], "indicators": {"quote": [{"open": [43.9, 44.5], "close": [43.9, 44.6]}]}}], "error": null}}`, nil)
		defer server.Close()

		firstDate, err := provider.NewYahoo(server.URL, 0).FirstQuoteDate(ctx, "SPY")
		Expect(err).NotTo(HaveOccurred())
		Expect(firstDate).To(Equal(day("1993-01-29")))
	})

	It("reports no data for a chart without timestamps", func() {
		server := serve(http.StatusOK, `{"chart": {"result": [{"meta": {"symbol": "NEWCO"}, "indicators": {"quote": [{}]}}], "error": null}}`, nil)
		defer server.Close()

		_, err := provider.NewYahoo(server.URL, 0).FirstQuoteDate(ctx, "NEWCO")
		Expect(err).To(MatchError(data.ErrNoDataForTicker))
	})

	It("reads quarterly shares outstanding keyed by availability date", func() {
		var path string
		var query map[string][]string
		server := serve(http.StatusOK, yahooSharesBody, func(r *http.Request) {
			path = r.URL.Path
			query = r.URL.Query()
		})
		defer server.Close()

		series, err := provider.NewYahoo(server.URL, 0).SharesOutstanding(ctx, "AAPL")
		Expect(err).NotTo(HaveOccurred())

		Expect(path).To(Equal("/ws/fundamentals-timeseries/v1/finance/timeseries/AAPL"))
		Expect(query["type"]).To(Equal([]string{"quarterlyOrdinarySharesNumber"}))

		Expect(series.Metrics).To(Equal([]string{data.MetricSharesOutstanding}))
		Expect(series.Dates()).To(Equal([]time.Time{day("2020-10-01"), day("2021-04-01")}))

		snapshot, ok := series.AsOf(day("2021-01-15"))
		Expect(ok).To(BeTrue())
		Expect(snapshot.Values[data.MetricSharesOutstanding]).To(Equal(17001802000.0))

		_, ok = series.AsOf(day("2020-09-30"))
		Expect(ok).To(BeFalse())
	})

	It("reports no data when no share counts are returned", func() {
		server := serve(http.StatusOK, `{"timeseries": {"result": [{"meta": {"symbol": ["ZZZZ"]}}], "error": null}}`, nil)
		defer server.Close()

		_, err := provider.NewYahoo(server.URL, 0).SharesOutstanding(ctx, "ZZZZ")
		Expect(err).To(MatchError(data.ErrNoDataForTicker))
	})

	It("treats a bad as-of date as malformed", func() {
		server := serve(http.StatusOK, `{"timeseries": {"result": [{"quarterlyOrdinarySharesNumber": [
  {"asOfDate": "30/09/2020", "reportedValue": {"raw": 1}}]}], "error": null}}`, nil)
		defer server.Close()

		_, err := provider.NewYahoo(server.URL, 0).SharesOutstanding(ctx, "AAPL")
		Expect(err).To(MatchError(data.ErrMalformedResponse))
	})
})

var _ = Describe("Lookup", func() {
	It("finds providers by name", func() {
		for _, name := range []string{"finnhub", "alphavantage", "tiingo", "yahoo"} {
			p, err := provider.Lookup(name)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Name()).To(Equal(name))
		}
	})

	It("rejects unknown providers", func() {
		_, err := provider.Lookup("polygon")
		Expect(err).To(MatchError(provider.ErrUnknownProvider))
	})
})
