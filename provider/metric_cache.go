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
	"math"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/penny-vault/pvdataset/data"
	"github.com/rs/zerolog"
)

const metricCachePrefix = "metrics/"

// CacheEntry describes one cached fundamentals download
type CacheEntry struct {
	Provider  string       `json:"provider"`
	Ticker    string       `json:"ticker"`
	Metrics   []string     `json:"metrics"`
	NoData    bool         `json:"no_data"`
	FetchedOn time.Time    `json:"fetched_on"`
	Dates     []time.Time  `json:"dates"`
	Values    [][]*float64 `json:"values"`
}

// MetricCache stores fundamentals downloads in badger so repeated builds do
// not spend API quota. Tickers the provider has no data for are cached too.
type MetricCache struct {
	FundamentalsProvider

	db *badger.DB
}

// OpenCacheDB opens (or creates) the badger database in dir. When inMemory is
// set dir is ignored.
func OpenCacheDB(dir string, inMemory bool) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}

	return badger.Open(opts)
}

func NewMetricCache(p FundamentalsProvider, db *badger.DB) *MetricCache {
	return &MetricCache{
		FundamentalsProvider: p,
		db:                   db,
	}
}

func cacheKey(providerName, ticker string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", metricCachePrefix, providerName, ticker))
}

// Metrics returns the cached series for ticker or downloads and caches it
func (cache *MetricCache) Metrics(ctx context.Context, ticker string, metrics []string) (*data.MetricSeries, error) {
	logger := zerolog.Ctx(ctx).With().Str("Ticker", ticker).Str("Provider", cache.Name()).Logger()

	entry, err := cache.get(ticker)
	if err != nil {
		return nil, err
	}

	if entry != nil && slices.Equal(entry.Metrics, metrics) {
		logger.Debug().Time("FetchedOn", entry.FetchedOn).Msg("metric cache hit")
		if entry.NoData {
			return nil, fmt.Errorf("%w: %s (cached)", data.ErrNoDataForTicker, ticker)
		}

		return entry.series()
	}

	series, err := cache.FundamentalsProvider.Metrics(ctx, ticker, metrics)
	switch {
	case errors.Is(err, data.ErrNoDataForTicker):
		if putErr := cache.put(&CacheEntry{
			Provider:  cache.Name(),
			Ticker:    ticker,
			Metrics:   metrics,
			NoData:    true,
			FetchedOn: time.Now().UTC(),
		}); putErr != nil {
			logger.Warn().Err(putErr).Msg("could not cache no-data marker")
		}

		return nil, err
	case err != nil:
		return nil, err
	}

	if err := cache.put(newCacheEntry(cache.Name(), series)); err != nil {
		logger.Warn().Err(err).Msg("could not cache metric series")
	}

	return series, nil
}

// List returns every cached entry in key order
func (cache *MetricCache) List() ([]*CacheEntry, error) {
	return ListCache(cache.db)
}

// ListCache returns every entry stored in db
func ListCache(db *badger.DB) ([]*CacheEntry, error) {
	entries := make([]*CacheEntry, 0)
	err := db.View(func(txn *badger.Txn) error {
		prefix := []byte(metricCachePrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			entry := &CacheEntry{}
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, entry)
			}); err != nil {
				return err
			}

			entries = append(entries, entry)
		}

		return nil
	})

	return entries, err
}

// FilterCacheEntries keeps the entries fetched from providerName
func FilterCacheEntries(entries []*CacheEntry, providerName string) []*CacheEntry {
	filtered := make([]*CacheEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Provider == providerName {
			filtered = append(filtered, entry)
		}
	}

	return filtered
}

// ClearCache drops cached entries. An empty providerName drops everything.
func ClearCache(db *badger.DB, providerName string) error {
	prefix := metricCachePrefix
	if providerName != "" {
		prefix = fmt.Sprintf("%s%s/", metricCachePrefix, providerName)
	}

	return db.DropPrefix([]byte(prefix))
}

func (cache *MetricCache) get(ticker string) (*CacheEntry, error) {
	var entry *CacheEntry
	err := cache.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(cache.Name(), ticker))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}

		if err != nil {
			return err
		}

		entry = &CacheEntry{}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, entry)
		})
	})

	return entry, err
}

func (cache *MetricCache) put(entry *CacheEntry) error {
	val, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return cache.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cacheKey(entry.Provider, entry.Ticker), val)
	})
}

func newCacheEntry(providerName string, series *data.MetricSeries) *CacheEntry {
	entry := &CacheEntry{
		Provider:  providerName,
		Ticker:    series.Ticker,
		Metrics:   series.Metrics,
		FetchedOn: time.Now().UTC(),
		Dates:     series.Dates(),
		Values:    make([][]*float64, 0, series.Len()),
	}

	for _, snapshot := range series.Snapshots() {
		vec := snapshot.Vector(series.Metrics)
		row := make([]*float64, len(vec))
		for idx, val := range vec {
			if math.IsNaN(val) {
				continue
			}

			row[idx] = &vec[idx]
		}

		entry.Values = append(entry.Values, row)
	}

	return entry
}

func (entry *CacheEntry) series() (*data.MetricSeries, error) {
	if len(entry.Dates) != len(entry.Values) {
		return nil, fmt.Errorf("%w: cache entry for %s has %d dates and %d rows", data.ErrMalformedResponse, entry.Ticker, len(entry.Dates), len(entry.Values))
	}

	series := data.NewMetricSeries(entry.Ticker, entry.Metrics)
	for idx, date := range entry.Dates {
		series.Touch(date)
		for col, val := range entry.Values[idx] {
			if val == nil || col >= len(entry.Metrics) {
				continue
			}

			if err := series.Set(date, entry.Metrics[col], *val); err != nil {
				return nil, err
			}
		}
	}

	return series, nil
}

// Key returns the badger key the entry is stored under
func (entry *CacheEntry) Key() string {
	return strings.TrimPrefix(string(cacheKey(entry.Provider, entry.Ticker)), metricCachePrefix)
}
