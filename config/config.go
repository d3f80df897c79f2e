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
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/penny-vault/pvdataset/builder"
	"github.com/penny-vault/pvdataset/data"
	"github.com/penny-vault/pvdataset/provider"
	"github.com/penny-vault/pvdataset/retry"
	"github.com/spf13/viper"
)

var validate = validator.New()

type Fundamentals struct {
	Provider       string `mapstructure:"provider" toml:"provider" default:"finnhub" validate:"oneof=finnhub alphavantage"`
	APIKey         string `mapstructure:"api_key" toml:"api_key"`
	RequestDelayMs int    `mapstructure:"request_delay_ms" toml:"request_delay_ms" default:"1000" validate:"gte=0"`
	BaseURL        string `mapstructure:"base_url" toml:"base_url,omitempty"`
}

type Prices struct {
	Provider          string `mapstructure:"provider" toml:"provider" default:"yahoo" validate:"oneof=tiingo yahoo"`
	APIKey            string `mapstructure:"api_key" toml:"api_key"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute" toml:"requests_per_minute" default:"0" validate:"gte=0"`
	BaseURL           string `mapstructure:"base_url" toml:"base_url,omitempty"`
}

type Backblaze struct {
	Bucket         string `mapstructure:"bucket" toml:"bucket"`
	Directory      string `mapstructure:"directory" toml:"directory"`
	ApplicationID  string `mapstructure:"application_id" toml:"application_id"`
	ApplicationKey string `mapstructure:"application_key" toml:"application_key"`
}

type Healthchecks struct {
	PingURL string `mapstructure:"ping_url" toml:"ping_url" validate:"omitempty,url"`
}

// Config holds every recognized option of a dataset build
type Config struct {
	StartDate               string   `mapstructure:"start_date" toml:"start_date" default:"1993-01-29" validate:"required,datetime=2006-01-02"`
	EndDate                 string   `mapstructure:"end_date" toml:"end_date" default:"2023-12-27" validate:"required,datetime=2006-01-02"`
	RebalanceIntervalMonths int      `mapstructure:"rebalance_interval_months" toml:"rebalance_interval_months" default:"3" validate:"gte=1"`
	HorizonYears            int      `mapstructure:"horizon_years" toml:"horizon_years" default:"1" validate:"gte=1"`
	BenchmarkTicker         string   `mapstructure:"benchmark_ticker" toml:"benchmark_ticker" default:"SPY" validate:"required"`
	MetricList              []string `mapstructure:"metric_list" toml:"metric_list" validate:"omitempty,unique,dive,required"`
	SharesOutstanding       bool     `mapstructure:"shares_outstanding" toml:"shares_outstanding"`
	Tickers                 []string `mapstructure:"tickers" toml:"tickers" validate:"required,min=1,unique,dive,required"`
	MaxRetries              int      `mapstructure:"max_retries" toml:"max_retries" default:"1" validate:"gte=0"`
	RetryDelaySeconds       int      `mapstructure:"retry_delay_seconds" toml:"retry_delay_seconds" default:"5" validate:"gte=0"`
	ProbeIntervalSeconds    int      `mapstructure:"probe_interval_seconds" toml:"probe_interval_seconds" default:"30" validate:"gte=1"`
	Output                  string   `mapstructure:"output" toml:"output"`
	CacheDir                string   `mapstructure:"cache_dir" toml:"cache_dir"`

	Fundamentals Fundamentals `mapstructure:"fundamentals" toml:"fundamentals"`
	Prices       Prices       `mapstructure:"prices" toml:"prices"`
	Backblaze    Backblaze    `mapstructure:"backblaze" toml:"backblaze"`
	Healthchecks Healthchecks `mapstructure:"healthchecks" toml:"healthchecks"`

	start time.Time
	end   time.Time
}

// Default returns a configuration with every default applied
func Default() *Config {
	conf := &Config{}
	if err := defaults.Set(conf); err != nil {
		// struct tags are static; a failure here is a programming error
		panic(err)
	}

	conf.MetricList = append([]string{}, provider.DefaultFinnhubMetrics...)
	return conf
}

// Load reads the configuration out of v, fills in defaults and validates it
func Load(v *viper.Viper) (*Config, error) {
	conf := &Config{}
	if err := defaults.Set(conf); err != nil {
		return nil, err
	}

	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("%w: %w", data.ErrInvalidConfig, err)
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return conf, nil
}

// Validate checks field constraints and the relationship between start and end
func (conf *Config) Validate() error {
	if len(conf.MetricList) == 0 {
		conf.MetricList = defaultMetrics(conf.Fundamentals.Provider)
	}

	if conf.SharesOutstanding && !slices.Contains(conf.MetricList, data.MetricSharesOutstanding) {
		conf.MetricList = append(conf.MetricList, data.MetricSharesOutstanding)
	}

	for idx := range conf.Tickers {
		conf.Tickers[idx] = strings.ToUpper(strings.TrimSpace(conf.Tickers[idx]))
	}

	if err := validate.Struct(conf); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			msgs := make([]string, 0, len(validationErrors))
			for _, fe := range validationErrors {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}

			return fmt.Errorf("%w: %s", data.ErrInvalidConfig, strings.Join(msgs, ", "))
		}

		return fmt.Errorf("%w: %w", data.ErrInvalidConfig, err)
	}

	var err error
	if conf.start, err = data.ParseDay(conf.StartDate); err != nil {
		return fmt.Errorf("%w: start_date: %w", data.ErrInvalidConfig, err)
	}

	if conf.end, err = data.ParseDay(conf.EndDate); err != nil {
		return fmt.Errorf("%w: end_date: %w", data.ErrInvalidConfig, err)
	}

	if !conf.start.Before(conf.end) {
		return fmt.Errorf("%w: start_date %s must be before end_date %s", data.ErrInvalidConfig, conf.StartDate, conf.EndDate)
	}

	if conf.SharesOutstanding && conf.Prices.Provider != "yahoo" {
		return fmt.Errorf("%w: shares_outstanding needs the yahoo price provider, not %s", data.ErrInvalidConfig, conf.Prices.Provider)
	}

	return nil
}

func (conf *Config) Start() time.Time {
	return conf.start
}

func (conf *Config) End() time.Time {
	return conf.end
}

// BuilderOptions converts the configuration into builder options
func (conf *Config) BuilderOptions() builder.Options {
	return builder.Options{
		Tickers:        conf.Tickers,
		Metrics:        conf.MetricList,
		Benchmark:      strings.ToUpper(conf.BenchmarkTicker),
		Start:          conf.start,
		End:            conf.end,
		IntervalMonths: conf.RebalanceIntervalMonths,
		HorizonYears:   conf.HorizonYears,
		Retry: retry.Policy{
			MaxRetries:    conf.MaxRetries,
			Delay:         time.Duration(conf.RetryDelaySeconds) * time.Second,
			ProbeInterval: time.Duration(conf.ProbeIntervalSeconds) * time.Second,
		},
	}
}

// FundamentalsProvider constructs the configured fundamentals provider
func (conf *Config) FundamentalsProvider() (provider.FundamentalsProvider, error) {
	delay := time.Duration(conf.Fundamentals.RequestDelayMs) * time.Millisecond

	switch conf.Fundamentals.Provider {
	case "finnhub":
		return provider.NewFinnhub(conf.Fundamentals.APIKey, conf.Fundamentals.BaseURL, delay), nil
	case "alphavantage":
		return provider.NewAlphaVantage(conf.Fundamentals.APIKey, conf.Fundamentals.BaseURL, delay), nil
	default:
		return nil, fmt.Errorf("%w: %s", provider.ErrUnknownProvider, conf.Fundamentals.Provider)
	}
}

// PriceProvider constructs the configured price provider
func (conf *Config) PriceProvider() (provider.PriceProvider, error) {
	switch conf.Prices.Provider {
	case "tiingo":
		return provider.NewTiingo(conf.Prices.APIKey, conf.Prices.BaseURL, conf.Prices.RequestsPerMinute), nil
	case "yahoo":
		return provider.NewYahoo(conf.Prices.BaseURL, conf.Prices.RequestsPerMinute), nil
	default:
		return nil, fmt.Errorf("%w: %s", provider.ErrUnknownProvider, conf.Prices.Provider)
	}
}

// WithShares adds shares outstanding from prices to fundamentals when the
// configuration asks for it
func (conf *Config) WithShares(fundamentals provider.FundamentalsProvider, prices provider.PriceProvider) (provider.FundamentalsProvider, error) {
	if !conf.SharesOutstanding {
		return fundamentals, nil
	}

	shares, ok := prices.(provider.SharesProvider)
	if !ok {
		return nil, fmt.Errorf("%w: price provider %s does not report shares outstanding", data.ErrInvalidConfig, prices.Name())
	}

	return provider.NewSharesFundamentals(fundamentals, shares), nil
}

func defaultMetrics(providerName string) []string {
	if providerName == "alphavantage" {
		return []string{"eps", "estimatedEPS", "surprise", "surprisePercentage"}
	}

	return append([]string{}, provider.DefaultFinnhubMetrics...)
}
