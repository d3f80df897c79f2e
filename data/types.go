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
package data

import (
	"errors"
	"time"
)

// DateFormat is the layout used for every civil date exchanged with providers
// and written to disk.
const DateFormat = "2006-01-02"

// AvailabilityLag is how long after its report date a fundamentals snapshot is
// assumed to be public.
const AvailabilityLag = 24 * time.Hour

var (
	ErrProviderUnreachable = errors.New("provider unreachable")
	ErrNoDataForTicker     = errors.New("no data for ticker")
	ErrDataUnavailable     = errors.New("data unavailable")
	ErrMalformedResponse   = errors.New("malformed response")
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrUnknownMetric       = errors.New("unknown metric")
	ErrFeatureWidth        = errors.New("feature vector width does not match metric list")
)

// Day truncates t to its civil date at midnight UTC. All dates held by the
// data types are normalized with Day so they can be compared directly.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD string into a normalized date.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DateFormat, s)
	if err != nil {
		return time.Time{}, err
	}

	return Day(t), nil
}

// AvailableOn returns the first date a report dated reportDate may be used
func AvailableOn(reportDate time.Time) time.Time {
	return Day(reportDate).Add(AvailabilityLag)
}

// AddMonths adds n calendar months to t, clamping the day to the last day of
// the resulting month (Jan 31 + 1 month = Feb 28/29).
func AddMonths(t time.Time, n int) time.Time {
	t = Day(t)
	firstOfMonth := time.Date(t.Year(), t.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	lastDay := firstOfMonth.AddDate(0, 1, -1).Day()

	day := t.Day()
	if day > lastDay {
		day = lastDay
	}

	return time.Date(firstOfMonth.Year(), firstOfMonth.Month(), day, 0, 0, 0, 0, time.UTC)
}
