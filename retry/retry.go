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
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/penny-vault/pvdataset/data"
	"github.com/rs/zerolog"
)

var (
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// DefaultProbeInterval is used when a probe is set but ProbeInterval is not
const DefaultProbeInterval = 30 * time.Second

// Policy retries an operation a bounded number of times with a fixed delay.
// Before every retry the connectivity probe is polled until it succeeds; time
// spent waiting on the probe does not count against MaxRetries.
type Policy struct {
	MaxRetries    int
	Delay         time.Duration
	ProbeInterval time.Duration

	// Probe checks that the remote service is reachable. Optional.
	Probe func(context.Context) error

	// Retryable classifies errors; defaults to IsTransient
	Retryable func(error) bool

	// Sleep waits for d or until ctx is done; defaults to a timer
	Sleep func(ctx context.Context, d time.Duration) error
}

// IsTransient reports whether err is a connectivity failure worth retrying
func IsTransient(err error) bool {
	return errors.Is(err, data.ErrProviderUnreachable)
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// retry budget is spent.
func (policy *Policy) Do(ctx context.Context, op func(context.Context) error) error {
	logger := zerolog.Ctx(ctx)

	retryable := policy.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}

		if !retryable(err) {
			return err
		}

		if attempt >= policy.MaxRetries {
			break
		}

		logger.Warn().Err(err).Int("Attempt", attempt+1).Int("MaxRetries", policy.MaxRetries).
			Dur("Delay", policy.Delay).Msg("transient provider failure, retrying")

		if err := policy.sleep(ctx, policy.Delay); err != nil {
			return err
		}

		if err := policy.waitReachable(ctx); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, policy.MaxRetries+1, err)
}

func (policy *Policy) waitReachable(ctx context.Context) error {
	if policy.Probe == nil {
		return nil
	}

	logger := zerolog.Ctx(ctx)

	interval := policy.ProbeInterval
	if interval <= 0 {
		interval = DefaultProbeInterval
	}

	for {
		err := policy.Probe(ctx)
		if err == nil {
			return nil
		}

		logger.Warn().Err(err).Dur("ProbeInterval", interval).Msg("provider unreachable, waiting for connectivity")

		if err := policy.sleep(ctx, interval); err != nil {
			return err
		}
	}
}

func (policy *Policy) sleep(ctx context.Context, d time.Duration) error {
	if policy.Sleep != nil {
		return policy.Sleep(ctx, d)
	}

	return Sleep(ctx, d)
}

// Sleep blocks for d or until ctx is cancelled
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
