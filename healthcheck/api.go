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
package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/penny-vault/pvdataset/pkginfo"
	"github.com/rs/zerolog"
)

var (
	ErrStatus = errors.New("status code is invalid")
)

// Check reports run progress to a healthchecks.io style ping URL. A check
// with an empty URL does nothing.
type Check struct {
	pingURL string
	client  *resty.Client
}

func New(pingURL string) *Check {
	return &Check{
		pingURL: strings.TrimSuffix(pingURL, "/"),
		client:  resty.New().SetHeader("User-Agent", pkginfo.UserAgent()).SetTimeout(10 * time.Second),
	}
}

// Enabled reports whether a ping URL is configured
func (check *Check) Enabled() bool {
	return check.pingURL != ""
}

// Start signals that a run began
func (check *Check) Start(ctx context.Context) error {
	return check.ping(ctx, "/start", "")
}

// Success signals that a run finished; msg is attached as the ping body
func (check *Check) Success(ctx context.Context, msg string) error {
	return check.ping(ctx, "", msg)
}

// Fail signals that a run failed
func (check *Check) Fail(ctx context.Context, msg string) error {
	return check.ping(ctx, "/fail", msg)
}

func (check *Check) ping(ctx context.Context, suffix, body string) error {
	if !check.Enabled() {
		return nil
	}

	resp, err := check.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/plain").
		SetBody(body).
		Post(check.pingURL + suffix)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("healthcheck ping failed")
		return err
	}

	if resp.StatusCode() != 200 {
		return fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode())
	}

	return nil
}
