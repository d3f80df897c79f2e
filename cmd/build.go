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
package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/gosimple/slug"
	"github.com/hako/durafmt"
	"github.com/penny-vault/pvdataset/backblaze"
	"github.com/penny-vault/pvdataset/builder"
	"github.com/penny-vault/pvdataset/config"
	"github.com/penny-vault/pvdataset/data"
	"github.com/penny-vault/pvdataset/healthcheck"
	"github.com/penny-vault/pvdataset/library"
	"github.com/penny-vault/pvdataset/provider"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	noCache bool
	upload  bool
)

// buildCmd represents the build command
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a point-in-time dataset",
	Long: `The build sub-command downloads fundamentals for every ticker in the
universe, aligns them to each rebalance date and labels every row with the
forward return of the stock relative to the benchmark. Rows that cannot be
labeled are skipped and counted in the run summary. The dataset is saved as a
parquet file.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := commandContext()
		applyFlags(cmd, buildFlags)
		conf := loadConfig()

		check := healthcheck.New(conf.Healthchecks.PingURL)
		if err := check.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("could not signal healthcheck start")
		}

		report, err := runBuild(ctx, conf)
		if err != nil {
			if pingErr := check.Fail(ctx, err.Error()); pingErr != nil {
				log.Warn().Err(pingErr).Msg("could not signal healthcheck failure")
			}
			log.Fatal().Err(err).Msg("dataset build failed")
		}

		if err := check.Success(ctx, report); err != nil {
			log.Warn().Err(err).Msg("could not signal healthcheck success")
		}

		r, _ := glamour.NewTermRenderer(
			// detect background color and pick either the default dark or light theme
			glamour.WithAutoStyle(),
			// wrap output at specific width (default is 80)
			glamour.WithWordWrap(80),
		)

		out, err := r.Render(report)
		if err != nil {
			log.Fatal().Err(err).Msg("could not render build summary")
		}

		fmt.Print(out)
	},
}

// runBuild builds, saves and optionally uploads the dataset. It returns the
// markdown report of the run. Resources opened here are closed before it
// returns, including on error.
func runBuild(ctx context.Context, conf *config.Config) (string, error) {
	fundamentals, err := conf.FundamentalsProvider()
	if err != nil {
		return "", fmt.Errorf("could not create fundamentals provider: %w", err)
	}

	prices, err := conf.PriceProvider()
	if err != nil {
		return "", fmt.Errorf("could not create price provider: %w", err)
	}

	fundamentals, err = conf.WithShares(fundamentals, prices)
	if err != nil {
		return "", err
	}

	if !noCache {
		db, err := provider.OpenCacheDB(filepath.Join(cacheDir(), "metrics"), false)
		if err != nil {
			return "", fmt.Errorf("could not open fundamentals cache: %w", err)
		}

		defer func() {
			if err := db.Close(); err != nil {
				log.Warn().Err(err).Msg("could not close fundamentals cache")
			}
		}()

		fundamentals = provider.NewMetricCache(fundamentals, db)
	}

	memo := provider.NewPriceMemo(prices)

	startTime := time.Now()
	dataset, summary, err := builder.New(conf.BuilderOptions(), fundamentals, memo).Build(ctx)
	if err != nil {
		return "", err
	}

	runTime := time.Since(startTime)

	name := fmt.Sprintf("%s %s %s to %s", conf.Fundamentals.Provider, conf.Prices.Provider, conf.StartDate, conf.EndDate)
	outputFn := conf.Output
	if outputFn == "" {
		outputFn = slug.Make(fmt.Sprintf("pvdataset %s", name)) + ".parquet"
	}

	file := &library.DatasetFile{
		Path:      outputFn,
		Name:      name,
		RunID:     summary.RunID,
		CreatedOn: summary.EndTime,
		Dataset:   dataset,
	}

	if err := library.SaveDataset(ctx, file, outputFn); err != nil {
		return "", fmt.Errorf("could not save dataset: %w", err)
	}

	if upload || conf.Backblaze.Bucket != "" {
		creds := backblaze.Credentials{
			ApplicationID:  conf.Backblaze.ApplicationID,
			ApplicationKey: conf.Backblaze.ApplicationKey,
		}

		metadata := map[string]string{
			"run_id": summary.RunID.String(),
		}

		if err := backblaze.Upload(ctx, creds, outputFn, conf.Backblaze.Bucket, conf.Backblaze.Directory, metadata); err != nil {
			return "", fmt.Errorf("failed uploading dataset to backblaze: %w", err)
		}
	}

	log.Info().Str("RunTime", durafmt.Parse(runTime).LimitFirstN(2).String()).Int("NumberRows", dataset.Len()).
		Str("FileName", outputFn).Msg("successfully built dataset")

	return buildReport(conf, summary, outputFn, runTime), nil
}

// buildReport describes a finished run in markdown
func buildReport(conf *config.Config, summary *data.RunSummary, outputFn string, runTime time.Duration) string {
	p := message.NewPrinter(language.English)
	sb := strings.Builder{}

	sb.WriteString("# Dataset build\n\n")
	sb.WriteString(fmt.Sprintf("Run %s finished in %s and wrote `%s`.\n\n", summary.RunID.String()[:8],
		durafmt.Parse(runTime).LimitFirstN(2).String(), outputFn))

	sb.WriteString(p.Sprintf("  * Tickers: %d (%d without fundamentals)\n", summary.NumTickers, len(summary.TickersSkipped)))
	sb.WriteString(p.Sprintf("  * Rebalance dates: %d (%s to %s, every %d months)\n", summary.NumRebalanceDates,
		conf.StartDate, conf.EndDate, conf.RebalanceIntervalMonths))
	sb.WriteString(p.Sprintf("  * Rows produced: %d\n", summary.RowsProduced))
	sb.WriteString(p.Sprintf("  * Units skipped: %d\n", summary.TotalSkipped()))

	if len(summary.UnitsSkipped) > 0 {
		sb.WriteString("\n## Skipped units\n\n")
		for _, reason := range summary.Reasons() {
			sb.WriteString(p.Sprintf("  * %s: %d\n", reason, summary.UnitsSkipped[reason]))
		}
	}

	if len(summary.TickersSkipped) > 0 {
		sb.WriteString("\n## Tickers without fundamentals\n\n")
		sb.WriteString(strings.Join(summary.TickersSkipped, ", "))
		sb.WriteString("\n")
	}

	return sb.String()
}

// buildFlags maps config keys onto the build flags that override them
var buildFlags = map[string]string{
	"tickers":          "tickers",
	"output":           "output",
	"start_date":       "start",
	"end_date":         "end",
	"benchmark_ticker": "benchmark",
}

// applyFlags copies flags the user set into viper. Unset flags are left out so
// they do not mask config file values and struct defaults.
func applyFlags(cmd *cobra.Command, flags map[string]string) {
	for key, name := range flags {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}

		if name == "tickers" {
			tickers, err := cmd.Flags().GetStringSlice(name)
			if err != nil {
				log.Fatal().Err(err).Msg("could not parse tickers")
			}
			viper.Set(key, tickers)
			continue
		}

		viper.Set(key, flag.Value.String())
	}
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringSlice("tickers", nil, "ticker universe (overrides the config file)")
	buildCmd.Flags().String("output", "", "parquet file to write")
	buildCmd.Flags().String("start", "", "first rebalance date (YYYY-MM-DD)")
	buildCmd.Flags().String("end", "", "last rebalance date (YYYY-MM-DD)")
	buildCmd.Flags().String("benchmark", "", "benchmark ticker")
	buildCmd.Flags().BoolVar(&noCache, "no-cache", false, "always download fundamentals")
	buildCmd.Flags().BoolVar(&upload, "upload", false, "upload the dataset to backblaze")
}
