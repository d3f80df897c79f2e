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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pelletier/go-toml/v2"
	"github.com/penny-vault/pvdataset/config"
	"github.com/penny-vault/pvdataset/data"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a pvdataset configuration file",
	Run: func(cmd *cobra.Command, args []string) {
		conf := config.Default()
		tickers := ""
		horizon := strconv.Itoa(conf.HorizonYears)
		interval := strconv.Itoa(conf.RebalanceIntervalMonths)

		validDate := func(s string) error {
			_, err := data.ParseDay(s)
			return err
		}

		validPositive := func(s string) error {
			n, err := strconv.Atoi(s)
			if err != nil {
				return err
			}
			if n < 1 {
				return fmt.Errorf("must be at least 1")
			}
			return nil
		}

		form := huh.NewForm(
			// Which data sources to use
			huh.NewGroup(
				huh.NewSelect[string]().
					Title("Which provider should supply fundamentals?").
					Options(huh.NewOption("Finnhub", "finnhub"), huh.NewOption("Alpha Vantage", "alphavantage")).
					Value(&conf.Fundamentals.Provider),
				huh.NewInput().
					Title("Fundamentals API key:").
					Value(&conf.Fundamentals.APIKey),
				huh.NewSelect[string]().
					Title("Which provider should supply prices?").
					Options(huh.NewOption("Yahoo Finance", "yahoo"), huh.NewOption("Tiingo", "tiingo")).
					Value(&conf.Prices.Provider),
				huh.NewInput().
					Title("Price API key (leave blank for Yahoo):").
					Value(&conf.Prices.APIKey),
				huh.NewConfirm().
					Title("Add shares outstanding as a feature? (Yahoo only)").
					Value(&conf.SharesOutstanding),
			),

			// Shape of the dataset
			huh.NewGroup(
				huh.NewInput().
					Title("Tickers (comma separated):").
					Value(&tickers).
					Validate(func(s string) error {
						if len(splitTickers(s)) == 0 {
							return fmt.Errorf("at least one ticker is required")
						}
						return nil
					}),
				huh.NewInput().
					Title("Benchmark ticker:").
					Value(&conf.BenchmarkTicker),
				huh.NewInput().
					Title("Start date (YYYY-MM-DD):").
					Value(&conf.StartDate).
					Validate(validDate),
				huh.NewInput().
					Title("End date (YYYY-MM-DD):").
					Value(&conf.EndDate).
					Validate(validDate),
				huh.NewInput().
					Title("Months between rebalance dates:").
					Value(&interval).
					Validate(validPositive),
				huh.NewInput().
					Title("Label horizon in years:").
					Value(&horizon).
					Validate(validPositive),
			),
		)

		err := form.Run()
		if err != nil {
			log.Fatal().Err(err).Msg("error gathering dataset settings")
		}

		conf.Tickers = splitTickers(tickers)
		conf.RebalanceIntervalMonths, _ = strconv.Atoi(interval)
		conf.HorizonYears, _ = strconv.Atoi(horizon)
		if conf.Fundamentals.Provider != "finnhub" {
			conf.MetricList = nil
		}

		if err := conf.Validate(); err != nil {
			log.Fatal().Err(err).Msg("configuration is invalid")
		}

		// Print configuration summary
		{
			var sb strings.Builder
			keyword := func(s string) string {
				return lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Render(s)
			}

			fmt.Fprintf(&sb,
				"%s\n\nFundamentals: %s\nPrices: %s\nTickers: %s\nBenchmark: %s\nDates: %s\nInterval: %s\nHorizon: %s\nMetrics: %s",
				lipgloss.NewStyle().Bold(true).Render("NEW DATASET CONFIGURATION"),
				keyword(conf.Fundamentals.Provider),
				keyword(conf.Prices.Provider),
				keyword(strings.Join(conf.Tickers, ", ")),
				keyword(conf.BenchmarkTicker),
				keyword(fmt.Sprintf("%s to %s", conf.StartDate, conf.EndDate)),
				keyword(fmt.Sprintf("%d months", conf.RebalanceIntervalMonths)),
				keyword(fmt.Sprintf("%d years", conf.HorizonYears)),
				keyword(strconv.Itoa(len(conf.MetricList))),
			)

			fmt.Println(
				lipgloss.NewStyle().
					Width(60).
					BorderStyle(lipgloss.RoundedBorder()).
					BorderForeground(lipgloss.Color("63")).
					Padding(1, 2).
					Render(sb.String()),
			)
		}

		configFN := cfgFile
		if configFN == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				log.Fatal().Err(err).Msg("could not determine user home directory")
			}

			configFN = filepath.Join(home, ".pvdataset.toml")
		}

		confirmed := false
		confirmForm := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Save configuration to %s?", configFN)).
					Value(&confirmed),
			),
		)

		if err := confirmForm.Run(); err != nil {
			log.Fatal().Err(err).Msg("failed to create wizard")
		}

		if !confirmed {
			log.Info().Msg("Not saving configuration")
			return
		}

		configData, err := toml.Marshal(conf)
		if err != nil {
			log.Fatal().Err(err).Msg("could not marshal configuration data")
		}

		err = os.WriteFile(configFN, configData, 0600)
		if err != nil {
			log.Fatal().Err(err).Str("FileName", configFN).Msg("could not save configuration to file")
		}

		log.Info().Str("ConfigFile", configFN).Msg("configuration saved")
	},
}

func splitTickers(s string) []string {
	tickers := make([]string, 0)
	for _, ticker := range strings.Split(s, ",") {
		ticker = strings.ToUpper(strings.TrimSpace(ticker))
		if ticker != "" {
			tickers = append(tickers, ticker)
		}
	}

	return tickers
}

func init() {
	rootCmd.AddCommand(initCmd)
}
