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
	"os"
	"path/filepath"
	"strings"

	"github.com/penny-vault/pvdataset/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pvdataset",
	Short: "pvdataset builds point-in-time fundamentals datasets for machine learning",
	Long: `pvdataset is a command line utility for building supervised learning
datasets out of company fundamentals and stock prices. For every rebalance
date on a fixed grid and every ticker in the universe it records the most
recent quarterly metrics that were public on that date (the features) and the
return of the stock relative to a benchmark over the following horizon (the
label).

Fundamentals are keyed by the day after the fiscal period ends so a row never
contains information that was not available on its date. Data is fetched from:

	* [Finnhub](https://finnhub.io)
	* [Alpha Vantage](https://www.alphavantage.co)
	* [Tiingo](https://www.tiingo.com)
	* [Yahoo Finance](https://finance.yahoo.com)

Datasets are written as parquet files with one row per (ticker, date) and can
be exported to CSV or uploaded to Backblaze B2.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.pvdataset.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().String("cache-dir", "", "directory of the fundamentals cache")
	if err := viper.BindPFlag("cache_dir", rootCmd.PersistentFlags().Lookup("cache-dir")); err != nil {
		log.Panic().Err(err).Msg("BindPFlag for cache-dir failed")
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".pvdataset" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("toml")
		viper.SetConfigName(".pvdataset")
	}

	// PVDATASET_FUNDAMENTALS_API_KEY overrides fundamentals.api_key
	viper.SetEnvPrefix("pvdataset")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		log.Info().Str("ConfigFN", viper.ConfigFileUsed()).Msg("Using config file")
	}
}

// loadConfig validates the merged configuration or exits
func loadConfig() *config.Config {
	conf, err := config.Load(viper.GetViper())
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	return conf
}

// commandContext returns a context carrying the global logger
func commandContext() context.Context {
	return log.Logger.WithContext(context.Background())
}

// cacheDir returns the configured cache directory or the user cache default
func cacheDir() string {
	if dir := viper.GetString("cache_dir"); dir != "" {
		return dir
	}

	userCache, err := os.UserCacheDir()
	if err != nil {
		log.Fatal().Err(err).Msg("could not determine user cache directory")
	}

	return filepath.Join(userCache, "pvdataset")
}
