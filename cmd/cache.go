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
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/huh"
	"github.com/penny-vault/pvdataset/provider"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/xeonx/timeago"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	cacheProvider string
	cacheForce    bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the fundamentals cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached fundamentals downloads",
	Run: func(cmd *cobra.Command, args []string) {
		db, err := provider.OpenCacheDB(filepath.Join(cacheDir(), "metrics"), false)
		if err != nil {
			log.Fatal().Err(err).Msg("could not open fundamentals cache")
		}
		defer db.Close()

		entries, err := provider.ListCache(db)
		if err != nil {
			log.Fatal().Err(err).Msg("could not read fundamentals cache")
		}

		if cacheProvider != "" {
			entries = provider.FilterCacheEntries(entries, cacheProvider)
		}

		p := message.NewPrinter(language.English)
		sb := strings.Builder{}
		sb.WriteString("# Fundamentals cache\n\n")
		sb.WriteString(p.Sprintf("%d entries in %s\n\n", len(entries), cacheDir()))

		if len(entries) > 0 {
			sb.WriteString("| Provider | Ticker | Dates | Fetched |\n")
			sb.WriteString("|---|---|---|---|\n")
		}

		for _, entry := range entries {
			dates := p.Sprintf("%d", len(entry.Dates))
			if entry.NoData {
				dates = "no data"
			}

			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n", entry.Provider, entry.Ticker, dates,
				timeago.English.Format(entry.FetchedOn)))
		}

		r, _ := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(80),
		)

		out, err := r.Render(sb.String())
		if err != nil {
			log.Fatal().Err(err).Msg("could not render cache document")
		}

		fmt.Print(out)
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove cached fundamentals downloads",
	Run: func(cmd *cobra.Command, args []string) {
		target := "all providers"
		if cacheProvider != "" {
			target = cacheProvider
		}

		confirmed := cacheForce
		if !confirmed {
			confirmForm := huh.NewForm(
				huh.NewGroup(
					huh.NewConfirm().
						Title(fmt.Sprintf("Are you sure you want to clear the cache for %s?", target)).
						Value(&confirmed),
				),
			)

			if err := confirmForm.Run(); err != nil {
				log.Fatal().Err(err).Msg("failed to create wizard")
			}
		}

		if !confirmed {
			fmt.Printf("Ok, we won't clear the cache for %s\n", target)
			return
		}

		db, err := provider.OpenCacheDB(filepath.Join(cacheDir(), "metrics"), false)
		if err != nil {
			log.Fatal().Err(err).Msg("could not open fundamentals cache")
		}
		defer db.Close()

		if err := provider.ClearCache(db, cacheProvider); err != nil {
			log.Fatal().Err(err).Msg("could not clear fundamentals cache")
		}

		log.Info().Str("Target", target).Msg("cleared fundamentals cache")
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheClearCmd)

	cacheCmd.PersistentFlags().StringVarP(&cacheProvider, "provider", "p", "", "only entries of this provider")
	cacheClearCmd.Flags().BoolVarP(&cacheForce, "force", "f", false, "do not ask for confirmation")
}
