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
	"os"

	"github.com/penny-vault/pvdataset/library"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export <file> <out.csv>",
	Short: "Export a dataset file to CSV",
	Long: `Export writes the dataset in long format with one line per row and
metric: row,ticker,date,metric,value,label. Missing metric values are written
as NaN.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := commandContext()

		file, err := library.LoadDataset(ctx, args[0])
		if err != nil {
			log.Fatal().Err(err).Str("FileName", args[0]).Msg("could not load dataset")
		}

		fh, err := os.Create(args[1])
		if err != nil {
			log.Fatal().Err(err).Str("FileName", args[1]).Msg("could not create csv file")
		}
		defer fh.Close()

		if err := library.ExportCSV(file.Dataset, fh); err != nil {
			log.Fatal().Err(err).Str("FileName", args[1]).Msg("csv export failed")
		}

		log.Info().Int("NumRows", file.Dataset.Len()).Str("FileName", args[1]).Msg("exported dataset")
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
