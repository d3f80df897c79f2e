// Copyright 2023
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
	"runtime"
	"strings"

	"github.com/goccy/go-json"
	"github.com/penny-vault/pvdataset/pkginfo"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	deps       bool
	short      bool
	jsonFormat bool
)

type versionInfo struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	BuildDate    string   `json:"build_date"`
	Commit       string   `json:"commit"`
	GoVersion    string   `json:"go_version"`
	Dependencies []string `json:"dependencies,omitempty"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version info",
	Run: func(cmd *cobra.Command, args []string) {
		if jsonFormat {
			info := versionInfo{
				Name:      pkginfo.Name,
				Version:   pkginfo.ShortVersion(),
				BuildDate: pkginfo.BuildDate,
				Commit:    pkginfo.CommitHash,
				GoVersion: runtime.Version(),
			}

			if deps {
				info.Dependencies = pkginfo.GetDependencyList()
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(info); err != nil {
				log.Fatal().Err(err).Msg("could not encode version info")
			}

			return
		}

		if short {
			fmt.Println(pkginfo.ShortVersion())
		} else {
			fmt.Println(pkginfo.BuildVersionString())
		}

		if deps {
			fmt.Printf("\n\n")
			fmt.Println(strings.Join(pkginfo.GetDependencyList(), "\n"))
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&deps, "deps", "d", false, "print dependencies")
	versionCmd.Flags().BoolVarP(&short, "short", "s", false, "only print version number")
	versionCmd.Flags().BoolVar(&jsonFormat, "json", false, "print version info as json")
}
