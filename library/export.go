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
package library

import (
	"io"

	"github.com/gocarina/gocsv"
	"github.com/penny-vault/pvdataset/data"
)

// CSVRecord is one (row, metric) cell of the long-format export
type CSVRecord struct {
	Row    int     `csv:"row"`
	Ticker string  `csv:"ticker"`
	Date   string  `csv:"date"`
	Metric string  `csv:"metric"`
	Value  float64 `csv:"value"`
	Label  float64 `csv:"label"`
}

// CSVRecords flattens the dataset into one record per (row, metric). Rows of
// a dataset without metrics produce no records.
func CSVRecords(ds *data.Dataset) []*CSVRecord {
	records := make([]*CSVRecord, 0, ds.Len()*ds.Width())
	for idx := 0; idx < ds.Len(); idx++ {
		key, features, label := ds.Row(idx)
		for col, metric := range ds.Metrics {
			records = append(records, &CSVRecord{
				Row:    idx,
				Ticker: key.Ticker,
				Date:   key.Date.Format(data.DateFormat),
				Metric: metric,
				Value:  features[col],
				Label:  label,
			})
		}
	}

	return records
}

// ExportCSV writes the dataset to w in long format
func ExportCSV(ds *data.Dataset, w io.Writer) error {
	records := CSVRecords(ds)
	return gocsv.Marshal(&records, w)
}
