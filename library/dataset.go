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
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/penny-vault/pvdataset/data"
	"github.com/rs/zerolog"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

const (
	MetaMetrics   = "pvdataset.metrics"
	MetaRunID     = "pvdataset.run_id"
	MetaCreatedOn = "pvdataset.created_on"
	MetaName      = "pvdataset.name"
)

var (
	ErrMissingMetadata = errors.New("dataset file is missing metadata")
)

// DatasetFile is a dataset together with the metadata stored next to it
type DatasetFile struct {
	Path      string
	Name      string
	RunID     uuid.UUID
	CreatedOn time.Time
	Dataset   *data.Dataset
}

// datasetRow is the on-disk layout of a single dataset row
type datasetRow struct {
	Row      int64     `parquet:"name=row, type=INT64"`
	Ticker   string    `parquet:"name=ticker, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Date     string    `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Features []float64 `parquet:"name=features, type=DOUBLE, repetitiontype=REPEATED"`
	Label    float64   `parquet:"name=label, type=DOUBLE"`
}

// SaveDataset writes the dataset to fn as parquet. The file is written to a
// temporary name first and renamed so readers never see a partial file.
func SaveDataset(ctx context.Context, file *DatasetFile, fn string) error {
	logger := zerolog.Ctx(ctx).With().Str("FileName", fn).Logger()
	ds := file.Dataset

	tmpFn := fn + ".tmp"
	fh, err := local.NewLocalFileWriter(tmpFn)
	if err != nil {
		logger.Error().Err(err).Msg("cannot create local file")
		return err
	}

	committed := false
	defer func() {
		if !committed {
			if err := os.Remove(tmpFn); err != nil && !errors.Is(err, os.ErrNotExist) {
				logger.Warn().Err(err).Str("TmpFileName", tmpFn).Msg("could not remove temporary file")
			}
		}
	}()

	pw, err := writer.NewParquetWriter(fh, new(datasetRow), 4)
	if err != nil {
		fh.Close()
		logger.Error().Err(err).Msg("parquet write failed")
		return err
	}

	pw.RowGroupSize = 128 * 1024 * 1024 // 128M
	pw.PageSize = 8 * 1024              // 8k
	pw.CompressionType = parquet.CompressionCodec_ZSTD

	metrics, err := json.Marshal(ds.Metrics)
	if err != nil {
		fh.Close()
		return err
	}

	createdOn := file.CreatedOn
	if createdOn.IsZero() {
		createdOn = time.Now()
	}

	pw.Footer.KeyValueMetadata = append(pw.Footer.KeyValueMetadata,
		keyValue(MetaMetrics, string(metrics)),
		keyValue(MetaRunID, file.RunID.String()),
		keyValue(MetaCreatedOn, createdOn.UTC().Format(time.RFC3339)),
		keyValue(MetaName, file.Name),
	)

	for idx := 0; idx < ds.Len(); idx++ {
		key, features, label := ds.Row(idx)
		row := &datasetRow{
			Row:      int64(idx),
			Ticker:   key.Ticker,
			Date:     key.Date.Format(data.DateFormat),
			Features: features,
			Label:    label,
		}

		if err := pw.Write(row); err != nil {
			fh.Close()
			logger.Error().Err(err).Str("Ticker", key.Ticker).Str("Date", row.Date).Msg("parquet write failed for record")
			return err
		}
	}

	if err := pw.WriteStop(); err != nil {
		fh.Close()
		logger.Error().Err(err).Msg("parquet write failed")
		return err
	}

	if err := fh.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpFn, fn); err != nil {
		logger.Error().Err(err).Msg("could not move dataset into place")
		return err
	}

	committed = true

	logger.Info().Int("NumRecords", ds.Len()).Int("NumMetrics", ds.Width()).Msg("parquet write finished")
	return nil
}

// LoadDataset reads a dataset written by SaveDataset. Row order, row keys and
// values (NaN included) are reproduced exactly.
func LoadDataset(ctx context.Context, fn string) (*DatasetFile, error) {
	logger := zerolog.Ctx(ctx).With().Str("FileName", fn).Logger()

	fh, err := local.NewLocalFileReader(fn)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	pr, err := reader.NewParquetReader(fh, new(datasetRow), 4)
	if err != nil {
		logger.Error().Err(err).Msg("cannot open parquet file")
		return nil, err
	}
	defer pr.ReadStop()

	meta := make(map[string]string)
	for _, kv := range pr.Footer.KeyValueMetadata {
		if kv.Value != nil {
			meta[kv.Key] = *kv.Value
		}
	}

	metricsJSON, ok := meta[MetaMetrics]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingMetadata, MetaMetrics)
	}

	metrics := make([]string, 0)
	if err := json.Unmarshal([]byte(metricsJSON), &metrics); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMissingMetadata, MetaMetrics, err)
	}

	file := &DatasetFile{
		Path:    fn,
		Name:    meta[MetaName],
		Dataset: data.NewDataset(metrics),
	}

	if runID, err := uuid.Parse(meta[MetaRunID]); err == nil {
		file.RunID = runID
	}

	if createdOn, err := time.Parse(time.RFC3339, meta[MetaCreatedOn]); err == nil {
		file.CreatedOn = createdOn
	}

	numRows := int(pr.GetNumRows())
	rows := make([]datasetRow, numRows)
	if numRows > 0 {
		if err := pr.Read(&rows); err != nil {
			logger.Error().Err(err).Msg("parquet read failed")
			return nil, err
		}
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Row < rows[j].Row })

	for idx := range rows {
		row := &rows[idx]
		date, err := data.ParseDay(row.Date)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row.Row, err)
		}

		features := row.Features
		if features == nil {
			features = []float64{}
		}

		if err := file.Dataset.Append(data.RowKey{Ticker: row.Ticker, Date: date}, features, row.Label); err != nil {
			return nil, fmt.Errorf("row %d: %w", row.Row, err)
		}
	}

	logger.Debug().Int("NumRecords", file.Dataset.Len()).Msg("parquet read finished")
	return file, nil
}

func keyValue(key, value string) *parquet.KeyValue {
	return &parquet.KeyValue{
		Key:   key,
		Value: &value,
	}
}
