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
package backblaze

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kothar/go-backblaze"
	"github.com/penny-vault/pvdataset/pkginfo"
	"github.com/rs/zerolog"
)

var (
	ErrBucketNotFound    = errors.New("bucket not found")
	ErrMissingCredential = errors.New("backblaze credentials are not configured")
)

type Credentials struct {
	ApplicationID  string
	ApplicationKey string
}

// Upload copies the dataset file fn to bucketName under dirname. Metadata is
// stored as B2 file info.
func Upload(ctx context.Context, creds Credentials, fn, bucketName, dirname string, metadata map[string]string) error {
	logger := zerolog.Ctx(ctx).With().Str("BucketName", bucketName).Logger()

	if creds.ApplicationID == "" || creds.ApplicationKey == "" {
		return ErrMissingCredential
	}

	b2, err := backblaze.NewB2(backblaze.Credentials{
		KeyID:          creds.ApplicationID,
		ApplicationKey: creds.ApplicationKey,
	})
	if err != nil {
		logger.Error().Err(err).Msg("authorize backblaze failed")
		return err
	}

	bucket, err := b2.Bucket(bucketName)
	if err != nil {
		logger.Error().Err(err).Msg("lookup bucket failed")
		return err
	}
	if bucket == nil {
		logger.Error().Msg("bucket does not exist")
		return fmt.Errorf("%w: %s", ErrBucketNotFound, bucketName)
	}

	reader, err := os.Open(fn)
	if err != nil {
		return err
	}
	defer reader.Close()

	outName := ObjectName(dirname, fn)
	fileInfo := map[string]string{
		"generator": pkginfo.UserAgent(),
	}
	for k, v := range metadata {
		fileInfo[k] = v
	}

	file, err := bucket.UploadFile(outName, fileInfo, reader)
	if err != nil {
		logger.Error().Err(err).Str("FileName", outName).Msg("save file to backblaze failed")
		return err
	}

	logger.Info().Str("FileName", file.Name).Int64("Size", file.ContentLength).Str("ID", file.ID).Msg("uploaded dataset to backblaze")
	return nil
}

// ObjectName is the bucket path a local file is uploaded to
func ObjectName(dirname, fn string) string {
	if dirname == "" {
		return filepath.Base(fn)
	}

	return fmt.Sprintf("%s/%s", dirname, filepath.Base(fn))
}
