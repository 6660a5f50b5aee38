// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Uploader ships a finished artifact somewhere durable.
type Uploader interface {
	Upload(ctx context.Context, a Artifact) (string, error)
	Close() error
}

// GCSUploader uploads artifacts to a Cloud Storage bucket.
type GCSUploader struct {
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewGCSUploader creates an uploader authenticated with a service account
// key file.
//
// Inputs:
//
//	ctx - Client construction context.
//	bucket - Destination bucket.
//	prefix - Object name prefix, e.g. "sessions/". May be empty.
//	keyPath - Service account JSON key. Must exist.
//
// Outputs:
//
//	*GCSUploader - Call Close when done.
//	error - Missing key file or client construction failure.
func NewGCSUploader(ctx context.Context, bucket, prefix, keyPath string, logger *slog.Logger) (*GCSUploader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	if _, err := os.Stat(keyPath); err != nil {
		return nil, fmt.Errorf("service account key not found at path %s: %w", keyPath, err)
	}

	client, err := storage.NewClient(ctx, option.WithCredentialsFile(keyPath))
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GCSUploader{client: client, bucket: bucket, prefix: prefix, logger: logger}, nil
}

// ObjectName returns the object path for a session's artifact.
func (u *GCSUploader) ObjectName(sessionID string) string {
	return path.Join(u.prefix, FileName(sessionID))
}

// Upload writes the artifact to gs://<bucket>/<prefix>/survey_data_<id>.json
// and returns the gs:// URL.
func (u *GCSUploader) Upload(ctx context.Context, a Artifact) (string, error) {
	data, err := a.Marshal()
	if err != nil {
		return "", err
	}

	name := u.ObjectName(a.SessionInfo.SessionID)
	writer := u.client.Bucket(u.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("copy artifact to gs://%s/%s: %w", u.bucket, name, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close GCS writer for %s: %w", name, err)
	}

	url := fmt.Sprintf("gs://%s/%s", u.bucket, name)
	u.logger.Info("artifact uploaded",
		slog.String("session_id", a.SessionInfo.SessionID),
		slog.String("url", url))
	return url, nil
}

// Close releases the storage client.
func (u *GCSUploader) Close() error {
	return u.client.Close()
}
