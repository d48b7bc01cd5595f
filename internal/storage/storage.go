// Package storage writes record groups to S3-compatible object storage,
// either directly or through the upload service.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pricefeed/internal/model"
)

// ContentType is the MIME type of an encoded record group.
const ContentType = "application/x-ndjson"

// Uploader writes one record group under key. When createBucket is set the
// target bucket is created if missing.
type Uploader interface {
	Upload(ctx context.Context, pipeline string, records []model.Record, key string, createBucket bool) error
}

// CredentialError reports that the storage backend rejected the configured
// credentials.
type CredentialError struct {
	Endpoint string
	Bucket   string
	Code     string
	Err      error
}

func (e *CredentialError) Error() string {
	if e.Bucket == "" {
		return fmt.Sprintf("storage: invalid credentials for %s (%s)", e.Endpoint, e.Code)
	}
	return fmt.Sprintf("storage: invalid credentials for %s bucket %q (%s)", e.Endpoint, e.Bucket, e.Code)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// EncodeNDJSON renders records as newline-delimited JSON objects with sorted
// keys, one record per line.
func EncodeNDJSON(records []model.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, eris.Wrapf(err, "storage: encode record %d", i)
		}
	}
	return buf.Bytes(), nil
}
