package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricefeed/internal/model"
)

// UploadRequest is the upload service request body.
type UploadRequest struct {
	PipelineName string         `json:"pipeline_name"`
	Key          string         `json:"key,omitempty"`
	Records      []model.Record `json:"records"`
	CreateBucket *bool          `json:"create_bucket,omitempty"`
}

// UploadResponse is the upload service success body.
type UploadResponse struct {
	Status   string `json:"status"`
	Key      string `json:"key"`
	Records  int    `json:"records"`
	Products int    `json:"products"`
}

// CodeStorageCredentials marks an upload service error caused by the service's
// own storage credentials being rejected.
const CodeStorageCredentials = "storage_credentials"

// ErrorResponse is the upload service error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ServiceClient uploads record groups through the upload service.
type ServiceClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewServiceClient creates a client for the upload service at baseURL.
func NewServiceClient(baseURL, token string, timeout time.Duration) *ServiceClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ServiceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Upload implements Uploader.
func (c *ServiceClient) Upload(ctx context.Context, pipeline string, records []model.Record, key string, createBucket bool) error {
	body, err := json.Marshal(UploadRequest{
		PipelineName: pipeline,
		Key:          key,
		Records:      records,
		CreateBucket: &createBucket,
	})
	if err != nil {
		return eris.Wrap(err, "storage: marshal upload request")
	}

	endpoint := c.baseURL + "/minio"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "storage: build upload request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "storage: post %s", endpoint)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &CredentialError{
			Endpoint: endpoint,
			Code:     http.StatusText(resp.StatusCode),
			Err:      eris.New(strings.TrimSpace(string(respBody))),
		}
	case resp.StatusCode == http.StatusBadGateway:
		var e ErrorResponse
		if json.Unmarshal(respBody, &e) == nil && e.Code == CodeStorageCredentials {
			return &CredentialError{
				Endpoint: endpoint,
				Code:     e.Code,
				Err:      eris.New(e.Error),
			}
		}
		return eris.Errorf("storage: upload service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return eris.Errorf("storage: upload service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var out UploadResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return eris.Wrap(err, "storage: decode upload response")
	}
	zap.L().Info("uploaded record group via service",
		zap.String("component", "storage"),
		zap.String("pipeline", pipeline),
		zap.String("key", out.Key),
		zap.Int("records", out.Records),
	)
	return nil
}
