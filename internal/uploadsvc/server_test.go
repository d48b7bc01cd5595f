package uploadsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pricefeed/internal/model"
	"github.com/sells-group/pricefeed/internal/monitoring"
	"github.com/sells-group/pricefeed/internal/storage"
)

const testToken = "s3cret"

type harness struct {
	srv      *Server
	handler  http.Handler
	uploader *fakeUploader
	store    *fakeProductStore
	notifier *fakeNotifier
	metrics  *monitoring.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg := prometheus.NewRegistry()
	h := &harness{
		uploader: &fakeUploader{},
		store:    &fakeProductStore{},
		notifier: &fakeNotifier{},
		metrics:  monitoring.New(reg),
	}
	h.srv = NewServer(Deps{
		Uploader:  h.uploader,
		Bucket:    "prices",
		Store:     h.store,
		Notifier:  h.notifier,
		Metrics:   h.metrics,
		Gatherer:  reg,
		APIKey:    testToken,
		Pipelines: []string{"shufersal"},
	})
	h.srv.now = func() time.Time { return time.Date(2026, 3, 1, 16, 0, 0, 0, time.FixedZone("IST", 2*3600)) }
	h.handler = h.srv.Router()
	return h
}

func (h *harness) post(t *testing.T, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/minio", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestRouter_RootAndHealth(t *testing.T) {
	h := newHarness(t)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Uploader Service Running"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestRouter_CORS(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.org")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_Metrics(t *testing.T) {
	h := newHarness(t)
	h.post(t, storage.UploadRequest{PipelineName: "shufersal", Records: []model.Record{item("Milk", "5.90")}})

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pricefeed_upload_requests_total")
}

func TestUpload_Unauthorized(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/minio", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/minio", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Empty(t, h.uploader.keys)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.UploadRequests.WithLabelValues("401")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.UploadRequests.WithLabelValues("403")))
}

func TestUpload_GeneratedKey(t *testing.T) {
	h := newHarness(t)
	rec := h.post(t, storage.UploadRequest{
		PipelineName: "shufersal",
		Records:      []model.Record{item("Milk", "5.90"), item("Bread", "bad"), item("Eggs", "12.5")},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp storage.UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	wantKey := "bronze/shufersal/sub_chain_id=001/store_id=042/bikoret_no=7/2026-03-01_14-00-00_parsed_records.txt"
	assert.Equal(t, storage.UploadResponse{Status: "uploaded", Key: wantKey, Records: 3, Products: 2}, resp)
	assert.Equal(t, []string{wantKey}, h.uploader.keys)
	assert.Equal(t, []bool{true}, h.uploader.createBucket)

	assert.Equal(t, "shufersal", h.store.pipeline)
	assert.Equal(t, wantKey, h.store.key)
	assert.Len(t, h.store.products, 2)

	require.Len(t, h.notifier.events, 1)
	ev := h.notifier.events[0]
	assert.Equal(t, wantKey, ev.StorageKey)
	assert.Equal(t, "prices", ev.Bucket)
	assert.Equal(t, 3, ev.Records)
	assert.Equal(t, 2, ev.Products)

	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.RecordsUploaded.WithLabelValues("shufersal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.UploadRequests.WithLabelValues("200")))
}

func TestUpload_ExplicitKeyAndBucketFlag(t *testing.T) {
	h := newHarness(t)
	noCreate := false
	key := "bronze/shufersal/sub_chain_id=001/store_id=042/bikoret_no=7/2026-03-01_09-30-00_parsed_records.txt"
	rec := h.post(t, storage.UploadRequest{
		PipelineName: "shufersal",
		Key:          key,
		Records:      []model.Record{item("Milk", "5.90")},
		CreateBucket: &noCreate,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{key}, h.uploader.keys)
	assert.Equal(t, key, h.store.key)
	assert.Equal(t, []bool{false}, h.uploader.createBucket)
}

func TestUpload_BadRequests(t *testing.T) {
	mixed := item("Bread", "3")
	mixed["StoreId"] = "043"
	unkeyed := item("Milk", "5")
	delete(unkeyed, "BikoretNo")

	tests := []struct {
		name string
		body any
		want string
	}{
		{"unknown pipeline", storage.UploadRequest{PipelineName: "victory", Records: []model.Record{item("a", "1")}}, "unknown pipeline"},
		{"no records", storage.UploadRequest{PipelineName: "shufersal"}, "no records"},
		{"mixed groups", storage.UploadRequest{PipelineName: "shufersal", Records: []model.Record{item("Milk", "5"), mixed}}, "record 1 has key"},
		{"missing key field", storage.UploadRequest{PipelineName: "shufersal", Records: []model.Record{unkeyed}}, "BikoretNo"},
		{"key under another pipeline", storage.UploadRequest{
			PipelineName: "shufersal",
			Key:          "bronze/other-pipeline/sub_chain_id=999/store_id=1/bikoret_no=1/x_parsed_records.txt",
			Records:      []model.Record{item("Milk", "5")},
		}, "is not under"},
		{"key for another group", storage.UploadRequest{
			PipelineName: "shufersal",
			Key:          "bronze/shufersal/sub_chain_id=001/store_id=043/bikoret_no=7/x_parsed_records.txt",
			Records:      []model.Record{item("Milk", "5")},
		}, "is not under"},
		{"key escaping its group", storage.UploadRequest{
			PipelineName: "shufersal",
			Key:          "bronze/shufersal/sub_chain_id=001/store_id=042/bikoret_no=7/../../x.txt",
			Records:      []model.Record{item("Milk", "5")},
		}, "invalid object name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			rec := h.post(t, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
			assert.Empty(t, h.uploader.keys)
			assert.Empty(t, h.store.products)
			assert.Empty(t, h.notifier.events)
		})
	}
}

func TestUpload_InvalidJSON(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/minio", strings.NewReader(`{"records":`))
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_CredentialError(t *testing.T) {
	h := newHarness(t)
	h.uploader.err = &storage.CredentialError{Endpoint: "minio:9000", Bucket: "prices", Code: "InvalidAccessKeyId"}

	rec := h.post(t, storage.UploadRequest{PipelineName: "shufersal", Records: []model.Record{item("Milk", "5.90")}})

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var body storage.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, storage.CodeStorageCredentials, body.Code)
	assert.Contains(t, body.Error, "invalid credentials")
	assert.Empty(t, h.store.products)
	assert.Empty(t, h.notifier.events)
}

func TestUpload_CredentialErrorReachesServiceClient(t *testing.T) {
	h := newHarness(t)
	h.uploader.err = &storage.CredentialError{Endpoint: "minio:9000", Bucket: "prices", Code: "SignatureDoesNotMatch"}
	ts := httptest.NewServer(h.handler)
	defer ts.Close()

	client := storage.NewServiceClient(ts.URL, testToken, time.Second)
	err := client.Upload(context.Background(), "shufersal", []model.Record{item("Milk", "5.90")}, "", true)

	var credErr *storage.CredentialError
	require.ErrorAs(t, err, &credErr)
	assert.Equal(t, storage.CodeStorageCredentials, credErr.Code)
	assert.Contains(t, credErr.Unwrap().Error(), "SignatureDoesNotMatch")
}

func TestUpload_StorageFailure(t *testing.T) {
	h := newHarness(t)
	h.uploader.err = errors.New("connection reset")

	rec := h.post(t, storage.UploadRequest{PipelineName: "shufersal", Records: []model.Record{item("Milk", "5.90")}})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, h.notifier.events)
}

func TestUpload_StoreFailure(t *testing.T) {
	h := newHarness(t)
	h.store.err = errors.New("db down")

	rec := h.post(t, storage.UploadRequest{PipelineName: "shufersal", Records: []model.Record{item("Milk", "5.90")}})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, h.notifier.events)
}

func TestUpload_NotifyFailureStillSucceeds(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("broker unavailable")

	rec := h.post(t, storage.UploadRequest{PipelineName: "shufersal", Records: []model.Record{item("Milk", "5.90")}})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, h.notifier.events, 1)
}

func TestServer_NilOptionalDeps(t *testing.T) {
	up := &fakeUploader{}
	srv := NewServer(Deps{Uploader: up, APIKey: testToken, Pipelines: []string{"shufersal"}})
	raw, _ := json.Marshal(storage.UploadRequest{PipelineName: "shufersal", Records: []model.Record{item("Milk", "5.90")}})
	req := httptest.NewRequest(http.MethodPost, "/minio", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, up.keys, 1)

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
