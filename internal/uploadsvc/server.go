// Package uploadsvc implements the HTTP service that writes record groups to
// object storage on behalf of remote runners.
package uploadsvc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sells-group/pricefeed/internal/events"
	"github.com/sells-group/pricefeed/internal/model"
	"github.com/sells-group/pricefeed/internal/monitoring"
	"github.com/sells-group/pricefeed/internal/partition"
	"github.com/sells-group/pricefeed/internal/storage"
)

// maxBodyBytes bounds an upload request body.
const maxBodyBytes = 64 << 20

// ProductStore persists mapped products. store.Store satisfies it.
type ProductStore interface {
	InsertProducts(ctx context.Context, pipeline, storageKey string, products []model.Product) (int64, error)
}

// Deps holds the collaborators of a Server. Store, Notifier, Metrics and
// Gatherer are optional.
type Deps struct {
	Uploader  storage.Uploader
	Bucket    string
	Store     ProductStore
	Notifier  events.Notifier
	Metrics   *monitoring.Metrics
	Gatherer  prometheus.Gatherer
	APIKey    string
	Pipelines []string
	Mappers   Mappers
}

// Server is the upload service.
type Server struct {
	deps Deps
	now  func() time.Time
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Notifier == nil {
		deps.Notifier = events.Nop{}
	}
	if deps.Mappers == nil {
		deps.Mappers = DefaultMappers()
	}
	return &Server{deps: deps, now: time.Now}
}

// Router builds the service routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Uploader Service Running"})
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	if s.deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", monitoring.Handler(s.deps.Gatherer))
	}

	r.Group(func(r chi.Router) {
		r.Use(s.countRequests)
		r.Use(BearerAuth(s.deps.APIKey))
		r.Post("/minio", s.handleUpload)
	})
	return r
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	log := zap.L().With(zap.String("component", "uploadsvc"), zap.String("request_id", middleware.GetReqID(r.Context())))

	var req storage.UploadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !slices.Contains(s.deps.Pipelines, req.PipelineName) {
		writeError(w, http.StatusBadRequest, "unknown pipeline "+strconv.Quote(req.PipelineName))
		return
	}

	groupKey, err := partition.Validate(req.Records)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := req.Key
	if key == "" {
		key = partition.StorageKey(req.PipelineName, groupKey, s.now())
	} else if err := partition.CheckKey(key, req.PipelineName, groupKey); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	createBucket := true
	if req.CreateBucket != nil {
		createBucket = *req.CreateBucket
	}

	products, err := s.deps.Mappers.MapProducts(req.PipelineName, req.Records)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.deps.Uploader.Upload(r.Context(), req.PipelineName, req.Records, key, createBucket); err != nil {
		var credErr *storage.CredentialError
		if errors.As(err, &credErr) {
			log.Error("storage rejected credentials", zap.Error(err))
			writeJSON(w, http.StatusBadGateway, storage.ErrorResponse{
				Error: credErr.Error(),
				Code:  storage.CodeStorageCredentials,
			})
			return
		}
		log.Error("upload failed", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	if s.deps.Store != nil && len(products) > 0 {
		if _, err := s.deps.Store.InsertProducts(r.Context(), req.PipelineName, key, products); err != nil {
			log.Error("product insert failed", zap.String("key", key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "product insert failed")
			return
		}
	}

	ev := events.UploadEvent{
		Pipeline:   req.PipelineName,
		StorageKey: key,
		Bucket:     s.deps.Bucket,
		Records:    len(req.Records),
		Products:   len(products),
		UploadedAt: s.now().UTC(),
	}
	if err := s.deps.Notifier.Notify(r.Context(), ev); err != nil {
		log.Warn("upload event not published", zap.String("key", key), zap.Error(err))
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordsUploaded.WithLabelValues(req.PipelineName).Add(float64(len(req.Records)))
	}

	log.Info("uploaded", zap.String("pipeline", req.PipelineName), zap.String("key", key),
		zap.Int("records", len(req.Records)), zap.Int("products", len(products)))
	writeJSON(w, http.StatusOK, storage.UploadResponse{
		Status:   "uploaded",
		Key:      key,
		Records:  len(req.Records),
		Products: len(products),
	})
}

// countRequests records the response status of every upload request.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.deps.Metrics.UploadRequests.WithLabelValues(strconv.Itoa(ww.Status())).Inc()
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, storage.ErrorResponse{Error: msg})
}
