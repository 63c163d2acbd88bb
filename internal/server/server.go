// Package server exposes stored datasets over an HTTP JSON API: dataset
// metadata, per-year legends, and zoom- and viewport-filtered GeoJSON.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/densimap/internal/config"
	"github.com/sells-group/densimap/internal/geo"
	"github.com/sells-group/densimap/internal/store"
	"github.com/sells-group/densimap/internal/viewport"
)

// Decoded collections for large datasets run to tens of megabytes, so the
// cache stays small.
const (
	cacheEntries = 16
	cacheTTL     = 15 * time.Minute
)

// Server serves the dataset API over a store.
type Server struct {
	store  store.Store
	cache  *yearCache
	cors   []string
	buffer float64
}

// New creates a Server over the given store. Zoom bands and the viewport
// buffer come from pipeline configuration so API filtering matches what the
// pipeline produced.
func New(st store.Store, srvCfg config.ServerConfig, pipeCfg config.PipelineConfig) *Server {
	return &Server{
		store:  st,
		cache:  newYearCache(cacheEntries, cacheTTL, pipeCfg.ZoomBands),
		cors:   srvCfg.CORSOrigins,
		buffer: pipeCfg.ViewportBuffer,
	}
}

// Handler assembles the route table and middleware chain.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.observe)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cors,
		AllowedMethods: []string{http.MethodGet, http.MethodDelete},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/api/datasets", s.handleListDatasets)
	r.Get("/api/datasets/{id}", s.handleGetDataset)
	r.Delete("/api/datasets/{id}", s.handleDeleteDataset)
	r.Get("/api/datasets/{id}/legend", s.handleLegend)
	r.Get("/api/datasets/{id}/geojson", s.handleGeoJSON)

	return r
}

// observe wraps the handler chain with access logging and the prometheus
// collectors. The route label is the chi pattern matched for the request,
// keeping label cardinality bounded.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		requestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		requestDuration.WithLabelValues(route).Observe(elapsed.Seconds() * 1000)
		zap.L().Debug("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", elapsed))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	resp := map[string]any{
		"status": "ok",
		"cache":  s.cache.Stats(),
	}
	if p, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			zap.L().Warn("server: store unreachable", zap.Error(err))
			resp["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListDatasets(r.Context())
	if err != nil {
		zap.L().Error("server: list datasets", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []store.Dataset{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"datasets": list,
		"count":    len(list),
	})
}

func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.GetDataset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondLookup(w, err, "dataset")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteDataset(r.Context(), id); err != nil {
		s.respondLookup(w, err, "dataset")
		return
	}
	s.cache.Invalidate(id)
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *Server) handleLegend(w http.ResponseWriter, r *http.Request) {
	year := r.URL.Query().Get("year")
	if year == "" {
		writeError(w, http.StatusBadRequest, "year query parameter is required")
		return
	}
	entry, _, err := s.loadYear(r.Context(), chi.URLParam(r, "id"), year)
	if err != nil {
		s.respondLookup(w, err, "year")
		return
	}
	if entry.legend == nil {
		writeError(w, http.StatusNotFound, "no legend stored for this year")
		return
	}
	writeJSON(w, http.StatusOK, entry.legend)
}

func (s *Server) handleGeoJSON(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year := q.Get("year")
	if year == "" {
		writeError(w, http.StatusBadRequest, "year query parameter is required")
		return
	}

	entry, hit, err := s.loadYear(r.Context(), chi.URLParam(r, "id"), year)
	if err != nil {
		s.respondLookup(w, err, "year")
		return
	}

	features := entry.collection.Features
	zoomStr := q.Get("zoom")
	bboxStr := q.Get("bbox")
	if zoomStr == "" && bboxStr != "" {
		writeError(w, http.StatusBadRequest, "bbox requires zoom")
		return
	}
	if zoomStr != "" {
		zoom, err := strconv.ParseFloat(zoomStr, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "zoom must be a number")
			return
		}
		features = entry.filter.ByZoom(entry.collection, zoom)
		if bboxStr != "" {
			view, err := geo.ParseBBox(bboxStr)
			if err != nil {
				writeError(w, http.StatusBadRequest, "bbox must be west,south,east,north")
				return
			}
			features = viewport.Cull(features, view, zoom, s.buffer)
		}
	}

	featuresReturned.Observe(float64(len(features)))

	data, err := geo.MarshalCollection(geo.NewCollection(features))
	if err != nil {
		zap.L().Error("server: marshal geojson", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	if hit {
		w.Header().Set("X-Cache", "hit")
	} else {
		w.Header().Set("X-Cache", "miss")
	}
	_, _ = w.Write(data)
}

// loadYear returns the decoded collection for a dataset year through the LRU.
// The second return reports whether it was served from cache.
func (s *Server) loadYear(ctx context.Context, datasetID, year string) (*yearEntry, bool, error) {
	if e := s.cache.Get(datasetID, year); e != nil {
		return e, true, nil
	}
	p, err := s.store.GetYear(ctx, datasetID, year)
	if err != nil {
		return nil, false, err
	}
	c, err := geo.UnmarshalStoredCollection(p.GeoJSON)
	if err != nil {
		return nil, false, eris.Wrap(err, "server: decode stored year")
	}
	return s.cache.Put(datasetID, year, c, p.Legend), false, nil
}

// respondLookup maps a store lookup failure onto the right status code.
func (s *Server) respondLookup(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	zap.L().Error("server: "+what+" lookup failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
