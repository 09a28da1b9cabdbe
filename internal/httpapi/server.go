// Package httpapi exposes the Lookup Service's user-facing HTTP
// surface (spec §6): /hashes, /image, /url, /furaffinity/file_id,
// /limits, and /known/{service}, plus the ambient /healthz and
// /metrics endpoints every binary in this codebase carries. Routing
// uses the standard library's method+pattern ServeMux, the same style
// this codebase's playground API used before this rewrite.
package httpapi

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fuzzysearch/internal/lookup"
	"fuzzysearch/internal/model"
)

// Store is the subset of the metadata store this API surface needs:
// API key auth, quota accounting, and the two lookups that don't go
// through the Lookup Service (FurAffinity file id, known handle).
type Store interface {
	lookup.RateLimiter
	LookupApiKey(ctx context.Context, secret string) (model.ApiKey, error)
	SubmissionsByFurAffinityFileID(ctx context.Context, fileID int64) ([]model.Submission, error)
	KnownHandle(ctx context.Context, site model.Site, handle string) (bool, error)
}

// Server wires the Lookup Service and metadata store to HTTP routes.
type Server struct {
	lookup     *lookup.Service
	store      Store
	fetcher    *lookup.ImageFetcher
	urlDefault uint8
	mux        *http.ServeMux
}

// NewServer builds a Server. urlDistanceDefault is the distance used
// by GET /url when the caller omits the query parameter (spec default
// 3).
func NewServer(svc *lookup.Service, store Store, fetcher *lookup.ImageFetcher, urlDistanceDefault uint8) *Server {
	s := &Server{lookup: svc, store: store, fetcher: fetcher, urlDefault: urlDistanceDefault, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /hashes", s.withAuth(s.handleLookupByHashes))
	s.mux.HandleFunc("POST /image", s.withAuth(s.handleLookupByImage))
	s.mux.HandleFunc("GET /url", s.withAuth(s.handleLookupByURL))
	s.mux.HandleFunc("GET /furaffinity/file_id", s.withAuth(s.handleFurAffinityFileID))
	s.mux.HandleFunc("GET /limits", s.withAuth(s.handleLimits))
	s.mux.HandleFunc("GET /known/{service}", s.handleKnown)

	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}
