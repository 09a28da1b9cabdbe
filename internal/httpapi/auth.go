package httpapi

import (
	"context"
	"errors"
	"net/http"

	"fuzzysearch/internal/metadata"
	"fuzzysearch/internal/model"
)

// contextKey prevents collisions for context values, the same idiom
// this codebase's auth package uses for its current-user value.
type contextKey string

const apiKeyContextKey contextKey = "fuzzysearch.apikey"

func withAPIKey(ctx context.Context, k model.ApiKey) context.Context {
	return context.WithValue(ctx, apiKeyContextKey, k)
}

func apiKeyFromContext(ctx context.Context) (model.ApiKey, bool) {
	k, ok := ctx.Value(apiKeyContextKey).(model.ApiKey)
	return k, ok
}

// withAuth resolves the X-Api-Key header against the metadata store
// and rejects the request with 401 if it's missing or unknown.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		secret := r.Header.Get("X-Api-Key")
		if secret == "" {
			respondError(w, http.StatusUnauthorized, "missing X-Api-Key")
			return
		}
		key, err := s.store.LookupApiKey(r.Context(), secret)
		if errors.Is(err, metadata.ErrNotFound) {
			respondError(w, http.StatusUnauthorized, "unknown api key")
			return
		}
		if err != nil {
			respondError(w, http.StatusInternalServerError, "api key lookup failed")
			return
		}
		next(w, r.WithContext(withAPIKey(r.Context(), key)))
	}
}
