package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"fuzzysearch/internal/apierr"
	"fuzzysearch/internal/lookup"
	"fuzzysearch/internal/model"
)

func (s *Server) handleLookupByHashes(w http.ResponseWriter, r *http.Request) {
	key, _ := apiKeyFromContext(r.Context())

	raw := r.URL.Query().Get("hashes")
	if raw == "" {
		respondError(w, http.StatusBadRequest, "hashes must be provided")
		return
	}
	parts := strings.Split(raw, ",")
	hashes := make([]model.Hash, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid hash value")
			return
		}
		hashes = append(hashes, model.Hash(v))
	}

	distance, err := parseDistance(r.URL.Query().Get("distance"), lookup.DefaultDistance)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	remaining, err := lookup.Charge(r.Context(), s.store, key, model.BucketImage, len(hashes))
	if err != nil {
		s.respondLookupErr(w, err)
		return
	}

	results, err := s.lookup.LookupByHashes(r.Context(), hashes, distance)
	if err != nil {
		s.respondLookupErr(w, err)
		return
	}
	attachRateLimitHeaders(w, key, model.BucketImage, remaining)
	respondJSON(w, http.StatusOK, results)
}

func (s *Server) handleLookupByImage(w http.ResponseWriter, r *http.Request) {
	key, _ := apiKeyFromContext(r.Context())

	remaining, err := lookup.Charge(r.Context(), s.store, key, model.BucketImage, 1)
	if err != nil {
		s.respondLookupErr(w, err)
		return
	}
	hashRemaining, err := lookup.Charge(r.Context(), s.store, key, model.BucketHash, 1)
	if err != nil {
		s.respondLookupErr(w, err)
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing image part")
		return
	}
	defer file.Close()

	data, err := readAllLimited(file, lookup.MaxImageBytes)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	mode := lookup.Mode(r.FormValue("type"))
	if mode == "" {
		mode = lookup.ModeClose
	}

	hash, results, err := s.lookup.LookupByImage(r.Context(), data, mode)
	if err != nil {
		s.respondLookupErr(w, err)
		return
	}

	attachRateLimitHeaders(w, key, model.BucketImage, remaining)
	attachRateLimitHeaders(w, key, model.BucketHash, hashRemaining)
	w.Header().Set("x-image-hash", strconv.FormatInt(int64(hash), 10))
	respondJSON(w, http.StatusOK, map[string]any{"hash": hash, "matches": results})
}

func (s *Server) handleLookupByURL(w http.ResponseWriter, r *http.Request) {
	key, _ := apiKeyFromContext(r.Context())

	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		respondError(w, http.StatusBadRequest, "url is required")
		return
	}
	distance, err := parseDistance(r.URL.Query().Get("distance"), s.urlDefault)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	remaining, err := lookup.Charge(r.Context(), s.store, key, model.BucketImage, 1)
	if err != nil {
		s.respondLookupErr(w, err)
		return
	}
	hashRemaining, err := lookup.Charge(r.Context(), s.store, key, model.BucketHash, 1)
	if err != nil {
		s.respondLookupErr(w, err)
		return
	}

	data, err := s.fetcher.Fetch(r.Context(), rawURL)
	if err != nil {
		s.respondLookupErr(w, err)
		return
	}

	hash, results, err := s.lookup.LookupByImageAtDistance(r.Context(), data, distance)
	if err != nil {
		s.respondLookupErr(w, err)
		return
	}

	attachRateLimitHeaders(w, key, model.BucketImage, remaining)
	attachRateLimitHeaders(w, key, model.BucketHash, hashRemaining)
	w.Header().Set("x-image-hash", strconv.FormatInt(int64(hash), 10))
	respondJSON(w, http.StatusOK, map[string]any{"hash": hash, "matches": results})
}

func (s *Server) handleFurAffinityFileID(w http.ResponseWriter, r *http.Request) {
	key, _ := apiKeyFromContext(r.Context())

	fileID, err := strconv.ParseInt(r.URL.Query().Get("file_id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "file_id must be an integer")
		return
	}

	remaining, err := lookup.Charge(r.Context(), s.store, key, model.BucketName, 1)
	if err != nil {
		s.respondLookupErr(w, err)
		return
	}

	subs, err := s.store.SubmissionsByFurAffinityFileID(r.Context(), fileID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	attachRateLimitHeaders(w, key, model.BucketName, remaining)
	respondJSON(w, http.StatusOK, subs)
}

func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	key, _ := apiKeyFromContext(r.Context())
	respondJSON(w, http.StatusOK, map[string]int{
		"name":  key.NameLimit,
		"image": key.ImageLimit,
		"hash":  key.HashLimit,
	})
}

func (s *Server) handleKnown(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")
	handle := r.URL.Query().Get("handle")
	if service != "twitter" {
		respondJSON(w, http.StatusOK, false)
		return
	}
	known, err := s.store.KnownHandle(r.Context(), model.SiteTwitter, handle)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, known)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// attachRateLimitHeaders sets x-rate-limit-total-<bucket> (the quota
// configured for key on bucket) and x-rate-limit-remaining-<bucket>
// (what lookup.Charge computed from the same increment, no second
// query). Both are omitted for buckets with no configured limit.
func attachRateLimitHeaders(w http.ResponseWriter, key model.ApiKey, bucket model.RateLimitBucket, remaining int) {
	limit := key.Limit(bucket)
	if limit < 0 {
		return
	}
	w.Header().Set("x-rate-limit-total-"+string(bucket), strconv.Itoa(limit))
	w.Header().Set("x-rate-limit-remaining-"+string(bucket), strconv.Itoa(remaining))
}

func parseDistance(raw string, def uint8) (uint8, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New("distance must be between 0 and 10")
	}
	if v > lookup.MaxDistance {
		return 0, errors.New("distance too large")
	}
	return uint8(v), nil
}

func readAllLimited(r io.Reader, max int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > max {
		return nil, errors.New("image too large")
	}
	return body, nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"message": message})
}

func (s *Server) respondLookupErr(w http.ResponseWriter, err error) {
	var badReq *apierr.BadRequestError
	var rateLimited *apierr.RateLimitedError
	var upstream *apierr.UpstreamUnavailableError
	switch {
	case errors.As(err, &badReq):
		respondError(w, http.StatusBadRequest, badReq.Message)
	case errors.As(err, &rateLimited):
		respondJSON(w, http.StatusTooManyRequests, map[string]any{
			"bucket":      rateLimited.Bucket,
			"retry_after": rateLimited.RetryAfter,
		})
	case errors.As(err, &upstream):
		respondError(w, http.StatusInternalServerError, "internal error")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
