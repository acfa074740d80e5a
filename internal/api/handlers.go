package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mattjoyce/dispatchd/internal/bucket"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ids := s.registry.BucketList(true)
	resp := HealthzResponse{
		Status:         "ok",
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		BucketsTracked: len(ids),
		ChildrenActive: s.totalActive(ids),
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleBucketList handles GET /buckets.
func (s *Server) handleBucketList(w http.ResponseWriter, r *http.Request) {
	ids := s.registry.BucketList(true)
	sort.Strings(ids)

	summaries := make([]BucketSummary, 0, len(ids))
	for _, id := range ids {
		b, ok := s.registry.Get(id)
		if !ok {
			continue
		}
		summaries = append(summaries, s.bucketSummary(b))
	}
	respondJSON(w, http.StatusOK, summaries)
}

// handleBucketShow handles GET /buckets/{bucketID}.
func (s *Server) handleBucketShow(w http.ResponseWriter, r *http.Request) {
	bucketID := chi.URLParam(r, "bucketID")
	b, ok := s.registry.Get(bucketID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "bucket not found")
		return
	}
	respondJSON(w, http.StatusOK, s.bucketSummary(b))
}

func (s *Server) bucketSummary(b *bucket.Bucket) BucketSummary {
	return BucketSummary{
		ID:              b.ID,
		MaxChildren:     b.MaxChildren,
		MaxWorkPerChild: b.MaxWorkPerChild,
		ChildMaxRunTime: b.ChildMaxRunTime,
		SingleWorkItem:  b.SingleWorkItem,
		PersistentMode:  b.PersistentMode,
		QueueDepth:      s.registry.WorkSetsCount(b.ID, false),
		ChildrenActive:  s.table.CountActive(b.ID),
	}
}

func (s *Server) totalActive(ids []string) int {
	total := 0
	for _, id := range ids {
		total += s.table.CountActive(id)
	}
	return total
}

// handleWorkAdd handles POST /buckets/{bucketID}/work. The bucket must
// already exist (created via config or bucket.Registry.AddBucket) —
// the admin API doesn't implicitly create buckets.
func (s *Server) handleWorkAdd(w http.ResponseWriter, r *http.Request) {
	bucketID := chi.URLParam(r, "bucketID")
	if !s.registry.BucketExists(bucketID) {
		s.writeError(w, http.StatusNotFound, "bucket not found")
		return
	}

	var req WorkRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	identifier := req.Identifier
	if identifier == "" {
		identifier = uuid.NewString()
	}

	var item any
	if len(req.Item) > 0 {
		if err := json.Unmarshal(req.Item, &item); err != nil {
			s.writeError(w, http.StatusBadRequest, "item must be valid JSON")
			return
		}
	}

	s.registry.AddWork(bucketID, identifier, item)
	s.logger.Info("work added via API", "bucket", bucketID, "identifier", identifier)

	resp := WorkResponse{
		Bucket:     bucketID,
		Identifier: identifier,
		QueueDepth: s.registry.WorkSetsCount(bucketID, false),
	}
	respondJSON(w, http.StatusAccepted, resp)
}

// respondJSON writes data as a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON ErrorResponse.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
