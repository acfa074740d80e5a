package api

import "encoding/json"

// WorkRequest is the JSON body for POST /buckets/{id}/work.
type WorkRequest struct {
	Identifier string          `json:"identifier,omitempty"`
	Item       json.RawMessage `json:"item"`
}

// WorkResponse is returned on successful AddWork.
type WorkResponse struct {
	Bucket     string `json:"bucket"`
	Identifier string `json:"identifier,omitempty"`
	QueueDepth int    `json:"queue_depth"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status         string `json:"status"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	BucketsTracked int    `json:"buckets_tracked"`
	ChildrenActive int    `json:"children_active"`
}

// BucketSummary is one entry of GET /buckets.
type BucketSummary struct {
	ID              string `json:"id"`
	MaxChildren     int    `json:"max_children"`
	MaxWorkPerChild int    `json:"max_work_per_child"`
	ChildMaxRunTime int    `json:"child_max_run_time"`
	SingleWorkItem  bool   `json:"single_work_item"`
	PersistentMode  bool   `json:"persistent_mode"`
	QueueDepth      int    `json:"queue_depth"`
	ChildrenActive  int    `json:"children_active"`
}
