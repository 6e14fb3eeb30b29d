package dto

import "time"

// Zone is a polygon in normalized [0,1] frame coordinates.
// Points is a pointer so a missing field can be told apart from an empty list.
type Zone struct {
	Points *[][2]float64 `json:"points"`
	Label  string        `json:"label,omitempty"`
}

type SetZonesRequest struct {
	Zones *[]Zone `json:"zones"`
}

type SetZonesResponse struct {
	Message   string `json:"message"`
	ZoneCount int    `json:"zone_count"`
}

type ZonesResponse struct {
	Zones []Zone `json:"zones"`
}

type StartAnalysisRequest struct {
	FeedPath string `json:"feedPath" binding:"required"`
}

type AnalysisResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
}

type LiveCountsResponse struct {
	Counts []int `json:"counts"`
}

type StatusResponse struct {
	Running   bool       `json:"running"`
	SessionID string     `json:"session_id,omitempty"`
	FeedPath  string     `json:"feed_path,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Frames    uint64     `json:"frames"`
	LastError string     `json:"last_error,omitempty"`
	Counts    []int      `json:"counts"`
	Labels    []string   `json:"labels"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// WSCounts is pushed to WebSocket clients for every published snapshot.
type WSCounts struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Frame     uint64    `json:"frame"`
	Counts    []int     `json:"counts"`
	Labels    []string  `json:"labels"`
	Timestamp time.Time `json:"timestamp"`
}
