package http

import "time"

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version,omitempty"`
	Services map[string]string `json:"services"`
	Counts   StatusCounts      `json:"counts"`
	Registry *RegistryStatus   `json:"registry,omitempty"`
}

// StatusCounts contains corpus counts. -1 means the store could not be read.
type StatusCounts struct {
	Chunks     int `json:"chunks"`
	Categories int `json:"categories"`
}

// RegistryStatus describes the category registry.
type RegistryStatus struct {
	Categories  int       `json:"categories"`
	RefreshedAt time.Time `json:"refreshed_at"`
	LastError   string    `json:"last_error,omitempty"`
}
