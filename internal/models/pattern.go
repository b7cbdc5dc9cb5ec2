package models

import "time"

// FailurePattern is a recurring cause signature mined from historical RCA
// reports.
type FailurePattern struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	Services    []string  `json:"services"`
	Occurrences int       `json:"occurrences"`
	Prevalence  float64   `json:"prevalence"`
	LastSeen    time.Time `json:"last_seen"`
}
