package models

import "time"

// WarmResult is the outcome of pre-computing one (video, persona) schedule
type WarmResult struct {
	Video    string `json:"video"`
	Persona  string `json:"persona"`
	Slots    int    `json:"slots"`
	Cached   bool   `json:"cached"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// WarmReport summarizes a cache warmer run for email delivery
type WarmReport struct {
	RunID     string        `json:"run_id"`
	Date      time.Time     `json:"date"`
	Results   []*WarmResult `json:"results"`
	Generated int           `json:"generated"`
	Hits      int           `json:"hits"`
	Failed    int           `json:"failed"`
}
