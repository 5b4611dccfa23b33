package models

import "time"

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityInfo     Severity = "info"
)

type Alert struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Timestamp string    `json:"timestamp"`
	Level     float64   `json:"level"`
	CreatedAt time.Time `json:"created_at"`
}
