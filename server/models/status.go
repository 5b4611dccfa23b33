package models

import "time"

type SessionState string

const (
	StateIdle      SessionState = "idle"
	StateStarting  SessionState = "starting"
	StateStreaming SessionState = "streaming"
	StateStopped   SessionState = "stopped"
)

type SessionStats struct {
	StartTime       time.Time `json:"start_time"`
	Ticks           int64     `json:"ticks"`
	TicksDropped    int64     `json:"ticks_dropped"`
	FramesProcessed int64     `json:"frames_processed"`
	FramesFailed    int64     `json:"frames_failed"`
	AlertsRaised    int64     `json:"alerts_raised"`
	AverageLatency  float64   `json:"average_latency_ms"`
}

type SessionStatus struct {
	State          SessionState `json:"state"`
	Streaming      bool         `json:"streaming"`
	Detections     []Detection  `json:"detections"`
	DetectionCount int          `json:"detection_count"`
	DamageLevel    float64      `json:"damage_level"`
	HighDamage     bool         `json:"high_damage"`
	Alerts         []Alert      `json:"alerts"`
	Stats          SessionStats `json:"stats"`
	UpdatedAt      time.Time    `json:"updated_at"`
}
