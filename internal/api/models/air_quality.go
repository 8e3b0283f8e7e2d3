package models

import (
	"github.com/airgrid/airgrid/internal/anomaly"
	"github.com/airgrid/airgrid/internal/reading"
)

// IngestAccepted acknowledges a reading queued for processing.
type IngestAccepted struct {
	Status    string          `json:"status"`
	MessageID string          `json:"message_id"`
	Reading   reading.Reading `json:"reading"`
}

// Stream message types.
const (
	StreamConnectionStatus = "connection_status"
	StreamNewAnomaly       = "new_anomaly"
	StreamPong             = "pong"
)

// StreamMessage is one frame of the anomaly websocket.
type StreamMessage struct {
	Type    string           `json:"type"`
	Message string           `json:"message,omitempty"`
	Payload *anomaly.Anomaly `json:"payload,omitempty"`
}
