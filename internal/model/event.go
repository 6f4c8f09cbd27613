package model

import (
	"encoding/json"
	"time"
)

const EventSourceGameAPI = "game_api"

type TelemetryEvent struct {
	ID            string          `db:"id" json:"id"`
	ParticipantID string          `db:"participant_id" json:"participantId"`
	EventType     string          `db:"event_type" json:"eventType"`
	Timestamp     time.Time       `db:"timestamp" json:"timestamp"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
}

// EventPayload is the envelope stored in telemetry_events.payload.
type EventPayload struct {
	Data      json.RawMessage `json:"data"`
	GameID    string          `json:"gameId"`
	SessionID string          `json:"sessionId"`
	Source    string          `json:"source"`
}

type CreateEventParams struct {
	ParticipantID string
	EventType     string
	Payload       json.RawMessage
}
