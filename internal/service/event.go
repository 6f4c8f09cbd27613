package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/studyforge/gateway/internal/errors"
	"github.com/studyforge/gateway/internal/model"
	"github.com/studyforge/gateway/internal/repository"
)

type RecordedEvent struct {
	EventID    string    `json:"eventId"`
	RecordedAt time.Time `json:"recordedAt"`
}

type EventService struct {
	sessions SessionResolver
	repo     repository.EventRepository
}

func NewEventService(sessions SessionResolver, repo repository.EventRepository) *EventService {
	return &EventService{sessions: sessions, repo: repo}
}

func (s *EventService) Record(ctx context.Context, gameID, sessionID, eventType string, payload json.RawMessage) (*RecordedEvent, error) {
	if sessionID == "" {
		return nil, apperrors.MissingRequired("sessionId")
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, apperrors.MissingRequired("eventType")
	}
	if len(payload) == 0 || string(payload) == "null" {
		payload = json.RawMessage(`{}`)
	} else if !json.Valid(payload) {
		return nil, apperrors.InvalidInput("payload", "must be valid JSON")
	}

	session, err := s.sessions.Resolve(ctx, gameID, sessionID)
	if err != nil {
		return nil, err
	}

	envelope, err := json.Marshal(model.EventPayload{
		Data:      payload,
		GameID:    gameID,
		SessionID: session.SessionID,
		Source:    model.EventSourceGameAPI,
	})
	if err != nil {
		return nil, apperrors.Internal("Failed to encode event payload").WithCause(err)
	}

	event, err := s.repo.Create(ctx, model.CreateEventParams{
		ParticipantID: session.ParticipantID,
		EventType:     eventType,
		Payload:       envelope,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	return &RecordedEvent{EventID: event.ID, RecordedAt: event.Timestamp}, nil
}
