package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/studyforge/gateway/internal/errors"
	"github.com/studyforge/gateway/internal/notify"
	"github.com/studyforge/gateway/internal/util"
)

const HeartbeatInterval = 30 * time.Second

type NotificationSubscriber interface {
	Subscribe(ctx context.Context, recipientID string) <-chan notify.Event
}

// NotificationsHandler streams a researcher's notifications as server-sent
// events.
type NotificationsHandler struct {
	subscriber NotificationSubscriber
	heartbeat  time.Duration
}

func NewNotificationsHandler(subscriber NotificationSubscriber) *NotificationsHandler {
	return &NotificationsHandler{subscriber: subscriber, heartbeat: HeartbeatInterval}
}

// GET /admin/api/notifications/{recipientId}/stream
func (h *NotificationsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientId")
	if !util.IsValidUUID(recipientID) {
		writeError(w, apperrors.InvalidInput("recipientId", "must be a UUID"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx := r.Context()
	events := h.subscriber.Subscribe(ctx, recipientID)

	log.Info().Str("recipientId", recipientID).Msg("notification stream opened")

	if err := h.sendEvent(w, flusher, "connected", map[string]string{"recipientId": recipientID}); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("recipientId", recipientID).Msg("notification stream closed by client")
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			if err := h.sendEvent(w, flusher, event.Type, event); err != nil {
				log.Error().Err(err).Msg("failed to send notification event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *NotificationsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", jsonData); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
