package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/studyforge/gateway/internal/config"
	"github.com/studyforge/gateway/internal/database"
	apperrors "github.com/studyforge/gateway/internal/errors"
	"github.com/studyforge/gateway/internal/model"
	"github.com/studyforge/gateway/internal/notify"
	"github.com/studyforge/gateway/internal/repository"
	"github.com/studyforge/gateway/internal/util"
)

type DisableGameResult struct {
	Game               *model.Game `json:"game"`
	RevokedCredentials int64       `json:"revokedCredentials"`
	NotificationID     string      `json:"notificationId"`
}

type gameDisabledPayload struct {
	GameID             string     `json:"gameId"`
	GameName           string     `json:"gameName"`
	RevokedCredentials int64      `json:"revokedCredentials"`
	DisabledAt         *time.Time `json:"disabledAt,omitempty"`
}

type AuditService struct {
	db             database.Transactor
	logs           repository.AILogRepository
	games          repository.GameRepository
	credentials    *CredentialService
	notifications  repository.NotificationRepository
	sink           notify.Sink
	spikeThreshold int
}

func NewAuditService(
	db database.Transactor,
	logs repository.AILogRepository,
	games repository.GameRepository,
	credentials *CredentialService,
	notifications repository.NotificationRepository,
	sink notify.Sink,
	spikeThreshold int,
) *AuditService {
	return &AuditService{
		db:             db,
		logs:           logs,
		games:          games,
		credentials:    credentials,
		notifications:  notifications,
		sink:           sink,
		spikeThreshold: spikeThreshold,
	}
}

func (s *AuditService) SpikeThreshold() int {
	return s.spikeThreshold
}

// RecentLogs returns the newest logs first.
func (s *AuditService) RecentLogs(ctx context.Context, limit int) ([]model.AIInteractionLog, error) {
	logs, err := s.logs.ListRecent(ctx, limit)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return logs, nil
}

// Spikes reports (session, game) pairs with more than threshold AI calls.
// A nil threshold uses the configured default.
func (s *AuditService) Spikes(ctx context.Context, threshold *int) ([]model.TokenSpike, error) {
	t := s.spikeThreshold
	if threshold != nil {
		t = *threshold
	}
	if t < 0 {
		return nil, apperrors.InvalidInput("threshold", "must not be negative")
	}
	spikes, err := s.logs.Spikes(ctx, t)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return spikes, nil
}

func (s *AuditService) Flagged(ctx context.Context, limit, offset int) ([]model.AIInteractionLog, error) {
	logs, err := s.logs.ListFlagged(ctx, limit, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return logs, nil
}

// SetFlag sets or clears the review flag on a log. Clearing drops the reason.
func (s *AuditService) SetFlag(ctx context.Context, id string, flagged bool, reason *string) (*model.AIInteractionLog, error) {
	if !util.IsValidUUID(id) {
		return nil, apperrors.NotFound("Log")
	}
	if reason != nil {
		trimmed := strings.TrimSpace(*reason)
		if trimmed == "" {
			reason = nil
		} else {
			reason = &trimmed
		}
	}
	entry, err := s.logs.SetFlag(ctx, id, flagged, reason)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if entry == nil {
		return nil, apperrors.NotFound("Log")
	}
	return entry, nil
}

// DisableGame disables the game, revokes its credentials and queues a
// notification for its owner in one transaction. The notification push
// happens after commit and its failure does not fail the call.
func (s *AuditService) DisableGame(ctx context.Context, gameID string) (*DisableGameResult, error) {
	if !util.IsValidUUID(gameID) {
		return nil, apperrors.NotFound("Game")
	}

	var result DisableGameResult
	var notification *model.Notification
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		game, err := s.games.WithTx(tx).Disable(ctx, gameID)
		if err != nil {
			return apperrors.Database(err)
		}
		if game == nil {
			return apperrors.NotFound("Game")
		}

		revoked, err := s.credentials.WithTx(tx).RevokeAll(ctx, gameID)
		if err != nil {
			return err
		}

		payload, err := json.Marshal(gameDisabledPayload{
			GameID:             game.ID,
			GameName:           game.Name,
			RevokedCredentials: revoked,
			DisabledAt:         game.DisabledAt,
		})
		if err != nil {
			return apperrors.Internal("Failed to encode notification").WithCause(err)
		}

		notification, err = s.notifications.WithTx(tx).Create(ctx, model.CreateNotificationParams{
			RecipientID: game.OwnerID,
			Type:        model.NotificationTypeGameDisabled,
			Payload:     payload,
		})
		if err != nil {
			return apperrors.Database(err)
		}

		result.Game = game
		result.RevokedCredentials = revoked
		result.NotificationID = notification.ID
		return nil
	})
	if err != nil {
		if apperrors.IsAppError(err) {
			return nil, err
		}
		return nil, apperrors.Database(err)
	}

	s.deliver(ctx, notification)
	return &result, nil
}

func (s *AuditService) deliver(ctx context.Context, n *model.Notification) {
	if s.sink == nil || n == nil {
		return
	}
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.AuditWriteTimeout)
	defer cancel()

	if err := s.sink.Publish(pushCtx, n.RecipientID, notify.EventFromNotification(n)); err != nil {
		log.Warn().Err(err).Str("notificationId", n.ID).Msg("notification push failed, left in outbox")
		return
	}
	if err := s.notifications.MarkDelivered(pushCtx, n.ID); err != nil {
		log.Warn().Err(err).Str("notificationId", n.ID).Msg("failed to mark notification delivered")
	}
}
