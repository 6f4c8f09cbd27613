package service

import (
	"context"
	"errors"

	"github.com/lib/pq"

	apperrors "github.com/studyforge/gateway/internal/errors"
	"github.com/studyforge/gateway/internal/model"
	"github.com/studyforge/gateway/internal/repository"
	"github.com/studyforge/gateway/internal/util"
)

const pqForeignKeyViolation = pq.ErrorCode("23503")

type ResolvedSession struct {
	SessionID     string
	ParticipantID string
}

// SessionResolver maps a session id to its participant within a game.
type SessionResolver interface {
	Resolve(ctx context.Context, gameID, sessionID string) (*ResolvedSession, error)
}

type SessionService struct {
	repo repository.GameSessionRepository
}

var _ SessionResolver = (*SessionService)(nil)

func NewSessionService(repo repository.GameSessionRepository) *SessionService {
	return &SessionService{repo: repo}
}

func (s *SessionService) Start(ctx context.Context, gameID, participantID string) (*model.GameSession, error) {
	if participantID == "" {
		return nil, apperrors.MissingRequired("participantId")
	}
	if !util.IsValidUUID(participantID) {
		return nil, apperrors.InvalidInput("participantId", "must be a UUID")
	}

	session, err := s.repo.Create(ctx, gameID, participantID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, apperrors.UnknownParticipant(err)
		}
		return nil, apperrors.Database(err)
	}
	return session, nil
}

// End closes an open session. A session that is unknown, owned by another
// game or already ended yields the same error.
func (s *SessionService) End(ctx context.Context, gameID, sessionID string, score *float64) (*model.GameSession, error) {
	if !util.IsValidUUID(sessionID) {
		return nil, apperrors.SessionNotFoundOrEnded()
	}
	session, err := s.repo.End(ctx, gameID, sessionID, score)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.SessionNotFoundOrEnded()
	}
	return session, nil
}

// Resolve does not check whether the session has ended.
func (s *SessionService) Resolve(ctx context.Context, gameID, sessionID string) (*ResolvedSession, error) {
	if !util.IsValidUUID(sessionID) {
		return nil, apperrors.NotFound("Session")
	}
	session, err := s.repo.FindForGame(ctx, gameID, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}
	return &ResolvedSession{SessionID: session.ID, ParticipantID: session.ParticipantID}, nil
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation
}
