package service

import (
	"context"

	"github.com/studyforge/gateway/internal/clock"
	"github.com/studyforge/gateway/internal/config"
	apperrors "github.com/studyforge/gateway/internal/errors"
	"github.com/studyforge/gateway/internal/model"
	"github.com/studyforge/gateway/internal/repository"
	"github.com/studyforge/gateway/internal/util"
)

type AdminService struct {
	sessionRepo       repository.AdminSessionRepository
	adminPasswordHash string
	sessionSecret     string
	clock             clock.Clock
}

func NewAdminService(
	sessionRepo repository.AdminSessionRepository,
	adminPasswordHash, sessionSecret string,
	clk clock.Clock,
) *AdminService {
	return &AdminService{
		sessionRepo:       sessionRepo,
		adminPasswordHash: adminPasswordHash,
		sessionSecret:     sessionSecret,
		clock:             clk,
	}
}

func (s *AdminService) Configured() bool {
	return s.adminPasswordHash != ""
}

// Login checks the password and opens a session. It returns an empty token
// when the password is wrong.
func (s *AdminService) Login(ctx context.Context, password string) (string, error) {
	if !s.Configured() || !util.CheckPasswordHash(password, s.adminPasswordHash) {
		return "", nil
	}

	token, err := util.GenerateToken()
	if err != nil {
		return "", apperrors.Internal("Failed to generate session").WithCause(err)
	}

	_, err = s.sessionRepo.Create(ctx, model.CreateAdminSessionParams{
		TokenHash: s.hashToken(token),
		Role:      model.AdminRoleAdmin,
		ExpiresAt: s.clock.Now().Add(config.AdminSessionTTL),
	})
	if err != nil {
		return "", apperrors.Database(err)
	}

	return token, nil
}

func (s *AdminService) Logout(ctx context.Context, token string) error {
	if err := s.sessionRepo.DeleteByTokenHash(ctx, s.hashToken(token)); err != nil {
		return apperrors.Database(err)
	}
	return nil
}

// ValidateSession returns the live session for token, or nil.
func (s *AdminService) ValidateSession(ctx context.Context, token string) (*model.AdminSession, error) {
	if token == "" {
		return nil, nil
	}
	session, err := s.sessionRepo.FindByTokenHash(ctx, s.hashToken(token))
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil || session.Expired(s.clock.Now()) {
		return nil, nil
	}
	return session, nil
}

func (s *AdminService) hashToken(token string) string {
	return util.HmacSHA256(s.sessionSecret, token)
}
