package service

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/studyforge/gateway/internal/clock"
	"github.com/studyforge/gateway/internal/database"
	apperrors "github.com/studyforge/gateway/internal/errors"
	"github.com/studyforge/gateway/internal/jobs"
	"github.com/studyforge/gateway/internal/model"
	"github.com/studyforge/gateway/internal/repository"
	"github.com/studyforge/gateway/internal/util"
)

const (
	// CredentialSecretPrefix marks every issued game credential.
	CredentialSecretPrefix = "gk_"
	// PrefixLength is the number of leading characters stored in clear for lookup.
	PrefixLength = len(CredentialSecretPrefix) + 8

	// Characters of the prefix that may appear in logs.
	logPrefixLength = len(CredentialSecretPrefix) + 4

	credentialRandomBytes = 24
)

// SecretHasher hashes credential secrets. Compare must be constant time with
// respect to the secret.
type SecretHasher interface {
	Hash(secret string) (string, error)
	Compare(hash, secret string) bool
}

type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(secret string) (string, error) {
	return util.HashPassword(secret, h.Cost)
}

func (h BcryptHasher) Compare(hash, secret string) bool {
	return util.CheckPasswordHash(secret, hash)
}

// TaskDispatcher schedules work detached from the calling request.
type TaskDispatcher interface {
	Dispatch(name string, fn jobs.Task) bool
}

// PolicyReader returns the current security policy snapshot.
type PolicyReader interface {
	Get(ctx context.Context) (model.PolicySnapshot, error)
}

type VerifiedCredential struct {
	GameID       string
	CredentialID string
	Environment  model.Environment
}

type IssuedCredential struct {
	Credential *model.GameCredential `json:"credential"`
	// Secret is returned once and never stored.
	Secret string `json:"secret"`
}

type CredentialService struct {
	db         database.Transactor
	repo       repository.CredentialRepository
	games      repository.GameRepository
	hasher     SecretHasher
	dispatcher TaskDispatcher
	policy     PolicyReader
	clock      clock.Clock
}

func NewCredentialService(
	db database.Transactor,
	repo repository.CredentialRepository,
	games repository.GameRepository,
	hasher SecretHasher,
	dispatcher TaskDispatcher,
	policy PolicyReader,
	clk clock.Clock,
) *CredentialService {
	return &CredentialService{
		db:         db,
		repo:       repo,
		games:      games,
		hasher:     hasher,
		dispatcher: dispatcher,
		policy:     policy,
		clock:      clk,
	}
}

// WithTx returns a copy whose repository calls run on tx.
func (s *CredentialService) WithTx(tx *sqlx.Tx) *CredentialService {
	bound := *s
	bound.repo = s.repo.WithTx(tx)
	bound.games = s.games.WithTx(tx)
	return &bound
}

// Verify resolves a raw secret to the game it belongs to. Every failure,
// whether unknown, revoked or malformed, yields the same error.
func (s *CredentialService) Verify(ctx context.Context, raw string) (*VerifiedCredential, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) <= PrefixLength || !strings.HasPrefix(raw, CredentialSecretPrefix) {
		return nil, apperrors.InvalidCredential()
	}

	candidates, err := s.repo.FindActiveByPrefix(ctx, raw[:PrefixLength])
	if err != nil {
		return nil, apperrors.Database(err)
	}

	for i := range candidates {
		cred := &candidates[i]
		if !s.hasher.Compare(cred.KeyHash, raw) {
			continue
		}
		if s.expired(ctx, cred) {
			log.Info().
				Str("credentialId", cred.ID).
				Str("prefix", util.MaskSecret(cred.KeyPrefix, logPrefixLength)).
				Msg("credential past max key age")
			return nil, apperrors.InvalidCredential()
		}
		s.touch(cred.ID)
		return &VerifiedCredential{
			GameID:       cred.GameID,
			CredentialID: cred.ID,
			Environment:  cred.Environment,
		}, nil
	}

	return nil, apperrors.InvalidCredential()
}

func (s *CredentialService) expired(ctx context.Context, cred *model.GameCredential) bool {
	if s.policy == nil {
		return false
	}
	policy, err := s.policy.Get(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("policy unavailable, skipping key age check")
	}
	maxAge := policy.KeyLifecycle.MaxKeyAgeDays
	if maxAge <= 0 {
		return false
	}
	return s.clock.Now().Sub(cred.CreatedAt) > time.Duration(maxAge)*24*time.Hour
}

func (s *CredentialService) touch(id string) {
	if s.dispatcher == nil {
		return
	}
	at := s.clock.Now()
	repo := s.repo
	s.dispatcher.Dispatch("credential.touch", func(ctx context.Context) error {
		return repo.TouchLastUsed(ctx, id, at)
	})
}

// Issue creates a credential for the game and returns its secret. When the
// policy allows only one active key per environment, existing active keys
// for (gameID, env) are revoked in the same transaction.
func (s *CredentialService) Issue(ctx context.Context, gameID string, env model.Environment) (*IssuedCredential, error) {
	if env == "" {
		return nil, apperrors.MissingRequired("environment")
	}
	if !util.IsValidEnum(string(env), model.Environments) {
		return nil, apperrors.InvalidInput("environment", "must be development or production")
	}
	if !util.IsValidUUID(gameID) {
		return nil, apperrors.NotFound("Game")
	}

	singleActive := model.DefaultPolicy().KeyLifecycle.SingleActiveKeyPerEnvironment
	if s.policy != nil {
		policy, err := s.policy.Get(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("policy unavailable, using default key lifecycle")
		}
		singleActive = policy.KeyLifecycle.SingleActiveKeyPerEnvironment
	}

	random, err := util.RandomHex(credentialRandomBytes)
	if err != nil {
		return nil, apperrors.Internal("Failed to generate credential").WithCause(err)
	}
	secret := CredentialSecretPrefix + random

	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return nil, apperrors.Internal("Failed to hash credential").WithCause(err)
	}

	var cred *model.GameCredential
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		// A concurrent DisableGame either commits first and is seen here, or
		// waits on this lock and then revokes the key created below.
		game, err := s.games.WithTx(tx).FindByIDForUpdate(ctx, gameID)
		if err != nil {
			return apperrors.Database(err)
		}
		if game == nil {
			return apperrors.NotFound("Game")
		}
		if game.IsDisabled() {
			return apperrors.GameDisabled()
		}

		repo := s.repo.WithTx(tx)
		if singleActive {
			if _, err := repo.RevokeActiveForGameEnv(ctx, gameID, env); err != nil {
				return err
			}
		}
		created, err := repo.Create(ctx, model.CreateCredentialParams{
			GameID:      gameID,
			KeyPrefix:   secret[:PrefixLength],
			KeyHash:     hash,
			Environment: env,
		})
		if err != nil {
			return err
		}
		cred = created
		return nil
	})
	if err != nil {
		if apperrors.IsAppError(err) {
			return nil, err
		}
		return nil, apperrors.Database(err)
	}

	return &IssuedCredential{Credential: cred, Secret: secret}, nil
}

func (s *CredentialService) List(ctx context.Context, gameID string) ([]model.GameCredential, error) {
	if !util.IsValidUUID(gameID) {
		return []model.GameCredential{}, nil
	}
	creds, err := s.repo.ListByGame(ctx, gameID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return creds, nil
}

// Revoke deactivates one credential. Revoking an already revoked credential
// succeeds without changes.
func (s *CredentialService) Revoke(ctx context.Context, id string) (*model.GameCredential, error) {
	if !util.IsValidUUID(id) {
		return nil, apperrors.NotFound("Credential")
	}
	cred, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if cred == nil {
		return nil, apperrors.NotFound("Credential")
	}
	if !cred.IsActive {
		return cred, nil
	}

	if _, err := s.repo.Revoke(ctx, id); err != nil {
		return nil, apperrors.Database(err)
	}
	now := s.clock.Now()
	cred.IsActive = false
	cred.RevokedAt = &now
	return cred, nil
}

// RevokeMany deactivates the listed credentials and returns how many changed.
func (s *CredentialService) RevokeMany(ctx context.Context, ids []string) (int64, error) {
	valid := util.FilterUUIDs(ids)
	if len(valid) == 0 {
		return 0, nil
	}
	n, err := s.repo.RevokeByIDs(ctx, valid)
	if err != nil {
		return 0, apperrors.Database(err)
	}
	return n, nil
}

// RevokeAll deactivates every active credential of the game.
func (s *CredentialService) RevokeAll(ctx context.Context, gameID string) (int64, error) {
	if !util.IsValidUUID(gameID) {
		return 0, nil
	}
	n, err := s.repo.RevokeAllForGame(ctx, gameID)
	if err != nil {
		return 0, apperrors.Database(err)
	}
	return n, nil
}
