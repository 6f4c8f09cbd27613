package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/studyforge/gateway/internal/clock"
	redisclient "github.com/studyforge/gateway/internal/redis"
)

type RateLimiterSuite struct {
	suite.Suite
	mr      *miniredis.Miniredis
	client  *redisclient.Client
	clock   *clock.FakeClock
	limiter *RateLimiter
}

func (s *RateLimiterSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.client = redisclient.Wrap(goredis.NewClient(&goredis.Options{Addr: s.mr.Addr()}))
	s.clock = clock.NewFake(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	s.limiter = NewRateLimiter(s.client, s.clock)
}

func (s *RateLimiterSuite) TearDownTest() {
	s.client.Close()
}

func (s *RateLimiterSuite) TestAllowsRequestsWithinLimit() {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		res := s.limiter.CheckLimit(ctx, "game", "cred-1", 3, time.Minute)
		s.True(res.Allowed, "request %d should be allowed", i+1)
		s.Equal(2-i, res.Remaining)
	}

	res := s.limiter.CheckLimit(ctx, "game", "cred-1", 3, time.Minute)
	s.False(res.Allowed)
	s.Equal(0, res.Remaining)
	s.True(res.ResetAt.After(s.clock.Now()))
}

func (s *RateLimiterSuite) TestSlidingWindow() {
	ctx := context.Background()
	s.True(s.limiter.CheckLimit(ctx, "ai", "cred-2", 2, time.Minute).Allowed)
	s.True(s.limiter.CheckLimit(ctx, "ai", "cred-2", 2, time.Minute).Allowed)
	s.False(s.limiter.CheckLimit(ctx, "ai", "cred-2", 2, time.Minute).Allowed)

	s.clock.Advance(61 * time.Second)
	s.True(s.limiter.CheckLimit(ctx, "ai", "cred-2", 2, time.Minute).Allowed)
}

func (s *RateLimiterSuite) TestScopesAndSubjectsAreIndependent() {
	ctx := context.Background()
	s.True(s.limiter.CheckLimit(ctx, "game", "a", 1, time.Minute).Allowed)
	s.False(s.limiter.CheckLimit(ctx, "game", "a", 1, time.Minute).Allowed)

	s.True(s.limiter.CheckLimit(ctx, "game", "b", 1, time.Minute).Allowed)
	s.True(s.limiter.CheckLimit(ctx, "ai", "a", 1, time.Minute).Allowed)
}

func (s *RateLimiterSuite) TestDeniesWhenRedisUnavailable() {
	s.mr.Close()
	res := s.limiter.CheckLimit(context.Background(), "game", "c", 10, time.Minute)
	s.False(res.Allowed)
}

func TestRateLimiterSuite(t *testing.T) {
	suite.Run(t, new(RateLimiterSuite))
}
