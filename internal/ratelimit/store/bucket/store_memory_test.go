package bucket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"edushield/internal/ratelimit/models"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	now   time.Time
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.now = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	s.store.now = func() time.Time { return s.now }
}

func (s *InMemoryStoreSuite) TestAllowsUpToLimit() {
	ctx := context.Background()
	key := models.BucketKey("user-1", models.ProfilePublic)

	for i := 0; i < 60; i++ {
		res, err := s.store.Allow(ctx, key, 60, time.Minute)
		require.NoError(s.T(), err)
		require.True(s.T(), res.Allowed, "request %d should be allowed", i+1)
		require.Equal(s.T(), 60-(i+1), res.Remaining)
	}
}

func (s *InMemoryStoreSuite) TestRejectsBeyondLimit() {
	ctx := context.Background()
	key := models.BucketKey("user-1", models.ProfilePublic)

	for i := 0; i < 60; i++ {
		_, err := s.store.Allow(ctx, key, 60, time.Minute)
		require.NoError(s.T(), err)
	}

	s.now = s.now.Add(30 * time.Second)
	res, err := s.store.Allow(ctx, key, 60, time.Minute)
	require.NoError(s.T(), err)
	require.False(s.T(), res.Allowed)
	require.Equal(s.T(), 0, res.Remaining)
	require.Equal(s.T(), 30, res.RetryAfter)
}

func (s *InMemoryStoreSuite) TestWindowResets() {
	ctx := context.Background()
	key := models.BucketKey("user-1", models.ProfilePublic)

	for i := 0; i < 60; i++ {
		_, err := s.store.Allow(ctx, key, 60, time.Minute)
		require.NoError(s.T(), err)
	}

	res, err := s.store.Allow(ctx, key, 60, time.Minute)
	require.NoError(s.T(), err)
	require.False(s.T(), res.Allowed)

	s.now = s.now.Add(time.Minute)
	res, err = s.store.Allow(ctx, key, 60, time.Minute)
	require.NoError(s.T(), err)
	require.True(s.T(), res.Allowed)
	require.Equal(s.T(), 59, res.Remaining)
}

func (s *InMemoryStoreSuite) TestKeysAreIndependent() {
	ctx := context.Background()
	keyA := models.BucketKey("user-a", models.ProfileGeneration)
	keyB := models.BucketKey("user-b", models.ProfileGeneration)

	for i := 0; i < 10; i++ {
		_, err := s.store.Allow(ctx, keyA, 10, time.Hour)
		require.NoError(s.T(), err)
	}

	res, err := s.store.Allow(ctx, keyA, 10, time.Hour)
	require.NoError(s.T(), err)
	require.False(s.T(), res.Allowed)

	res, err = s.store.Allow(ctx, keyB, 10, time.Hour)
	require.NoError(s.T(), err)
	require.True(s.T(), res.Allowed)
}

func (s *InMemoryStoreSuite) TestStatusDoesNotConsume() {
	ctx := context.Background()
	key := models.BucketKey("user-1", models.ProfileAdmin)

	_, err := s.store.Allow(ctx, key, 300, time.Minute)
	require.NoError(s.T(), err)

	for i := 0; i < 5; i++ {
		res, err := s.store.Status(ctx, key, 300, time.Minute)
		require.NoError(s.T(), err)
		require.True(s.T(), res.Allowed)
		require.Equal(s.T(), 299, res.Remaining)
	}
}

func (s *InMemoryStoreSuite) TestStatusOnUnknownKeyReportsFullBudget() {
	res, err := s.store.Status(context.Background(), "ratelimit:nobody:PUBLIC", 60, time.Minute)
	require.NoError(s.T(), err)
	require.True(s.T(), res.Allowed)
	require.Equal(s.T(), 60, res.Remaining)
}

func (s *InMemoryStoreSuite) TestReset() {
	ctx := context.Background()
	key := models.BucketKey("user-1", models.ProfilePublic)

	for i := 0; i < 60; i++ {
		_, err := s.store.Allow(ctx, key, 60, time.Minute)
		require.NoError(s.T(), err)
	}

	require.NoError(s.T(), s.store.Reset(ctx, key))

	res, err := s.store.Allow(ctx, key, 60, time.Minute)
	require.NoError(s.T(), err)
	require.True(s.T(), res.Allowed)
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}
