package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"edushield/internal/audit"
)

type FileStoreSuite struct {
	suite.Suite
	path  string
	store *Store
}

func (s *FileStoreSuite) SetupTest() {
	s.path = filepath.Join(s.T().TempDir(), "audit", "analytics_audit.log")
	store, err := New(s.path)
	require.NoError(s.T(), err)
	s.store = store
}

func (s *FileStoreSuite) TearDownTest() {
	s.store.Close()
}

func (s *FileStoreSuite) event(i int) audit.Event {
	return audit.Event{
		ID:        fmt.Sprintf("event-%d", i),
		Timestamp: time.Now().Unix(),
		Endpoint:  "/admin/analytics/overview",
		Action:    audit.ActionViewDashboard,
		Success:   true,
	}
}

func (s *FileStoreSuite) collect() []audit.Event {
	var out []audit.Event
	require.NoError(s.T(), s.store.Scan(context.Background(), func(e audit.Event) bool {
		out = append(out, e)
		return true
	}))
	return out
}

func (s *FileStoreSuite) TestAppendAndScanRoundTrip() {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(s.T(), s.store.Append(ctx, s.event(i)))
	}

	events := s.collect()
	require.Len(s.T(), events, 5)
	require.Equal(s.T(), "event-0", events[0].ID)
	require.Equal(s.T(), "event-4", events[4].ID)
}

func (s *FileStoreSuite) TestScanSkipsTornTailLine() {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(s.T(), s.store.Append(ctx, s.event(i)))
	}

	// Simulate a crash mid-append: a final line cut off before the closing brace.
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o640)
	require.NoError(s.T(), err)
	_, err = f.WriteString(`{"id":"event-torn","timestamp":17`)
	require.NoError(s.T(), err)
	require.NoError(s.T(), f.Close())

	events := s.collect()
	require.Len(s.T(), events, 3)
}

func (s *FileStoreSuite) TestScanSkipsGarbageLines() {
	ctx := context.Background()
	require.NoError(s.T(), s.store.Append(ctx, s.event(0)))

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o640)
	require.NoError(s.T(), err)
	_, err = f.WriteString("not json at all\n")
	require.NoError(s.T(), err)
	require.NoError(s.T(), f.Close())

	require.NoError(s.T(), s.store.Append(ctx, s.event(1)))

	events := s.collect()
	require.Len(s.T(), events, 2)
}

func (s *FileStoreSuite) TestScanStopsWhenCallbackReturnsFalse() {
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(s.T(), s.store.Append(ctx, s.event(i)))
	}

	var seen int
	require.NoError(s.T(), s.store.Scan(ctx, func(audit.Event) bool {
		seen++
		return seen < 4
	}))
	require.Equal(s.T(), 4, seen)
}

func (s *FileStoreSuite) TestScanOnMissingFileIsEmpty() {
	store := &Store{path: filepath.Join(s.T().TempDir(), "never-created.log")}
	var seen int
	require.NoError(s.T(), store.Scan(context.Background(), func(audit.Event) bool {
		seen++
		return true
	}))
	require.Zero(s.T(), seen)
}

func (s *FileStoreSuite) TestRotateStartsFreshFile() {
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(s.T(), s.store.Append(ctx, s.event(i)))
	}

	before, err := s.store.Size()
	require.NoError(s.T(), err)
	require.Greater(s.T(), before, int64(0))

	require.NoError(s.T(), s.store.Rotate())

	after, err := s.store.Size()
	require.NoError(s.T(), err)
	require.Zero(s.T(), after)
	require.Empty(s.T(), s.collect())

	// The archive kept the old events on disk.
	archives, err := filepath.Glob(s.path + ".*.archive")
	require.NoError(s.T(), err)
	require.Len(s.T(), archives, 1)

	require.NoError(s.T(), s.store.Append(ctx, s.event(99)))
	require.Len(s.T(), s.collect(), 1)
}

func TestFileStoreSuite(t *testing.T) {
	suite.Run(t, new(FileStoreSuite))
}
