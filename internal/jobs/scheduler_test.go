package jobs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pulsekit/fitvault/internal/models"
	"github.com/pulsekit/fitvault/internal/store"
)

func newTestScheduler(t *testing.T) (*Scheduler, *store.GormStore) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.OAuthConnection{}, &models.PendingRequest{}))

	s := store.NewGormStore(db)
	return NewScheduler(s, s), s
}

func TestCleanupPendingRequests(t *testing.T) {
	scheduler, s := newTestScheduler(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, s.Create(ctx, &models.PendingRequest{
		State: "expired", TenantID: "t1", UserID: "u1", Provider: "strava",
		CodeVerifier: "v", ExpiresAt: now.Add(-time.Hour),
	}))
	require.NoError(t, s.Create(ctx, &models.PendingRequest{
		State: "alive", TenantID: "t1", UserID: "u1", Provider: "strava",
		CodeVerifier: "v", ExpiresAt: now.Add(10 * time.Minute),
	}))

	scheduler.cleanupPendingRequests()

	_, err := s.Consume(ctx, "expired")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.Consume(ctx, "alive")
	assert.NoError(t, err)
}

func TestReportStaleConnectionsDoesNotPanicWhenEmpty(t *testing.T) {
	scheduler, _ := newTestScheduler(t)
	scheduler.reportStaleConnections()
}

func TestSchedulerStartStop(t *testing.T) {
	scheduler, _ := newTestScheduler(t)
	scheduler.Start()
	scheduler.Stop()
}
