package jobs

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pulsekit/fitvault/internal/models"
	"github.com/pulsekit/fitvault/internal/store"
)

// Scheduler manages background jobs
type Scheduler struct {
	cron        *cron.Cron
	pending     store.PendingStore
	connections store.ConnectionStore
}

// NewScheduler creates a new job scheduler
func NewScheduler(pending store.PendingStore, connections store.ConnectionStore) *Scheduler {
	return &Scheduler{
		cron:        cron.New(),
		pending:     pending,
		connections: connections,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	// Garbage-collect expired pending authorization requests every 10
	// minutes; abandoned connect flows must not accumulate.
	s.cron.AddFunc("*/10 * * * *", func() {
		s.cleanupPendingRequests()
	})

	// Report connections stuck in needs_reauth daily at 4:00 AM so
	// operators can chase up users who never reconnected.
	s.cron.AddFunc("0 4 * * *", func() {
		s.reportStaleConnections()
	})

	s.cron.Start()
	log.Println("Job scheduler started")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Job scheduler stopped")
}

func (s *Scheduler) cleanupPendingRequests() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deleted, err := s.pending.DeleteExpired(ctx)
	if err != nil {
		log.Printf("OAuth cleanup: failed to delete expired pending requests: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("OAuth cleanup: deleted %d expired pending requests", deleted)
	}
}

func (s *Scheduler) reportStaleConnections() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conns, err := s.connections.ListByStatus(ctx, models.StatusNeedsReauth)
	if err != nil {
		log.Printf("OAuth sweep: failed to list needs_reauth connections: %v", err)
		return
	}
	if len(conns) == 0 {
		return
	}

	byTenant := make(map[string]int)
	for _, conn := range conns {
		byTenant[conn.TenantID]++
	}
	for tenant, count := range byTenant {
		log.Printf("OAuth sweep: tenant=%s has %d connections awaiting re-auth", tenant, count)
	}
}
