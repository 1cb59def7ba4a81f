package jobs

import (
	"context"
	"log"
	"time"

	"flowboard/internal/services"
)

// NotificationCleanupJob purges read notifications older than the
// configured retention window. Unread notifications are never purged —
// an unseen invitation stays actionable until resolved.
type NotificationCleanupJob struct {
	notifications *services.NotificationStore
	retentionDays int
}

// NewNotificationCleanupJob creates the cleanup job.
func NewNotificationCleanupJob(notifications *services.NotificationStore, retentionDays int) *NotificationCleanupJob {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &NotificationCleanupJob{
		notifications: notifications,
		retentionDays: retentionDays,
	}
}

// Run deletes read notifications past retention.
func (j *NotificationCleanupJob) Run(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -j.retentionDays)
	deleted, err := j.notifications.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		log.Printf("🧹 [NOTIFY-CLEANUP] Deleted %d read notifications older than %d days", deleted, j.retentionDays)
	}
	return nil
}

// GetNextRunTime schedules the job for 03:00 local time each day.
func (j *NotificationCleanupJob) GetNextRunTime() time.Time {
	now := time.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), 3, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
