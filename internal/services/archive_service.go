package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"

	"flowboard/internal/models"
)

// ArchiveService runs the periodic auto-archive sweep: tasks sitting in a
// terminal column with a completion timestamp older than their project's
// configured window are marked archived. Archived tasks drop out of the
// default board views but are never deleted by the sweep.
type ArchiveService struct {
	projects  *ProjectStore
	columns   *ColumnStore
	tasks     *TaskStore
	bus       *BoardEventBus
	pubsub    *PubSubService // Optional
	scheduler gocron.Scheduler
	cronExpr  string
}

// NewArchiveService validates the cron expression and prepares the sweep.
func NewArchiveService(cronExpr string, projects *ProjectStore, columns *ColumnStore, tasks *TaskStore, bus *BoardEventBus, pubsub *PubSubService) (*ArchiveService, error) {
	if _, err := cron.ParseStandard(cronExpr); err != nil {
		return nil, fmt.Errorf("invalid archive sweep cron %q: %w", cronExpr, err)
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create archive scheduler: %w", err)
	}

	return &ArchiveService{
		projects:  projects,
		columns:   columns,
		tasks:     tasks,
		bus:       bus,
		pubsub:    pubsub,
		scheduler: scheduler,
		cronExpr:  cronExpr,
	}, nil
}

// Start schedules the sweep and begins running it.
func (s *ArchiveService) Start() error {
	_, err := s.scheduler.NewJob(
		gocron.CronJob(s.cronExpr, false),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := s.Sweep(ctx); err != nil {
				log.Printf("❌ [ARCHIVE] Sweep failed: %v", err)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule archive sweep: %w", err)
	}

	s.scheduler.Start()
	log.Printf("✅ [ARCHIVE] Sweep scheduled: %s", s.cronExpr)
	return nil
}

// Stop shuts the scheduler down, waiting for a running sweep to finish.
func (s *ArchiveService) Stop() {
	if err := s.scheduler.Shutdown(); err != nil {
		log.Printf("⚠️ [ARCHIVE] Scheduler shutdown: %v", err)
	}
}

// NextRun returns when the sweep fires next, for the health surface.
func (s *ArchiveService) NextRun() time.Time {
	schedule, err := cron.ParseStandard(s.cronExpr)
	if err != nil {
		return time.Time{}
	}
	return schedule.Next(time.Now())
}

// Sweep walks every project with an archive policy and archives the tasks
// whose completion has aged past the policy window.
func (s *ArchiveService) Sweep(ctx context.Context) error {
	projects, err := s.projects.ListSweepable(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sweepable projects: %w", err)
	}

	var archivedTotal int
	now := time.Now().UnixMilli()
	for _, project := range projects {
		n, err := s.sweepProject(ctx, project, now)
		if err != nil {
			log.Printf("⚠️ [ARCHIVE] Project %s: %v", project.ID, err)
			continue
		}
		archivedTotal += n
	}

	if archivedTotal > 0 {
		log.Printf("✅ [ARCHIVE] Sweep archived %d tasks across %d projects", archivedTotal, len(projects))
	}
	return nil
}

func (s *ArchiveService) sweepProject(ctx context.Context, project *models.Project, now int64) (int, error) {
	window := project.ArchivePolicy.WindowMillis()
	if window == 0 {
		return 0, nil
	}

	terminal, err := s.columns.TerminalIDs(ctx, project.ID)
	if err != nil {
		return 0, err
	}
	if len(terminal) == 0 {
		return 0, nil
	}

	archived, err := s.tasks.ArchiveCompletedBefore(ctx, project.ID, terminal, now-window, now)
	if err != nil {
		return 0, err
	}

	if m := GetMetrics(); m != nil {
		m.ArchivedTasks.Add(float64(len(archived)))
	}
	for _, task := range archived {
		event := models.BoardEvent{
			Type:      models.EventTaskUpserted,
			ProjectID: project.ID,
			Task:      task,
			Timestamp: now,
		}
		s.bus.Publish(project.ID, event)
		if s.pubsub != nil {
			if err := s.pubsub.PublishBoardEvent(ctx, event); err != nil {
				log.Printf("⚠️ [ARCHIVE] Cross-instance publish failed: %v", err)
			}
		}
	}
	return len(archived), nil
}
