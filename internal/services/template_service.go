package services

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"flowboard/internal/models"
)

// BoardTemplate describes what a freshly created project starts with:
// default columns, labels, feature flags and archive policy.
type BoardTemplate struct {
	Columns []TemplateColumn `yaml:"columns"`
	Labels  []TemplateLabel  `yaml:"labels"`
	Features struct {
		Subtasks  bool `yaml:"subtasks"`
		Deadlines bool `yaml:"deadlines"`
		Labels    bool `yaml:"labels"`
		Dashboard bool `yaml:"dashboard"`
	} `yaml:"features"`
	ArchivePolicy string `yaml:"archive_policy"`
}

// TemplateColumn is one default column. Terminal marks the column whose
// completed tasks the auto-archive sweep may hide.
type TemplateColumn struct {
	Title    string `yaml:"title"`
	Terminal bool   `yaml:"terminal"`
}

// TemplateLabel is one default project label.
type TemplateLabel struct {
	Name  string `yaml:"name"`
	Color string `yaml:"color"`
}

// DefaultBoardTemplate is used when no template file is configured or the
// file cannot be read.
func DefaultBoardTemplate() *BoardTemplate {
	t := &BoardTemplate{
		Columns: []TemplateColumn{
			{Title: "To Do"},
			{Title: "In Progress"},
			{Title: "Done", Terminal: true},
		},
		Labels: []TemplateLabel{
			{Name: "Bug", Color: "#ef4444"},
			{Name: "Feature", Color: "#3b82f6"},
		},
		ArchivePolicy: string(models.ArchiveNever),
	}
	t.Features.Subtasks = true
	t.Features.Deadlines = true
	t.Features.Labels = true
	t.Features.Dashboard = true
	return t
}

// TemplateService loads the board template and keeps it fresh: edits to
// the file on disk are picked up without a restart.
type TemplateService struct {
	path     string
	mu       sync.RWMutex
	current  *BoardTemplate
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
}

// NewTemplateService loads the template from path. A missing or broken
// file falls back to the built-in default rather than failing startup.
func NewTemplateService(path string) *TemplateService {
	s := &TemplateService{
		path:     path,
		current:  DefaultBoardTemplate(),
		stopChan: make(chan struct{}),
	}
	if err := s.reload(); err != nil {
		log.Printf("⚠️ [TEMPLATE] Using built-in board template: %v", err)
	}
	return s
}

// Current returns the active template. The returned value must not be
// mutated by callers.
func (s *TemplateService) Current() *BoardTemplate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// reload parses the file and swaps the active template on success.
func (s *TemplateService) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read board template: %w", err)
	}

	var tmpl BoardTemplate
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return fmt.Errorf("failed to parse board template: %w", err)
	}
	if err := validateTemplate(&tmpl); err != nil {
		return fmt.Errorf("invalid board template: %w", err)
	}

	s.mu.Lock()
	s.current = &tmpl
	s.mu.Unlock()
	log.Printf("✅ [TEMPLATE] Loaded board template: %d columns, %d labels", len(tmpl.Columns), len(tmpl.Labels))
	return nil
}

func validateTemplate(t *BoardTemplate) error {
	if len(t.Columns) == 0 {
		return fmt.Errorf("template must define at least one column")
	}
	for _, c := range t.Columns {
		if c.Title == "" {
			return fmt.Errorf("template column with empty title")
		}
	}
	if t.ArchivePolicy != "" && !models.ValidArchivePolicy(models.ArchivePolicy(t.ArchivePolicy)) {
		return fmt.Errorf("unknown archive policy %q", t.ArchivePolicy)
	}
	return nil
}

// Watch starts the fsnotify watcher. Editors tend to fire several events
// per save, so reloads are debounced.
func (s *TemplateService) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create template watcher: %w", err)
	}
	if err := watcher.Add(s.path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.path, err)
	}
	s.watcher = watcher

	go func() {
		var debounce *time.Timer
		for {
			select {
			case <-s.stopChan:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					if err := s.reload(); err != nil {
						log.Printf("⚠️ [TEMPLATE] Reload failed, keeping previous template: %v", err)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️ [TEMPLATE] Watcher error: %v", err)
			}
		}
	}()

	log.Printf("👀 [TEMPLATE] Watching %s for changes", s.path)
	return nil
}

// Stop tears the watcher down.
func (s *TemplateService) Stop() {
	close(s.stopChan)
	if s.watcher != nil {
		s.watcher.Close()
	}
}
