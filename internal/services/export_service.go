package services

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"flowboard/internal/models"
)

// ExportService renders a project snapshot as an .xlsx workbook: one sheet
// per column, tasks in board order.
type ExportService struct {
	projects *ProjectStore
	columns  *ColumnStore
	tasks    *TaskStore
}

// NewExportService creates the export service.
func NewExportService(projects *ProjectStore, columns *ColumnStore, tasks *TaskStore) *ExportService {
	return &ExportService{projects: projects, columns: columns, tasks: tasks}
}

var exportHeader = []string{"Title", "Priority", "Deadline", "Completed", "Assignees", "Labels", "Subtask Of", "Archived"}

// Export builds the workbook for a project the user is a member of.
func (s *ExportService) Export(ctx context.Context, projectID, userID string) (*bytes.Buffer, string, error) {
	project, err := s.projects.GetForMember(ctx, projectID, userID)
	if err != nil {
		return nil, "", err
	}
	columns, err := s.columns.ListByProject(ctx, projectID)
	if err != nil {
		return nil, "", err
	}
	tasks, err := s.tasks.ListByProject(ctx, projectID, true)
	if err != nil {
		return nil, "", err
	}

	labelNames := make(map[string]string, len(project.Labels))
	for _, l := range project.Labels {
		labelNames[l.ID] = l.Name
	}
	titleByID := make(map[string]string, len(tasks))
	byColumn := make(map[string][]*models.Task)
	for _, t := range tasks {
		titleByID[t.ID] = t.Title
		byColumn[t.ColumnID] = append(byColumn[t.ColumnID], t)
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, column := range columns {
		sheet := sheetName(column.Title, i)
		if i == 0 {
			f.SetSheetName("Sheet1", sheet)
		} else {
			if _, err := f.NewSheet(sheet); err != nil {
				return nil, "", fmt.Errorf("failed to create sheet for column %s: %w", column.ID, err)
			}
		}

		for col, title := range exportHeader {
			cell, _ := excelize.CoordinatesToCellName(col+1, 1)
			f.SetCellValue(sheet, cell, title)
		}

		items := byColumn[column.ID]
		sort.Slice(items, func(a, b int) bool {
			if items[a].OrderKey != items[b].OrderKey {
				return items[a].OrderKey < items[b].OrderKey
			}
			return items[a].ID < items[b].ID
		})
		for row, task := range items {
			values := []interface{}{
				task.Title,
				string(task.Priority),
				formatMillis(task.Deadline),
				formatMillis(task.CompletedAt),
				strings.Join(task.AssigneeIDs, ", "),
				joinLabels(task.LabelIDs, labelNames),
				titleByID[task.ParentID],
				task.Archived,
			}
			for col, v := range values {
				cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
				f.SetCellValue(sheet, cell, v)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", fmt.Errorf("failed to write workbook: %w", err)
	}

	filename := fmt.Sprintf("%s-%s.xlsx", sanitizeFilename(project.Name), time.Now().Format("2006-01-02"))
	return buf, filename, nil
}

// sheetName makes a column title safe and unique as an Excel sheet name
// (31 char limit, no special characters).
func sheetName(title string, index int) string {
	replacer := strings.NewReplacer("/", "-", "\\", "-", "?", "", "*", "", "[", "(", "]", ")", ":", "-")
	name := strings.TrimSpace(replacer.Replace(title))
	if name == "" {
		name = "Column"
	}
	suffix := fmt.Sprintf(" (%d)", index+1)
	if len(name)+len(suffix) > 31 {
		name = name[:31-len(suffix)]
	}
	return name + suffix
}

func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(" ", "-", "/", "-", "\\", "-")
	out := strings.ToLower(replacer.Replace(strings.TrimSpace(name)))
	if out == "" {
		out = "board"
	}
	return out
}

func joinLabels(ids []string, names map[string]string) string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := names[id]; ok {
			out = append(out, name)
		}
	}
	return strings.Join(out, ", ")
}

func formatMillis(ms *int64) string {
	if ms == nil {
		return ""
	}
	return time.UnixMilli(*ms).UTC().Format("2006-01-02 15:04")
}
