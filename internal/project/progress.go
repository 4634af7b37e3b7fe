package project

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spirrowgames/prismind/internal/rag"
	"github.com/spirrowgames/prismind/internal/tabular"
)

// sheetForProject resolves a project's spreadsheet and produces the common
// not-found / no-spreadsheet / sheets-down failure messages.
func (s *Service) sheetForProject(ctx context.Context, projectID string) (rag.ProjectConfig, string, error) {
	cfg, found, err := s.GetProject(ctx, projectID)
	if err != nil {
		return rag.ProjectConfig{}, "", err
	}
	if !found {
		return rag.ProjectConfig{}, fmt.Sprintf("project %q not found", projectID), nil
	}
	if cfg.SpreadsheetID == "" {
		return rag.ProjectConfig{}, fmt.Sprintf("project %q has no spreadsheet", projectID), nil
	}
	if !s.sheets.Available() {
		return rag.ProjectConfig{}, "sheets is unavailable", nil
	}
	return cfg, "", nil
}

// PhaseProgress groups a phase's tasks with a rolled-up status.
type PhaseProgress struct {
	Phase  string            `json:"phase"`
	Status string            `json:"status"`
	Tasks  []tabular.TaskRow `json:"tasks"`
}

// ProgressResult reports the outcome of GetProgress.
type ProgressResult struct {
	Success      bool            `json:"success"`
	Message      string          `json:"message"`
	Project      string          `json:"project,omitempty"`
	CurrentPhase string          `json:"current_phase,omitempty"`
	Phases       []PhaseProgress `json:"phases,omitempty"`
	Skipped      int             `json:"skipped,omitempty"`
}

// GetProgress reads the project's Progress sheet and groups tasks by phase in
// sheet order. A phase counts as completed when every task is, in_progress
// when any task is, not_started otherwise. CurrentPhase is the first
// in-progress phase, falling back to the first unfinished one. Completed
// tasks are omitted unless includeCompleted is set.
func (s *Service) GetProgress(ctx context.Context, projectID, phase string, includeCompleted bool) (ProgressResult, error) {
	cfg, msg, err := s.sheetForProject(ctx, projectID)
	if err != nil {
		return ProgressResult{}, err
	}
	if msg != "" {
		return ProgressResult{Message: msg, Project: projectID}, nil
	}

	rows, err := s.sheets.ReadRange(ctx, cfg.SpreadsheetID, tabular.ProgressRange)
	if err != nil {
		return ProgressResult{}, fmt.Errorf("reading progress sheet: %w", err)
	}

	var (
		order   []string
		byPhase = make(map[string][]tabular.TaskRow)
		rollup  = make(map[string]struct{ total, completed, inProgress int })
		skipped int
	)
	for _, row := range rows {
		task, err := tabular.ParseTaskRow(row)
		if err != nil {
			skipped++
			continue
		}
		if phase != "" && task.Phase != phase {
			continue
		}
		agg := rollup[task.Phase]
		agg.total++
		switch task.Status {
		case tabular.TaskCompleted:
			agg.completed++
		case tabular.TaskInProgress:
			agg.inProgress++
		}
		rollup[task.Phase] = agg
		if _, seen := byPhase[task.Phase]; !seen {
			order = append(order, task.Phase)
			byPhase[task.Phase] = nil
		}
		if task.Status == tabular.TaskCompleted && !includeCompleted {
			continue
		}
		byPhase[task.Phase] = append(byPhase[task.Phase], task)
	}

	var (
		phases  []PhaseProgress
		current string
	)
	for _, name := range order {
		agg := rollup[name]
		status := tabular.TaskNotStarted
		switch {
		case agg.completed == agg.total:
			status = tabular.TaskCompleted
		case agg.inProgress > 0:
			status = tabular.TaskInProgress
			if current == "" {
				current = name
			}
		}
		if current == "" && status != tabular.TaskCompleted {
			current = name
		}
		phases = append(phases, PhaseProgress{Phase: name, Status: status, Tasks: byPhase[name]})
	}

	return ProgressResult{
		Success:      true,
		Message:      fmt.Sprintf("found %d phase(s)", len(phases)),
		Project:      projectID,
		CurrentPhase: current,
		Phases:       phases,
		Skipped:      skipped,
	}, nil
}

// TaskUpdate are the partial inputs to UpdateTaskStatus. Status is required;
// nil Blockers and Notes keep their stored values. Phase disambiguates task
// IDs that repeat across phases.
type TaskUpdate struct {
	TaskID   string
	Status   string
	Phase    string
	Blockers *[]string
	Notes    *string
}

// TaskResult reports the outcome of UpdateTaskStatus and AddTask.
type TaskResult struct {
	Success       bool     `json:"success"`
	Message       string   `json:"message"`
	TaskID        string   `json:"task_id,omitempty"`
	UpdatedFields []string `json:"updated_fields,omitempty"`
}

// UpdateTaskStatus rewrites one task row in the Progress sheet. Completing a
// task stamps its completion date.
func (s *Service) UpdateTaskStatus(ctx context.Context, projectID string, u TaskUpdate) (TaskResult, error) {
	if u.TaskID == "" {
		return TaskResult{Message: "task_id is required"}, nil
	}
	if !tabular.ValidTaskStatus(u.Status) {
		return TaskResult{
			Message: fmt.Sprintf("unknown status %q: use not_started, in_progress, completed, or blocked", u.Status),
			TaskID:  u.TaskID,
		}, nil
	}

	cfg, msg, err := s.sheetForProject(ctx, projectID)
	if err != nil {
		return TaskResult{}, err
	}
	if msg != "" {
		return TaskResult{Message: msg, TaskID: u.TaskID}, nil
	}

	rows, err := s.sheets.ReadRange(ctx, cfg.SpreadsheetID, tabular.ProgressRange)
	if err != nil {
		return TaskResult{}, fmt.Errorf("reading progress sheet: %w", err)
	}

	// Row numbers are positional against the raw read, so malformed rows
	// keep their place.
	rowNum := 0
	var task tabular.TaskRow
	for i, row := range rows {
		t, err := tabular.ParseTaskRow(row)
		if err != nil {
			continue
		}
		if t.TaskID != u.TaskID {
			continue
		}
		if u.Phase != "" && t.Phase != u.Phase {
			continue
		}
		if rowNum != 0 {
			return TaskResult{
				Message: fmt.Sprintf("task %q appears in more than one phase; pass phase to disambiguate", u.TaskID),
				TaskID:  u.TaskID,
			}, nil
		}
		rowNum = i + 2
		task = t
	}
	if rowNum == 0 {
		return TaskResult{Message: fmt.Sprintf("task %q not found", u.TaskID), TaskID: u.TaskID}, nil
	}

	updated := []string{"status"}
	task.Status = u.Status
	if u.Status == tabular.TaskCompleted && task.CompletedAt == "" {
		task.CompletedAt = time.Now().UTC().Format("2006-01-02")
		updated = append(updated, "completed_at")
	}
	if u.Blockers != nil {
		task.Blockers = *u.Blockers
		updated = append(updated, "blockers")
	}
	if u.Notes != nil {
		task.Notes = *u.Notes
		updated = append(updated, "notes")
	}

	rng := fmt.Sprintf("%s!A%d:G%d", tabular.SheetProgress, rowNum, rowNum)
	if err := s.sheets.UpdateRange(ctx, cfg.SpreadsheetID, rng, [][]string{task.Row()}); err != nil {
		return TaskResult{}, fmt.Errorf("updating task row: %w", err)
	}

	return TaskResult{
		Success:       true,
		Message:       fmt.Sprintf("task %q updated", u.TaskID),
		TaskID:        u.TaskID,
		UpdatedFields: updated,
	}, nil
}

// AddTask appends a not-started task to the Progress sheet. The (phase,
// task_id) pair must be new.
func (s *Service) AddTask(ctx context.Context, projectID, phase, taskID, name, description string) (TaskResult, error) {
	if phase == "" || taskID == "" || name == "" {
		return TaskResult{Message: "phase, task_id, and name are required", TaskID: taskID}, nil
	}

	cfg, msg, err := s.sheetForProject(ctx, projectID)
	if err != nil {
		return TaskResult{}, err
	}
	if msg != "" {
		return TaskResult{Message: msg, TaskID: taskID}, nil
	}

	rows, err := s.sheets.ReadRange(ctx, cfg.SpreadsheetID, tabular.ProgressRange)
	if err != nil {
		return TaskResult{}, fmt.Errorf("reading progress sheet: %w", err)
	}
	for _, row := range rows {
		t, err := tabular.ParseTaskRow(row)
		if err != nil {
			continue
		}
		if t.TaskID == taskID && t.Phase == phase {
			return TaskResult{
				Message: fmt.Sprintf("task %q already exists in phase %q", taskID, phase),
				TaskID:  taskID,
			}, nil
		}
	}

	task := tabular.TaskRow{
		Phase:  phase,
		TaskID: taskID,
		Name:   name,
		Status: tabular.TaskNotStarted,
		Notes:  description,
	}
	if err := s.sheets.AppendRows(ctx, cfg.SpreadsheetID, tabular.ProgressRange, [][]string{task.Row()}); err != nil {
		return TaskResult{}, fmt.Errorf("appending task row: %w", err)
	}

	return TaskResult{
		Success:       true,
		Message:       fmt.Sprintf("task %q added to phase %q", taskID, phase),
		TaskID:        taskID,
		UpdatedFields: []string{"created"},
	}, nil
}

// SummaryResult reports the outcome of UpdateSummary.
type SummaryResult struct {
	Success       bool     `json:"success"`
	Message       string   `json:"message"`
	UpdatedFields []string `json:"updated_fields,omitempty"`
}

// UpdateSummary writes key-value sections to the project's Summary sheet.
// Existing sections are updated in place, new ones appended; every touched
// row is stamped with the update time.
func (s *Service) UpdateSummary(ctx context.Context, projectID string, fields map[string]string) (SummaryResult, error) {
	if len(fields) == 0 {
		return SummaryResult{Message: "nothing to update"}, nil
	}

	cfg, msg, err := s.sheetForProject(ctx, projectID)
	if err != nil {
		return SummaryResult{}, err
	}
	if msg != "" {
		return SummaryResult{Message: msg}, nil
	}

	rows, err := s.sheets.ReadRange(ctx, cfg.SpreadsheetID, tabular.SummaryRange)
	if err != nil {
		return SummaryResult{}, fmt.Errorf("reading summary sheet: %w", err)
	}
	rowOf := make(map[string]int, len(rows))
	for i, row := range rows {
		if len(row) > 0 && strings.TrimSpace(row[0]) != "" {
			rowOf[strings.TrimSpace(row[0])] = i + 2
		}
	}

	sections := make([]string, 0, len(fields))
	for section := range fields {
		sections = append(sections, section)
	}
	sort.Strings(sections)

	now := time.Now().UTC().Format(time.RFC3339)
	var appends [][]string
	for _, section := range sections {
		row := []string{section, fields[section], now}
		if n, ok := rowOf[section]; ok {
			rng := fmt.Sprintf("%s!A%d:C%d", tabular.SheetSummary, n, n)
			if err := s.sheets.UpdateRange(ctx, cfg.SpreadsheetID, rng, [][]string{row}); err != nil {
				return SummaryResult{}, fmt.Errorf("updating summary section %q: %w", section, err)
			}
		} else {
			appends = append(appends, row)
		}
	}
	if len(appends) > 0 {
		if err := s.sheets.AppendRows(ctx, cfg.SpreadsheetID, tabular.SummaryRange, appends); err != nil {
			return SummaryResult{}, fmt.Errorf("appending summary sections: %w", err)
		}
	}

	return SummaryResult{
		Success:       true,
		Message:       fmt.Sprintf("summary updated (%s)", strings.Join(sections, ", ")),
		UpdatedFields: sections,
	}, nil
}
