package tabular

import (
	"fmt"
	"strings"
)

// Task statuses used in the Progress sheet.
const (
	TaskNotStarted = "not_started"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskBlocked    = "blocked"
)

var progressHeader = []string{
	"phase", "task_id", "name", "status", "blockers", "completed_at", "notes",
}

// ProgressRange covers all data rows of the Progress sheet, header excluded.
const ProgressRange = SheetProgress + "!A2:G"

// SummaryRange covers all data rows of the Summary sheet, header excluded.
const SummaryRange = SheetSummary + "!A2:C"

// TaskRow is one row of the Progress sheet. Tasks are keyed by (phase,
// task_id); task IDs repeat across phases.
type TaskRow struct {
	Phase       string   `json:"phase"`
	TaskID      string   `json:"task_id"`
	Name        string   `json:"name"`
	Status      string   `json:"status"`
	Blockers    []string `json:"blockers,omitempty"`
	CompletedAt string   `json:"completed_at,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// Row converts the task to its positional sheet representation. Blockers are
// joined with commas.
func (t TaskRow) Row() []string {
	return []string{
		t.Phase, t.TaskID, t.Name, t.Status,
		strings.Join(t.Blockers, ","), t.CompletedAt, t.Notes,
	}
}

// ParseTaskRow converts a sheet row back to a TaskRow. Short rows are
// accepted; a row with no task_id is rejected since task_id is the key.
func ParseTaskRow(row []string) (TaskRow, error) {
	cell := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	t := TaskRow{
		Phase:       cell(0),
		TaskID:      cell(1),
		Name:        cell(2),
		Status:      cell(3),
		CompletedAt: cell(5),
		Notes:       cell(6),
	}
	if t.Status == "" {
		t.Status = TaskNotStarted
	}
	if b := cell(4); b != "" {
		for _, x := range strings.Split(b, ",") {
			if x = strings.TrimSpace(x); x != "" {
				t.Blockers = append(t.Blockers, x)
			}
		}
	}
	if t.TaskID == "" {
		return TaskRow{}, fmt.Errorf("progress row has no task_id: %v", row)
	}
	return t, nil
}

// ValidTaskStatus reports whether s is one of the known task statuses.
func ValidTaskStatus(s string) bool {
	switch s {
	case TaskNotStarted, TaskInProgress, TaskCompleted, TaskBlocked:
		return true
	}
	return false
}
