package jobs

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/meridian-gl/meridian-gl/internal/gl/close"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeCloseRun executes a period close in the background.
	TaskTypeCloseRun = "gl:close_run"
	// TaskTypeIntegrityCheck scans posted journals for imbalance.
	TaskTypeIntegrityCheck = "gl:integrity_check"
)

// CloseRunPayload carries one deferred close request. TaskID is handed back
// to the API caller so the run can be correlated with worker logs.
type CloseRunPayload struct {
	TaskID string           `json:"task_id"`
	Input  close.CloseInput `json:"input"`
}

// NewCloseRunTask constructs an Asynq task for a period close.
func NewCloseRunTask(in close.CloseInput) (*asynq.Task, string, error) {
	payload := CloseRunPayload{TaskID: uuid.NewString(), Input: in}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", err
	}
	return asynq.NewTask(TaskTypeCloseRun, body, asynq.Queue(QueueDefault)), payload.TaskID, nil
}

// NewIntegrityCheckTask constructs the periodic integrity scan task.
func NewIntegrityCheckTask() *asynq.Task {
	return asynq.NewTask(TaskTypeIntegrityCheck, nil, asynq.Queue(QueueDefault))
}
