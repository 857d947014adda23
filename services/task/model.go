package task

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusSuccess JobStatus = "success"
	JobStatusFailed  JobStatus = "failed"
)

// JobRun is an execution record for one enqueued sweep.
type JobRun struct {
	ID          string         `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Task        string         `gorm:"column:task;type:varchar(100);not null;index" json:"task"`
	Status      JobStatus      `gorm:"column:status;type:varchar(20);default:'pending'" json:"status"`
	ErrorMsg    string         `gorm:"column:error_msg;type:text" json:"error_msg,omitempty"`
	StartedAt   *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	Metadata    datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (JobRun) TableName() string { return "job_runs" }

type payload struct {
	JobID string `json:"job_id"`
}

// RetentionResult reports rows removed by one retention pass.
type RetentionResult struct {
	RequestLogs int64 `json:"request_logs"`
	FraudLogs   int64 `json:"fraud_logs"`
}
