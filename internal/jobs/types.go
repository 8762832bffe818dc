package jobs

import "time"

// Status は掃除ジョブの実行結果を表します。
type Status string

const (
	StatusSucceeded Status = "done"
	StatusFailed    Status = "error"
)

// ErrorInfo は掃除失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Message string `json:"message"`
}

// Report は直近の掃除ジョブの結果です。
type Report struct {
	TaskID     string     `json:"taskId,omitempty"`
	Status     Status     `json:"status"`
	Removed    int64      `json:"removed"`
	Error      *ErrorInfo `json:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt"`
}
