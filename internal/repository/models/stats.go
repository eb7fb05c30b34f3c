// Package models contains data structures used by the repository layer.
package models

type QueueStats struct {
	Pending            int            `json:"pending"`
	Running            int            `json:"running"`
	Completed          int            `json:"completed"`
	Failed             int            `json:"failed"`
	Cancelled          int            `json:"cancelled"`
	TasksByType        map[string]int `json:"tasks_by_type"`
	AvgExecutionTimeMs float64        `json:"avg_execution_time_ms"`
	AvgWaitTimeMs      float64        `json:"avg_wait_time_ms"`
}
