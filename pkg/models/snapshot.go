package models

import "time"

// RunSnapshot is the status of a run at a point in time, including the
// per-task breakdown. It is always obtainable, even after a halt.
// OwnerPID is the process coordinating the run.
type RunSnapshot struct {
	ID          string         `json:"id"`
	Name        string         `json:"name,omitempty"`
	Mode        ExecutionMode  `json:"mode"`
	MaxParallel int            `json:"max_parallel"`
	Status      RunStatus      `json:"status"`
	Reason      string         `json:"reason,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   time.Time      `json:"started_at,omitempty"`
	EndedAt     time.Time      `json:"ended_at,omitempty"`
	Tasks       []TaskSnapshot `json:"tasks"`
	Counters    Counters       `json:"counters"`
	OwnerPID    int            `json:"owner_pid,omitempty"`
}

// CountByStatus tallies tasks per status.
func (s *RunSnapshot) CountByStatus() map[TaskStatus]int {
	counts := make(map[TaskStatus]int)
	for _, t := range s.Tasks {
		counts[t.Status]++
	}
	return counts
}

// TaskByName returns the snapshot of the named task.
func (s *RunSnapshot) TaskByName(name string) (TaskSnapshot, bool) {
	for _, t := range s.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return TaskSnapshot{}, false
}
