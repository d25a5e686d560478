package models

import (
	"testing"
	"time"
)

func TestTaskStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status TaskStatus
		want   bool
	}{
		{"pending is valid", TaskStatusPending, true},
		{"starting is valid", TaskStatusStarting, true},
		{"running is valid", TaskStatusRunning, true},
		{"completed is valid", TaskStatusCompleted, true},
		{"failed is valid", TaskStatusFailed, true},
		{"terminated is valid", TaskStatusTerminated, true},
		{"skipped is valid", TaskStatusSkipped, true},
		{"empty string is invalid", TaskStatus(""), false},
		{"lowercase is invalid", TaskStatus("pending"), false},
		{"unknown status is invalid", TaskStatus("BLOCKED"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("TaskStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{TaskStatusPending, false},
		{TaskStatusStarting, false},
		{TaskStatusRunning, false},
		{TaskStatusCompleted, true},
		{TaskStatusFailed, true},
		{TaskStatusTerminated, true},
		{TaskStatusSkipped, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("TaskStatus(%q).Terminal() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTask_Validate(t *testing.T) {
	tests := []struct {
		name    string
		task    *Task
		wantErr bool
	}{
		{"minimal task", &Task{Name: "a", Instruction: "do a"}, false},
		{"with deps and timeout", &Task{Name: "c", Instruction: "do c", DependsOn: []string{"a", "b"}, Timeout: time.Minute}, false},
		{"nil task", nil, true},
		{"empty name", &Task{Instruction: "x"}, true},
		{"blank name", &Task{Name: "  ", Instruction: "x"}, true},
		{"empty instruction", &Task{Name: "a"}, true},
		{"negative timeout", &Task{Name: "a", Instruction: "x", Timeout: -time.Second}, true},
		{"self dependency", &Task{Name: "a", Instruction: "x", DependsOn: []string{"a"}}, true},
		{"duplicate dependency", &Task{Name: "a", Instruction: "x", DependsOn: []string{"b", "b"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsConfigurationError(err) {
				t.Errorf("Validate() error = %T, want *ConfigurationError", err)
			}
		})
	}
}

func TestRun_Validate(t *testing.T) {
	base := func() *Run {
		return &Run{
			MaxParallel: 2,
			Mode:        ModeParallel,
			Tasks: []*Task{
				{Name: "a", Instruction: "x"},
				{Name: "b", Instruction: "y", DependsOn: []string{"a"}},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(r *Run)
		wantErr bool
	}{
		{"valid", func(r *Run) {}, false},
		{"empty mode defaults", func(r *Run) { r.Mode = "" }, false},
		{"no tasks", func(r *Run) { r.Tasks = nil }, true},
		{"zero max parallel", func(r *Run) { r.MaxParallel = 0 }, true},
		{"unknown mode", func(r *Run) { r.Mode = "swarm" }, true},
		{"duplicate names", func(r *Run) { r.Tasks[1].Name = "a"; r.Tasks[1].DependsOn = nil }, true},
		{"unknown dependency", func(r *Run) { r.Tasks[1].DependsOn = []string{"zzz"} }, true},
		{"colliding file names", func(r *Run) { r.Tasks[0].Name = "x y"; r.Tasks[1].Name = "x_y"; r.Tasks[1].DependsOn = nil }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base()
			tt.mutate(r)
			err := r.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRun_Task(t *testing.T) {
	r := &Run{Tasks: []*Task{{Name: "a"}, {Name: "b"}}}
	if got := r.Task("b"); got == nil || got.Name != "b" {
		t.Errorf("Task(%q) = %v, want task b", "b", got)
	}
	if got := r.Task("missing"); got != nil {
		t.Errorf("Task(%q) = %v, want nil", "missing", got)
	}
}

func TestRunStatus_ExitCode(t *testing.T) {
	tests := []struct {
		status RunStatus
		want   int
	}{
		{RunStatusCompleted, 0},
		{RunStatusPartiallyCompleted, 2},
		{RunStatusHalted, 1},
		{RunStatusRunning, 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.ExitCode(); got != tt.want {
				t.Errorf("RunStatus(%q).ExitCode() = %d, want %d", tt.status, got, tt.want)
			}
		})
	}
	if ExitConfigRejected != 78 {
		t.Errorf("ExitConfigRejected = %d, want 78", ExitConfigRejected)
	}
}

func TestConfigurationError_Error(t *testing.T) {
	err := &ConfigurationError{Reason: "cycle detected", Tasks: []string{"a", "b"}}
	want := "configuration rejected: cycle detected [a, b]"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"build-api", "build-api"},
		{"Build API", "Build_API"},
		{"a/b", "a_b"},
		{"../x", "___x"},
		{"", "_"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Slug(tt.in); got != tt.want {
				t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
