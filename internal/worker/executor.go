// Package worker runs one external worker process per task attempt.
package worker

import (
	"fmt"
	"os/exec"
)

// Invocation is everything an executor needs to build the worker command.
type Invocation struct {
	Instruction string
	Workspace   string
	Flags       []string
}

// Executor builds the command for an opaque external worker. The returned
// command must not be started; the Handle owns its lifecycle.
type Executor interface {
	Name() string
	Command(inv Invocation) (*exec.Cmd, error)
}

// ClaudeExecutor runs the claude CLI non-interactively.
type ClaudeExecutor struct {
	// Binary defaults to "claude".
	Binary string
	// Flags are passed before the instruction on every invocation.
	Flags []string
	// DangerousPermissions adds --dangerously-skip-permissions so the worker
	// never blocks on an interactive prompt inside its workspace.
	DangerousPermissions bool
	// WorkspaceFlag, when set, is passed with the workspace path to confine
	// the worker to its workspace, e.g. "--add-dir".
	WorkspaceFlag string
}

// DefaultWorkspaceFlag confines claude to the session workspace.
const DefaultWorkspaceFlag = "--add-dir"

// Name returns the binary the executor runs.
func (e *ClaudeExecutor) Name() string {
	if e.Binary == "" {
		return "claude"
	}
	return e.Binary
}

// Command builds `claude --print [--dangerously-skip-permissions]
// [<workspace flag> <workspace>] [flags...] <instruction>`.
func (e *ClaudeExecutor) Command(inv Invocation) (*exec.Cmd, error) {
	if inv.Instruction == "" {
		return nil, fmt.Errorf("empty instruction")
	}
	args := []string{"--print"}
	if e.DangerousPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if e.WorkspaceFlag != "" && inv.Workspace != "" {
		args = append(args, e.WorkspaceFlag, inv.Workspace)
	}
	args = append(args, e.Flags...)
	args = append(args, inv.Flags...)
	args = append(args, inv.Instruction)

	cmd := exec.Command(e.Name(), args...)
	cmd.Dir = inv.Workspace
	return cmd, nil
}

// ShellExecutor runs a shell script as the worker. With no Script the
// instruction itself is the script; otherwise the instruction is exposed
// to the script as $CCC_INSTRUCTION.
type ShellExecutor struct {
	// Shell defaults to "sh".
	Shell  string
	Script string
}

// Name returns the shell the executor runs.
func (e *ShellExecutor) Name() string {
	if e.Shell == "" {
		return "sh"
	}
	return e.Shell
}

// Command builds `sh -c <script>`.
func (e *ShellExecutor) Command(inv Invocation) (*exec.Cmd, error) {
	script := e.Script
	if script == "" {
		script = inv.Instruction
	}
	if script == "" {
		return nil, fmt.Errorf("empty script")
	}
	args := append([]string{"-c", script}, inv.Flags...)
	cmd := exec.Command(e.Name(), args...)
	cmd.Dir = inv.Workspace
	cmd.Env = append(cmd.Env, "CCC_INSTRUCTION="+inv.Instruction)
	return cmd, nil
}

// Compile-time interface checks.
var (
	_ Executor = (*ClaudeExecutor)(nil)
	_ Executor = (*ShellExecutor)(nil)
)
