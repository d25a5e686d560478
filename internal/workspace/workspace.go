// Package workspace manages the isolated directory each worker attempt runs in.
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ShayCichocki/ccc/pkg/models"
)

// Files the coordinator places in every workspace.
const (
	InstructionFile = "INSTRUCTION.md"
	InputFile       = "input.json"
)

// ErrWorkspaceExists is returned when an attempt directory is already present.
var ErrWorkspaceExists = errors.New("workspace already exists")

// Workspace is the directory bound to one attempt of one task.
type Workspace struct {
	Dir     string
	Task    string
	Attempt int
}

// Path returns <root>/<runID>/<task>/attempt-<n>.
func Path(root, runID, task string, attempt int) string {
	return filepath.Join(root, runID, models.Slug(task), fmt.Sprintf("attempt-%d", attempt))
}

// Prepare creates a fresh workspace holding only the instruction and the
// task's input. A directory from a previous attempt is never reused.
func Prepare(root, runID string, task *models.Task, attempt int, instruction string) (*Workspace, error) {
	dir := Path(root, runID, task.Name, attempt)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("%s: %w", dir, ErrWorkspaceExists)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, InstructionFile), []byte(instruction), 0644); err != nil {
		return nil, fmt.Errorf("write instruction: %w", err)
	}

	if len(task.Input) > 0 {
		data, err := json.MarshalIndent(task.Input, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal input: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, InputFile), data, 0644); err != nil {
			return nil, fmt.Errorf("write input: %w", err)
		}
	}

	return &Workspace{Dir: dir, Task: task.Name, Attempt: attempt}, nil
}

// ScanFiles lists the files a worker produced in dir, relative to dir,
// excluding the files placed there by the coordinator.
func ScanFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == InstructionFile || rel == InputFile {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan workspace: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// Collect copies the files a worker produced in src into dst, preserving
// relative paths, and returns the copied paths.
func Collect(src, dst string) ([]string, error) {
	files, err := ScanFiles(src)
	if err != nil {
		return nil, err
	}
	for _, rel := range files {
		from := filepath.Join(src, filepath.FromSlash(rel))
		to := filepath.Join(dst, filepath.FromSlash(rel))
		if !strings.HasPrefix(to, filepath.Clean(dst)+string(filepath.Separator)) {
			return nil, fmt.Errorf("refusing to copy %s outside %s", rel, dst)
		}
		if err := copyFile(from, to); err != nil {
			return nil, fmt.Errorf("copy %s: %w", rel, err)
		}
	}
	return files, nil
}

func copyFile(from, to string) error {
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(to, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
