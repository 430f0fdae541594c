// Package resolver locates the interpreter and entry-point script used to
// spawn the drift engine. Both lookups follow a prioritized search order:
// workspace-local virtual environment, then configured override, then the
// system PATH. Resolution failures are fatal to start and never retried.
package resolver

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

var (
	ErrNoInterpreter = errors.New("no python interpreter found")
	ErrNoEntrypoint  = errors.New("no engine entry-point script found")
)

// venvDirs are workspace-local virtual environment directories, highest
// priority first.
var venvDirs = []string{".venv", "venv"}

// entryCandidates are workspace-relative entry-point locations checked when
// no override is configured.
var entryCandidates = []string{
	filepath.Join(".driftwatch", "engine", "server.py"),
	filepath.Join("engine", "server.py"),
}

// Interpreter resolves a python interpreter for the workspace.
// Order: workspace venv, explicit override, system PATH.
func Interpreter(workspace, override string) (string, error) {
	for _, dir := range venvDirs {
		p := venvPython(filepath.Join(workspace, dir))
		if isExecutable(p) {
			return p, nil
		}
	}
	if override != "" {
		if isExecutable(override) {
			return override, nil
		}
		return "", fmt.Errorf("%w: configured interpreter %q is not executable", ErrNoInterpreter, override)
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: checked workspace venv and PATH", ErrNoInterpreter)
}

// Entrypoint resolves the engine entry-point script.
// Order: explicit override, then workspace-relative candidates.
func Entrypoint(workspace, override string) (string, error) {
	if override != "" {
		if fileExists(override) {
			return override, nil
		}
		return "", fmt.Errorf("%w: configured entry point %q does not exist", ErrNoEntrypoint, override)
	}
	for _, rel := range entryCandidates {
		p := filepath.Join(workspace, rel)
		if fileExists(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: checked %v under %s", ErrNoEntrypoint, entryCandidates, workspace)
}

func venvPython(venv string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(venv, "Scripts", "python.exe")
	}
	return filepath.Join(venv, "bin", "python")
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

func isExecutable(p string) bool {
	st, err := os.Stat(p)
	if err != nil || st.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return st.Mode()&0o111 != 0
}
