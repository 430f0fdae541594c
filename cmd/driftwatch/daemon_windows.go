//go:build windows

package main

import (
	"errors"
	"os"
	"strconv"
)

// daemonize is not supported on Windows; run under a service manager instead.
func daemonize(pidFile, logFile string) error {
	return errors.New("--daemonize is not supported on windows")
}

func writePidFile(pidFile string, pid int) error {
	return os.WriteFile(pidFile, []byte(strconv.Itoa(pid)), 0o644)
}

func removePidFile(pidFile string) error {
	if pidFile == "" {
		return nil
	}
	return os.Remove(pidFile)
}
