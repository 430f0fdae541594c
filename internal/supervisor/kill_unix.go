//go:build !windows

package supervisor

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// killPortHolder force-kills whatever processes are listening on the local
// TCP port. Only called after a health probe has proven the holder is not a
// compatible backend.
func killPortHolder(port int) error {
	out, err := exec.Command("lsof", "-ti", fmt.Sprintf("tcp:%d", port)).Output()
	if err != nil {
		// lsof exits non-zero when nothing matches; treat as nothing to kill
		return nil
	}
	var lastErr error
	for _, field := range strings.Fields(string(out)) {
		pid, err := strconv.Atoi(field)
		if err != nil || pid <= 0 {
			continue
		}
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
			lastErr = fmt.Errorf("kill pid %d: %w", pid, err)
		}
	}
	return lastErr
}
