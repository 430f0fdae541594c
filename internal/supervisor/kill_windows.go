//go:build windows

package supervisor

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// killPortHolder force-kills whatever process is listening on the local TCP
// port, via netstat + taskkill.
func killPortHolder(port int) error {
	out, err := exec.Command("netstat", "-ano", "-p", "tcp").Output()
	if err != nil {
		return fmt.Errorf("netstat: %w", err)
	}
	needle := fmt.Sprintf(":%d", port)
	var lastErr error
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || !strings.HasSuffix(fields[1], needle) || fields[3] != "LISTENING" {
			continue
		}
		pid, err := strconv.Atoi(fields[4])
		if err != nil || pid <= 0 {
			continue
		}
		if err := exec.Command("taskkill", "/F", "/PID", strconv.Itoa(pid)).Run(); err != nil {
			lastErr = fmt.Errorf("taskkill pid %d: %w", pid, err)
		}
	}
	return lastErr
}
