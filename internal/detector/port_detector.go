package detector

import (
	"fmt"
	"net"
)

// PortDetector reports liveness when something is already bound to a local
// TCP port. It distinguishes "nothing is listening" from "something is
// listening" before the supervisor decides whether to clear a stale process.
type PortDetector struct {
	Port int
}

func (d PortDetector) Alive() (bool, error) {
	return !PortAvailable(d.Port), nil
}

func (d PortDetector) Describe() string { return fmt.Sprintf("port:%d", d.Port) }

// PortAvailable returns true when a throwaway listener can bind
// 127.0.0.1:port. Any bind error is treated as "occupied".
func PortAvailable(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}
