package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker reports up when Address accepts a connection
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

// NewTCPChecker creates a checker with a 5s connect timeout
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{Address: address, Timeout: 5 * time.Second}
}

func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if _, _, err := net.SplitHostPort(t.Address); err != nil {
		return failed(start, fmt.Sprintf("invalid address %s: %v", t.Address, err))
	}

	dialer := net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return failed(start, fmt.Sprintf("%s unreachable: %v", t.Address, err))
	}
	conn.Close()

	return passed(start, t.Address+" reachable")
}
