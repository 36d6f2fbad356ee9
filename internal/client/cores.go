package client

import (
	"context"

	"github.com/and161185/keyledger/internal/sysinfo"
)

// CoreSource reports the core count the license is checked against, plus an optional
// warning for the caller.
type CoreSource interface {
	Cores(ctx context.Context) (int, string)
}

// LocalCores counts the processors of this machine.
type LocalCores struct {
	Counter sysinfo.CoreCounter
}

// Cores implements CoreSource.
func (l LocalCores) Cores(context.Context) (int, string) {
	c := l.Counter
	if c == nil {
		c = sysinfo.Probe{}
	}
	return c.CPU().Cores, ""
}

// ServerCoresWarning is reported when the server probe fails and the local count is used.
const ServerCoresWarning = "Could not read server CPU cores, using local count"

// ServerCores asks the license server for its core count and falls back to the local probe.
type ServerCores struct {
	API      API
	Fallback sysinfo.CoreCounter
}

// Cores implements CoreSource.
func (s ServerCores) Cores(ctx context.Context) (int, string) {
	if info, err := s.API.CPUCores(ctx); err == nil {
		return info.Cores, ""
	}
	n, _ := LocalCores{Counter: s.Fallback}.Cores(ctx)
	return n, ServerCoresWarning
}
