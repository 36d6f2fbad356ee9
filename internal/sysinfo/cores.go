// Package sysinfo probes the local processor.
package sysinfo

import (
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"

	"github.com/and161185/keyledger/internal/model"
)

// CoreCounter reports the host processor.
type CoreCounter interface {
	CPU() model.CPUInfo
}

// Probe is the default CoreCounter. The core count is the number of logical CPUs usable
// by this process.
type Probe struct{}

var _ CoreCounter = Probe{}

// CPU implements CoreCounter.
func (Probe) CPU() model.CPUInfo {
	n := runtime.NumCPU()
	if n < 1 {
		n = cpuid.CPU.LogicalCores
	}
	if n < 1 {
		n = 1
	}
	return model.CPUInfo{Cores: n, Model: strings.TrimSpace(cpuid.CPU.BrandName)}
}

// Fixed is a CoreCounter returning a constant, for tests and overrides.
type Fixed model.CPUInfo

// CPU implements CoreCounter.
func (f Fixed) CPU() model.CPUInfo { return model.CPUInfo(f) }
