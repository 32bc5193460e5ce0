package sandbox

import (
	"fmt"
	"runtime/debug"
	"syscall"
)

// LimitMemory caps the data segment of the current process at bytes and sets
// the GC target just below it. Exceeding the cap is fatal to the process.
func LimitMemory(bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	lim := &syscall.Rlimit{Cur: uint64(bytes), Max: uint64(bytes)}
	if err := syscall.Setrlimit(syscall.RLIMIT_DATA, lim); err != nil {
		return fmt.Errorf("sandbox: set memory limit: %w", err)
	}
	debug.SetMemoryLimit(bytes - bytes/8)
	return nil
}
