//go:build !linux

package sandbox

import "runtime/debug"

// LimitMemory sets a soft heap target only; no hard cap is available here.
func LimitMemory(bytes int64) error {
	if bytes > 0 {
		debug.SetMemoryLimit(bytes - bytes/8)
	}
	return nil
}
