//go:build !linux && !darwin

package maa

import (
	"fmt"
	"runtime"
)

// OpenCore is only implemented for platforms with dlopen.
func OpenCore(libDir string) (Factory, error) {
	return nil, fmt.Errorf("MaaCore binding is not supported on %s (lib dir %s)", runtime.GOOS, libDir)
}
