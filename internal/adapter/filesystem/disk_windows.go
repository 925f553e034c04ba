//go:build windows
// +build windows

package filesystem

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/quaffio/quaff/internal/port"
)

var (
	kernel32         = syscall.NewLazyDLL("kernel32.dll")
	getDiskFreeSpace = kernel32.NewProc("GetDiskFreeSpaceExW")
)

// DiskUsage returns usage statistics for the volume holding path
func (m *Manager) DiskUsage(path string) (*port.DiskUsage, error) {
	var freeBytesAvailable, totalBytes, totalFreeBytes uint64

	pathPtr, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return nil, fmt.Errorf("failed to convert path: %w", err)
	}

	ret, _, callErr := getDiskFreeSpace.Call(
		uintptr(unsafe.Pointer(pathPtr)),
		uintptr(unsafe.Pointer(&freeBytesAvailable)),
		uintptr(unsafe.Pointer(&totalBytes)),
		uintptr(unsafe.Pointer(&totalFreeBytes)),
	)
	if ret == 0 {
		return nil, fmt.Errorf("failed to get disk stats: %w", callErr)
	}

	used := totalBytes - totalFreeBytes

	usedPct := 0.0
	if totalBytes > 0 {
		usedPct = float64(used) / float64(totalBytes) * 100
	}

	return &port.DiskUsage{
		Total:   totalBytes,
		Used:    used,
		Free:    freeBytesAvailable,
		UsedPct: usedPct,
	}, nil
}
