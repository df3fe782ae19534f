package core

import (
	"fmt"
	"strings"
)

const (
	DeviceAuto = "auto"
	DeviceCPU  = "cpu"
)

// ResolveDevice maps the configured device onto one the engine can run on.
// The gonum engine only runs on the CPU, so "auto" resolves to "cpu" and any
// accelerator request is rejected instead of silently falling back.
func ResolveDevice(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", DeviceAuto, DeviceCPU:
		return DeviceCPU, nil
	}
	return "", fmt.Errorf("unsupported device %q: only %q and %q are available", name, DeviceAuto, DeviceCPU)
}
