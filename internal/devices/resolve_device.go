// Package devices maps the device identifiers users pass on the command line
// to V4L2 device nodes.
package devices

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Symlink directories maintained by udev. Variables so tests can point them
// at a temporary tree.
var (
	byIDDir   = "/dev/v4l/by-id"
	byPathDir = "/dev/v4l/by-path"
)

// ResolveDevicePath converts a device ID to a usable device node path.
// Accepted forms are a full path ("/dev/video0"), a bare node name
// ("video0"), or a stable udev name ("usb-..." or "platform-...").
func ResolveDevicePath(deviceID string) (string, error) {
	if deviceID == "" {
		return "", fmt.Errorf("empty device ID")
	}

	// If it's already a full path, use it directly
	if strings.HasPrefix(deviceID, "/") {
		return deviceID, nil
	}

	if strings.HasPrefix(deviceID, "video") {
		return "/dev/" + deviceID, nil
	}

	// Try by-id first (for USB devices)
	if strings.HasPrefix(deviceID, "usb-") {
		if path, ok := resolveLink(byIDDir, deviceID); ok {
			return path, nil
		}
	}

	// Try by-path (for platform devices and USB devices without by-id)
	if strings.HasPrefix(deviceID, "platform-") || strings.HasPrefix(deviceID, "usb-") || strings.HasPrefix(deviceID, "pci-") {
		if path, ok := resolveLink(byPathDir, deviceID); ok {
			return path, nil
		}
	}

	return "", fmt.Errorf("no stable symlink found for device ID: %s", deviceID)
}

// resolveLink returns the node a udev symlink points to.
func resolveLink(dir, name string) (string, bool) {
	link := filepath.Join(dir, name)
	if _, err := os.Stat(link); err != nil {
		return "", false
	}
	if target, err := filepath.EvalSymlinks(link); err == nil {
		return target, true
	}
	return link, true
}
