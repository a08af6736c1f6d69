//go:build linux

package v4l2

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unsafe"
)

const sysfsVideo4Linux = "/sys/class/video4linux"

// FindDevices finds all V4L2 devices that can capture or output video or
// metadata through streaming I/O.
func FindDevices() ([]DeviceInfo, error) {
	entries, err := os.ReadDir(sysfsVideo4Linux)
	if err != nil {
		if os.IsNotExist(err) {
			return []DeviceInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read video4linux directory: %w", err)
	}

	var devices []DeviceInfo

	for _, entry := range entries {
		devicePath := "/dev/" + entry.Name()

		fd, err := openProbe(devicePath)
		if err != nil {
			slog.With("component", "v4l2").Debug("failed to open video device", "path", devicePath, "error", err)
			continue
		}
		caps, err := queryCapabilities(fd)
		_ = closeFd(fd)
		if err != nil {
			slog.With("component", "v4l2").Debug("failed to query device capabilities", "path", devicePath, "error", err)
			continue
		}

		if !caps.Device.Has(CapStreaming) {
			continue
		}
		if caps.Device&(CapVideoCapture|CapVideoOutput|CapMetaCapture|CapVideoM2M) == 0 {
			continue
		}

		indexValue := readSysfsInt(filepath.Join(sysfsVideo4Linux, entry.Name(), "index"))

		stableID := findStableID(entry.Name(), indexValue)
		if stableID == "" {
			if strings.HasPrefix(caps.BusInfo, "usb-") {
				stableID = fmt.Sprintf("%s-video-index%d", caps.BusInfo, indexValue)
			} else {
				stableID = fmt.Sprintf("platform-%s-video-index%d", caps.BusInfo, indexValue)
			}
		}

		devices = append(devices, DeviceInfo{
			DevicePath: devicePath,
			DeviceName: caps.Card,
			DeviceID:   stableID,
			Caps:       caps.Device,
		})
	}

	return devices, nil
}

// findStableID looks for a stable ID symlink in /dev/v4l/by-id/
func findStableID(deviceName string, indexValue int) string {
	byIDDir := "/dev/v4l/by-id"
	entries, err := os.ReadDir(byIDDir)
	if err != nil {
		return ""
	}

	expectedSuffix := fmt.Sprintf("-video-index%d", indexValue)

	for _, entry := range entries {
		if entry.Type()&os.ModeSymlink == 0 {
			continue
		}
		target, err := os.Readlink(filepath.Join(byIDDir, entry.Name()))
		if err != nil {
			continue
		}
		if filepath.Base(target) == deviceName && strings.HasSuffix(entry.Name(), expectedSuffix) {
			return entry.Name()
		}
	}

	return ""
}

func readSysfsInt(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	val, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return val
}

// cstr converts a null-terminated byte slice to a Go string.
func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

func queryCapabilities(fd int) (Capabilities, error) {
	raw := v4l2Capability{}
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(&raw)); err != nil {
		return Capabilities{}, err
	}

	caps := Capabilities{
		Driver:  cstr(raw.driver[:]),
		Card:    cstr(raw.card[:]),
		BusInfo: cstr(raw.busInfo[:]),
		Version: raw.version,
		All:     Capability(raw.capabilities),
		Device:  Capability(raw.capabilities),
	}
	if caps.All.Has(CapDeviceCaps) {
		caps.Device = Capability(raw.deviceCaps)
	}
	return caps, nil
}

// Device is an open V4L2 device node. Negotiating a format consumes it and
// moves the file descriptor into the returned FormatHandle.
type Device struct {
	fd   int
	path string
	caps Capabilities
}

// Open opens a device node for streaming I/O.
func Open(path string) (*Device, error) {
	fd, err := openStreaming(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	caps, err := queryCapabilities(fd)
	if err != nil {
		_ = closeFd(fd)
		return nil, fmt.Errorf("failed to query capabilities of %s: %w", path, err)
	}
	return &Device{fd: fd, path: path, caps: caps}, nil
}

// Path returns the device node path.
func (d *Device) Path() string {
	return d.path
}

// Capabilities returns the capabilities queried when the device was opened.
func (d *Device) Capabilities() Capabilities {
	return d.caps
}

// Formats enumerates the formats the device offers for typ.
func (d *Device) Formats(typ BufType) ([]FormatInfo, error) {
	if d.fd < 0 {
		return nil, ErrHandleConsumed
	}
	return enumFormats(d.fd, typ)
}

// Close closes the device unless its descriptor was handed to a FormatHandle.
func (d *Device) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := closeFd(d.fd)
	d.fd = -1
	return err
}

// take moves the descriptor out of the device.
func (d *Device) take() (int, error) {
	if d.fd < 0 {
		return -1, ErrHandleConsumed
	}
	fd := d.fd
	d.fd = -1
	return fd, nil
}
