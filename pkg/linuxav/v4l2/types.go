//go:build linux

package v4l2

import (
	"fmt"
	"strings"
	"time"
)

// DeviceInfo contains information about a V4L2 device.
type DeviceInfo struct {
	DevicePath string
	DeviceName string
	DeviceID   string // Stable identifier (from /dev/v4l/by-id/ or synthetic)
	Caps       Capability
}

// FormatInfo contains information about a supported pixel format.
type FormatInfo struct {
	PixelFormat uint32
	FormatName  string
	Emulated    bool
	Compressed  bool
}

// BufType is the stream type a buffer queue is scoped to (enum v4l2_buf_type).
type BufType uint32

// Buffer types.
const (
	BufTypeVideoCapture       BufType = 1
	BufTypeVideoOutput        BufType = 2
	BufTypeVideoOverlay       BufType = 3
	BufTypeVBICapture         BufType = 4
	BufTypeVBIOutput          BufType = 5
	BufTypeSlicedVBICapture   BufType = 6
	BufTypeSlicedVBIOutput    BufType = 7
	BufTypeVideoOutputOverlay BufType = 8
	BufTypeVideoCaptureMplane BufType = 9
	BufTypeVideoOutputMplane  BufType = 10
	BufTypeSDRCapture         BufType = 11
	BufTypeSDROutput          BufType = 12
	BufTypeMetaCapture        BufType = 13
	BufTypeMetaOutput         BufType = 14
)

var bufTypeNames = map[BufType]string{
	BufTypeVideoCapture:       "video-capture",
	BufTypeVideoOutput:        "video-output",
	BufTypeVideoOverlay:       "video-overlay",
	BufTypeVBICapture:         "vbi-capture",
	BufTypeVBIOutput:          "vbi-output",
	BufTypeSlicedVBICapture:   "sliced-vbi-capture",
	BufTypeSlicedVBIOutput:    "sliced-vbi-output",
	BufTypeVideoOutputOverlay: "video-output-overlay",
	BufTypeVideoCaptureMplane: "video-capture-mplane",
	BufTypeVideoOutputMplane:  "video-output-mplane",
	BufTypeSDRCapture:         "sdr-capture",
	BufTypeSDROutput:          "sdr-output",
	BufTypeMetaCapture:        "meta-capture",
	BufTypeMetaOutput:         "meta-output",
}

func (t BufType) String() string {
	if name, ok := bufTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("buftype(%d)", uint32(t))
}

// IsOutput reports whether buffers of this type flow from userspace to the driver.
func (t BufType) IsOutput() bool {
	switch t {
	case BufTypeVideoOutput, BufTypeVBIOutput, BufTypeSlicedVBIOutput,
		BufTypeVideoOutputOverlay, BufTypeVideoOutputMplane, BufTypeSDROutput, BufTypeMetaOutput:
		return true
	default:
		return false
	}
}

// IsMultiPlanar reports whether the type uses the multi-planar buffer API.
func (t BufType) IsMultiPlanar() bool {
	return t == BufTypeVideoCaptureMplane || t == BufTypeVideoOutputMplane
}

// Memory is the buffer memory kind (enum v4l2_memory).
type Memory uint32

// Memory kinds. Only MemoryMMAP is used by streams.
const (
	MemoryMMAP    Memory = 1
	MemoryUserPtr Memory = 2
	MemoryOverlay Memory = 3
	MemoryDMABuf  Memory = 4
)

// BufFlag holds v4l2_buffer flag bits.
type BufFlag uint32

// Buffer flags.
const (
	BufFlagMapped             BufFlag = 0x00000001
	BufFlagQueued             BufFlag = 0x00000002
	BufFlagDone               BufFlag = 0x00000004
	BufFlagKeyframe           BufFlag = 0x00000008
	BufFlagPFrame             BufFlag = 0x00000010
	BufFlagBFrame             BufFlag = 0x00000020
	BufFlagError              BufFlag = 0x00000040
	BufFlagInRequest          BufFlag = 0x00000080
	BufFlagTimecode           BufFlag = 0x00000100
	BufFlagM2MHoldCaptureBuf  BufFlag = 0x00000200
	BufFlagPrepared           BufFlag = 0x00000400
	BufFlagNoCacheInvalidate  BufFlag = 0x00000800
	BufFlagNoCacheClean       BufFlag = 0x00001000
	BufFlagTimestampMask      BufFlag = 0x0000e000
	BufFlagTimestampMonotonic BufFlag = 0x00002000
	BufFlagTimestampCopy      BufFlag = 0x00004000
	BufFlagTimestampSrcMask   BufFlag = 0x00070000
	BufFlagTimestampSrcSOE    BufFlag = 0x00010000
	BufFlagLast               BufFlag = 0x00100000
	BufFlagRequestFD          BufFlag = 0x00800000
)

// Has reports whether all bits of f are set.
func (b BufFlag) Has(f BufFlag) bool {
	return b&f == f
}

func (b BufFlag) String() string {
	names := []struct {
		flag BufFlag
		name string
	}{
		{BufFlagMapped, "mapped"},
		{BufFlagQueued, "queued"},
		{BufFlagDone, "done"},
		{BufFlagKeyframe, "keyframe"},
		{BufFlagPFrame, "pframe"},
		{BufFlagBFrame, "bframe"},
		{BufFlagError, "error"},
		{BufFlagLast, "last"},
	}
	var parts []string
	for _, n := range names {
		if b.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// BufferInfo is the typed form of a v4l2_buffer returned by QUERYBUF and DQBUF.
type BufferInfo struct {
	Index     uint32
	Type      BufType
	BytesUsed uint32
	Flags     BufFlag
	Field     uint32
	Timestamp time.Time
	Sequence  uint32
	Length    uint32
	Offset    uint32
}

// Capability holds device capability bits.
type Capability uint32

// Capability flags.
const (
	CapVideoCapture       Capability = 0x00000001
	CapVideoOutput        Capability = 0x00000002
	CapVideoOverlay       Capability = 0x00000004
	CapVideoCaptureMplane Capability = 0x00001000
	CapVideoOutputMplane  Capability = 0x00002000
	CapVideoM2MMplane     Capability = 0x00004000
	CapVideoM2M           Capability = 0x00008000
	CapMetaCapture        Capability = 0x00800000
	CapReadWrite          Capability = 0x01000000
	CapStreaming          Capability = 0x04000000
	CapMetaOutput         Capability = 0x08000000
	CapDeviceCaps         Capability = 0x80000000
)

// Has reports whether all bits of c are set.
func (c Capability) Has(f Capability) bool {
	return c&f == f
}

// Capabilities is the typed result of VIDIOC_QUERYCAP.
type Capabilities struct {
	Driver  string
	Card    string
	BusInfo string
	Version uint32
	// All is the capability set of the physical device.
	All Capability
	// Device is the capability set of this particular device node.
	Device Capability
}

// Format flags.
const (
	fmtFlagCompressed = 0x0001
	fmtFlagEmulated   = 0x0002
)

// Common pixel formats.
const (
	PixFmtYUYV  = 0x56595559 // 'YUYV'
	PixFmtMJPEG = 0x47504A4D // 'MJPG'
	PixFmtH264  = 0x34363248 // 'H264'
	PixFmtHEVC  = 0x43564548 // 'HEVC'
	PixFmtNV12  = 0x3231564E // 'NV12'
	PixFmtRGB32 = 0x34424752 // 'RGB4'
)

// Field orders.
const (
	FieldAny  = 0
	FieldNone = 1
)
