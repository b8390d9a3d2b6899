package detections

import (
	"runtime"
	"strings"

	"golang.org/x/sys/cpu"
)

const (
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
)

// Device names the execution provider sessions run on.
func Device(useCUDA bool) string {
	if useCUDA {
		return DeviceCUDA
	}
	return DeviceCPU
}

// CPUFeatures lists the SIMD extensions ONNX Runtime can take advantage of
// on this host.
func CPUFeatures() []string {
	var features []string
	switch runtime.GOARCH {
	case "amd64", "386":
		if cpu.X86.HasAVX512F {
			features = append(features, "avx512f")
		}
		if cpu.X86.HasAVX2 {
			features = append(features, "avx2")
		}
		if cpu.X86.HasFMA {
			features = append(features, "fma")
		}
		if cpu.X86.HasSSE41 {
			features = append(features, "sse4.1")
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			features = append(features, "asimd")
		}
		if cpu.ARM64.HasFPHP {
			features = append(features, "fp16")
		}
	}
	return features
}

// DeviceDescription is Device plus the host SIMD features, e.g. "cpu (avx2, fma)".
func DeviceDescription(useCUDA bool) string {
	features := CPUFeatures()
	if len(features) == 0 {
		return Device(useCUDA)
	}
	return Device(useCUDA) + " (" + strings.Join(features, ", ") + ")"
}
